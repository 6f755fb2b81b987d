package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/iliyamo/custom-gpt-portal/internal/model"
)

const userColumns = "id,name,email,password_hash,role,picture,provider,last_active,created_at,updated_at"

// mysqlDuplicateEntry is ER_DUP_ENTRY, raised by the unique email index.
const mysqlDuplicateEntry = 1062

// UserRepo is the MySQL credential store over the 'users' table.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// Create inserts u and sets its ID from the auto-increment key.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	now := time.Now().UTC()
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (name,email,password_hash,role,picture,provider,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)",
		u.Name, u.Email, u.PasswordHash, string(u.Role), u.Picture, string(u.Provider), now, now)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == mysqlDuplicateEntry {
			return ErrEmailExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	u.ID = strconv.FormatInt(id, 10)
	u.CreatedAt, u.UpdatedAt = now, now
	return nil
}

// GetByEmail fetches a user by exact email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE email=? LIMIT 1", strings.TrimSpace(email))
	return scanUser(row)
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id string) (model.User, error) {
	n, err := parseSQLID(id)
	if err != nil {
		return model.User{}, err
	}
	row := r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", n)
	return scanUser(row)
}

func (r *UserRepo) TouchLastActive(ctx context.Context, id string, at time.Time) error {
	n, err := parseSQLID(id)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, "UPDATE users SET last_active=? WHERE id=?", at.UTC(), n)
	if err != nil {
		return fmt.Errorf("touch last_active: %w", err)
	}
	return expectOneRow(res)
}

// UpdateProfile changes name and picture; empty values keep the stored ones.
func (r *UserRepo) UpdateProfile(ctx context.Context, id, name, picture string) (model.User, error) {
	n, err := parseSQLID(id)
	if err != nil {
		return model.User{}, err
	}
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET name=COALESCE(NULLIF(?,''),name), picture=COALESCE(NULLIF(?,''),picture), updated_at=? WHERE id=?",
		name, picture, time.Now().UTC(), n)
	if err != nil {
		return model.User{}, fmt.Errorf("update profile: %w", err)
	}
	if err := expectOneRow(res); err != nil {
		return model.User{}, err
	}
	return r.GetByID(ctx, id)
}

func (r *UserRepo) UpdatePassword(ctx context.Context, id, hash string) error {
	n, err := parseSQLID(id)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET password_hash=?, updated_at=? WHERE id=?", hash, time.Now().UTC(), n)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return expectOneRow(res)
}

func (r *UserRepo) List(ctx context.Context, limit, offset int) ([]model.User, int64, error) {
	var total int64
	if err := r.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users ORDER BY created_at, id LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	return out, total, nil
}

func (r *UserRepo) Ping(ctx context.Context) error { return r.DB.PingContext(ctx) }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(s rowScanner) (model.User, error) {
	var (
		u          model.User
		id         uint64
		role       string
		provider   string
		lastActive sql.NullTime
	)
	err := s.Scan(&id, &u.Name, &u.Email, &u.PasswordHash, &role, &u.Picture, &provider,
		&lastActive, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("scan user: %w", err)
	}
	u.ID = strconv.FormatUint(id, 10)
	u.Role = model.Role(role)
	u.Provider = model.Provider(provider)
	if lastActive.Valid {
		t := lastActive.Time
		u.LastActive = &t
	}
	return u, nil
}

func parseSQLID(id string) (uint64, error) {
	n, err := strconv.ParseUint(id, 10, 64)
	if err != nil || n == 0 {
		return 0, ErrNotFound
	}
	return n, nil
}

// expectOneRow maps "no row matched" to ErrNotFound. MySQL reports zero
// affected rows when values are unchanged, so the DSN sets clientFoundRows.
func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
