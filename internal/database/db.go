package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// OpenMySQL connects to MySQL and verifies the connection.
func OpenMySQL(ctx context.Context, user, pass, host, port, name string) (*sql.DB, error) {
	auth := user
	if pass != "" {
		auth = fmt.Sprintf("%s:%s", user, pass)
	}
	// parseTime=true -> DATETIME -> time.Time | loc=UTC keeps times consistent
	// clientFoundRows=true -> UPDATE reports matched rows, not changed rows
	dsn := fmt.Sprintf("%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC&clientFoundRows=true",
		auth, host, port, name)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	// Pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// usersDDL keeps email in a binary collation so lookups are exact and the
// address is stored as entered.
const usersDDL = `CREATE TABLE IF NOT EXISTS users (
	id            BIGINT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY,
	name          VARCHAR(120)  NOT NULL,
	email         VARCHAR(255)  CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL,
	password_hash VARCHAR(100)  NOT NULL,
	role          ENUM('admin','employee') NOT NULL DEFAULT 'employee',
	picture       VARCHAR(1024) NOT NULL DEFAULT '',
	provider      VARCHAR(16)   NOT NULL DEFAULT 'local',
	last_active   DATETIME      NULL,
	created_at    DATETIME      NOT NULL,
	updated_at    DATETIME      NOT NULL,
	UNIQUE KEY uq_users_email (email)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

// EnsureSchema creates the users table when it does not exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, usersDDL); err != nil {
		return fmt.Errorf("ensure users table: %w", err)
	}
	return nil
}
