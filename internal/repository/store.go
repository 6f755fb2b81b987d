package repository

import (
	"context"
	"time"

	"github.com/iliyamo/custom-gpt-portal/internal/model"
)

// UserStore is the credential store. Every mutation touches a single record,
// so implementations need no multi-record transactions.
type UserStore interface {
	// Create persists u and fills in ID, CreatedAt and UpdatedAt.
	Create(ctx context.Context, u *model.User) error
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByID(ctx context.Context, id string) (model.User, error)
	// TouchLastActive stamps the user's lastActive field with at.
	TouchLastActive(ctx context.Context, id string, at time.Time) error
	UpdateProfile(ctx context.Context, id, name, picture string) (model.User, error)
	UpdatePassword(ctx context.Context, id, hash string) error
	// List returns one page of users ordered by creation time and the total count.
	List(ctx context.Context, limit, offset int) ([]model.User, int64, error)
	Ping(ctx context.Context) error
}

var (
	_ UserStore = (*UserRepo)(nil)
	_ UserStore = (*MongoUserRepo)(nil)
	_ UserStore = (*MemoryUserRepo)(nil)
)
