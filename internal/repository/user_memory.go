package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/custom-gpt-portal/internal/model"
)

// MemoryUserRepo keeps users in process memory. It backs USER_STORE=memory
// for local development and the handler tests.
type MemoryUserRepo struct {
	mu      sync.RWMutex
	byID    map[string]model.User
	byEmail map[string]string
	now     func() time.Time
}

func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{
		byID:    make(map[string]model.User),
		byEmail: make(map[string]string),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryUserRepo) Create(_ context.Context, u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	email := strings.TrimSpace(u.Email)
	if _, ok := r.byEmail[email]; ok {
		return ErrEmailExists
	}
	now := r.now()
	u.ID = uuid.NewString()
	u.Email = email
	u.CreatedAt, u.UpdatedAt = now, now
	r.byID[u.ID] = *u
	r.byEmail[email] = u.ID
	return nil
}

func (r *MemoryUserRepo) GetByEmail(_ context.Context, email string) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[strings.TrimSpace(email)]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return r.byID[id], nil
}

func (r *MemoryUserRepo) GetByID(_ context.Context, id string) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return u, nil
}

func (r *MemoryUserRepo) TouchLastActive(_ context.Context, id string, at time.Time) error {
	return r.mutate(id, func(u *model.User) {
		t := at.UTC()
		u.LastActive = &t
	})
}

func (r *MemoryUserRepo) UpdateProfile(ctx context.Context, id, name, picture string) (model.User, error) {
	err := r.mutate(id, func(u *model.User) {
		if name != "" {
			u.Name = name
		}
		if picture != "" {
			u.Picture = picture
		}
		u.UpdatedAt = r.now()
	})
	if err != nil {
		return model.User{}, err
	}
	return r.GetByID(ctx, id)
}

func (r *MemoryUserRepo) UpdatePassword(_ context.Context, id, hash string) error {
	return r.mutate(id, func(u *model.User) {
		u.PasswordHash = hash
		u.UpdatedAt = r.now()
	})
}

func (r *MemoryUserRepo) List(_ context.Context, limit, offset int) ([]model.User, int64, error) {
	r.mu.RLock()
	all := make([]model.User, 0, len(r.byID))
	for _, u := range r.byID {
		all = append(all, u)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	total := int64(len(all))
	if offset >= len(all) {
		return []model.User{}, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func (r *MemoryUserRepo) Ping(context.Context) error { return nil }

// Delete removes a user. Tokens already issued to it stop resolving.
func (r *MemoryUserRepo) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		delete(r.byEmail, u.Email)
		delete(r.byID, id)
	}
}

func (r *MemoryUserRepo) mutate(id string, fn func(*model.User)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return ErrNotFound
	}
	fn(&u)
	r.byID[id] = u
	return nil
}
