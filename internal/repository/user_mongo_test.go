package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/iliyamo/custom-gpt-portal/internal/model"
)

// Runs against a real server: MONGO_TEST_URI=mongodb://localhost:27017 go test ./...
func newMongoRepo(t *testing.T) *MongoUserRepo {
	t.Helper()
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	require.NoError(t, err)

	db := client.Database("portal_test_" + uuid.NewString()[:8])
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = db.Drop(ctx)
		_ = client.Disconnect(ctx)
	})

	repo := NewMongoUserRepo(db)
	require.NoError(t, repo.EnsureIndexes(context.Background()))
	return repo
}

func TestMongoUserRepo_Lifecycle(t *testing.T) {
	repo := newMongoRepo(t)
	ctx := context.Background()

	u := &model.User{Name: "Alice", Email: "alice@x.com", PasswordHash: "h", Role: model.RoleEmployee, Provider: model.ProviderLocal}
	require.NoError(t, repo.Create(ctx, u))
	assert.Len(t, u.ID, 24)
	assert.ErrorIs(t, repo.Create(ctx, &model.User{Email: "alice@x.com"}), ErrEmailExists)

	got, err := repo.GetByEmail(ctx, "alice@x.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	at := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, repo.TouchLastActive(ctx, u.ID, at))
	got, err = repo.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastActive)
	assert.True(t, at.Equal(*got.LastActive))

	updated, err := repo.UpdateProfile(ctx, u.ID, "Alice B", "")
	require.NoError(t, err)
	assert.Equal(t, "Alice B", updated.Name)

	users, total, err := repo.List(ctx, 10, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Len(t, users, 1)

	_, err = repo.GetByID(ctx, "000000000000000000000000")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.GetByID(ctx, "bogus")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, repo.Ping(ctx))
}
