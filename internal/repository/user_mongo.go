package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/iliyamo/custom-gpt-portal/internal/model"
)

const usersCollection = "users"

// userDoc is the stored shape of a user in the users collection.
type userDoc struct {
	ID         bson.ObjectID `bson:"_id,omitempty"`
	Name       string        `bson:"name"`
	Email      string        `bson:"email"`
	Password   string        `bson:"password"`
	Role       string        `bson:"role"`
	Picture    string        `bson:"picture,omitempty"`
	Provider   string        `bson:"provider"`
	LastActive *time.Time    `bson:"lastActive,omitempty"`
	CreatedAt  time.Time     `bson:"createdAt"`
	UpdatedAt  time.Time     `bson:"updatedAt"`
}

func (d userDoc) model() model.User {
	return model.User{
		ID:           d.ID.Hex(),
		Name:         d.Name,
		Email:        d.Email,
		PasswordHash: d.Password,
		Role:         model.Role(d.Role),
		Picture:      d.Picture,
		Provider:     model.Provider(d.Provider),
		LastActive:   d.LastActive,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

// MongoUserRepo is the document-database credential store.
type MongoUserRepo struct {
	db   *mongo.Database
	coll *mongo.Collection
}

func NewMongoUserRepo(db *mongo.Database) *MongoUserRepo {
	return &MongoUserRepo{db: db, coll: db.Collection(usersCollection)}
}

// EnsureIndexes creates the unique email index Create relies on to reject
// duplicates.
func (r *MongoUserRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uq_users_email"),
	})
	if err != nil {
		return fmt.Errorf("create email index: %w", err)
	}
	return nil
}

func (r *MongoUserRepo) Create(ctx context.Context, u *model.User) error {
	now := time.Now().UTC().Truncate(time.Millisecond)
	doc := userDoc{
		Name:      u.Name,
		Email:     u.Email,
		Password:  u.PasswordHash,
		Role:      string(u.Role),
		Picture:   u.Picture,
		Provider:  string(u.Provider),
		CreatedAt: now,
		UpdatedAt: now,
	}
	res, err := r.coll.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrEmailExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	oid, ok := res.InsertedID.(bson.ObjectID)
	if !ok {
		return fmt.Errorf("insert user: unexpected id type %T", res.InsertedID)
	}
	u.ID = oid.Hex()
	u.CreatedAt, u.UpdatedAt = now, now
	return nil
}

func (r *MongoUserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	return r.findOne(ctx, bson.D{{Key: "email", Value: strings.TrimSpace(email)}})
}

func (r *MongoUserRepo) GetByID(ctx context.Context, id string) (model.User, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return model.User{}, ErrNotFound
	}
	return r.findOne(ctx, bson.D{{Key: "_id", Value: oid}})
}

func (r *MongoUserRepo) findOne(ctx context.Context, filter bson.D) (model.User, error) {
	var d userDoc
	err := r.coll.FindOne(ctx, filter).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.User{}, ErrNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("find user: %w", err)
	}
	return d.model(), nil
}

func (r *MongoUserRepo) TouchLastActive(ctx context.Context, id string, at time.Time) error {
	return r.updateByID(ctx, id, bson.D{{Key: "lastActive", Value: at.UTC()}})
}

// UpdateProfile changes name and picture in one findOneAndUpdate; empty
// values keep the stored ones.
func (r *MongoUserRepo) UpdateProfile(ctx context.Context, id, name, picture string) (model.User, error) {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return model.User{}, ErrNotFound
	}
	set := bson.D{{Key: "updatedAt", Value: time.Now().UTC()}}
	if name != "" {
		set = append(set, bson.E{Key: "name", Value: name})
	}
	if picture != "" {
		set = append(set, bson.E{Key: "picture", Value: picture})
	}
	var d userDoc
	err = r.coll.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: oid}},
		bson.D{{Key: "$set", Value: set}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.User{}, ErrNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("update profile: %w", err)
	}
	return d.model(), nil
}

func (r *MongoUserRepo) UpdatePassword(ctx context.Context, id, hash string) error {
	return r.updateByID(ctx, id, bson.D{
		{Key: "password", Value: hash},
		{Key: "updatedAt", Value: time.Now().UTC()},
	})
}

func (r *MongoUserRepo) updateByID(ctx context.Context, id string, set bson.D) error {
	oid, err := bson.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}
	res, err := r.coll.UpdateOne(ctx, bson.D{{Key: "_id", Value: oid}}, bson.D{{Key: "$set", Value: set}})
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoUserRepo) List(ctx context.Context, limit, offset int) ([]model.User, int64, error) {
	total, err := r.coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}
	cur, err := r.coll.Find(ctx, bson.D{}, options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit)))
	if err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	defer cur.Close(ctx)

	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, 0, fmt.Errorf("decode users: %w", err)
	}
	out := make([]model.User, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.model())
	}
	return out, total, nil
}

func (r *MongoUserRepo) Ping(ctx context.Context) error {
	return r.db.Client().Ping(ctx, readpref.Primary())
}
