// Package mongostore is the MongoDB implementation of the user repository.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/natours/authserver/internal/store"
	"github.com/natours/authserver/types"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const colUsers = "users"

const (
	connectTimeout    = 10 * time.Second
	disconnectTimeout = 5 * time.Second
)

// Store keeps users in a MongoDB database.
type Store struct {
	client *mongo.Client
	users  *mongo.Collection
	now    func() time.Time
}

// Open connects to uri, pings the server and creates the user indexes.
func Open(ctx context.Context, uri, dbName string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongostore: ping failed: %w", err)
	}

	s := &Store{client: client, users: client.Database(dbName).Collection(colUsers), now: time.Now}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongostore: ensure indexes failed: %w", err)
	}
	return s, nil
}

// Close disconnects from the server.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "password_reset_token", Value: 1}}, Options: options.Index().SetSparse(true)},
	})
	return err
}

func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.ErrNotFound
	}
	if mongo.IsDuplicateKeyError(err) {
		return store.ErrConflict
	}
	return err
}

// activeFilter matches active users plus the given conditions.
func activeFilter(conds ...bson.E) bson.D {
	filter := bson.D{{Key: "active", Value: true}}
	return append(filter, conds...)
}

func (s *Store) findOne(ctx context.Context, filter bson.D) (types.User, error) {
	var user types.User
	if err := s.users.FindOne(ctx, filter).Decode(&user); err != nil {
		return types.User{}, wrapError(err)
	}
	return user, nil
}

func (s *Store) FindByID(ctx context.Context, id string) (types.User, error) {
	return s.findOne(ctx, activeFilter(bson.E{Key: "_id", Value: id}))
}

func (s *Store) FindByEmail(ctx context.Context, email string) (types.User, error) {
	return s.findOne(ctx, activeFilter(bson.E{Key: "email", Value: types.NormalizeEmail(email)}))
}

func (s *Store) FindByResetToken(ctx context.Context, tokenHash string, now time.Time) (types.User, error) {
	return s.findOne(ctx, activeFilter(
		bson.E{Key: "password_reset_token", Value: tokenHash},
		bson.E{Key: "password_reset_expires", Value: bson.D{{Key: "$gt", Value: now}}},
	))
}

func (s *Store) Create(ctx context.Context, user types.User) (types.User, error) {
	user = prepareNew(user, s.now())
	if _, err := s.users.InsertOne(ctx, user); err != nil {
		return types.User{}, wrapError(err)
	}
	return user, nil
}

// Save replaces the stored document with user.
func (s *Store) Save(ctx context.Context, user types.User) (types.User, error) {
	user.Email = types.NormalizeEmail(user.Email)
	user.UpdatedAt = s.now().UTC().Truncate(time.Millisecond)
	res, err := s.users.ReplaceOne(ctx, bson.D{{Key: "_id", Value: user.ID}}, user)
	if err != nil {
		return types.User{}, wrapError(err)
	}
	if res.MatchedCount == 0 {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (s *Store) UpdateByID(ctx context.Context, id string, patch types.UserPatch) (types.User, error) {
	update, err := patchUpdate(patch, s.now())
	if err != nil {
		return types.User{}, err
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var user types.User
	if err := s.users.FindOneAndUpdate(ctx, bson.D{{Key: "_id", Value: id}}, update, opts).Decode(&user); err != nil {
		return types.User{}, wrapError(err)
	}
	return user, nil
}

// prepareNew fills the defaults of a user about to be inserted.
func prepareNew(user types.User, now time.Time) types.User {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Role == "" {
		user.Role = types.RoleUser
	}
	if user.Photo == "" {
		user.Photo = types.DefaultPhoto
	}
	user.Email = types.NormalizeEmail(user.Email)
	user.Active = true
	// BSON datetimes hold milliseconds.
	now = now.UTC().Truncate(time.Millisecond)
	user.CreatedAt = now
	user.UpdatedAt = now
	return user
}

// patchUpdate builds the $set document for patch.
func patchUpdate(patch types.UserPatch, now time.Time) (bson.D, error) {
	set := bson.D{}
	if patch.Name != nil {
		set = append(set, bson.E{Key: "name", Value: *patch.Name})
	}
	if patch.Email != nil {
		set = append(set, bson.E{Key: "email", Value: types.NormalizeEmail(*patch.Email)})
	}
	if patch.Photo != nil {
		set = append(set, bson.E{Key: "photo", Value: *patch.Photo})
	}
	if patch.Role != nil {
		if !patch.Role.Valid() {
			return nil, fmt.Errorf("invalid role %q", *patch.Role)
		}
		set = append(set, bson.E{Key: "role", Value: *patch.Role})
	}
	if patch.Active != nil {
		set = append(set, bson.E{Key: "active", Value: *patch.Active})
	}
	set = append(set, bson.E{Key: "updated_at", Value: now.UTC().Truncate(time.Millisecond)})
	return bson.D{{Key: "$set", Value: set}}, nil
}
