package seed

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoUserStore is the users collection of one tenant database.
type MongoUserStore struct {
	users *mongo.Collection
}

// NewMongoUserStore wraps the users collection of db.
func NewMongoUserStore(db *mongo.Database) *MongoUserStore {
	return &MongoUserStore{users: db.Collection("users")}
}

func (s *MongoUserStore) AdminExists(ctx context.Context, email string) (bool, error) {
	count, err := s.users.CountDocuments(ctx, bson.M{"email": email})
	if err != nil {
		return false, fmt.Errorf("count users with email %q: %w", email, err)
	}
	return count > 0, nil
}

func (s *MongoUserStore) InsertAdmin(ctx context.Context, user AdminUser) error {
	if _, err := s.users.InsertOne(ctx, user); err != nil {
		return fmt.Errorf("insert user %q: %w", user.Email, err)
	}
	return nil
}

// OpenTenantDatabase connects to a tenant's isolated database instance over
// its published port. The returned close function disconnects the client.
func OpenTenantDatabase(ctx context.Context, host string, port int, dbName string) (*mongo.Database, func(), error) {
	uri := fmt.Sprintf("mongodb://%s:%d", host, port)

	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(30*time.Second))
	if err != nil {
		return nil, nil, fmt.Errorf("connect to tenant database %s: %w", uri, err)
	}

	closeFn := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(shutdownCtx)
	}
	return client.Database(dbName), closeFn, nil
}
