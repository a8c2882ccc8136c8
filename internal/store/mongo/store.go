package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Collection name constants.
const (
	colAccounts   = "accounts"
	colActivities = "activities"
)

// Store owns the MongoDB client and hands out repositories over its collections.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials MongoDB at uri and verifies the connection.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("wordgate/mongo: connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("wordgate/mongo: ping: %w", err)
	}
	return &Store{client: client, db: client.Database(database)}, nil
}

// Accounts returns the account repository.
func (s *Store) Accounts() *AccountRepository {
	return &AccountRepository{col: s.db.Collection(colAccounts)}
}

// Activities returns the activity repository.
func (s *Store) Activities() *ActivityRepository {
	return &ActivityRepository{col: s.db.Collection(colActivities)}
}

// Migrate creates indexes for all collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("wordgate/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Drop removes every collection. Used by tests.
func (s *Store) Drop(ctx context.Context) error {
	return s.db.Drop(ctx)
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colAccounts: {
			{
				Keys:    bson.D{{Key: "email", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{
				Keys:    bson.D{{Key: "customer_ref", Value: 1}},
				Options: options.Index().SetUnique(true).SetSparse(true),
			},
			{Keys: bson.D{{Key: "tier", Value: 1}}},
		},
		colActivities: {
			{Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "created_at", Value: -1}}},
		},
	}
}

// mongoTime normalizes t to the millisecond precision BSON dates carry.
func mongoTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}
