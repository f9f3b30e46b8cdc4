package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"bizdir/internal/config"
	"bizdir/internal/util"
)

const accountsCollection = "accounts"

// Client wraps the Mongo connection and owns index creation.
type Client struct {
	client   *mongo.Client
	database *mongo.Database
	config   *config.MongoConfig
}

// NewClient connects to Mongo and ensures the indexes the repository
// depends on.
func NewClient(cfg *config.Config, logger *zap.Logger) (*Client, error) {
	mongoConfig := cfg.Mongo

	ctx, cancel := context.WithTimeout(context.Background(), mongoConfig.Timeout)
	defer cancel()

	opts := options.Client().
		ApplyURI(mongoConfig.URI).
		SetConnectTimeout(mongoConfig.Timeout).
		SetServerSelectionTimeout(mongoConfig.Timeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping failed: %w", err)
	}

	c := &Client{
		client:   client,
		database: client.Database(mongoConfig.Database),
		config:   &mongoConfig,
	}

	if err := c.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ensure indexes: %w", err)
	}

	logger.Info("Mongo client initialized",
		util.String("database", mongoConfig.Database))

	return c, nil
}

// ensureIndexes creates the unique email index and the token / deletion
// deadline lookups the workflows rely on.
func (c *Client) ensureIndexes(ctx context.Context) error {
	accounts := c.database.Collection(accountsCollection)

	sparse := options.Index().SetSparse(true)
	_, err := accounts.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "verification_token", Value: 1}}, Options: sparse},
		{Keys: bson.D{{Key: "reset_token", Value: 1}}, Options: sparse},
		{Keys: bson.D{{Key: "email_change_token", Value: 1}}, Options: sparse},
		{Keys: bson.D{{Key: "deletion_scheduled_for", Value: 1}}, Options: sparse},
	})
	return err
}

// Accounts returns the accounts collection.
func (c *Client) Accounts() *mongo.Collection {
	return c.database.Collection(accountsCollection)
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx, nil)
}

// Close disconnects from Mongo.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Disconnect(ctx)
}
