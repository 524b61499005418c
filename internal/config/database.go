package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type MongoDBClient struct {
	Client   *mongo.Client
	Database *mongo.Database
}

func NewMongoDBClient(lc fx.Lifecycle, cfg *Config, log *zap.Logger) (*MongoDBClient, *mongo.Database, error) {
	if cfg.Mongo.URI == "" {
		return nil, nil, errors.New("MONGO_URI not set")
	}
	clientOptions := options.Client().ApplyURI(cfg.Mongo.URI)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, nil, fmt.Errorf("ping MongoDB: %w", err)
	}
	log.Info("connected to MongoDB", zap.String("database", cfg.Mongo.Database))

	db := client.Database(cfg.Mongo.Database)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return EnsureIndexes(ctx, db)
		},
		OnStop: func(ctx context.Context) error {
			log.Info("closing MongoDB connection")
			return client.Disconnect(ctx)
		},
	})
	return &MongoDBClient{Client: client, Database: db}, db, nil
}

// EnsureIndexes creates the secondary indexes the pipeline queries rely on.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	indexes := map[string][]mongo.IndexModel{
		"awbs": {
			{Keys: bson.D{{Key: "shipmentId", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}}},
		},
		"recipients": {
			{Keys: bson.D{{Key: "shipmentId", Value: 1}}},
			{Keys: bson.D{{Key: "awbId", Value: 1}}},
		},
		"pipeline_runs": {
			{Keys: bson.D{{Key: "shipmentId", Value: 1}}},
		},
		"operators": {
			{Keys: bson.M{"email": 1}, Options: options.Index().SetUnique(true)},
		},
	}
	for collection, models := range indexes {
		if _, err := db.Collection(collection).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", collection, err)
		}
	}
	return nil
}

func (c *MongoDBClient) GetCollection(collectionName string) *mongo.Collection {
	return c.Database.Collection(collectionName)
}
