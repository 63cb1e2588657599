package archive

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	config "gitlab.com/maplesense1/mpt.sensor_service/src/production/MQT.Config"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Record is one handled bridge request
type Record struct {
	RequestID  string
	Topic      string
	Operation  string
	Payload    []byte
	StatusCode int
	ReceivedAt time.Time
	Elapsed    time.Duration
}

// Archiver stores handled bridge requests. Failures are reported to the
// caller and never change the response already published.
type Archiver interface {
	Archive(ctx context.Context, rec Record) error
	Close(ctx context.Context) error
}

// Nop drops every record
type Nop struct{}

func (Nop) Archive(context.Context, Record) error { return nil }
func (Nop) Close(context.Context) error           { return nil }

type inserter interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
}

// MongoArchiver writes one document per request into a MongoDB collection
type MongoArchiver struct {
	client     *mongo.Client
	collection inserter
	timeout    time.Duration
}

// ConnectMongoWithTimeout connects to the archive database and checks the
// primary answers within timeout.
func ConnectMongoWithTimeout(cfg config.ArchiveConfig, timeout time.Duration) (*MongoArchiver, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("MONGODB_URI environment variable not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	clientOptions := options.Client().ApplyURI(cfg.URI)
	if strings.HasPrefix(cfg.URI, "mongodb+srv://") {
		clientOptions.SetTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})
	}
	clientOptions.SetServerSelectionTimeout(timeout)
	clientOptions.SetConnectTimeout(timeout)

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("unable to ping MongoDB: %w", err)
	}

	return &MongoArchiver{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		timeout:    cfg.Timeout,
	}, nil
}

func (a *MongoArchiver) Archive(ctx context.Context, rec Record) error {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	if _, err := a.collection.InsertOne(ctx, document(rec)); err != nil {
		return fmt.Errorf("failed to archive request %s: %w", rec.RequestID, err)
	}
	return nil
}

func (a *MongoArchiver) Close(ctx context.Context) error {
	if a.client == nil {
		return nil
	}
	return a.client.Disconnect(ctx)
}

func document(rec Record) bson.D {
	return bson.D{
		{Key: "request_id", Value: rec.RequestID},
		{Key: "topic", Value: rec.Topic},
		{Key: "operation", Value: rec.Operation},
		{Key: "payload", Value: string(rec.Payload)},
		{Key: "status_code", Value: rec.StatusCode},
		{Key: "received_at", Value: rec.ReceivedAt.UTC()},
		{Key: "elapsed_ms", Value: rec.Elapsed.Milliseconds()},
	}
}
