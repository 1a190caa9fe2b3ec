package tracesink

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/pml-run/gateway/domain"
)

const (
	defaultExecutionTraceCollection = "execution_traces"
	defaultAlgorithmTraceCollection = "algorithm_traces"
	defaultWriteTimeout             = 5 * time.Second
)

// MongoOptions configures a Mongo-backed Writer.
type MongoOptions struct {
	Client     *mongo.Client
	Database   string
	Collection string // defaults depend on which New* constructor is used
	Timeout    time.Duration
}

// executionTraceWriter persists ExecutionTrace batches, upserting on _id so
// repeated flushes of the same record (retried after a partial batch
// failure) are no-ops, satisfying the idempotent-flush requirement of
// spec.md §4.B.
type executionTraceWriter struct {
	coll    *mongo.Collection
	timeout time.Duration
}

// NewExecutionTraceWriter builds the Writer backing the execution-trace Sink.
func NewExecutionTraceWriter(opts MongoOptions) (Writer[domain.ExecutionTrace], error) {
	coll, timeout, err := resolveCollection(opts, defaultExecutionTraceCollection)
	if err != nil {
		return nil, err
	}
	return &executionTraceWriter{coll: coll, timeout: timeout}, nil
}

func (w *executionTraceWriter) WriteBatch(ctx context.Context, records []domain.ExecutionTrace) error {
	if len(records) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	models := make([]mongo.WriteModel, len(records))
	for i, rec := range records {
		models[i] = mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": rec.ID}).
			SetReplacement(rec).
			SetUpsert(true)
	}
	_, err := w.coll.BulkWrite(ctx, models)
	return err
}

// algorithmTraceWriter persists AlgorithmTrace batches with the same
// upsert-by-ID idempotency.
type algorithmTraceWriter struct {
	coll    *mongo.Collection
	timeout time.Duration
}

// NewAlgorithmTraceWriter builds the Writer backing the algorithm-trace Sink.
func NewAlgorithmTraceWriter(opts MongoOptions) (Writer[domain.AlgorithmTrace], error) {
	coll, timeout, err := resolveCollection(opts, defaultAlgorithmTraceCollection)
	if err != nil {
		return nil, err
	}
	return &algorithmTraceWriter{coll: coll, timeout: timeout}, nil
}

func (w *algorithmTraceWriter) WriteBatch(ctx context.Context, records []domain.AlgorithmTrace) error {
	if len(records) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	models := make([]mongo.WriteModel, len(records))
	for i, rec := range records {
		models[i] = mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": rec.TraceID}).
			SetReplacement(rec).
			SetUpsert(true)
	}
	_, err := w.coll.BulkWrite(ctx, models)
	return err
}

func resolveCollection(opts MongoOptions, defaultName string) (*mongo.Collection, time.Duration, error) {
	if opts.Client == nil {
		return nil, 0, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, 0, errors.New("database name is required")
	}
	name := opts.Collection
	if name == "" {
		name = defaultName
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	coll := opts.Client.Database(opts.Database).Collection(name, options.Collection())
	return coll, timeout, nil
}
