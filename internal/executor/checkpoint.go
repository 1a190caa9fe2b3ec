package executor

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
	defaultCheckpointCollection = "checkpoints"
	// DefaultCheckpointsPerWorkflow is N from spec.md §4.H ("keeps only the
	// N most-recent per workflow").
	DefaultCheckpointsPerWorkflow = 5
	defaultCheckpointTimeout      = 5 * time.Second
)

// ErrNoCheckpoint is returned by Latest when a workflow has no saved
// checkpoint.
var ErrNoCheckpoint = errors.New("executor: no checkpoint found")

// CheckpointStore persists and prunes executor checkpoints. Save writes one
// checkpoint; Latest loads the most recent for a workflow; Prune deletes
// everything but the keep most-recent checkpoints for a workflow.
type CheckpointStore interface {
	Save(ctx context.Context, cp domain.Checkpoint) error
	Latest(ctx context.Context, workflowID string) (domain.Checkpoint, error)
	Prune(ctx context.Context, workflowID string, keep int) error
}

// checkpointCollection is the narrow Mongo surface the store needs, mirroring
// internal/capstore's collection/cursor split.
type checkpointCollection interface {
	InsertOne(ctx context.Context, document any) (any, error)
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (checkpointCursor, error)
	DeleteMany(ctx context.Context, filter any) error
}

type checkpointCursor interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	Err() error
	Close(ctx context.Context) error
}

// MongoCheckpointStore is a Mongo-backed CheckpointStore.
type MongoCheckpointStore struct {
	coll    checkpointCollection
	timeout time.Duration
}

// MongoCheckpointOptions configures a MongoCheckpointStore.
type MongoCheckpointOptions struct {
	Client     *mongo.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// NewMongoCheckpointStore builds a MongoCheckpointStore.
func NewMongoCheckpointStore(opts MongoCheckpointOptions) (*MongoCheckpointStore, error) {
	if opts.Client == nil {
		return nil, errors.New("executor: mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("executor: database name is required")
	}
	name := opts.Collection
	if name == "" {
		name = defaultCheckpointCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultCheckpointTimeout
	}
	coll := mongoCheckpointCollection{coll: opts.Client.Database(opts.Database).Collection(name)}
	return &MongoCheckpointStore{coll: coll, timeout: timeout}, nil
}

func (s *MongoCheckpointStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Save inserts cp.
func (s *MongoCheckpointStore) Save(ctx context.Context, cp domain.Checkpoint) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.coll.InsertOne(ctx, cp)
	return err
}

// Latest returns the most recently timestamped checkpoint for workflowID.
func (s *MongoCheckpointStore) Latest(ctx context.Context, workflowID string) (domain.Checkpoint, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}).SetLimit(1)
	cur, err := s.coll.Find(ctx, bson.M{"workflow_id": workflowID}, opts)
	if err != nil {
		return domain.Checkpoint{}, err
	}
	defer cur.Close(ctx)
	if !cur.Next(ctx) {
		if err := cur.Err(); err != nil {
			return domain.Checkpoint{}, err
		}
		return domain.Checkpoint{}, ErrNoCheckpoint
	}
	var cp domain.Checkpoint
	if err := cur.Decode(&cp); err != nil {
		return domain.Checkpoint{}, err
	}
	return cp, nil
}

// Prune deletes every checkpoint for workflowID except the keep most recent.
func (s *MongoCheckpointStore) Prune(ctx context.Context, workflowID string, keep int) error {
	if keep <= 0 {
		keep = DefaultCheckpointsPerWorkflow
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}).SetSkip(int64(keep)).SetProjection(bson.M{"_id": 1})
	cur, err := s.coll.Find(ctx, bson.M{"workflow_id": workflowID}, opts)
	if err != nil {
		return err
	}
	defer cur.Close(ctx)
	var stale []string
	for cur.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return err
		}
		stale = append(stale, doc.ID)
	}
	if err := cur.Err(); err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}
	return s.coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": stale}})
}

type mongoCheckpointCollection struct {
	coll *mongo.Collection
}

func (c mongoCheckpointCollection) InsertOne(ctx context.Context, document any) (any, error) {
	res, err := c.coll.InsertOne(ctx, document)
	if err != nil {
		return nil, err
	}
	return res.InsertedID, nil
}

func (c mongoCheckpointCollection) Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (checkpointCursor, error) {
	cur, err := c.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return mongoCheckpointCursor{cur: cur}, nil
}

func (c mongoCheckpointCollection) DeleteMany(ctx context.Context, filter any) error {
	_, err := c.coll.DeleteMany(ctx, filter)
	return err
}

type mongoCheckpointCursor struct {
	cur *mongo.Cursor
}

func (c mongoCheckpointCursor) Next(ctx context.Context) bool   { return c.cur.Next(ctx) }
func (c mongoCheckpointCursor) Decode(val any) error            { return c.cur.Decode(val) }
func (c mongoCheckpointCursor) Err() error                      { return c.cur.Err() }
func (c mongoCheckpointCursor) Close(ctx context.Context) error { return c.cur.Close(ctx) }
