package depgraph

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/pml-run/gateway/domain"
)

// edgeCursor narrows *mongo.Cursor to what MongoEdgeStore needs, the same
// split used across this module's other Mongo-backed stores so a test
// double never has to satisfy the full driver surface.
type edgeCursor interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	Err() error
	Close(ctx context.Context) error
}

type edgeCollection interface {
	Find(ctx context.Context, filter any) (edgeCursor, error)
}

// MongoEdgeStore reads capability_dependency edges for Graph construction.
type MongoEdgeStore struct {
	coll edgeCollection
}

// NewMongoEdgeStore wraps the capability_dependency collection.
func NewMongoEdgeStore(coll *mongo.Collection) *MongoEdgeStore {
	return &MongoEdgeStore{coll: mongoEdgeCollection{coll: coll}}
}

// AllDependencies returns every edge in the graph.
func (s *MongoEdgeStore) AllDependencies(ctx context.Context) ([]domain.CapabilityDependency, error) {
	cur, err := s.coll.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []domain.CapabilityDependency
	for cur.Next(ctx) {
		var edge domain.CapabilityDependency
		if err := cur.Decode(&edge); err != nil {
			return nil, err
		}
		out = append(out, edge)
	}
	return out, cur.Err()
}

type mongoEdgeCollection struct {
	coll *mongo.Collection
}

func (c mongoEdgeCollection) Find(ctx context.Context, filter any) (edgeCursor, error) {
	cur, err := c.coll.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	return cur, nil
}
