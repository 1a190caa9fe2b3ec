package matcher

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/pml-run/gateway/domain"
)

// thresholdSingleResult and thresholdCollection narrow *mongo.Collection to
// what MongoThresholdStore needs, the same split used by the Capability
// Store's Mongo adapter.
type thresholdSingleResult interface {
	Decode(val any) error
}

type thresholdCollection interface {
	FindOne(ctx context.Context, filter any) thresholdSingleResult
}

// MongoThresholdStore resolves adaptive_thresholds documents by context
// hash.
type MongoThresholdStore struct {
	coll thresholdCollection
}

// NewMongoThresholdStore wraps the adaptive_thresholds collection.
func NewMongoThresholdStore(coll *mongo.Collection) *MongoThresholdStore {
	return &MongoThresholdStore{coll: mongoThresholdCollection{coll: coll}}
}

// Get returns the stored threshold state for contextHash, or found=false if
// none has been recorded yet (the Matcher falls back to 0.70 in that case).
func (s *MongoThresholdStore) Get(ctx context.Context, contextHash string) (domain.AdaptiveThreshold, bool, error) {
	var t domain.AdaptiveThreshold
	err := s.coll.FindOne(ctx, bson.M{"_id": contextHash}).Decode(&t)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.AdaptiveThreshold{}, false, nil
	}
	if err != nil {
		return domain.AdaptiveThreshold{}, false, err
	}
	return t, true, nil
}

type mongoThresholdCollection struct {
	coll *mongo.Collection
}

func (c mongoThresholdCollection) FindOne(ctx context.Context, filter any) thresholdSingleResult {
	return c.coll.FindOne(ctx, filter)
}
