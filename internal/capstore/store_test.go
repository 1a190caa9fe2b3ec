package capstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/pml-run/gateway/domain"
)

// fakeCollection is an in-memory stand-in for the narrow collection
// interface, in the spirit of the teacher's fakeCollection test double for
// its own narrow Mongo interface.
type fakeCollection struct {
	docs         map[string]domain.Capability
	indexCreated bool
}

func newFakeCollection() *fakeCollection {
	return &fakeCollection{docs: map[string]domain.Capability{}}
}

func (f *fakeCollection) FindOne(_ context.Context, filter any, _ ...options.Lister[options.FindOneOptions]) singleResult {
	m, _ := filter.(bson.M)
	for _, doc := range f.docs {
		if matches(doc, m) {
			return fakeSingleResult{doc: doc, found: true}
		}
	}
	return fakeSingleResult{found: false}
}

func (f *fakeCollection) InsertOne(_ context.Context, document any) (any, error) {
	cap, ok := document.(domain.Capability)
	if !ok {
		return nil, nil
	}
	if cap.CodeHash != "" {
		for _, existing := range f.docs {
			if existing.CodeHash == cap.CodeHash {
				return nil, mongo.CommandError{Code: 11000, Message: "duplicate key"}
			}
		}
	}
	f.docs[cap.ID] = cap
	return cap.ID, nil
}

func (f *fakeCollection) UpdateOne(_ context.Context, filter, update any, _ ...options.Lister[options.UpdateOneOptions]) (*mongo.UpdateResult, error) {
	m, _ := filter.(bson.M)
	for id, doc := range f.docs {
		if !matches(doc, m) {
			continue
		}
		upd, _ := update.(bson.M)
		if inc, ok := upd["$inc"].(bson.M); ok {
			if v, ok := inc["stats.usage_count"].(int); ok {
				doc.Stats.UsageCount += int64(v)
			}
		}
		if set, ok := upd["$set"].(bson.M); ok {
			if v, ok := set["stats.usage_count"]; ok {
				doc.Stats.UsageCount = toInt64(v)
			}
			if v, ok := set["stats.success_rate"].(float64); ok {
				doc.Stats.SuccessRate = v
			}
			if v, ok := set["stats.avg_duration_ms"].(float64); ok {
				doc.Stats.AvgDurationMs = v
			}
		}
		f.docs[id] = doc
		return &mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
	}
	return &mongo.UpdateResult{}, nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

func (f *fakeCollection) Find(_ context.Context, filter any, _ ...options.Lister[options.FindOptions]) (cursor, error) {
	m, _ := filter.(bson.M)
	var out []domain.Capability
	for _, doc := range f.docs {
		if matches(doc, m) {
			out = append(out, doc)
		}
	}
	return &fakeCursor{docs: out, pos: -1}, nil
}

func (f *fakeCollection) Indexes() indexView { return f }

func (f *fakeCollection) CreateOne(context.Context, mongo.IndexModel, ...options.Lister[options.CreateIndexesOptions]) (string, error) {
	f.indexCreated = true
	return "code_hash_1", nil
}

func matches(doc domain.Capability, filter bson.M) bool {
	if len(filter) == 0 {
		return true
	}
	if or, ok := filter["$or"].([]bson.M); ok {
		for _, sub := range or {
			if matches(doc, sub) {
				return true
			}
		}
		return false
	}
	if v, ok := filter["_id"]; ok && doc.ID != v {
		return false
	}
	if v, ok := filter["code_hash"]; ok && doc.CodeHash != v {
		return false
	}
	if v, ok := filter["created_by"]; ok && doc.CreatedBy != v {
		return false
	}
	if v, ok := filter["visibility"]; ok && doc.Visibility != v {
		return false
	}
	if v, ok := filter["fqdn.namespace"]; ok && doc.FQDN.Namespace != v {
		return false
	}
	if v, ok := filter["fqdn.action"]; ok && doc.FQDN.Action != v {
		return false
	}
	return true
}

type fakeSingleResult struct {
	doc   domain.Capability
	found bool
}

func (r fakeSingleResult) Decode(val any) error {
	if !r.found {
		return mongo.ErrNoDocuments
	}
	ptr, ok := val.(*domain.Capability)
	if !ok {
		return nil
	}
	*ptr = r.doc
	return nil
}

type fakeCursor struct {
	docs []domain.Capability
	pos  int
}

func (c *fakeCursor) Next(context.Context) bool {
	c.pos++
	return c.pos < len(c.docs)
}

func (c *fakeCursor) Decode(val any) error {
	ptr, ok := val.(*domain.Capability)
	if !ok {
		return nil
	}
	*ptr = c.docs[c.pos]
	return nil
}

func (c *fakeCursor) Err() error                      { return nil }
func (c *fakeCursor) Close(context.Context) error { return nil }

type fakeEmbedder struct{ vector []float64 }

func (f fakeEmbedder) Embed(context.Context, string) ([]float64, error) { return f.vector, nil }

func TestEnsureIndexes(t *testing.T) {
	fc := newFakeCollection()
	require.NoError(t, ensureIndexes(context.Background(), fc))
	require.True(t, fc.indexCreated)
}

func TestStore_SaveIsNewOnFirstCall(t *testing.T) {
	fc := newFakeCollection()
	store := newWithCollection(fc, 0, fakeEmbedder{vector: []float64{1, 0, 0}})

	res, err := store.Save(context.Background(), `await mcp.a.b({});`, "do a thing", domain.PermissionReadonly, "user-1")
	require.NoError(t, err)
	require.True(t, res.IsNew)
	require.NotEmpty(t, res.CapabilityID)

	saved := fc.docs[res.CapabilityID]
	require.Equal(t, []float64{1, 0, 0}, saved.IntentEmbedding)
	require.Equal(t, domain.PermissionReadonly, saved.PermissionSet)
}

func TestStore_SaveDedupsByStructureNotSource(t *testing.T) {
	fc := newFakeCollection()
	store := newWithCollection(fc, 0, fakeEmbedder{vector: []float64{1, 0, 0}})

	res1, err := store.Save(context.Background(), `await mcp.a.b({x: 1});`, "first", domain.PermissionReadonly, "user-1")
	require.NoError(t, err)
	require.True(t, res1.IsNew)

	// Same structure, different variable-irrelevant whitespace/comment:
	// must dedup to the same capability.
	res2, err := store.Save(context.Background(), `await mcp.a.b({x: 1}); // a comment`, "second", domain.PermissionReadonly, "user-2")
	require.NoError(t, err)
	require.False(t, res2.IsNew)
	require.Equal(t, res1.CapabilityID, res2.CapabilityID)
	require.Len(t, fc.docs, 1)
}

func TestStore_SaveDerivesParametersSchemaFromParameters(t *testing.T) {
	fc := newFakeCollection()
	store := newWithCollection(fc, 0, fakeEmbedder{vector: []float64{1, 0, 0}})

	res, err := store.Save(context.Background(), `await mcp.a.b({x: userId});`, "intent", domain.PermissionReadonly, "user-1")
	require.NoError(t, err)

	saved := fc.docs[res.CapabilityID]
	require.Equal(t, []string{"userId"}, saved.ParametersSchema["required"])
}

func TestStore_FindByHashNotFound(t *testing.T) {
	fc := newFakeCollection()
	store := newWithCollection(fc, 0, fakeEmbedder{})
	_, err := store.FindByHash(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_FindByFQDN(t *testing.T) {
	fc := newFakeCollection()
	fc.docs["cap-1"] = domain.Capability{
		ID:   "cap-1",
		FQDN: domain.FQDN{Namespace: "billing", Action: "refundOrder"},
	}
	store := newWithCollection(fc, 0, fakeEmbedder{})

	found, err := store.FindByFQDN(context.Background(), domain.FQDN{Namespace: "billing", Action: "refundOrder"})
	require.NoError(t, err)
	require.Equal(t, "cap-1", found.ID)
}

func TestStore_FindByFQDNNotFound(t *testing.T) {
	fc := newFakeCollection()
	store := newWithCollection(fc, 0, fakeEmbedder{})
	_, err := store.FindByFQDN(context.Background(), domain.FQDN{Namespace: "billing", Action: "refundOrder"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_PingWithoutClientErrors(t *testing.T) {
	fc := newFakeCollection()
	store := newWithCollection(fc, 0, fakeEmbedder{})
	require.Error(t, store.Ping(context.Background()))
}

func TestStore_UpdateStatsOnlineMean(t *testing.T) {
	fc := newFakeCollection()
	store := newWithCollection(fc, 0, fakeEmbedder{vector: []float64{1, 0, 0}})

	res, err := store.Save(context.Background(), `await mcp.a.b({});`, "intent", domain.PermissionReadonly, "user-1")
	require.NoError(t, err)

	require.NoError(t, store.UpdateStats(context.Background(), res.CapabilityID, true, 100))
	require.NoError(t, store.UpdateStats(context.Background(), res.CapabilityID, false, 300))

	saved := fc.docs[res.CapabilityID]
	require.InDelta(t, 0.5, saved.Stats.SuccessRate, 1e-9)
	require.InDelta(t, 200, saved.Stats.AvgDurationMs, 1e-9)
	require.Equal(t, int64(2), saved.Stats.UsageCount)
}

func TestStore_SearchByIntentRanksByCosineSimilarity(t *testing.T) {
	fc := newFakeCollection()
	fc.docs["close"] = domain.Capability{ID: "close", IntentEmbedding: []float64{1, 0, 0}}
	fc.docs["far"] = domain.Capability{ID: "far", IntentEmbedding: []float64{0, 1, 0}}
	store := newWithCollection(fc, 0, fakeEmbedder{})

	matches, err := store.SearchByIntent(context.Background(), []float64{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.Equal(t, "close", matches[0].Capability.ID)
	require.InDelta(t, 1.0, matches[0].Similarity, 1e-9)
}

func TestStore_ListForUserFiltersByOwnerOrVisibility(t *testing.T) {
	fc := newFakeCollection()
	fc.docs["mine"] = domain.Capability{ID: "mine", CreatedBy: "user-1", Visibility: domain.VisibilityPrivate}
	fc.docs["public"] = domain.Capability{ID: "public", CreatedBy: "user-2", Visibility: domain.VisibilityPublic}
	fc.docs["other"] = domain.Capability{ID: "other", CreatedBy: "user-2", Visibility: domain.VisibilityPrivate}
	store := newWithCollection(fc, 0, fakeEmbedder{})

	caps, err := store.ListForUser(context.Background(), "user-1", domain.VisibilityPublic, 0)
	require.NoError(t, err)
	ids := make([]string, len(caps))
	for i, c := range caps {
		ids[i] = c.ID
	}
	require.ElementsMatch(t, []string{"mine", "public"}, ids)
}
