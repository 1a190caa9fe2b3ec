// Package capstore implements the Capability Store (spec.md §4.E):
// content-addressed CRUD over learned Capabilities, deduplicated by the
// SHA-256 of their canonical StaticStructure rather than their raw source.
package capstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/pml-run/gateway/domain"
	"github.com/pml-run/gateway/internal/structure"
)

const (
	defaultCollection = "capabilities"
	defaultTimeout    = 5 * time.Second
	clientName        = "capability-store"
)

// ErrNotFound is returned by FindByHash when no capability matches.
var ErrNotFound = errors.New("capstore: capability not found")

// Options configures a Store.
type Options struct {
	Client     *mongo.Client
	Database   string
	Collection string
	Timeout    time.Duration
	// Embedder computes intentEmbedding on first save. Required.
	Embedder Embedder
}

// Store is a Mongo-backed Capability Store.
type Store struct {
	coll     collection
	client   *mongo.Client
	timeout  time.Duration
	embedder Embedder
}

// New builds a Store, ensuring the unique-on-code_hash index described in
// spec.md §4.E ("(codeHash) unique where codeHash IS NOT NULL") exists.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("capstore: mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("capstore: database name is required")
	}
	if opts.Embedder == nil {
		return nil, errors.New("capstore: embedder is required")
	}
	name := opts.Collection
	if name == "" {
		name = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	coll := mongoCollection{coll: opts.Client.Database(opts.Database).Collection(name)}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, coll); err != nil {
		return nil, err
	}
	store := newWithCollection(coll, timeout, opts.Embedder)
	store.client = opts.Client
	return store, nil
}

func newWithCollection(coll collection, timeout time.Duration, embedder Embedder) *Store {
	return &Store{coll: coll, timeout: timeout, embedder: embedder}
}

func ensureIndexes(ctx context.Context, coll collection) error {
	index := mongo.IndexModel{
		Keys: bson.D{{Key: "code_hash", Value: 1}},
		Options: options.Index().
			SetUnique(true).
			SetSparse(true), // codeHash is only unique "where NOT NULL"
	}
	_, err := coll.Indexes().CreateOne(ctx, index)
	return err
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Name identifies this store for health.Pinger.
func (s *Store) Name() string { return clientName }

// Ping verifies Mongo connectivity, completing Store's implementation of
// health.Pinger alongside Name.
func (s *Store) Ping(ctx context.Context) error {
	if s.client == nil {
		return errors.New("capstore: no mongo client configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return s.client.Ping(ctx, readpref.Primary())
}

// SaveResult is the outcome of Save.
type SaveResult struct {
	CapabilityID string
	IsNew        bool
}

// Save implements spec.md §4.E's five-step save algorithm: build the
// StaticStructure, hash it, normalise the snippet, and either update an
// existing capability's stats or insert a brand new one.
func (s *Store) Save(ctx context.Context, code, intent string, permissionInference domain.PermissionLevel, userID string) (SaveResult, error) {
	ss, err := structure.Build(code)
	if err != nil {
		return SaveResult{}, fmt.Errorf("capstore: build structure: %w", err)
	}
	hash, err := canonicalHash(ss)
	if err != nil {
		return SaveResult{}, fmt.Errorf("capstore: hash structure: %w", err)
	}
	normalized := normalizeVariableNames(code, ss.VariableBindings)

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if existing, found, err := s.findByHash(ctx, hash); err != nil {
		return SaveResult{}, err
	} else if found {
		if err := s.touchStats(ctx, existing.ID); err != nil {
			return SaveResult{}, err
		}
		return SaveResult{CapabilityID: existing.ID, IsNew: false}, nil
	}

	paramSchema := deriveParametersSchema(ss)
	if err := validateParametersSchema(paramSchema); err != nil {
		return SaveResult{}, err
	}

	embedding, err := s.embedder.Embed(ctx, intent)
	if err != nil {
		return SaveResult{}, fmt.Errorf("capstore: embed intent: %w", err)
	}
	cap := domain.Capability{
		ID:               bson.NewObjectID().Hex(),
		CodeSnippet:      normalized,
		CodeHash:         hash,
		ParametersSchema: paramSchema,
		IntentEmbedding:  embedding,
		Visibility:       domain.VisibilityPrivate,
		CreatedBy:        userID,
		CreatedAt:        time.Now().UTC(),
		PermissionSet:    permissionInference,
	}
	if _, err := s.coll.InsertOne(ctx, cap); err != nil {
		// A concurrent save with the same hash can race past the findByHash
		// check above; the unique index turns that race into a duplicate-
		// key error, which we resolve by treating it as the non-new path.
		if mongo.IsDuplicateKeyError(err) {
			existing, found, findErr := s.findByHash(ctx, hash)
			if findErr != nil {
				return SaveResult{}, findErr
			}
			if found {
				return SaveResult{CapabilityID: existing.ID, IsNew: false}, nil
			}
		}
		return SaveResult{}, fmt.Errorf("capstore: insert capability: %w", err)
	}
	return SaveResult{CapabilityID: cap.ID, IsNew: true}, nil
}

// FindByHash returns the capability with the given code hash, or
// ErrNotFound.
func (s *Store) FindByHash(ctx context.Context, hash string) (domain.Capability, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	cap, found, err := s.findByHash(ctx, hash)
	if err != nil {
		return domain.Capability{}, err
	}
	if !found {
		return domain.Capability{}, ErrNotFound
	}
	return cap, nil
}

func (s *Store) findByHash(ctx context.Context, hash string) (domain.Capability, bool, error) {
	var cap domain.Capability
	err := s.coll.FindOne(ctx, bson.M{"code_hash": hash}).Decode(&cap)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Capability{}, false, nil
	}
	if err != nil {
		return domain.Capability{}, false, err
	}
	return cap, true, nil
}

// FindByFQDN returns the capability registered under fqdn, or ErrNotFound.
// This is how a `capabilities.<fqdn>` task (spec.md §4.F/G — the Suggester's
// single-task "short-circuit" DAG for a direct capability match) resolves
// back to the stored code snippet the executor expands and runs.
func (s *Store) FindByFQDN(ctx context.Context, fqdn domain.FQDN) (domain.Capability, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var cap domain.Capability
	err := s.coll.FindOne(ctx, bson.M{"fqdn.namespace": fqdn.Namespace, "fqdn.action": fqdn.Action}).Decode(&cap)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Capability{}, ErrNotFound
	}
	if err != nil {
		return domain.Capability{}, err
	}
	return cap, nil
}

// touchStats bumps usageCount/lastUsedAt for a dedup-hit on an existing
// capability; the fuller online-mean update (success/duration) is
// UpdateStats, called by the executor after the capability actually runs.
func (s *Store) touchStats(ctx context.Context, id string) error {
	update := bson.M{
		"$inc": bson.M{"stats.usage_count": 1},
		"$set": bson.M{"stats.last_used_at": time.Now().UTC()},
	}
	_, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	return err
}

// UpdateStats applies an online mean/rate update after an execution
// completes, per spec.md §4.E.
func (s *Store) UpdateStats(ctx context.Context, id string, success bool, durationMs float64) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	cap, found, err := s.findByID(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	n := cap.Stats.UsageCount
	newCount := n + 1
	successVal := 0.0
	if success {
		successVal = 1.0
	}
	newRate := onlineMean(cap.Stats.SuccessRate, n, successVal)
	newAvgDuration := onlineMean(cap.Stats.AvgDurationMs, n, durationMs)

	update := bson.M{"$set": bson.M{
		"stats.usage_count":     newCount,
		"stats.success_rate":    newRate,
		"stats.avg_duration_ms": newAvgDuration,
		"stats.last_used_at":    time.Now().UTC(),
	}}
	_, err = s.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	return err
}

// onlineMean folds a new observation into a running mean without
// recomputing from history: mean' = mean + (x - mean) / (n + 1).
func onlineMean(mean float64, n int64, x float64) float64 {
	return mean + (x-mean)/float64(n+1)
}

func (s *Store) findByID(ctx context.Context, id string) (domain.Capability, bool, error) {
	var cap domain.Capability
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&cap)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Capability{}, false, nil
	}
	if err != nil {
		return domain.Capability{}, false, err
	}
	return cap, true, nil
}

// CapabilityMatch pairs a candidate capability with its similarity to the
// query embedding.
type CapabilityMatch struct {
	Capability domain.Capability
	Similarity float64
}

// SearchByIntent returns the top-k capabilities by cosine similarity to
// embedding. Every stored capability with a non-empty intent embedding is
// fetched, with no visibility filter, and scored in-process; a production
// deployment would push this down to the underlying store's native vector
// index (explicitly out of scope per spec.md §1 — "the underlying storage
// engine ... with vector-similarity indexing" is an external collaborator),
// so this brute-force scan over the whole collection is this package's
// stand-in for that index.
func (s *Store) SearchByIntent(ctx context.Context, embedding []float64, k int) ([]CapabilityMatch, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	cur, err := s.coll.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("capstore: search by intent: %w", err)
	}
	defer cur.Close(ctx)

	var matches []CapabilityMatch
	for cur.Next(ctx) {
		var cap domain.Capability
		if err := cur.Decode(&cap); err != nil {
			return nil, err
		}
		if len(cap.IntentEmbedding) == 0 {
			continue
		}
		matches = append(matches, CapabilityMatch{Capability: cap, Similarity: cosine(embedding, cap.IntentEmbedding)})
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}

	sortMatchesDescending(matches)
	if k > 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func cosine(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func sortMatchesDescending(matches []CapabilityMatch) {
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && matches[j].Similarity > matches[j-1].Similarity; j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}
}

// ListForUser returns capabilities visible to userID within visibilityScope,
// most recently used first, capped at limit.
func (s *Store) ListForUser(ctx context.Context, userID string, visibilityScope domain.Visibility, limit int) ([]domain.Capability, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"$or": []bson.M{
		{"created_by": userID},
		{"visibility": visibilityScope},
	}}
	opts := options.Find().SetSort(bson.D{{Key: "stats.last_used_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []domain.Capability
	for cur.Next(ctx) {
		var cap domain.Capability
		if err := cur.Decode(&cap); err != nil {
			return nil, err
		}
		out = append(out, cap)
	}
	return out, cur.Err()
}
