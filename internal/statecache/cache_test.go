package statecache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pml-run/gateway/domain"
)

// fakeRedis is an in-memory stand-in for redisClient, in the spirit of the
// teacher's fakeCollection test double for its narrow Mongo interface.
type fakeRedis struct {
	values map[string][]byte
	ttls   map[string]time.Duration
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Set(_ context.Context, key string, payload []byte, ttl time.Duration) error {
	f.values[key] = payload
	f.ttls[key] = ttl
	return nil
}

func (f *fakeRedis) Get(_ context.Context, key string) ([]byte, error) {
	v, ok := f.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func (f *fakeRedis) SetXX(_ context.Context, key string, payload []byte, ttl time.Duration) (bool, error) {
	if _, ok := f.values[key]; !ok {
		return false, nil
	}
	f.values[key] = payload
	f.ttls[key] = ttl
	return true, nil
}

func (f *fakeRedis) Del(_ context.Context, key string) error {
	delete(f.values, key)
	delete(f.ttls, key)
	return nil
}

func (f *fakeRedis) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if _, ok := f.values[key]; !ok {
		return false, nil
	}
	f.ttls[key] = ttl
	return true, nil
}

func (f *fakeRedis) Ping(context.Context) error { return nil }

func TestCache_SaveThenGet(t *testing.T) {
	c := newWithClient(newFakeRedis(), 0)
	state := domain.WorkflowState{WorkflowID: "wf-1", Intent: "book a flight"}

	require.NoError(t, c.Save(context.Background(), state))

	got, err := c.Get(context.Background(), "wf-1")
	require.NoError(t, err)
	require.Equal(t, state, got)
}

func TestCache_GetMissingReturnsErrNotFound(t *testing.T) {
	c := newWithClient(newFakeRedis(), 0)
	_, err := c.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCache_UpdateFailsIfAbsent(t *testing.T) {
	c := newWithClient(newFakeRedis(), 0)
	err := c.Update(context.Background(), domain.WorkflowState{WorkflowID: "wf-2"})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCache_UpdateReplacesExisting(t *testing.T) {
	c := newWithClient(newFakeRedis(), 0)
	require.NoError(t, c.Save(context.Background(), domain.WorkflowState{WorkflowID: "wf-3", Intent: "first"}))
	require.NoError(t, c.Update(context.Background(), domain.WorkflowState{WorkflowID: "wf-3", Intent: "second"}))

	got, err := c.Get(context.Background(), "wf-3")
	require.NoError(t, err)
	require.Equal(t, "second", got.Intent)
}

func TestCache_DeleteRemovesEntry(t *testing.T) {
	c := newWithClient(newFakeRedis(), 0)
	require.NoError(t, c.Save(context.Background(), domain.WorkflowState{WorkflowID: "wf-4"}))
	require.NoError(t, c.Delete(context.Background(), "wf-4"))

	_, err := c.Get(context.Background(), "wf-4")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCache_DeleteAbsentIsNotAnError(t *testing.T) {
	c := newWithClient(newFakeRedis(), 0)
	require.NoError(t, c.Delete(context.Background(), "never-existed"))
}

func TestCache_ExtendMissingReturnsErrNotFound(t *testing.T) {
	c := newWithClient(newFakeRedis(), 0)
	err := c.Extend(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCache_ExtendRefreshesTTL(t *testing.T) {
	fr := newFakeRedis()
	c := newWithClient(fr, 30*time.Minute)
	require.NoError(t, c.Save(context.Background(), domain.WorkflowState{WorkflowID: "wf-5"}))

	require.NoError(t, c.Extend(context.Background(), "wf-5"))
	require.Equal(t, 30*time.Minute, fr.ttls[key("wf-5")])
}

func TestCache_DefaultTTLAppliedWhenUnset(t *testing.T) {
	fr := newFakeRedis()
	c := newWithClient(fr, 0)
	require.NoError(t, c.Save(context.Background(), domain.WorkflowState{WorkflowID: "wf-6"}))
	require.Equal(t, DefaultTTL, fr.ttls[key("wf-6")])
}
