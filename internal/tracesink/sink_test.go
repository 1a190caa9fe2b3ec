package tracesink_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pml-run/gateway/internal/tracesink"
)

type fakeWriter struct {
	mu      sync.Mutex
	batches [][]int
	fail    bool
}

func (f *fakeWriter) WriteBatch(ctx context.Context, records []int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return assert.AnError
	}
	cp := append([]int(nil), records...)
	f.batches = append(f.batches, cp)
	return nil
}

func (f *fakeWriter) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func TestSink_FlushesOnFullBuffer(t *testing.T) {
	w := &fakeWriter{}
	s := tracesink.New[int](w, tracesink.WithBufferSize[int](3), tracesink.WithFlushInterval[int](time.Hour))
	defer s.Close(context.Background())

	s.Enqueue(1)
	s.Enqueue(2)
	s.Enqueue(3)

	require.Eventually(t, func() bool { return w.total() == 3 }, time.Second, 5*time.Millisecond)
}

func TestSink_FlushesOnTimer(t *testing.T) {
	w := &fakeWriter{}
	s := tracesink.New[int](w, tracesink.WithBufferSize[int](100), tracesink.WithFlushInterval[int](10*time.Millisecond))
	defer s.Close(context.Background())

	s.Enqueue(42)
	require.Eventually(t, func() bool { return w.total() == 1 }, time.Second, 5*time.Millisecond)
}

func TestSink_CloseFlushesOnce(t *testing.T) {
	w := &fakeWriter{}
	s := tracesink.New[int](w, tracesink.WithBufferSize[int](100), tracesink.WithFlushInterval[int](time.Hour))
	s.Enqueue(1)
	s.Enqueue(2)

	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Close(context.Background()))

	assert.Equal(t, 2, w.total())
	assert.Len(t, w.batches, 1)
}

func TestSink_RequeuesOnFailureThenDrops(t *testing.T) {
	w := &fakeWriter{fail: true}
	s := tracesink.New[int](w, tracesink.WithBufferSize[int](2), tracesink.WithFlushInterval[int](5*time.Millisecond))

	s.Enqueue(1)
	s.Enqueue(2)
	s.Enqueue(3) // exceeds buffer capacity once failures accumulate

	require.Eventually(t, func() bool { return s.DroppedCount() > 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Close(context.Background()))
}
