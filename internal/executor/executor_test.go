package executor

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lfreist/xsearch/internal/chunk"
)

// fakeProvider hands out n trivial chunks then reports exhaustion.
type fakeProvider struct {
	mu      sync.Mutex
	next    uint64
	total   uint64
	closed  bool
}

func newFakeProvider(total uint64) *fakeProvider { return &fakeProvider{total: total} }

func (p *fakeProvider) Next() (*chunk.Chunk, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.next >= p.total {
		return nil, false, nil
	}
	c := chunk.NewOwnedFrom([]byte("x"), chunk.Meta{ChunkIndex: p.next})
	p.next++
	return c, true, nil
}

func (p *fakeProvider) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

type fakeAggregate struct{ done atomic.Bool }

func (a *fakeAggregate) Done() { a.done.Store(true) }

func TestExecutorProcessesEveryChunkExactlyOnce(t *testing.T) {
	const total = 200
	p := newFakeProvider(total)
	e := New(p, nil, 8)

	var collected atomic.Int64
	agg := &fakeAggregate{}
	err := e.Run(func(c *chunk.Chunk) error {
		collected.Add(1)
		return nil
	}, agg)

	require.NoError(t, err)
	require.EqualValues(t, total, collected.Load())
	require.True(t, agg.done.Load())
	require.True(t, p.closed)
}

func TestExecutorStopsOnCollectError(t *testing.T) {
	p := newFakeProvider(1000)
	e := New(p, nil, 4)

	agg := &fakeAggregate{}
	sentinel := errAt(7)
	var collected atomic.Int64
	err := e.Run(func(c *chunk.Chunk) error {
		n := collected.Add(1)
		if n == 7 {
			return sentinel
		}
		return nil
	}, agg)

	require.Error(t, err)
	require.True(t, agg.done.Load())
	require.Less(t, int64(collected.Load()), int64(1000))
}

type testErr struct{ n int }

func (e *testErr) Error() string { return "boom" }

func errAt(n int) error { return &testErr{n: n} }
