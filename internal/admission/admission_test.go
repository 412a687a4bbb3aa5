package admission

import (
	"context"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhubert/koine/internal/testutil"
)

func TestGate_Scenario(t *testing.T) {
	g, err := NewGate(map[Class]int{Streaming: 3})
	require.NoError(t, err)

	got := []bool{g.Acquire(Streaming), g.Acquire(Streaming), g.Acquire(Streaming)}
	assert.Equal(t, []bool{true, true, true}, got)
	assert.False(t, g.Acquire(Streaming))

	g.Release(Streaming)
	assert.True(t, g.Acquire(Streaming))
	assert.Equal(t, PoolStatus{Active: 3, Limit: 3}, g.Status()[Streaming])
}

func TestGate_ConfigureRejectsNegative(t *testing.T) {
	g, err := NewGate(map[Class]int{NonStreaming: 5})
	require.NoError(t, err)

	err = g.Configure(NonStreaming, -1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonnegative")
	assert.Equal(t, 5, g.Status()[NonStreaming].Limit, "previous limit kept")

	_, err = NewGate(map[Class]int{Streaming: -2})
	require.Error(t, err)
}

func TestGate_ZeroLimitRejectsAll(t *testing.T) {
	g, err := NewGate(map[Class]int{Streaming: 0})
	require.NoError(t, err)
	assert.False(t, g.Acquire(Streaming))
	assert.False(t, g.Acquire("unknown"))
	assert.Equal(t, 0, g.Status()[Streaming].Active)
}

func TestGate_IdempotentRelease(t *testing.T) {
	g, err := NewGate(map[Class]int{Streaming: 1})
	require.NoError(t, err)

	require.True(t, g.Acquire(Streaming))
	for range 5 {
		g.Release(Streaming)
	}
	assert.Equal(t, 0, g.Status()[Streaming].Active)

	assert.True(t, g.Acquire(Streaming))
	assert.False(t, g.Acquire(Streaming))
}

func TestGate_BoundsHoldUnderRandomOps(t *testing.T) {
	for _, limit := range []int{0, 1, 2, 7} {
		g, err := NewGate(map[Class]int{Streaming: limit})
		require.NoError(t, err)
		r := rand.New(rand.NewPCG(uint64(limit), 42))
		for range 1000 {
			if r.IntN(2) == 0 {
				g.Acquire(Streaming)
			} else {
				g.Release(Streaming)
			}
			s := g.Status()[Streaming]
			require.GreaterOrEqual(t, s.Active, 0)
			require.LessOrEqual(t, s.Active, limit)
		}
	}
}

func TestGate_ConcurrentAcquire(t *testing.T) {
	g, err := NewGate(map[Class]int{NonStreaming: 4})
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Acquire(NonStreaming) {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 4, granted)
}

func TestGate_Reset(t *testing.T) {
	g, err := NewGate(map[Class]int{Streaming: 2})
	require.NoError(t, err)
	g.Acquire(Streaming)
	g.Reset()
	assert.Equal(t, PoolStatus{Active: 0, Limit: 2}, g.Status()[Streaming])
}

func TestMiddleware_RejectsWith429(t *testing.T) {
	g, err := NewGate(map[Class]int{Streaming: 0})
	require.NoError(t, err)
	m := NewMiddleware(g, 5*time.Second, testutil.DiscardLogger())

	called := false
	h := m.Wrap(Streaming, http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/stream", nil))

	assert.False(t, called)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "CONCURRENCY_LIMIT_ERROR", body["code"])
	assert.NotEmpty(t, body["error"])
}

func TestMiddleware_ReleasesAfterHandler(t *testing.T) {
	g, err := NewGate(map[Class]int{NonStreaming: 1})
	require.NoError(t, err)
	m := NewMiddleware(g, time.Second, testutil.DiscardLogger())

	var during PoolStatus
	h := m.Wrap(NonStreaming, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		during = g.Status()[NonStreaming]
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/generate-text", nil))

	assert.Equal(t, 1, during.Active)
	assert.Equal(t, 0, g.Status()[NonStreaming].Active)
}

func TestMiddleware_ReleasesOnPanic(t *testing.T) {
	g, err := NewGate(map[Class]int{NonStreaming: 1})
	require.NoError(t, err)
	m := NewMiddleware(g, time.Second, testutil.DiscardLogger())

	h := m.Wrap(NonStreaming, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	assert.Panics(t, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/generate-text", nil))
	})
	assert.Equal(t, 0, g.Status()[NonStreaming].Active)
}

func TestMiddleware_ReleasesOnceOnDisconnect(t *testing.T) {
	g, err := NewGate(map[Class]int{Streaming: 2})
	require.NoError(t, err)
	m := NewMiddleware(g, time.Second, testutil.DiscardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	released := make(chan struct{})
	finish := make(chan struct{})
	h := m.Wrap(Streaming, http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		close(released)
		<-finish
	}))

	// A second request holds a slot so a double release would show up.
	require.True(t, g.Acquire(Streaming))

	done := make(chan struct{})
	go func() {
		defer close(done)
		req := httptest.NewRequest(http.MethodPost, "/stream", nil).WithContext(ctx)
		h.ServeHTTP(httptest.NewRecorder(), req)
	}()

	require.Eventually(t, func() bool { return g.Status()[Streaming].Active == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-released
	require.Eventually(t, func() bool { return g.Status()[Streaming].Active == 1 }, time.Second, 5*time.Millisecond)

	close(finish)
	<-done
	assert.Equal(t, 1, g.Status()[Streaming].Active, "handler return must not release again")
}
