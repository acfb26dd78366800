package media

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/webtor-io/media-relay/services/relay"
	"github.com/webtor-io/media-relay/services/resolver"
	co "github.com/webtor-io/media-relay/services/resolver/common"
	"github.com/webtor-io/media-relay/services/stream_cache"
)

type mockResolver struct {
	calls atomic.Int32
	delay time.Duration
	res   *co.Result
	err   error
}

func (m *mockResolver) Resolve(ctx context.Context, _ string) (*co.Result, error) {
	m.calls.Add(1)
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	r := *m.res
	return &r, nil
}

type mockRelay struct {
	mu   sync.Mutex
	reqs []*relay.Request
	err  error
}

func (m *mockRelay) Open(_ context.Context, r *relay.Request) (*relay.Stream, error) {
	m.mu.Lock()
	m.reqs = append(m.reqs, r)
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return &relay.Stream{URL: r.URL, ContentType: r.ContentType, StatusCode: http.StatusOK}, nil
}

func newTestCache(t *testing.T) *stream_cache.Cache {
	t.Helper()
	c, err := stream_cache.NewCache(stream_cache.DefaultCapacity, stream_cache.DefaultTTL)
	require.NoError(t, err)
	return c
}

func TestMedia_Resolve_HitSkipsChain(t *testing.T) {
	now := time.Now()
	cache := newTestCache(t).WithClock(func() time.Time { return now })
	expire := strconv.FormatInt(now.Add(10*time.Second).Unix(), 10)
	cache.Put("xyz789", "https://cdn.example/xyz789?expire="+expire, "audio/webm")

	r := &mockResolver{err: errors.New("must not be called")}
	m := NewMedia(cache, r, &mockRelay{}, true)

	got, hit, err := m.Resolve(context.Background(), "xyz789")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "audio/webm", got.ContentType)
	assert.Equal(t, int32(0), r.calls.Load())
}

func TestMedia_Resolve_MissWritesCache(t *testing.T) {
	cache := newTestCache(t)
	r := &mockResolver{res: &co.Result{URL: "https://cdn.example/a", ContentType: "audio/webm", Strategy: "player"}}
	m := NewMedia(cache, r, &mockRelay{}, false)

	e, hit, err := m.Resolve(context.Background(), "abc123")
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "https://cdn.example/a", e.SourceURL)

	_, hit, err = m.Resolve(context.Background(), "abc123")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, int32(1), r.calls.Load())
}

func TestMedia_Resolve_ExhaustionWritesNothing(t *testing.T) {
	cache := newTestCache(t)
	r := &mockResolver{err: &resolver.ExhaustedError{ID: "abc123"}}
	m := NewMedia(cache, r, &mockRelay{}, true)

	_, _, err := m.Resolve(context.Background(), "abc123")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, 0, cache.Len())
}

func TestMedia_Open_RelayFailureKeepsEntry(t *testing.T) {
	cache := newTestCache(t)
	r := &mockResolver{res: &co.Result{URL: "https://cdn.example/a", ContentType: "audio/webm"}}
	rl := &mockRelay{err: &relay.StatusError{StatusCode: http.StatusForbidden}}
	m := NewMedia(cache, r, rl, true)

	_, err := m.Open(context.Background(), "abc123", "")
	require.Error(t, err)
	var se *relay.StatusError
	assert.True(t, errors.As(err, &se))
	assert.False(t, errors.Is(err, ErrNotFound))

	e, ok := cache.Get("abc123")
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example/a", e.SourceURL)
}

func TestMedia_Open_PassesSourceAndRange(t *testing.T) {
	cache := newTestCache(t)
	r := &mockResolver{res: &co.Result{URL: "https://cdn.example/a", ContentType: "audio/mp4"}}
	rl := &mockRelay{}
	m := NewMedia(cache, r, rl, true)

	st, err := m.Open(context.Background(), "abc123", "bytes=0-")
	require.NoError(t, err)
	assert.Equal(t, "audio/mp4", st.ContentType)
	require.Len(t, rl.reqs, 1)
	assert.Equal(t, "https://cdn.example/a", rl.reqs[0].URL)
	assert.Equal(t, "bytes=0-", rl.reqs[0].Range)
}

func TestMedia_Open_ThroughRelay(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("audio"))
	}))
	defer server.Close()

	cache := newTestCache(t)
	r := &mockResolver{res: &co.Result{URL: server.URL, ContentType: "audio/webm"}}
	m := NewMedia(cache, r, relay.NewRelay(server.Client(), nil, 0), true)

	st, err := m.Open(context.Background(), "abc123", "")
	require.NoError(t, err)
	var got []byte
	for chunk, err := range st.Chunks() {
		require.NoError(t, err)
		got = append(got, chunk...)
	}
	assert.Equal(t, "audio", string(got))
	assert.Equal(t, "audio/webm", st.ContentType)
}

func TestMedia_Resolve_CoalescesConcurrentMisses(t *testing.T) {
	cache := newTestCache(t)
	r := &mockResolver{
		delay: 50 * time.Millisecond,
		res:   &co.Result{URL: "https://cdn.example/a", ContentType: "audio/webm"},
	}
	m := NewMedia(cache, r, &mockRelay{}, true)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, _, err := m.Resolve(context.Background(), "abc123")
			assert.NoError(t, err)
			assert.Equal(t, "https://cdn.example/a", e.SourceURL)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), r.calls.Load())
}

func TestMedia_Resolve_CallerCancelDoesNotAbortShared(t *testing.T) {
	cache := newTestCache(t)
	r := &mockResolver{
		delay: 50 * time.Millisecond,
		res:   &co.Result{URL: "https://cdn.example/a", ContentType: "audio/webm"},
	}
	m := NewMedia(cache, r, &mockRelay{}, true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := m.Resolve(ctx, "abc123")
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	assert.Error(t, <-done)

	e, _, err := m.Resolve(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/a", e.SourceURL)
	assert.Equal(t, int32(1), r.calls.Load())
}
