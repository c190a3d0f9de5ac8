package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noela-dervishi/StudentPerformancePrediction/internal/features"
)

func modelServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/dump":
			_ = json.NewEncoder(w).Encode(map[string]string{"dump": sampleDump})
		case "/distribution":
			var req distributionRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			p := 0.9
			if req.Record.Value(features.StudyHours) > 9.5 {
				p = 0.2
			}
			_ = json.NewEncoder(w).Encode(distributionResponse{Distribution: Distribution{{"FAIL", p}, {"PASS", 1 - p}}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientDisabledWithoutURL(t *testing.T) {
	_, err := NewClient(Config{})
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestClientDumpAndDistribution(t *testing.T) {
	var calls atomic.Int32
	srv := modelServer(t, &calls)
	c, err := NewClient(Config{BaseURL: srv.URL + "/", Token: "secret"})
	require.NoError(t, err)

	ctx := context.Background()
	dump, err := c.Dump(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleDump, dump)

	rec := features.Record{features.StudyHours: 12, features.Attendance: 90, features.Participation: 8}
	dist, err := c.Distribution(ctx, rec)
	require.NoError(t, err)
	best, ok := dist.ArgMax()
	require.True(t, ok)
	assert.Equal(t, "PASS", best.Label)
	assert.InDelta(t, 0.8, best.P, 1e-9)

	// both answers are served from cache the second time
	_, err = c.Dump(ctx)
	require.NoError(t, err)
	_, err = c.Distribution(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClientCacheIsBounded(t *testing.T) {
	var calls atomic.Int32
	srv := modelServer(t, &calls)
	c, err := NewClient(Config{BaseURL: srv.URL, Token: "secret", CacheSize: 2})
	require.NoError(t, err)

	ctx := context.Background()
	for _, hours := range []float64{1, 2, 3} {
		_, err := c.Distribution(ctx, features.Record{features.StudyHours: hours})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, c.cacheLen())
	assert.Equal(t, int32(3), calls.Load())

	// the oldest record was evicted, the newest is still cached
	_, err = c.Distribution(ctx, features.Record{features.StudyHours: 3})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	_, err = c.Distribution(ctx, features.Record{features.StudyHours: 1})
	require.NoError(t, err)
	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, 2, c.cacheLen())
}

func TestClientCacheDropsExpiredEntries(t *testing.T) {
	var calls atomic.Int32
	srv := modelServer(t, &calls)
	c, err := NewClient(Config{BaseURL: srv.URL, Token: "secret", CacheSize: 2, CacheTTL: time.Millisecond})
	require.NoError(t, err)

	ctx := context.Background()
	for _, hours := range []float64{1, 2} {
		_, err := c.Distribution(ctx, features.Record{features.StudyHours: hours})
		require.NoError(t, err)
	}
	time.Sleep(10 * time.Millisecond)
	_, err = c.Distribution(ctx, features.Record{features.StudyHours: 3})
	require.NoError(t, err)
	assert.Equal(t, 1, c.cacheLen())
}

func TestClientReportsStatus(t *testing.T) {
	var calls atomic.Int32
	srv := modelServer(t, &calls)
	c, err := NewClient(Config{BaseURL: srv.URL, Token: "wrong"})
	require.NoError(t, err)

	_, err = c.Dump(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestClientRetriesOnceAfterTooManyRequests(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"dump": sampleDump})
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{BaseURL: srv.URL, RetryBackoff: time.Millisecond})
	require.NoError(t, err)
	dump, err := c.Dump(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sampleDump, dump)
	assert.Equal(t, int32(2), calls.Load())
}

type failing struct{}

func (failing) Dump(context.Context) (string, error) { return "", errors.New("down") }
func (failing) Distribution(context.Context, features.Record) (Distribution, error) {
	return nil, errors.New("down")
}

func TestWithFallback(t *testing.T) {
	replay, err := NewReplay(sampleDump, features.Labels()...)
	require.NoError(t, err)

	assert.Equal(t, Classifier(replay), WithFallback(nil, replay))

	c := WithFallback(failing{}, replay)
	dump, err := c.Dump(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sampleDump, dump)

	dist, err := c.Distribution(context.Background(), features.Record{features.StudyHours: 20})
	require.NoError(t, err)
	best, _ := dist.ArgMax()
	assert.Equal(t, "PASS", best.Label)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Distribution(ctx, features.Record{})
	assert.ErrorIs(t, err, context.Canceled)
}
