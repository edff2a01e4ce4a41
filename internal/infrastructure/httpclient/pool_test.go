package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(url string) ClientConfig {
	cfg := DefaultClientConfig("test", url)
	cfg.RPS = 0
	cfg.BackoffBase = time.Millisecond
	cfg.BackoffMax = 5 * time.Millisecond
	cfg.RequestTimeout = 2 * time.Second
	return cfg
}

func TestDoJSON_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/echo", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"answer":42}`))
	}))
	defer srv.Close()

	cp := NewClientPool(testConfig(srv.URL + "/"))
	var out struct {
		Answer int `json:"answer"`
	}
	require.NoError(t, cp.DoJSON(context.Background(), http.MethodPost, "/echo", map[string]string{"q": "x"}, &out))
	assert.Equal(t, 42, out.Answer)
	assert.Equal(t, int64(1), cp.GetStats().SuccessRequests)
}

func TestDoJSON_NotFoundIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cp := NewClientPool(testConfig(srv.URL))
	err := cp.DoJSON(context.Background(), http.MethodGet, "/missing", nil, nil)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDoJSON_RetriesTransientStatus(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	cp := NewClientPool(testConfig(srv.URL))
	require.NoError(t, cp.DoJSON(context.Background(), http.MethodGet, "/flaky", nil, &struct{}{}))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, int64(1), cp.GetStats().RetriedRequests)
}

func TestDoJSON_BreakerOpensOnServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxRetries = 0
	cfg.ConsecutiveFailures = 2
	cfg.OpenTimeout = time.Minute
	cp := NewClientPool(cfg)

	for i := 0; i < 2; i++ {
		err := cp.DoJSON(context.Background(), http.MethodGet, "/boom", nil, nil)
		var se *StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, http.StatusInternalServerError, se.Code)
	}

	err := cp.DoJSON(context.Background(), http.MethodGet, "/boom", nil, nil)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, "open", cp.State())
}

func TestDoJSON_ClientErrorsDoNotTripBreaker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.ConsecutiveFailures = 1
	cp := NewClientPool(cfg)

	for i := 0; i < 3; i++ {
		assert.Error(t, cp.DoJSON(context.Background(), http.MethodGet, "/bad", nil, nil))
	}
	assert.Equal(t, "closed", cp.State())
}
