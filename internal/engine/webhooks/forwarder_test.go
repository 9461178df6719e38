package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tconn93/TRFBWebhook/internal/pkg/metrics"
	"github.com/tconn93/TRFBWebhook/internal/platform/config"
	"github.com/tconn93/TRFBWebhook/internal/platform/models"
)

func testForwarderConfig() config.ForwarderConfig {
	return config.ForwarderConfig{
		DefaultTimeout: 2 * time.Second,
		MaxTimeout:     5 * time.Second,
		UserAgent:      "TRFBWebhook-test",
	}
}

func newTestForwarder(cfg config.ForwarderConfig) (*Forwarder, *metrics.Metrics) {
	m := metrics.New(prometheus.NewRegistry())
	return NewForwarder(cfg, m, zerolog.Nop()), m
}

func TestForwardOne_Success(t *testing.T) {
	var got http.Header
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	f, m := newTestForwarder(testForwarderConfig())
	target := &models.Target{
		ID:  "tgt_1",
		URL: srv.URL,
		Headers: map[string]string{
			"Authorization":     "Bearer abc",
			"X-Forwarded-By":    "someone-else",
			"Content-Length":    "1",
			"X-Original-Source": "Twitter",
		},
		TimeoutMS: 1000,
	}

	result := f.ForwardOne(context.Background(), target, []byte(`{"hello":"world"}`))

	require.True(t, result.Success)
	require.Equal(t, http.StatusAccepted, result.StatusCode)
	require.Empty(t, result.Error)
	require.Equal(t, "tgt_1", result.TargetID)
	require.Equal(t, srv.URL, result.TargetURL)

	require.Equal(t, `{"hello":"world"}`, string(body))
	require.Equal(t, "application/json", got.Get("Content-Type"))
	require.Equal(t, "TRFBWebhook-test", got.Get("User-Agent"))
	require.Equal(t, "Bearer abc", got.Get("Authorization"))
	require.Equal(t, "TRFBWebhook", got.Get("X-Forwarded-By"))
	require.Equal(t, "Facebook", got.Get("X-Original-Source"))

	require.Equal(t, float64(1), testutil.ToFloat64(m.ForwardsTotal.WithLabelValues(metrics.OutcomeSuccess)))
}

func TestForwardOne_TargetOverridesContentType(t *testing.T) {
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
	}))
	defer srv.Close()

	f, _ := newTestForwarder(testForwarderConfig())
	target := &models.Target{ID: "tgt_1", URL: srv.URL, Headers: map[string]string{"content-type": "application/vnd.custom+json"}}

	result := f.ForwardOne(context.Background(), target, []byte(`{}`))
	require.True(t, result.Success)
	require.Equal(t, "application/vnd.custom+json", contentType)
}

func TestForwardOne_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f, m := newTestForwarder(testForwarderConfig())
	result := f.ForwardOne(context.Background(), &models.Target{ID: "tgt_1", URL: srv.URL}, []byte(`{}`))

	require.False(t, result.Success)
	require.Equal(t, http.StatusInternalServerError, result.StatusCode)
	require.Equal(t, float64(1), testutil.ToFloat64(m.ForwardsTotal.WithLabelValues(metrics.OutcomeHTTP)))
}

func TestForwardOne_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	f, m := newTestForwarder(testForwarderConfig())

	start := time.Now()
	result := f.ForwardOne(context.Background(), &models.Target{ID: "tgt_slow", URL: srv.URL, TimeoutMS: 100}, []byte(`{}`))
	elapsed := time.Since(start)

	require.False(t, result.Success)
	require.Zero(t, result.StatusCode)
	require.Contains(t, result.Error, "timeout")
	require.Less(t, elapsed, time.Second)
	require.Equal(t, float64(1), testutil.ToFloat64(m.ForwardsTotal.WithLabelValues(metrics.OutcomeTimeout)))
}

func TestForwardOne_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	f, _ := newTestForwarder(testForwarderConfig())
	result := f.ForwardOne(context.Background(), &models.Target{ID: "tgt_gone", URL: url, TimeoutMS: 1000}, []byte(`{}`))

	require.False(t, result.Success)
	require.Zero(t, result.StatusCode)
	require.NotEmpty(t, result.Error)
}

func TestForwardMany_Concurrent(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer slow.Close()

	var fastHits int32
	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fastHits, 1)
	}))
	defer fast.Close()

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()

	f, _ := newTestForwarder(testForwarderConfig())
	list := []*models.Target{
		{ID: "slow", URL: slow.URL, TimeoutMS: 2000},
		{ID: "fast", URL: fast.URL, TimeoutMS: 2000},
		{ID: "failing", URL: failing.URL, TimeoutMS: 2000},
	}

	start := time.Now()
	results := f.ForwardMany(context.Background(), list, []byte(`{}`))
	elapsed := time.Since(start)

	require.Len(t, results, 3)
	for i, target := range list {
		require.Equal(t, target.ID, results[i].TargetID)
	}
	require.True(t, results[0].Success)
	require.True(t, results[1].Success)
	require.False(t, results[2].Success)
	require.Equal(t, http.StatusBadGateway, results[2].StatusCode)
	require.Equal(t, int32(1), atomic.LoadInt32(&fastHits))
	require.Less(t, elapsed, 550*time.Millisecond)
}

func TestForwardMany_Empty(t *testing.T) {
	f, _ := newTestForwarder(testForwarderConfig())
	require.Empty(t, f.ForwardMany(context.Background(), nil, []byte(`{}`)))
}

func TestForwardMany_InFlightCapDoesNotChargeTimeout(t *testing.T) {
	var current, peak int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&current, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(150 * time.Millisecond)
		atomic.AddInt32(&current, -1)
	}))
	defer srv.Close()

	cfg := testForwarderConfig()
	cfg.MaxInFlight = 1
	f, _ := newTestForwarder(cfg)

	list := []*models.Target{
		{ID: "a", URL: srv.URL, TimeoutMS: 250},
		{ID: "b", URL: srv.URL, TimeoutMS: 250},
		{ID: "c", URL: srv.URL, TimeoutMS: 250},
	}
	results := f.ForwardMany(context.Background(), list, []byte(`{}`))

	for _, r := range results {
		require.True(t, r.Success, "target %s: %s", r.TargetID, r.Error)
	}
	require.Equal(t, int32(1), atomic.LoadInt32(&peak))
}

func TestTimeoutFor(t *testing.T) {
	cfg := config.ForwarderConfig{DefaultTimeout: 30 * time.Second, MaxTimeout: 10 * time.Second}
	f, _ := newTestForwarder(cfg)

	require.Equal(t, 10*time.Second, f.timeoutFor(&models.Target{TimeoutMS: 0}))
	require.Equal(t, 10*time.Second, f.timeoutFor(&models.Target{TimeoutMS: 60000}))
	require.Equal(t, 1500*time.Millisecond, f.timeoutFor(&models.Target{TimeoutMS: 1500}))

	cfg.MaxTimeout = time.Minute
	f, _ = newTestForwarder(cfg)
	require.Equal(t, 30*time.Second, f.timeoutFor(&models.Target{TimeoutMS: -5}))
	require.Equal(t, time.Minute, f.timeoutFor(&models.Target{TimeoutMS: 9223372036855}))

	cfg.MaxTimeout = 0
	f, _ = newTestForwarder(cfg)
	require.Greater(t, f.timeoutFor(&models.Target{TimeoutMS: 9223372036855}), time.Duration(0))
}

func TestForwardOne_OversizedTimeoutIsCapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f, _ := newTestForwarder(testForwarderConfig())
	result := f.ForwardOne(context.Background(), &models.Target{ID: "big", URL: srv.URL, TimeoutMS: 9223372036855}, []byte(`{}`))

	require.True(t, result.Success, result.Error)
	require.Equal(t, http.StatusOK, result.StatusCode)
}

func TestForwardResultJSON(t *testing.T) {
	raw, err := json.Marshal(ForwardResult{TargetID: "t", TargetURL: "http://x", Error: "timeout after 100ms", DurationMS: 100})
	require.NoError(t, err)
	require.JSONEq(t, `{"target_id":"t","target_url":"http://x","success":false,"error":"timeout after 100ms","duration_ms":100}`, string(raw))
}
