package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordForward(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordForward(OutcomeSuccess, 120*time.Millisecond)
	m.RecordForward(OutcomeSuccess, 80*time.Millisecond)
	m.RecordForward(OutcomeTimeout, time.Second)

	if got := testutil.ToFloat64(m.ForwardsTotal.WithLabelValues(OutcomeSuccess)); got != 2 {
		t.Errorf("success forwards = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ForwardsTotal.WithLabelValues(OutcomeTimeout)); got != 1 {
		t.Errorf("timeout forwards = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.ForwardDuration); got != 1 {
		t.Errorf("duration series = %d, want 1", got)
	}
}

func TestRecordWebhookAndInFlight(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordWebhook(ResultAccepted)
	m.RecordWebhook(ResultRejected)
	m.RecordWebhook(ResultRejected)

	if got := testutil.ToFloat64(m.WebhooksReceived.WithLabelValues(ResultRejected)); got != 2 {
		t.Errorf("rejected webhooks = %v, want 2", got)
	}

	done := m.TrackInFlight()
	if got := testutil.ToFloat64(m.InFlight); got != 1 {
		t.Errorf("in flight = %v, want 1", got)
	}
	done()
	if got := testutil.ToFloat64(m.InFlight); got != 0 {
		t.Errorf("in flight after done = %v, want 0", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics

	m.RecordWebhook(ResultAccepted)
	m.RecordEntry()
	m.RecordForward(OutcomeError, time.Millisecond)
	m.TrackInFlight()()
}

func TestHandler(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.RecordEntry()

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "trfbwebhook_entries_forwarded_total 1") {
		t.Errorf("exposition missing entries counter:\n%s", rr.Body.String())
	}
}
