package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tconn93/TRFBWebhook/internal/pkg/metrics"
	"github.com/tconn93/TRFBWebhook/internal/platform/models"
)

type fakeStore struct {
	mu        sync.Mutex
	active    []*models.Target
	err       error
	listCalls int32
}

func (s *fakeStore) ListActive(ctx context.Context, ownerID string) ([]*models.Target, error) {
	atomic.AddInt32(&s.listCalls, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.Target(nil), s.active...), s.err
}

func (s *fakeStore) List(ctx context.Context, ownerID string) ([]*models.Target, error) {
	return s.ListActive(ctx, ownerID)
}

func (s *fakeStore) Get(ctx context.Context, id, ownerID string) (*models.Target, error) {
	return nil, nil
}

func (s *fakeStore) Create(ctx context.Context, fields models.TargetFields, ownerID string) (*models.Target, error) {
	return nil, errors.New("not implemented")
}

func (s *fakeStore) Update(ctx context.Context, id string, fields models.TargetFields, ownerID string) (*models.Target, error) {
	return nil, nil
}

func (s *fakeStore) Delete(ctx context.Context, id, ownerID string) (bool, error) {
	return false, nil
}

type forwardCall struct {
	targets []*models.Target
	payload Envelope
}

type recordingFanout struct {
	mu    sync.Mutex
	calls []forwardCall
	delay time.Duration
}

func (f *recordingFanout) ForwardMany(ctx context.Context, list []*models.Target, payload []byte) []ForwardResult {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	var env Envelope
	_ = json.Unmarshal(payload, &env)

	f.mu.Lock()
	f.calls = append(f.calls, forwardCall{targets: list, payload: env})
	f.mu.Unlock()

	results := make([]ForwardResult, len(list))
	for i, t := range list {
		results[i] = ForwardResult{TargetID: t.ID, Success: true}
	}
	return results
}

func newTestIntake(store *fakeStore, fanout *recordingFanout) (*Intake, *metrics.Metrics) {
	m := metrics.New(prometheus.NewRegistry())
	in := NewIntake(store, fanout, []string{"page"}, m, zerolog.Nop())
	in.now = func() time.Time { return time.Date(2024, 5, 1, 12, 30, 0, 123456789, time.FixedZone("X", 3600)) }
	return in, m
}

func TestHandshake(t *testing.T) {
	tests := []struct {
		name      string
		mode      string
		token     string
		expected  string
		wantOK    bool
		wantReply string
	}{
		{"match", "subscribe", "tok", "tok", true, "challenge-123"},
		{"wrong token", "subscribe", "nope", "tok", false, ""},
		{"wrong mode", "unsubscribe", "tok", "tok", false, ""},
		{"no expected token", "subscribe", "", "", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < 2; i++ {
				reply, ok := Handshake(tt.mode, tt.token, "challenge-123", tt.expected)
				require.Equal(t, tt.wantOK, ok)
				require.Equal(t, tt.wantReply, reply)
			}
		})
	}
}

func TestProcess_MessagingAndChanges(t *testing.T) {
	store := &fakeStore{active: []*models.Target{{ID: "a"}, {ID: "b"}}}
	fanout := &recordingFanout{}
	in, m := newTestIntake(store, fanout)

	body := []byte(`{"object":"page","entry":[
		{"id":"1","messaging":[{"mid":"m1"},{"mid":"m2"}]},
		{"id":"2","changes":[{"field":"feed"}]},
		{"id":"3","messaging":[],"changes":[{"field":"ratings"}]}
	]}`)

	require.NoError(t, in.Process(context.Background(), body))
	require.Equal(t, int32(1), atomic.LoadInt32(&store.listCalls))
	require.Len(t, fanout.calls, 3)

	events := map[string]string{}
	for _, call := range fanout.calls {
		require.Len(t, call.targets, 2)
		require.Equal(t, "page", call.payload.Object)
		require.Equal(t, "2024-05-01T11:30:00.123Z", call.payload.Timestamp)

		var entry struct {
			ID string `json:"id"`
		}
		require.NoError(t, json.Unmarshal(call.payload.Entry, &entry))
		events[entry.ID] = string(call.payload.Event)
	}
	require.JSONEq(t, `{"mid":"m1"}`, events["1"])
	require.JSONEq(t, `{"field":"feed"}`, events["2"])
	require.JSONEq(t, `{"field":"ratings"}`, events["3"])

	require.Equal(t, float64(3), testutil.ToFloat64(m.EntriesForwarded))
	require.Equal(t, float64(1), testutil.ToFloat64(m.WebhooksReceived.WithLabelValues(metrics.ResultAccepted)))
}

func TestProcess_SkipsUnusableEntries(t *testing.T) {
	store := &fakeStore{active: []*models.Target{{ID: "a"}}}
	fanout := &recordingFanout{}
	in, _ := newTestIntake(store, fanout)

	body := []byte(`{"object":"page","entry":[
		{"id":"1"},
		"not an object",
		null,
		{"id":"4","messaging":"oops"},
		{"id":"5","changes":[{"field":"feed"}]}
	]}`)

	require.NoError(t, in.Process(context.Background(), body))
	require.Len(t, fanout.calls, 1)
	require.JSONEq(t, `{"field":"feed"}`, string(fanout.calls[0].payload.Event))
}

func TestProcess_UnknownObject(t *testing.T) {
	store := &fakeStore{active: []*models.Target{{ID: "a"}}}
	fanout := &recordingFanout{}
	in, m := newTestIntake(store, fanout)

	err := in.Process(context.Background(), []byte(`{"object":"instagram","entry":[{"messaging":[{}]}]}`))
	require.ErrorIs(t, err, ErrUnsupportedObject)
	require.Empty(t, fanout.calls)
	require.Zero(t, atomic.LoadInt32(&store.listCalls))
	require.Equal(t, float64(1), testutil.ToFloat64(m.WebhooksReceived.WithLabelValues(metrics.ResultIgnored)))
}

func TestProcess_MalformedBody(t *testing.T) {
	fanout := &recordingFanout{}
	in, m := newTestIntake(&fakeStore{}, fanout)

	err := in.Process(context.Background(), []byte(`{"object":`))
	require.ErrorIs(t, err, ErrMalformedBody)
	require.Empty(t, fanout.calls)
	require.Equal(t, float64(1), testutil.ToFloat64(m.WebhooksReceived.WithLabelValues(metrics.ResultMalformed)))
}

func TestProcess_NoTargets(t *testing.T) {
	fanout := &recordingFanout{}
	in, _ := newTestIntake(&fakeStore{}, fanout)

	require.NoError(t, in.Process(context.Background(), []byte(`{"object":"page","entry":[{"messaging":[{}]}]}`)))
	require.Empty(t, fanout.calls)
}

func TestProcess_StoreError(t *testing.T) {
	fanout := &recordingFanout{}
	in, _ := newTestIntake(&fakeStore{err: errors.New("db down")}, fanout)

	err := in.Process(context.Background(), []byte(`{"object":"page","entry":[{"messaging":[{}]}]}`))
	require.Error(t, err)
	require.Empty(t, fanout.calls)
}

func TestDispatchAndWait(t *testing.T) {
	store := &fakeStore{active: []*models.Target{{ID: "a"}}}
	fanout := &recordingFanout{delay: 50 * time.Millisecond}
	in, _ := newTestIntake(store, fanout)

	in.Dispatch([]byte(`{"object":"page","entry":[{"messaging":[{"mid":"1"}]}]}`))
	in.Dispatch([]byte(`{"object":"page","entry":[{"messaging":[{"mid":"2"}]}]}`))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, in.Wait(ctx))

	fanout.mu.Lock()
	defer fanout.mu.Unlock()
	require.Len(t, fanout.calls, 2)
}

func TestShutdownDropsLateDeliveries(t *testing.T) {
	store := &fakeStore{active: []*models.Target{{ID: "a"}}}
	fanout := &recordingFanout{delay: 50 * time.Millisecond}
	in, _ := newTestIntake(store, fanout)

	in.Dispatch([]byte(`{"object":"page","entry":[{"messaging":[{"mid":"1"}]}]}`))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, in.Shutdown(ctx))

	in.Dispatch([]byte(`{"object":"page","entry":[{"messaging":[{"mid":"2"}]}]}`))
	require.NoError(t, in.Wait(ctx))

	fanout.mu.Lock()
	defer fanout.mu.Unlock()
	require.Len(t, fanout.calls, 1)
}

func TestShutdownConcurrentWithDispatch(t *testing.T) {
	store := &fakeStore{active: []*models.Target{{ID: "a"}}}
	in, _ := newTestIntake(store, &recordingFanout{})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			in.Dispatch([]byte(`{"object":"page","entry":[{"messaging":[{}]}]}`))
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, in.Shutdown(ctx))
	wg.Wait()
	require.NoError(t, in.Wait(ctx))
}
