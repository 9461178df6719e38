package webhooks

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tconn93/TRFBWebhook/internal/engine/targets"
	"github.com/tconn93/TRFBWebhook/internal/pkg/metrics"
	"github.com/tconn93/TRFBWebhook/internal/platform/models"
)

var (
	ErrMalformedBody     = errors.New("malformed webhook body")
	ErrUnsupportedObject = errors.New("unsupported webhook object")
)

const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Handshake answers the provider's subscription check. It returns the
// challenge and true only when mode is "subscribe" and token equals a
// non-empty expected token.
func Handshake(mode, token, challenge, expected string) (string, bool) {
	if mode != "subscribe" || expected == "" {
		return "", false
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		return "", false
	}
	return challenge, true
}

// Envelope is the payload forwarded to targets for a single batch entry.
type Envelope struct {
	Object    string          `json:"object"`
	Entry     json.RawMessage `json:"entry"`
	Event     json.RawMessage `json:"event"`
	Timestamp string          `json:"timestamp"`
}

type batch struct {
	Object string            `json:"object"`
	Entry  []json.RawMessage `json:"entry"`
}

// Fanout delivers a payload to a set of targets.
type Fanout interface {
	ForwardMany(ctx context.Context, targets []*models.Target, payload []byte) []ForwardResult
}

// Intake turns verified webhook bodies into forwarded envelopes. Dispatch
// work runs on the Intake's own context so it outlives the request that
// delivered it.
type Intake struct {
	store   targets.Store
	fanout  Fanout
	objects map[string]struct{}
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewIntake(store targets.Store, fanout Fanout, objects []string, m *metrics.Metrics, logger zerolog.Logger) *Intake {
	allowed := make(map[string]struct{}, len(objects))
	for _, o := range objects {
		allowed[o] = struct{}{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Intake{
		store:   store,
		fanout:  fanout,
		objects: allowed,
		metrics: m,
		logger:  logger,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Dispatch processes body in the background and returns immediately.
// Bodies arriving after Shutdown are dropped.
func (in *Intake) Dispatch(body []byte) {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		in.logger.Warn().Int("bytes", len(body)).Msg("webhook dropped: intake shut down")
		return
	}
	in.wg.Add(1)
	in.mu.Unlock()

	go func() {
		defer in.wg.Done()
		if err := in.Process(in.ctx, body); err != nil {
			in.logger.Warn().Err(err).Int("bytes", len(body)).Msg("webhook dropped")
		}
	}()
}

// Process parses a batch, snapshots the active targets once, and forwards
// one envelope per usable entry. Entries are handled concurrently.
func (in *Intake) Process(ctx context.Context, body []byte) error {
	var b batch
	if err := json.Unmarshal(body, &b); err != nil {
		in.metrics.RecordWebhook(metrics.ResultMalformed)
		return fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}

	if _, ok := in.objects[b.Object]; !ok {
		in.metrics.RecordWebhook(metrics.ResultIgnored)
		return fmt.Errorf("%w: %q", ErrUnsupportedObject, b.Object)
	}
	in.metrics.RecordWebhook(metrics.ResultAccepted)

	list, err := in.store.ListActive(ctx, "")
	if err != nil {
		return fmt.Errorf("load active targets: %w", err)
	}
	if len(list) == 0 {
		in.logger.Debug().Int("entries", len(b.Entry)).Msg("no active targets, nothing to forward")
		return nil
	}

	var g errgroup.Group
	for i, entry := range b.Entry {
		g.Go(func() error {
			in.forwardEntry(ctx, b.Object, i, entry, list)
			return nil
		})
	}
	_ = g.Wait()

	return nil
}

func (in *Intake) forwardEntry(ctx context.Context, object string, index int, entry json.RawMessage, list []*models.Target) {
	event, ok := firstEvent(entry)
	if !ok {
		in.logger.Warn().Int("entry", index).Msg("entry has no messaging or changes event, skipped")
		return
	}

	payload, err := json.Marshal(Envelope{
		Object:    object,
		Entry:     entry,
		Event:     event,
		Timestamp: in.now().UTC().Format(TimestampLayout),
	})
	if err != nil {
		in.logger.Error().Err(err).Int("entry", index).Msg("failed to encode envelope")
		return
	}
	in.metrics.RecordEntry()

	results := in.fanout.ForwardMany(ctx, list, payload)

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	in.logger.Info().
		Int("entry", index).
		Int("targets", len(results)).
		Int("succeeded", succeeded).
		Int("failed", len(results)-succeeded).
		Msg("entry forwarded")
}

// firstEvent returns the first element of the entry's messaging array, or
// of its changes array when messaging is absent or empty.
func firstEvent(entry json.RawMessage) (json.RawMessage, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(entry, &fields); err != nil || fields == nil {
		return nil, false
	}

	for _, key := range []string{"messaging", "changes"} {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var events []json.RawMessage
		if err := json.Unmarshal(raw, &events); err != nil || len(events) == 0 {
			continue
		}
		return events[0], true
	}
	return nil, false
}

// Shutdown stops accepting new bodies and waits for the dispatched ones
// like Wait.
func (in *Intake) Shutdown(ctx context.Context) error {
	in.mu.Lock()
	in.closed = true
	in.mu.Unlock()

	return in.Wait(ctx)
}

// Wait blocks until every dispatched body has been processed or ctx is
// done. When ctx ends first, in-flight forwards are cancelled. Wait does not
// stop Dispatch; use Shutdown when callers may still be delivering.
func (in *Intake) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		in.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		in.cancel()
		<-done
		return ctx.Err()
	}
}
