package webhooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/tconn93/TRFBWebhook/internal/pkg/metrics"
	"github.com/tconn93/TRFBWebhook/internal/platform/config"
	"github.com/tconn93/TRFBWebhook/internal/platform/models"
)

// maxDrain bounds how much of a target's response body is read before the
// connection is released.
const maxDrain = 64 << 10

// ForwardResult describes one attempt to deliver a payload to a target.
type ForwardResult struct {
	TargetID   string `json:"target_id"`
	TargetURL  string `json:"target_url"`
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

// Forwarder POSTs payloads to targets. It never retries.
type Forwarder struct {
	client  *http.Client
	cfg     config.ForwarderConfig
	slots   *semaphore.Weighted
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewForwarder(cfg config.ForwarderConfig, m *metrics.Metrics, logger zerolog.Logger) *Forwarder {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 16

	f := &Forwarder{
		client:  &http.Client{Transport: transport},
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
	if cfg.MaxInFlight > 0 {
		f.slots = semaphore.NewWeighted(int64(cfg.MaxInFlight))
	}
	return f
}

// ForwardOne delivers payload to target and reports the outcome. Any HTTP
// response completes the attempt; only 2xx counts as success.
func (f *Forwarder) ForwardOne(ctx context.Context, target *models.Target, payload []byte) ForwardResult {
	result := ForwardResult{TargetID: target.ID, TargetURL: target.URL}

	if f.slots != nil {
		if err := f.slots.Acquire(ctx, 1); err != nil {
			result.Error = fmt.Sprintf("forwarding cancelled: %v", err)
			f.record(result, metrics.OutcomeError)
			return result
		}
		defer f.slots.Release(1)
	}
	defer f.metrics.TrackInFlight()()

	timeout := f.timeoutFor(target)
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	outcome := f.send(reqCtx, target, payload, timeout, &result)
	result.DurationMS = time.Since(start).Milliseconds()

	f.record(result, outcome)
	return result
}

func (f *Forwarder) send(ctx context.Context, target *models.Target, payload []byte, timeout time.Duration, result *ForwardResult) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(payload))
	if err != nil {
		result.Error = fmt.Sprintf("create request: %v", err)
		return metrics.OutcomeError
	}
	req.Header = mergeHeaders(f.cfg.UserAgent, target.Headers, f.logger)

	resp, err := f.client.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			result.Error = fmt.Sprintf("timeout after %dms", timeout.Milliseconds())
			return metrics.OutcomeTimeout
		}
		result.Error = err.Error()
		return metrics.OutcomeError
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))

	result.StatusCode = resp.StatusCode
	result.Success = resp.StatusCode >= 200 && resp.StatusCode < 300
	if !result.Success {
		return metrics.OutcomeHTTP
	}
	return metrics.OutcomeSuccess
}

// ForwardMany delivers payload to every target concurrently and returns
// once all attempts have settled. results[i] belongs to targets[i].
func (f *Forwarder) ForwardMany(ctx context.Context, targets []*models.Target, payload []byte) []ForwardResult {
	results := make([]ForwardResult, len(targets))

	var g errgroup.Group
	for i, target := range targets {
		g.Go(func() error {
			results[i] = f.ForwardOne(ctx, target, payload)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// maxTimeoutMS is the largest millisecond count a time.Duration can hold.
const maxTimeoutMS = math.MaxInt64 / int64(time.Millisecond)

// timeoutFor clamps in milliseconds so oversized values cannot wrap.
func (f *Forwarder) timeoutFor(target *models.Target) time.Duration {
	if target.TimeoutMS <= 0 {
		if f.cfg.MaxTimeout > 0 && f.cfg.DefaultTimeout > f.cfg.MaxTimeout {
			return f.cfg.MaxTimeout
		}
		return f.cfg.DefaultTimeout
	}

	ms := int64(target.TimeoutMS)
	if f.cfg.MaxTimeout > 0 && ms > f.cfg.MaxTimeout.Milliseconds() {
		return f.cfg.MaxTimeout
	}
	if ms > maxTimeoutMS {
		ms = maxTimeoutMS
	}
	return time.Duration(ms) * time.Millisecond
}

func (f *Forwarder) record(result ForwardResult, outcome string) {
	f.metrics.RecordForward(outcome, time.Duration(result.DurationMS)*time.Millisecond)

	var event *zerolog.Event
	if result.Success {
		event = f.logger.Info()
	} else {
		event = f.logger.Warn()
	}
	event.
		Str("target_id", result.TargetID).
		Str("target_url", result.TargetURL).
		Int("status", result.StatusCode).
		Int64("duration_ms", result.DurationMS).
		Str("outcome", outcome).
		Str("error", result.Error).
		Msg("forward completed")
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
