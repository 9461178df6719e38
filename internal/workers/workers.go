// Package workers runs periodic maintenance for the relay's stored data.
package workers

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tconn93/TRFBWebhook/internal/platform/audit"
	"github.com/tconn93/TRFBWebhook/internal/platform/config"
	"github.com/tconn93/TRFBWebhook/internal/platform/repositories"
)

// Task is a unit of maintenance run every Interval.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) (int64, error)
}

// Tasks returns the maintenance tasks enabled by cfg.
func Tasks(cfg config.WorkersConfig, auditLogger *audit.Logger, users *repositories.UserRepository) []Task {
	var tasks []Task
	if cfg.AuditRetention > 0 && cfg.AuditPruneInterval > 0 {
		tasks = append(tasks, Task{
			Name:     "prune_audit_logs",
			Interval: cfg.AuditPruneInterval,
			Run:      PruneAuditLogs(auditLogger, cfg.AuditRetention),
		})
	}
	if cfg.TokenSweepInterval > 0 {
		tasks = append(tasks, Task{
			Name:     "expire_facebook_tokens",
			Interval: cfg.TokenSweepInterval,
			Run:      ExpireFacebookTokens(users),
		})
	}
	return tasks
}

// PruneAuditLogs removes audit entries older than retention.
func PruneAuditLogs(auditLogger *audit.Logger, retention time.Duration) func(ctx context.Context) (int64, error) {
	return func(ctx context.Context) (int64, error) {
		return auditLogger.Prune(ctx, time.Now().Add(-retention).Unix())
	}
}

// ExpireFacebookTokens drops stored Facebook access tokens past their expiry.
func ExpireFacebookTokens(users *repositories.UserRepository) func(ctx context.Context) (int64, error) {
	return func(ctx context.Context) (int64, error) {
		return users.ExpireFacebookTokens(ctx, time.Now().Unix())
	}
}

// Run executes each task once immediately and then on its interval until ctx
// is done. It returns after every task loop has stopped.
func Run(ctx context.Context, logger zerolog.Logger, tasks ...Task) {
	var wg sync.WaitGroup
	for _, task := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loop(ctx, logger, task)
		}()
	}
	wg.Wait()
}

func loop(ctx context.Context, logger zerolog.Logger, task Task) {
	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	logger.Info().Str("task", task.Name).Dur("interval", task.Interval).Msg("worker started")
	for {
		runOnce(ctx, logger, task)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func runOnce(ctx context.Context, logger zerolog.Logger, task Task) {
	start := time.Now()
	n, err := task.Run(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.Error().Err(err).Str("task", task.Name).Msg("worker task failed")
		}
		return
	}
	logger.Debug().
		Str("task", task.Name).
		Int64("affected", n).
		Dur("duration", time.Since(start)).
		Msg("worker task finished")
}
