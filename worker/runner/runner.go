// Package runner executes queued unit envelopes: revocation check, tracked
// execution with bounded retries, then handing the terminal outcome to the
// workflow engine so the graph moves on.
package runner

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/aubravo/earthgazer/catalog"
	"github.com/aubravo/earthgazer/queue"
	"github.com/aubravo/earthgazer/tracker"
	"github.com/aubravo/earthgazer/units"
	"github.com/aubravo/earthgazer/workflow"
)

type Runner struct {
	registry *units.Registry
	tracker  *tracker.Tracker
	engine   *workflow.Engine
	logger   *zap.Logger
}

func New(registry *units.Registry, tr *tracker.Tracker, engine *workflow.Engine, logger *zap.Logger) *Runner {
	return &Runner{registry: registry, tracker: tr, engine: engine, logger: logger}
}

// Handle drives one envelope to a terminal outcome. It only returns an error
// when the envelope was not handled at all (shutdown mid-flight) and must be
// redelivered; unit failures are a handled outcome, not an error.
func (r *Runner) Handle(ctx context.Context, env *queue.Envelope) error {
	log := r.logger.With(
		zap.String("task_id", env.TaskID),
		zap.String("trace_id", env.TraceID),
		zap.String("job_id", env.JobID),
		zap.String("unit", env.Unit))

	revoked, err := r.engine.IsRevoked(ctx, env.JobID)
	if err != nil {
		log.Warn("revocation check failed, running task anyway", zap.Error(err))
	}
	if revoked {
		log.Info("task revoked")
		r.tracker.Revoked(ctx, env.TaskID)
		return r.engine.Advance(ctx, env, catalog.StatusRevoked, nil)
	}

	unit, err := r.registry.Get(env.Unit)
	if err != nil {
		log.Error("envelope names an unknown unit", zap.Error(err))
		r.tracker.Started(ctx, env.TaskID, env.Unit, env.CaptureID)
		r.tracker.Failed(ctx, env.TaskID, err, 0)
		return r.engine.Advance(ctx, env, catalog.StatusFailure, nil)
	}

	policy := unit.RetryPolicy()
	start := time.Now()
	attempt := env.Attempt

	for {
		r.tracker.Started(ctx, env.TaskID, unit.Name(), env.CaptureID)
		result, execErr := unit.Execute(ctx, env.Payload)
		if execErr == nil {
			duration := time.Since(start)
			data, err := json.Marshal(result)
			if err != nil {
				log.Warn("result not serializable", zap.Error(err))
				data = nil
			}
			r.tracker.Succeeded(ctx, env.TaskID, result, duration)
			log.Info("task succeeded",
				zap.Duration("duration", duration), zap.Int("attempt", attempt))
			return r.engine.Advance(ctx, env, catalog.StatusSuccess, data)
		}

		if ctx.Err() != nil {
			// Shutdown, not a verdict on the task. Leave it for redelivery.
			return ctx.Err()
		}
		if units.IsFatal(execErr) || attempt >= policy.MaxRetries {
			duration := time.Since(start)
			r.tracker.Failed(ctx, env.TaskID, execErr, duration)
			log.Error("task failed",
				zap.Error(execErr),
				zap.Int("attempt", attempt),
				zap.Bool("fatal", units.IsFatal(execErr)))
			return r.engine.Advance(ctx, env, catalog.StatusFailure, nil)
		}

		attempt++
		r.tracker.Retrying(ctx, env.TaskID, execErr)
		delay := backoffDelay(policy, attempt)
		log.Warn("task retrying",
			zap.Error(execErr), zap.Int("attempt", attempt), zap.Duration("backoff", delay))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// backoffDelay is the exponential backoff for a retry attempt, with full
// jitter when the policy asks for it.
func backoffDelay(p units.RetryPolicy, attempt int) time.Duration {
	d := p.Backoff(attempt)
	if p.Jitter && d > 0 {
		d = time.Duration(rand.Int63n(int64(d))) + 1
	}
	return d
}
