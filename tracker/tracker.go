// Package tracker records unit-of-work lifecycle transitions. Every
// transition is written to the catalog's execution history and mirrored into
// the status cache; tracking failures are logged and swallowed so that
// bookkeeping never fails a task that did its work.
package tracker

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/aubravo/earthgazer/catalog"
)

type Tracker struct {
	repo     catalog.ExecutionRepository
	cache    *StatusCache
	logger   *zap.Logger
	workerID string
}

// New builds a tracker. cache may be nil, in which case only the catalog is
// written.
func New(repo catalog.ExecutionRepository, cache *StatusCache, workerID string, logger *zap.Logger) *Tracker {
	return &Tracker{repo: repo, cache: cache, workerID: workerID, logger: logger}
}

func (t *Tracker) Started(ctx context.Context, taskID, taskName string, captureID *int64) {
	if err := t.repo.RecordTaskStarted(ctx, taskID, taskName, captureID, t.workerID, time.Now().UTC()); err != nil {
		t.warn(taskID, "record task start", err)
	}
	t.cacheStatus(ctx, taskID, catalog.StatusStarted)
}

func (t *Tracker) Succeeded(ctx context.Context, taskID string, result any, duration time.Duration) {
	text := ""
	if result != nil {
		if data, err := json.Marshal(result); err == nil {
			text = catalog.Truncate(string(data), catalog.MaxResultLen)
		}
	}
	if err := t.repo.RecordTaskOutcome(ctx, taskID, catalog.StatusSuccess, text, "", duration, time.Now().UTC()); err != nil {
		t.warn(taskID, "record task success", err)
	}
	t.cacheStatus(ctx, taskID, catalog.StatusSuccess)
}

func (t *Tracker) Failed(ctx context.Context, taskID string, taskErr error, duration time.Duration) {
	text := catalog.Truncate(taskErr.Error(), catalog.MaxErrorLen)
	if err := t.repo.RecordTaskOutcome(ctx, taskID, catalog.StatusFailure, "", text, duration, time.Now().UTC()); err != nil {
		t.warn(taskID, "record task failure", err)
	}
	t.cacheStatus(ctx, taskID, catalog.StatusFailure)
}

func (t *Tracker) Retrying(ctx context.Context, taskID string, reason error) {
	if err := t.repo.RecordTaskRetry(ctx, taskID, catalog.Truncate(reason.Error(), catalog.MaxErrorLen)); err != nil {
		t.warn(taskID, "record task retry", err)
	}
	t.cacheStatus(ctx, taskID, catalog.StatusRetry)
}

func (t *Tracker) Revoked(ctx context.Context, taskID string) {
	if err := t.repo.RecordTaskOutcome(ctx, taskID, catalog.StatusRevoked, "", "revoked before execution", 0, time.Now().UTC()); err != nil {
		t.warn(taskID, "record task revocation", err)
	}
	t.cacheStatus(ctx, taskID, catalog.StatusRevoked)
}

func (t *Tracker) cacheStatus(ctx context.Context, taskID string, status catalog.TaskStatus) {
	if t.cache == nil {
		return
	}
	if err := t.cache.Set(ctx, taskID, status); err != nil {
		t.warn(taskID, "cache task status", err)
	}
}

func (t *Tracker) warn(taskID, what string, err error) {
	t.logger.Warn("tracking write failed",
		zap.String("task_id", taskID), zap.String("op", what), zap.Error(err))
}
