package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aubravo/earthgazer/catalog"
	"github.com/aubravo/earthgazer/queue"
	"github.com/aubravo/earthgazer/units"
)

// Engine publishes workflow nodes onto the lane topics and advances a
// workflow when the runner reports a task's terminal outcome. Chains ride in
// the envelope's continuation; groups coordinate through barrier counters in
// shared state, so no component ever holds a whole workflow in memory.
type Engine struct {
	producer queue.Producer
	state    State
	jobs     catalog.JobRepository
	registry *units.Registry
	logger   *zap.Logger
}

func NewEngine(producer queue.Producer, state State, jobs catalog.JobRepository, registry *units.Registry, logger *zap.Logger) *Engine {
	return &Engine{producer: producer, state: state, jobs: jobs, registry: registry, logger: logger}
}

// Submit publishes the root of a graph for a job.
func (e *Engine) Submit(ctx context.Context, jobID, traceID string, root *Node) error {
	return e.submitNode(ctx, jobID, traceID, root, nil, nil)
}

func (e *Engine) submitNode(ctx context.Context, jobID, traceID string, n *Node, next json.RawMessage, joins []queue.Join) error {
	switch {
	case n.Task != nil:
		unit, err := e.registry.Get(n.Task.Unit)
		if err != nil {
			return err
		}
		env := &queue.Envelope{
			TaskID:    n.Task.TaskID,
			TraceID:   traceID,
			JobID:     jobID,
			Unit:      n.Task.Unit,
			CaptureID: n.Task.CaptureID,
			Payload:   n.Task.Payload,
			Next:      next,
			Joins:     joins,
		}
		if err := e.producer.Publish(ctx, string(unit.Lane()), env); err != nil {
			return fmt.Errorf("publish %s task %s: %w", n.Task.Unit, n.Task.TaskID, err)
		}
		e.logger.Debug("task published",
			zap.String("job_id", jobID),
			zap.String("task_id", n.Task.TaskID),
			zap.String("unit", n.Task.Unit),
			zap.String("lane", string(unit.Lane())))
		return nil

	case n.Chain != nil:
		if len(n.Chain) == 0 {
			return e.continueAfter(ctx, jobID, traceID, next, joins)
		}
		// Fold the chain tail and the outer continuation into the head's
		// continuation, so a single follow-up submission carries both.
		rest := append([]*Node{}, n.Chain[1:]...)
		tail, err := decodeNode(next)
		if err != nil {
			return err
		}
		if tail != nil {
			rest = append(rest, tail)
		}
		var headNext json.RawMessage
		if len(rest) > 0 {
			if headNext, err = encodeNode(Chain(rest...)); err != nil {
				return err
			}
		}
		return e.submitNode(ctx, jobID, traceID, n.Chain[0], headNext, joins)

	case n.Group != nil:
		then, err := e.groupContinuation(n.Group, next)
		if err != nil {
			return err
		}
		if len(n.Group.Branches) == 0 {
			return e.continueAfter(ctx, jobID, traceID, then, joins)
		}
		join := queue.Join{BarrierID: uuid.New().String(), Total: len(n.Group.Branches), Then: then}
		branchJoins := append([]queue.Join{join}, joins...)
		for _, branch := range n.Group.Branches {
			if err := e.submitNode(ctx, jobID, traceID, branch, nil, branchJoins); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("empty workflow node in job %s", jobID)
}

// groupContinuation folds the group's callback and the outer continuation
// into the node the completed barrier will submit.
func (e *Engine) groupContinuation(g *GroupNode, next json.RawMessage) (json.RawMessage, error) {
	tail, err := decodeNode(next)
	if err != nil {
		return nil, err
	}
	switch {
	case g.Callback != nil && tail != nil:
		return encodeNode(Chain(g.Callback, tail))
	case g.Callback != nil:
		return encodeNode(g.Callback)
	default:
		return next, nil
	}
}

// continueAfter handles degenerate nodes with no tasks of their own: the
// continuation is submitted directly, or the joins are signaled when there is
// nothing left to run.
func (e *Engine) continueAfter(ctx context.Context, jobID, traceID string, next json.RawMessage, joins []queue.Join) error {
	tail, err := decodeNode(next)
	if err != nil {
		return err
	}
	if tail != nil {
		return e.submitNode(ctx, jobID, traceID, tail, nil, joins)
	}
	return e.signalJoins(ctx, jobID, traceID, joins)
}

// Advance moves the workflow past a task that reached a terminal state. On
// success the continuation is submitted; on failure or revocation it is
// dropped and its tasks are accounted as failed. Either way the task's
// barriers are signaled: a join counts completion, not success.
func (e *Engine) Advance(ctx context.Context, env *queue.Envelope, status catalog.TaskStatus, result []byte) error {
	if len(result) > 0 {
		if err := e.state.SetResult(ctx, env.TaskID, result); err != nil {
			e.logger.Warn("store task result", zap.String("task_id", env.TaskID), zap.Error(err))
		}
	}

	if status == catalog.StatusSuccess {
		if err := e.recordProgress(ctx, env.JobID, 1, 0); err != nil {
			return err
		}
		tail, err := decodeNode(env.Next)
		if err != nil {
			return err
		}
		if tail != nil {
			return e.submitNode(ctx, env.JobID, env.TraceID, tail, nil, env.Joins)
		}
		return e.signalJoins(ctx, env.JobID, env.TraceID, env.Joins)
	}

	// Terminal failure: everything downstream of this task will never run.
	tail, err := decodeNode(env.Next)
	if err != nil {
		return err
	}
	if err := e.recordProgress(ctx, env.JobID, 0, 1+CountTasks(tail)); err != nil {
		return err
	}
	return e.signalJoins(ctx, env.JobID, env.TraceID, env.Joins)
}

// signalJoins bumps the innermost barrier. A full barrier either submits its
// continuation, which inherits the remaining outer barriers, or, with no
// continuation, propagates completion to the next barrier out.
func (e *Engine) signalJoins(ctx context.Context, jobID, traceID string, joins []queue.Join) error {
	for i, j := range joins {
		n, err := e.state.BumpBarrier(ctx, j.BarrierID)
		if err != nil {
			return fmt.Errorf("bump barrier %s: %w", j.BarrierID, err)
		}
		if n < j.Total {
			return nil
		}
		then, err := decodeNode(j.Then)
		if err != nil {
			return err
		}
		if then != nil {
			return e.submitNode(ctx, jobID, traceID, then, nil, joins[i+1:])
		}
	}
	return nil
}

func (e *Engine) recordProgress(ctx context.Context, jobID string, completed, failed int) error {
	job, err := e.jobs.AddJobProgress(ctx, jobID, completed, failed)
	if err != nil {
		return fmt.Errorf("record progress for job %s: %w", jobID, err)
	}
	if job.CompletedTasks+job.FailedTasks < job.TotalTasks {
		return nil
	}
	held, err := e.state.IsHeld(ctx, jobID)
	if err != nil {
		return fmt.Errorf("check hold on job %s: %w", jobID, err)
	}
	if held {
		// A staged job with all current tasks settled stays in PROCESSING
		// until its orchestration lifts the hold.
		return nil
	}
	return e.finalize(ctx, job)
}

// FinalizeIfDone applies the terminal status to a job whose tasks have all
// settled. Staged orchestrations call this after releasing their hold, in
// case the last task finished while the hold was still up.
func (e *Engine) FinalizeIfDone(ctx context.Context, jobID string) error {
	job, err := e.jobs.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != catalog.JobQueued && job.Status != catalog.JobProcessing {
		return nil
	}
	if job.CompletedTasks+job.FailedTasks < job.TotalTasks {
		return nil
	}
	return e.finalize(ctx, job)
}

func (e *Engine) finalize(ctx context.Context, job *catalog.ProcessingJob) error {
	status := catalog.JobPartial
	switch {
	case job.FailedTasks == 0:
		status = catalog.JobCompleted
	case job.CompletedTasks == 0:
		status = catalog.JobFailed
	}
	if err := e.jobs.UpdateJobStatus(ctx, job.ID, status); err != nil {
		return fmt.Errorf("finalize job %s: %w", job.ID, err)
	}
	e.logger.Info("job finished",
		zap.String("job_id", job.ID),
		zap.String("status", string(status)),
		zap.Int("completed", job.CompletedTasks),
		zap.Int("failed", job.FailedTasks))
	return nil
}

// Cancel flags a job so workers refuse its remaining tasks.
func (e *Engine) Cancel(ctx context.Context, jobID string) error {
	if _, err := e.jobs.GetJob(ctx, jobID); err != nil {
		return err
	}
	return e.state.Revoke(ctx, jobID)
}

// IsRevoked is the worker-side check before executing a task.
func (e *Engine) IsRevoked(ctx context.Context, jobID string) (bool, error) {
	return e.state.IsRevoked(ctx, jobID)
}
