package runner

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/aubravo/earthgazer/catalog"
	"github.com/aubravo/earthgazer/queue"
	"github.com/aubravo/earthgazer/tracker"
	"github.com/aubravo/earthgazer/units"
	"github.com/aubravo/earthgazer/workflow"
)

// flakyUnit fails a configured number of times before succeeding.
type flakyUnit struct {
	name     string
	failures int
	fatal    bool
	calls    int
}

func (u *flakyUnit) Name() string     { return u.name }
func (u *flakyUnit) Lane() units.Lane { return units.LaneIO }

func (u *flakyUnit) RetryPolicy() units.RetryPolicy {
	return units.RetryPolicy{MaxRetries: 3, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
}

func (u *flakyUnit) Execute(ctx context.Context, payload []byte) (any, error) {
	u.calls++
	if u.calls <= u.failures {
		err := errors.New("transient failure")
		if u.fatal {
			return nil, units.Fatal(err)
		}
		return nil, err
	}
	return map[string]int{"calls": u.calls}, nil
}

type collectProducer struct {
	envs []*queue.Envelope
}

func (p *collectProducer) Publish(_ context.Context, _ string, env *queue.Envelope) error {
	p.envs = append(p.envs, env)
	return nil
}

func (p *collectProducer) Close() error { return nil }

type runnerFixture struct {
	runner *Runner
	repo   *catalog.Memory
	state  *workflow.MemoryState
	engine *workflow.Engine
}

func newRunnerFixture(t *testing.T, unit units.UnitOfWork) *runnerFixture {
	t.Helper()
	registry := units.NewRegistry()
	registry.Register(unit)
	repo := catalog.NewMemory()
	state := workflow.NewMemoryState()
	engine := workflow.NewEngine(&collectProducer{}, state, repo, registry, zaptest.NewLogger(t))
	tr := tracker.New(repo, nil, "test-worker", zaptest.NewLogger(t))
	return &runnerFixture{
		runner: New(registry, tr, engine, zaptest.NewLogger(t)),
		repo:   repo,
		state:  state,
		engine: engine,
	}
}

func (f *runnerFixture) createJob(t *testing.T, id string, total int) {
	t.Helper()
	job := &catalog.ProcessingJob{ID: id, JobType: "test", Status: catalog.JobProcessing, TotalTasks: total}
	if err := f.repo.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
}

func envelope(jobID, unitName string) *queue.Envelope {
	return &queue.Envelope{
		TaskID:  "task-" + unitName,
		TraceID: jobID,
		JobID:   jobID,
		Unit:    unitName,
		Payload: json.RawMessage(`{}`),
	}
}

func TestHandle_RetriesThenSucceeds(t *testing.T) {
	unit := &flakyUnit{name: "flaky", failures: 2}
	f := newRunnerFixture(t, unit)
	f.createJob(t, "job-1", 1)

	env := envelope("job-1", "flaky")
	if err := f.runner.Handle(context.Background(), env); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if unit.calls != 3 {
		t.Errorf("Expected 3 attempts, got %d", unit.calls)
	}

	exec, err := f.repo.GetTaskExecution(context.Background(), env.TaskID)
	if err != nil {
		t.Fatalf("GetTaskExecution failed: %v", err)
	}
	if exec.Status != catalog.StatusSuccess {
		t.Errorf("Expected SUCCESS, got %s", exec.Status)
	}
	if exec.Retries != 2 {
		t.Errorf("Expected 2 retries recorded, got %d", exec.Retries)
	}

	job, err := f.repo.GetJob(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.Status != catalog.JobCompleted {
		t.Errorf("Expected COMPLETED, got %s", job.Status)
	}

	if raw, ok, _ := f.state.GetResult(context.Background(), env.TaskID); !ok || len(raw) == 0 {
		t.Error("Expected the task result stored")
	}
}

func TestHandle_FatalErrorSkipsRetries(t *testing.T) {
	unit := &flakyUnit{name: "fatal", failures: 10, fatal: true}
	f := newRunnerFixture(t, unit)
	f.createJob(t, "job-1", 1)

	if err := f.runner.Handle(context.Background(), envelope("job-1", "fatal")); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if unit.calls != 1 {
		t.Errorf("Expected a single attempt for a fatal error, got %d", unit.calls)
	}

	job, err := f.repo.GetJob(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.Status != catalog.JobFailed || job.FailedTasks != 1 {
		t.Errorf("Expected failed job, got %+v", job)
	}
}

func TestHandle_ExhaustedRetriesFails(t *testing.T) {
	unit := &flakyUnit{name: "hopeless", failures: 10}
	f := newRunnerFixture(t, unit)
	f.createJob(t, "job-1", 1)

	env := envelope("job-1", "hopeless")
	if err := f.runner.Handle(context.Background(), env); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if unit.calls != 4 {
		t.Errorf("Expected initial attempt plus 3 retries, got %d", unit.calls)
	}

	exec, err := f.repo.GetTaskExecution(context.Background(), env.TaskID)
	if err != nil {
		t.Fatalf("GetTaskExecution failed: %v", err)
	}
	if exec.Status != catalog.StatusFailure {
		t.Errorf("Expected FAILURE, got %s", exec.Status)
	}
}

func TestHandle_UnknownUnitFailsTask(t *testing.T) {
	f := newRunnerFixture(t, &flakyUnit{name: "known"})
	f.createJob(t, "job-1", 1)

	if err := f.runner.Handle(context.Background(), envelope("job-1", "nonsense")); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	job, err := f.repo.GetJob(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.Status != catalog.JobFailed {
		t.Errorf("Expected FAILED, got %s", job.Status)
	}
}

func TestHandle_RevokedTask(t *testing.T) {
	unit := &flakyUnit{name: "revocable"}
	f := newRunnerFixture(t, unit)
	f.createJob(t, "job-1", 1)

	if err := f.engine.Cancel(context.Background(), "job-1"); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	env := envelope("job-1", "revocable")
	if err := f.runner.Handle(context.Background(), env); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if unit.calls != 0 {
		t.Errorf("Expected revoked task never executed, got %d calls", unit.calls)
	}

	exec, err := f.repo.GetTaskExecution(context.Background(), env.TaskID)
	if err != nil {
		t.Fatalf("GetTaskExecution failed: %v", err)
	}
	if exec.Status != catalog.StatusRevoked {
		t.Errorf("Expected REVOKED, got %s", exec.Status)
	}
}
