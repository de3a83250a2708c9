package workflow

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/aubravo/earthgazer/catalog"
	"github.com/aubravo/earthgazer/queue"
	"github.com/aubravo/earthgazer/units"
)

// loopbackProducer collects published envelopes so tests can pump them
// through the engine as a worker would. Staged pipelines publish from a
// background goroutine, hence the lock.
type loopbackProducer struct {
	mu      sync.Mutex
	pending []*queue.Envelope
	topics  []string
}

func (p *loopbackProducer) Publish(_ context.Context, topic string, env *queue.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, env)
	p.topics = append(p.topics, topic)
	return nil
}

func (p *loopbackProducer) Close() error { return nil }

func (p *loopbackProducer) pop() *queue.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return nil
	}
	env := p.pending[0]
	p.pending = p.pending[1:]
	p.topics = p.topics[1:]
	return env
}

type engineFixture struct {
	engine   *Engine
	producer *loopbackProducer
	repo     *catalog.Memory
	state    *MemoryState
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	registry := units.NewRegistry()
	registry.Register(&laneStub{name: units.NameDiscover, lane: units.LaneIO})
	registry.Register(&laneStub{name: units.NameBackup, lane: units.LaneIO})
	registry.Register(&laneStub{name: units.NameDownloadBands, lane: units.LaneIO})
	registry.Register(&laneStub{name: units.NameStackAndCrop, lane: units.LaneCPU})
	registry.Register(&laneStub{name: units.NameComputeNDVI, lane: units.LaneCPU})
	registry.Register(&laneStub{name: units.NameGenerateRGB, lane: units.LaneCPU})
	registry.Register(&laneStub{name: units.NameTemporal, lane: units.LaneCPU})

	producer := &loopbackProducer{}
	repo := catalog.NewMemory()
	state := NewMemoryState()
	engine := NewEngine(producer, state, repo, registry, zaptest.NewLogger(t))
	return &engineFixture{engine: engine, producer: producer, repo: repo, state: state}
}

type laneStub struct {
	name string
	lane units.Lane
}

func (s *laneStub) Name() string                   { return s.name }
func (s *laneStub) Lane() units.Lane               { return s.lane }
func (s *laneStub) RetryPolicy() units.RetryPolicy { return units.RetryPolicy{} }
func (s *laneStub) Execute(context.Context, []byte) (any, error) {
	return nil, nil
}

func (f *engineFixture) createJob(t *testing.T, root *Node) string {
	t.Helper()
	job := &catalog.ProcessingJob{
		ID:         "job-" + t.Name(),
		JobType:    "test",
		Status:     catalog.JobProcessing,
		TotalTasks: CountTasks(root),
	}
	if err := f.repo.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	return job.ID
}

// pump runs every pending envelope to a terminal state, failing the units
// named in failUnits and succeeding the rest, and advances the engine after
// each. It returns the order units executed in.
func (f *engineFixture) pump(t *testing.T, failUnits map[string]bool) []string {
	t.Helper()
	ctx := context.Background()
	var ran []string
	for env := f.producer.pop(); env != nil; env = f.producer.pop() {
		ran = append(ran, env.Unit)
		status := catalog.StatusSuccess
		if failUnits[env.Unit] {
			status = catalog.StatusFailure
		}
		if err := f.engine.Advance(ctx, env, status, []byte(`{"ok":true}`)); err != nil {
			t.Fatalf("Advance failed for %s: %v", env.Unit, err)
		}
	}
	return ran
}

func (f *engineFixture) jobStatus(t *testing.T, jobID string) *catalog.ProcessingJob {
	t.Helper()
	job, err := f.repo.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	return job
}

func mustTask(t *testing.T, unit string) *Node {
	t.Helper()
	n, err := Task(unit, nil, map[string]any{})
	if err != nil {
		t.Fatalf("Task failed: %v", err)
	}
	return n
}

func TestEngine_ChainRunsInOrder(t *testing.T) {
	f := newEngineFixture(t)
	root := Chain(
		mustTask(t, units.NameDownloadBands),
		mustTask(t, units.NameStackAndCrop),
		mustTask(t, units.NameComputeNDVI),
	)
	jobID := f.createJob(t, root)

	if err := f.engine.Submit(context.Background(), jobID, jobID, root); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	ran := f.pump(t, nil)
	want := []string{units.NameDownloadBands, units.NameStackAndCrop, units.NameComputeNDVI}
	if len(ran) != len(want) {
		t.Fatalf("Expected %d tasks, got %v", len(want), ran)
	}
	for i := range want {
		if ran[i] != want[i] {
			t.Errorf("Expected %s at position %d, got %s", want[i], i, ran[i])
		}
	}

	job := f.jobStatus(t, jobID)
	if job.Status != catalog.JobCompleted || job.CompletedTasks != 3 {
		t.Errorf("Expected completed job with 3 tasks, got %+v", job)
	}
}

func TestEngine_GroupCallbackRunsAfterAllBranches(t *testing.T) {
	f := newEngineFixture(t)
	root := Chain(
		mustTask(t, units.NameDownloadBands),
		Group(mustTask(t, units.NameTemporal),
			mustTask(t, units.NameComputeNDVI),
			mustTask(t, units.NameGenerateRGB),
		),
	)
	jobID := f.createJob(t, root)

	if err := f.engine.Submit(context.Background(), jobID, jobID, root); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	ran := f.pump(t, nil)
	if len(ran) != 4 {
		t.Fatalf("Expected 4 tasks, got %v", ran)
	}
	if ran[0] != units.NameDownloadBands {
		t.Errorf("Expected download first, got %s", ran[0])
	}
	if ran[3] != units.NameTemporal {
		t.Errorf("Expected temporal callback last, got %v", ran)
	}

	job := f.jobStatus(t, jobID)
	if job.Status != catalog.JobCompleted || job.CompletedTasks != 4 {
		t.Errorf("Expected completed job with 4 tasks, got %+v", job)
	}
}

func TestEngine_CallbackRunsDespiteBranchFailure(t *testing.T) {
	f := newEngineFixture(t)
	root := Group(mustTask(t, units.NameTemporal),
		mustTask(t, units.NameComputeNDVI),
		mustTask(t, units.NameGenerateRGB),
	)
	jobID := f.createJob(t, root)

	if err := f.engine.Submit(context.Background(), jobID, jobID, root); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	ran := f.pump(t, map[string]bool{units.NameComputeNDVI: true})
	if len(ran) != 3 {
		t.Fatalf("Expected callback to run despite a failed branch, got %v", ran)
	}
	if ran[2] != units.NameTemporal {
		t.Errorf("Expected temporal callback last, got %v", ran)
	}

	job := f.jobStatus(t, jobID)
	if job.Status != catalog.JobPartial {
		t.Errorf("Expected PARTIAL job, got %s", job.Status)
	}
	if job.CompletedTasks != 2 || job.FailedTasks != 1 {
		t.Errorf("Unexpected counters: %+v", job)
	}
}

func TestEngine_FailureDropsChainTail(t *testing.T) {
	f := newEngineFixture(t)
	root := Chain(
		mustTask(t, units.NameDownloadBands),
		mustTask(t, units.NameStackAndCrop),
		mustTask(t, units.NameComputeNDVI),
	)
	jobID := f.createJob(t, root)

	if err := f.engine.Submit(context.Background(), jobID, jobID, root); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	ran := f.pump(t, map[string]bool{units.NameDownloadBands: true})
	if len(ran) != 1 {
		t.Fatalf("Expected chain dropped after failed head, got %v", ran)
	}

	job := f.jobStatus(t, jobID)
	if job.Status != catalog.JobFailed {
		t.Errorf("Expected FAILED job, got %s", job.Status)
	}
	if job.FailedTasks != 3 || job.CompletedTasks != 0 {
		t.Errorf("Expected all 3 tasks accounted failed, got %+v", job)
	}
}

func TestEngine_FanOutPerCaptureWithSharedCallback(t *testing.T) {
	f := newEngineFixture(t)
	pipeline := func() *Node {
		return Chain(
			mustTask(t, units.NameDownloadBands),
			mustTask(t, units.NameStackAndCrop),
			Group(nil,
				mustTask(t, units.NameComputeNDVI),
				mustTask(t, units.NameGenerateRGB),
			),
		)
	}
	root := Group(mustTask(t, units.NameTemporal), pipeline(), pipeline())
	jobID := f.createJob(t, root)

	if err := f.engine.Submit(context.Background(), jobID, jobID, root); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	ran := f.pump(t, nil)
	if len(ran) != 9 {
		t.Fatalf("Expected 9 tasks, got %d: %v", len(ran), ran)
	}
	if ran[len(ran)-1] != units.NameTemporal {
		t.Errorf("Expected temporal callback last, got %v", ran)
	}
	temporals := 0
	for _, u := range ran {
		if u == units.NameTemporal {
			temporals++
		}
	}
	if temporals != 1 {
		t.Errorf("Expected the shared callback to run once, got %d", temporals)
	}

	job := f.jobStatus(t, jobID)
	if job.Status != catalog.JobCompleted || job.CompletedTasks != 9 {
		t.Errorf("Expected completed job with 9 tasks, got %+v", job)
	}
}

func TestEngine_CancelMarksJobRevoked(t *testing.T) {
	f := newEngineFixture(t)
	root := mustTask(t, units.NameDownloadBands)
	jobID := f.createJob(t, root)

	if err := f.engine.Cancel(context.Background(), jobID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	revoked, err := f.engine.IsRevoked(context.Background(), jobID)
	if err != nil {
		t.Fatalf("IsRevoked failed: %v", err)
	}
	if !revoked {
		t.Error("Expected job revoked")
	}

	if err := f.engine.Cancel(context.Background(), "missing"); err == nil {
		t.Error("Expected error cancelling unknown job")
	}
}

func TestCountTasks(t *testing.T) {
	root := Group(mustTask(t, units.NameTemporal),
		Chain(mustTask(t, units.NameDownloadBands), mustTask(t, units.NameStackAndCrop)),
		mustTask(t, units.NameComputeNDVI),
	)
	if got := CountTasks(root); got != 4 {
		t.Errorf("Expected 4 tasks, got %d", got)
	}
	if got := CountTasks(nil); got != 0 {
		t.Errorf("Expected 0 for nil node, got %d", got)
	}
}
