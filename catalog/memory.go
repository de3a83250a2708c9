package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-memory Repository used by tests and single-process local
// runs. It mirrors the Postgres implementation's semantics, including the
// (main_id, mission_id) uniqueness constraint.
type Memory struct {
	mu sync.Mutex

	nextLocationID int64
	nextCaptureID  int64
	nextTaskRowID  int64

	locations map[int64]*Location
	captures  map[int64]*Capture
	tasks     map[string]*TaskExecution
	jobs      map[string]*ProcessingJob
}

func NewMemory() *Memory {
	return &Memory{
		locations: make(map[int64]*Location),
		captures:  make(map[int64]*Capture),
		tasks:     make(map[string]*TaskExecution),
		jobs:      make(map[string]*ProcessingJob),
	}
}

func (m *Memory) CreateLocation(_ context.Context, loc *Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextLocationID++
	loc.ID = m.nextLocationID
	loc.CreatedAt = time.Now()
	cp := *loc
	m.locations[loc.ID] = &cp
	return nil
}

func (m *Memory) GetLocation(_ context.Context, id int64) (*Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loc, ok := m.locations[id]
	if !ok {
		return nil, ErrLocationNotFound
	}
	cp := *loc
	return &cp, nil
}

func (m *Memory) ListLocations(_ context.Context, activeOnly bool) ([]*Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Location
	for _, loc := range m.locations {
		if activeOnly && !loc.Active {
			continue
		}
		cp := *loc
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListLocationsByIDs(_ context.Context, ids []int64) ([]*Location, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Location
	for _, id := range ids {
		if loc, ok := m.locations[id]; ok {
			cp := *loc
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateLocation(_ context.Context, loc *Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.locations[loc.ID]; !ok {
		return ErrLocationNotFound
	}
	cp := *loc
	m.locations[loc.ID] = &cp
	return nil
}

func (m *Memory) DeleteLocation(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.locations[id]; !ok {
		return ErrLocationNotFound
	}
	delete(m.locations, id)
	return nil
}

func (m *Memory) CreateCapture(_ context.Context, c *Capture) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.captures {
		if existing.MainID == c.MainID && existing.MissionID == c.MissionID {
			return ErrDuplicateCapture
		}
	}
	m.nextCaptureID++
	c.ID = m.nextCaptureID
	c.CreatedAt = time.Now()
	cp := *c
	m.captures[c.ID] = &cp
	return nil
}

func (m *Memory) GetCapture(_ context.Context, id int64) (*Capture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.captures[id]
	if !ok {
		return nil, ErrCaptureNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) FindCapture(_ context.Context, mainID, missionID string) (*Capture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.captures {
		if c.MainID == mainID && c.MissionID == missionID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrCaptureNotFound
}

func (m *Memory) ListCaptures(_ context.Context, f CaptureFilter) ([]*Capture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idSet := map[int64]bool{}
	for _, id := range f.IDs {
		idSet[id] = true
	}

	var out []*Capture
	for _, c := range m.captures {
		if len(idSet) > 0 && !idSet[c.ID] {
			continue
		}
		if f.BackedUp != nil && c.BackedUp != *f.BackedUp {
			continue
		}
		if len(f.MissionLike) > 0 {
			matched := false
			for _, sub := range f.MissionLike {
				if strings.Contains(c.MissionID, sub) {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}
		cp := *c
		out = append(out, &cp)
	}
	if f.NewestFirst {
		sort.Slice(out, func(i, j int) bool { return out[i].SensingTime.After(out[j].SensingTime) })
	} else {
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) MarkBackedUp(_ context.Context, id int64, location string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.captures[id]
	if !ok {
		return ErrCaptureNotFound
	}
	c.BackedUp = true
	c.BackupDate = &at
	c.BackupLocation = &location
	return nil
}

func (m *Memory) GetTaskExecution(_ context.Context, taskID string) (*TaskExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) ListTaskExecutions(_ context.Context, f TaskFilter) ([]*TaskExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*TaskExecution
	for _, t := range m.tasks {
		if f.CaptureID != nil && (t.CaptureID == nil || *t.CaptureID != *f.CaptureID) {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) RecordTaskStarted(_ context.Context, taskID, taskName string, captureID *int64, workerID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.tasks[taskID]; ok {
		existing.Status = StatusStarted
		existing.StartedAt = &at
		existing.WorkerID = workerID
		existing.Retries++
		return nil
	}
	m.nextTaskRowID++
	m.tasks[taskID] = &TaskExecution{
		ID:        m.nextTaskRowID,
		TaskID:    taskID,
		TaskName:  taskName,
		CaptureID: captureID,
		Status:    StatusStarted,
		CreatedAt: at,
		StartedAt: &at,
		WorkerID:  workerID,
	}
	return nil
}

func (m *Memory) RecordTaskOutcome(_ context.Context, taskID string, status TaskStatus, result, errText string, duration time.Duration, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	t.Status = status
	t.CompletedAt = &at
	t.Duration = duration.Seconds()
	t.Result = Truncate(result, MaxResultLen)
	t.Error = Truncate(errText, MaxErrorLen)
	return nil
}

func (m *Memory) RecordTaskRetry(_ context.Context, taskID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	t.Status = StatusRetry
	t.Error = Truncate(reason, MaxErrorLen)
	return nil
}

func (m *Memory) CreateJob(_ context.Context, job *ProcessingJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	job.CreatedAt = now
	job.UpdatedAt = now
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *Memory) GetJob(_ context.Context, id string) (*ProcessingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *Memory) UpdateJobStatus(_ context.Context, id string, status JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	j.Status = status
	j.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) AddJobTasks(_ context.Context, id string, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	j.TotalTasks += n
	j.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) AddJobProgress(_ context.Context, id string, completed, failed int) (*ProcessingJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	j.CompletedTasks += completed
	j.FailedTasks += failed
	j.UpdatedAt = time.Now()
	cp := *j
	return &cp, nil
}
