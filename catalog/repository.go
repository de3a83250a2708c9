package catalog

import (
	"context"
	"errors"
	"time"
)

var (
	ErrLocationNotFound = errors.New("location not found")
	ErrCaptureNotFound  = errors.New("capture not found")
	ErrTaskNotFound     = errors.New("task execution not found")
	ErrJobNotFound      = errors.New("processing job not found")
	ErrDuplicateCapture = errors.New("capture already exists for main_id and mission_id")
)

// CaptureFilter narrows ListCaptures. Zero values mean "no constraint".
type CaptureFilter struct {
	IDs         []int64
	BackedUp    *bool
	MissionLike []string // substring match, OR-ed
	NewestFirst bool
	Limit       int
}

type TaskFilter struct {
	CaptureID *int64
	Status    TaskStatus
	Limit     int
}

type LocationRepository interface {
	CreateLocation(ctx context.Context, loc *Location) error
	GetLocation(ctx context.Context, id int64) (*Location, error)
	ListLocations(ctx context.Context, activeOnly bool) ([]*Location, error)
	ListLocationsByIDs(ctx context.Context, ids []int64) ([]*Location, error)
	UpdateLocation(ctx context.Context, loc *Location) error
	DeleteLocation(ctx context.Context, id int64) error
}

type CaptureRepository interface {
	// CreateCapture inserts a new capture, returning ErrDuplicateCapture when
	// a row with the same (main_id, mission_id) already exists.
	CreateCapture(ctx context.Context, c *Capture) error
	GetCapture(ctx context.Context, id int64) (*Capture, error)
	FindCapture(ctx context.Context, mainID, missionID string) (*Capture, error)
	ListCaptures(ctx context.Context, f CaptureFilter) ([]*Capture, error)
	// MarkBackedUp flips backed_up and records where and when, scoped to the
	// single row. This is the pipeline's source of truth for backup state.
	MarkBackedUp(ctx context.Context, id int64, location string, at time.Time) error
}

type ExecutionRepository interface {
	GetTaskExecution(ctx context.Context, taskID string) (*TaskExecution, error)
	ListTaskExecutions(ctx context.Context, f TaskFilter) ([]*TaskExecution, error)
	// RecordTaskStarted creates the row on first observation or, on a retry,
	// moves it back to STARTED and bumps the retry counter.
	RecordTaskStarted(ctx context.Context, taskID, taskName string, captureID *int64, workerID string, at time.Time) error
	RecordTaskOutcome(ctx context.Context, taskID string, status TaskStatus, result, errText string, duration time.Duration, at time.Time) error
	RecordTaskRetry(ctx context.Context, taskID, reason string) error
}

type JobRepository interface {
	CreateJob(ctx context.Context, job *ProcessingJob) error
	GetJob(ctx context.Context, id string) (*ProcessingJob, error)
	UpdateJobStatus(ctx context.Context, id string, status JobStatus) error
	// AddJobTasks grows total_tasks for staged pipelines whose later stages
	// are only sized once an earlier stage's output is known.
	AddJobTasks(ctx context.Context, id string, n int) error
	// AddJobProgress adds to the completed/failed counters and returns the
	// updated row so callers can derive the terminal status.
	AddJobProgress(ctx context.Context, id string, completed, failed int) (*ProcessingJob, error)
}

type Repository interface {
	LocationRepository
	CaptureRepository
	ExecutionRepository
	JobRepository
}
