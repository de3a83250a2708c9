package catalog

import (
	"time"

	"github.com/aubravo/earthgazer/geo"
)

type RadiometricMeasure string

const (
	MeasureRadiance    RadiometricMeasure = "RADIANCE"
	MeasureReflectance RadiometricMeasure = "REFLECTANCE"
	MeasureDN          RadiometricMeasure = "DN"
)

type AtmosphericLevel string

const (
	LevelTOA AtmosphericLevel = "TOA"
	LevelBOA AtmosphericLevel = "BOA"
)

type TaskStatus string

const (
	StatusPending TaskStatus = "PENDING"
	StatusStarted TaskStatus = "STARTED"
	StatusSuccess TaskStatus = "SUCCESS"
	StatusFailure TaskStatus = "FAILURE"
	StatusRetry   TaskStatus = "RETRY"
	StatusRevoked TaskStatus = "REVOKED"
)

type JobStatus string

const (
	JobQueued     JobStatus = "QUEUED"
	JobProcessing JobStatus = "PROCESSING"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
	JobPartial    JobStatus = "PARTIAL"
)

// Location is a monitored region. The legacy center point is always derived
// from the bounds; SetBounds is the only way either changes.
type Location struct {
	ID        int64
	Name      string
	MinLon    float64
	MinLat    float64
	MaxLon    float64
	MaxLat    float64
	Longitude float64
	Latitude  float64
	FromDate  time.Time
	ToDate    time.Time
	Active    bool
	CreatedAt time.Time
}

func (l *Location) Bounds() geo.Bounds {
	return geo.Bounds{MinLon: l.MinLon, MinLat: l.MinLat, MaxLon: l.MaxLon, MaxLat: l.MaxLat}
}

// SetBounds validates the box, stores it and recomputes the center point.
func (l *Location) SetBounds(b geo.Bounds) error {
	if err := b.Validate(); err != nil {
		return err
	}
	l.MinLon, l.MinLat, l.MaxLon, l.MaxLat = b.MinLon, b.MinLat, b.MaxLon, b.MaxLat
	l.Longitude, l.Latitude = b.Center()
	return nil
}

// Capture is one discovered satellite scene. Uniqueness is enforced on
// (main_id, mission_id); the pipeline never deletes rows.
type Capture struct {
	ID               int64
	MainID           string
	SecondaryID      string
	MissionID        string
	SensingTime      time.Time
	NorthLat         float64
	SouthLat         float64
	WestLon          float64
	EastLon          float64
	CloudCover       float64
	Measure          RadiometricMeasure
	AtmosphericLevel AtmosphericLevel
	MGRSTile         string
	WRSPath          string
	WRSRow           string
	DataType         string
	BaseURL          string
	BackedUp         bool
	BackupDate       *time.Time
	BackupLocation   *string
	CreatedAt        time.Time
}

func (c *Capture) Footprint() geo.Bounds {
	return geo.FromFootprint(c.NorthLat, c.SouthLat, c.WestLon, c.EastLon)
}

// TaskExecution is one unit-of-work invocation, append-only history.
type TaskExecution struct {
	ID          int64
	TaskID      string
	TaskName    string
	CaptureID   *int64
	Status      TaskStatus
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Duration    float64
	Result      string
	Error       string
	Retries     int
	WorkerID    string
}

// ProcessingJob tracks one composed workflow instance. PARTIAL means some
// branch units failed while others succeeded.
type ProcessingJob struct {
	ID             string
	JobType        string
	CaptureID      *int64
	Status         JobStatus
	TotalTasks     int
	CompletedTasks int
	FailedTasks    int
	Metadata       map[string]string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

const (
	// Stored text fields are truncated so history rows stay small; full
	// tracebacks live only in worker logs.
	MaxResultLen = 1000
	MaxErrorLen  = 2000
)

func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
