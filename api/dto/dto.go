package dto

import "github.com/aubravo/earthgazer/geo"

type CreateLocationRequest struct {
	Name     string  `json:"name"`
	MinLon   float64 `json:"min_lon"`
	MinLat   float64 `json:"min_lat"`
	MaxLon   float64 `json:"max_lon"`
	MaxLat   float64 `json:"max_lat"`
	FromDate string  `json:"from_date"`
	ToDate   string  `json:"to_date"`
	Active   *bool   `json:"active,omitempty"`
}

type LocationResponse struct {
	ID        int64   `json:"id"`
	Name      string  `json:"name"`
	MinLon    float64 `json:"min_lon"`
	MinLat    float64 `json:"min_lat"`
	MaxLon    float64 `json:"max_lon"`
	MaxLat    float64 `json:"max_lat"`
	Longitude float64 `json:"longitude"`
	Latitude  float64 `json:"latitude"`
	FromDate  string  `json:"from_date"`
	ToDate    string  `json:"to_date"`
	Active    bool    `json:"active"`
	CreatedAt string  `json:"created_at"`
}

type CaptureResponse struct {
	ID             int64   `json:"id"`
	MainID         string  `json:"main_id"`
	MissionID      string  `json:"mission_id"`
	SensingTime    string  `json:"sensing_time"`
	CloudCover     float64 `json:"cloud_cover"`
	BackedUp       bool    `json:"backed_up"`
	BackupLocation string  `json:"backup_location,omitempty"`
}

// ProcessRequest submits a capture-processing workflow. CaptureIDs with one
// element is the single-capture shape; more run concurrently.
type ProcessRequest struct {
	CaptureIDs   []int64     `json:"capture_ids"`
	Bands        []string    `json:"bands,omitempty"`
	Bounds       *geo.Bounds `json:"bounds,omitempty"`
	WithTemporal bool        `json:"with_temporal,omitempty"`
}

type DiscoveryRequest struct {
	LocationIDs []int64 `json:"location_ids,omitempty"`
	PerCapture  bool    `json:"per_capture,omitempty"`
}

type FullPipelineRequest struct {
	LocationIDs  []int64     `json:"location_ids,omitempty"`
	Bands        []string    `json:"bands,omitempty"`
	Bounds       *geo.Bounds `json:"bounds,omitempty"`
	WithTemporal bool        `json:"with_temporal,omitempty"`
}

type ReprocessRequest struct {
	Mission      string      `json:"mission,omitempty"`
	Bands        []string    `json:"bands,omitempty"`
	Bounds       *geo.Bounds `json:"bounds,omitempty"`
	Limit        int         `json:"limit,omitempty"`
	WithTemporal bool        `json:"with_temporal,omitempty"`
}

type LocationCapturesRequest struct {
	Bands        []string `json:"bands,omitempty"`
	WithTemporal bool     `json:"with_temporal,omitempty"`
}

type JobResponse struct {
	ID             string `json:"id"`
	JobType        string `json:"job_type"`
	CaptureID      *int64 `json:"capture_id,omitempty"`
	Status         string `json:"status"`
	TotalTasks     int    `json:"total_tasks"`
	CompletedTasks int    `json:"completed_tasks"`
	FailedTasks    int    `json:"failed_tasks"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

type TaskResponse struct {
	TaskID      string `json:"task_id"`
	TaskName    string `json:"task_name"`
	CaptureID   *int64 `json:"capture_id,omitempty"`
	Status      string `json:"status"`
	Result      string `json:"result,omitempty"`
	Error       string `json:"error,omitempty"`
	Retries     int    `json:"retries"`
	DurationSec float64 `json:"duration_sec"`
	WorkerID    string `json:"worker_id,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}
