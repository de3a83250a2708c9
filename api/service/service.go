// Package service is the API-side application layer: it validates requests,
// talks to the catalog and hands workflow submissions to the composer.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/aubravo/earthgazer/api/dto"
	"github.com/aubravo/earthgazer/catalog"
	"github.com/aubravo/earthgazer/geo"
	"github.com/aubravo/earthgazer/workflow"
)

const dateLayout = "2006-01-02"

type Service struct {
	repo     catalog.Repository
	composer *workflow.Composer
}

func New(repo catalog.Repository, composer *workflow.Composer) *Service {
	return &Service{repo: repo, composer: composer}
}

func (s *Service) CreateLocation(ctx context.Context, req *dto.CreateLocationRequest) (*dto.LocationResponse, error) {
	from, err := time.Parse(dateLayout, req.FromDate)
	if err != nil {
		return nil, fmt.Errorf("from_date: %w", err)
	}
	to, err := time.Parse(dateLayout, req.ToDate)
	if err != nil {
		return nil, fmt.Errorf("to_date: %w", err)
	}
	if to.Before(from) {
		return nil, fmt.Errorf("to_date precedes from_date")
	}

	loc := &catalog.Location{Name: req.Name, FromDate: from, ToDate: to, Active: true}
	if req.Active != nil {
		loc.Active = *req.Active
	}
	if err := loc.SetBounds(geo.Bounds{MinLon: req.MinLon, MinLat: req.MinLat, MaxLon: req.MaxLon, MaxLat: req.MaxLat}); err != nil {
		return nil, err
	}
	if err := s.repo.CreateLocation(ctx, loc); err != nil {
		return nil, err
	}
	return locationResponse(loc), nil
}

func (s *Service) GetLocation(ctx context.Context, id int64) (*dto.LocationResponse, error) {
	loc, err := s.repo.GetLocation(ctx, id)
	if err != nil {
		return nil, err
	}
	return locationResponse(loc), nil
}

func (s *Service) ListLocations(ctx context.Context, activeOnly bool) ([]*dto.LocationResponse, error) {
	locs, err := s.repo.ListLocations(ctx, activeOnly)
	if err != nil {
		return nil, err
	}
	out := make([]*dto.LocationResponse, len(locs))
	for i, loc := range locs {
		out[i] = locationResponse(loc)
	}
	return out, nil
}

func (s *Service) UpdateLocation(ctx context.Context, id int64, req *dto.CreateLocationRequest) (*dto.LocationResponse, error) {
	loc, err := s.repo.GetLocation(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Name != "" {
		loc.Name = req.Name
	}
	if req.FromDate != "" {
		if loc.FromDate, err = time.Parse(dateLayout, req.FromDate); err != nil {
			return nil, fmt.Errorf("from_date: %w", err)
		}
	}
	if req.ToDate != "" {
		if loc.ToDate, err = time.Parse(dateLayout, req.ToDate); err != nil {
			return nil, fmt.Errorf("to_date: %w", err)
		}
	}
	if req.MinLon != 0 || req.MinLat != 0 || req.MaxLon != 0 || req.MaxLat != 0 {
		if err := loc.SetBounds(geo.Bounds{MinLon: req.MinLon, MinLat: req.MinLat, MaxLon: req.MaxLon, MaxLat: req.MaxLat}); err != nil {
			return nil, err
		}
	}
	if req.Active != nil {
		loc.Active = *req.Active
	}
	if err := s.repo.UpdateLocation(ctx, loc); err != nil {
		return nil, err
	}
	return locationResponse(loc), nil
}

func (s *Service) DeleteLocation(ctx context.Context, id int64) error {
	return s.repo.DeleteLocation(ctx, id)
}

func (s *Service) ListCaptures(ctx context.Context, f catalog.CaptureFilter) ([]*dto.CaptureResponse, error) {
	captures, err := s.repo.ListCaptures(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]*dto.CaptureResponse, len(captures))
	for i, c := range captures {
		resp := &dto.CaptureResponse{
			ID:          c.ID,
			MainID:      c.MainID,
			MissionID:   c.MissionID,
			SensingTime: c.SensingTime.Format(time.RFC3339),
			CloudCover:  c.CloudCover,
			BackedUp:    c.BackedUp,
		}
		if c.BackupLocation != nil {
			resp.BackupLocation = *c.BackupLocation
		}
		out[i] = resp
	}
	return out, nil
}

// Process submits the single- or multi-capture pipeline.
func (s *Service) Process(ctx context.Context, req *dto.ProcessRequest) (*dto.JobResponse, error) {
	if len(req.CaptureIDs) == 0 {
		return nil, fmt.Errorf("capture_ids is required")
	}
	var job *catalog.ProcessingJob
	var err error
	if len(req.CaptureIDs) == 1 && !req.WithTemporal {
		job, err = s.composer.SingleCapture(ctx, req.CaptureIDs[0], req.Bands, req.Bounds)
	} else {
		job, err = s.composer.MultiCapture(ctx, req.CaptureIDs, req.Bands, req.Bounds, req.WithTemporal)
	}
	if err != nil {
		return nil, err
	}
	return jobResponse(job), nil
}

func (s *Service) Discover(ctx context.Context, req *dto.DiscoveryRequest) (*dto.JobResponse, error) {
	job, err := s.composer.DiscoveryAndBackup(ctx, req.LocationIDs, req.PerCapture)
	if err != nil {
		return nil, err
	}
	return jobResponse(job), nil
}

func (s *Service) FullPipeline(ctx context.Context, req *dto.FullPipelineRequest) (*dto.JobResponse, error) {
	job, err := s.composer.FullPipeline(ctx, req.LocationIDs, req.Bands, req.Bounds, req.WithTemporal)
	if err != nil {
		return nil, err
	}
	return jobResponse(job), nil
}

func (s *Service) Reprocess(ctx context.Context, req *dto.ReprocessRequest) (*dto.JobResponse, error) {
	job, err := s.composer.ReprocessExisting(ctx, req.Mission, req.Bands, req.Bounds, req.Limit, req.WithTemporal)
	if err != nil {
		return nil, err
	}
	return jobResponse(job), nil
}

func (s *Service) ProcessLocation(ctx context.Context, locationID int64, req *dto.LocationCapturesRequest) (*dto.JobResponse, error) {
	job, err := s.composer.LocationCaptures(ctx, locationID, req.Bands, req.WithTemporal)
	if err != nil {
		return nil, err
	}
	return jobResponse(job), nil
}

func (s *Service) GetJob(ctx context.Context, jobID string) (*dto.JobResponse, error) {
	job, err := s.composer.Poll(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return jobResponse(job), nil
}

func (s *Service) CancelJob(ctx context.Context, jobID string) error {
	return s.composer.Cancel(ctx, jobID)
}

func (s *Service) ListTasks(ctx context.Context, f catalog.TaskFilter) ([]*dto.TaskResponse, error) {
	execs, err := s.repo.ListTaskExecutions(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]*dto.TaskResponse, len(execs))
	for i, e := range execs {
		out[i] = &dto.TaskResponse{
			TaskID:      e.TaskID,
			TaskName:    e.TaskName,
			CaptureID:   e.CaptureID,
			Status:      string(e.Status),
			Result:      e.Result,
			Error:       e.Error,
			Retries:     e.Retries,
			DurationSec: e.Duration,
			WorkerID:    e.WorkerID,
		}
	}
	return out, nil
}

func locationResponse(loc *catalog.Location) *dto.LocationResponse {
	return &dto.LocationResponse{
		ID:        loc.ID,
		Name:      loc.Name,
		MinLon:    loc.MinLon,
		MinLat:    loc.MinLat,
		MaxLon:    loc.MaxLon,
		MaxLat:    loc.MaxLat,
		Longitude: loc.Longitude,
		Latitude:  loc.Latitude,
		FromDate:  loc.FromDate.Format(dateLayout),
		ToDate:    loc.ToDate.Format(dateLayout),
		Active:    loc.Active,
		CreatedAt: loc.CreatedAt.Format(time.RFC3339),
	}
}

func jobResponse(job *catalog.ProcessingJob) *dto.JobResponse {
	return &dto.JobResponse{
		ID:             job.ID,
		JobType:        job.JobType,
		CaptureID:      job.CaptureID,
		Status:         string(job.Status),
		TotalTasks:     job.TotalTasks,
		CompletedTasks: job.CompletedTasks,
		FailedTasks:    job.FailedTasks,
		CreatedAt:      job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      job.UpdatedAt.Format(time.RFC3339),
	}
}
