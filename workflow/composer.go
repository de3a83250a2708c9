package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aubravo/earthgazer/catalog"
	"github.com/aubravo/earthgazer/geo"
	"github.com/aubravo/earthgazer/platform"
	"github.com/aubravo/earthgazer/units"
)

// ErrAwaitTimeout means a staged pipeline gave up waiting for an earlier
// stage's result. The job is failed, not left dangling.
var ErrAwaitTimeout = errors.New("stage await timed out")

const awaitPollInterval = 2 * time.Second

// Job type names stored on processing job rows.
const (
	JobSingleCapture    = "single_capture"
	JobMultiCapture     = "multi_capture"
	JobDiscoveryBackup  = "discovery_backup"
	JobFullPipeline     = "full_pipeline"
	JobReprocess        = "reprocess_existing"
	JobLocationCaptures = "location_captures"
)

// Composer builds the supported workflow shapes, creates their job rows and
// hands the graphs to the engine. Staged shapes, where a later stage is sized
// by an earlier stage's output, run their orchestration in a background
// goroutine so submission returns immediately.
type Composer struct {
	repo          catalog.Repository
	engine        *Engine
	state         State
	logger        *zap.Logger
	discoveryWait time.Duration
	backupWait    time.Duration
}

func NewComposer(repo catalog.Repository, engine *Engine, state State, discoveryWait, backupWait time.Duration, logger *zap.Logger) *Composer {
	return &Composer{
		repo:          repo,
		engine:        engine,
		state:         state,
		logger:        logger,
		discoveryWait: discoveryWait,
		backupWait:    backupWait,
	}
}

// SingleCapture runs download, stack-and-crop and the two feature branches
// for one capture. An unknown capture id fails before anything is queued.
func (c *Composer) SingleCapture(ctx context.Context, captureID int64, bands []string, bounds *geo.Bounds) (*catalog.ProcessingJob, error) {
	if _, err := c.repo.GetCapture(ctx, captureID); err != nil {
		return nil, err
	}
	job := c.newJob(JobSingleCapture, &captureID)
	root, err := capturePipeline(captureID, job.ID, bands, bounds)
	if err != nil {
		return nil, err
	}
	return job, c.start(ctx, job, root)
}

// MultiCapture runs the single-capture pipeline for every id concurrently.
// When withTemporal is set a temporal analysis runs once every per-capture
// pipeline has finished, regardless of individual outcomes.
func (c *Composer) MultiCapture(ctx context.Context, captureIDs []int64, bands []string, bounds *geo.Bounds, withTemporal bool) (*catalog.ProcessingJob, error) {
	if len(captureIDs) == 0 {
		return nil, fmt.Errorf("no capture ids given")
	}
	for _, id := range captureIDs {
		if _, err := c.repo.GetCapture(ctx, id); err != nil {
			return nil, err
		}
	}
	job := c.newJob(JobMultiCapture, nil)
	root, err := c.multiCaptureGraph(job, captureIDs, bands, bounds, withTemporal)
	if err != nil {
		return nil, err
	}
	return job, c.start(ctx, job, root)
}

// DiscoveryAndBackup sweeps the platforms for the given locations, then backs
// up whatever the sweep found. With perCapture set, each discovered capture
// gets its own backup task for finer retry isolation.
func (c *Composer) DiscoveryAndBackup(ctx context.Context, locationIDs []int64, perCapture bool) (*catalog.ProcessingJob, error) {
	if err := c.checkLocations(ctx, locationIDs); err != nil {
		return nil, err
	}
	job := c.newJob(JobDiscoveryBackup, nil)
	discover, err := Task(units.NameDiscover, nil, units.DiscoverPayload{LocationIDs: locationIDs})
	if err != nil {
		return nil, err
	}
	if err := c.startStaged(ctx, job, discover); err != nil {
		return nil, err
	}

	go c.orchestrate(job.ID, func(ctx context.Context) error {
		ids, err := c.awaitDiscovery(ctx, discover.Task.TaskID)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		_, err = c.submitBackupStage(ctx, job.ID, ids, perCapture)
		return err
	})
	return job, nil
}

// FullPipeline chains every stage: discover, a backup task per discovered
// capture, then the processing pipeline over the captures the backup stage
// actually landed. The catalog decides what proceeds, so captures whose
// backup found no blobs are left out instead of failing downstream. A sweep
// that finds nothing completes the job with no further stages.
func (c *Composer) FullPipeline(ctx context.Context, locationIDs []int64, bands []string, bounds *geo.Bounds, withTemporal bool) (*catalog.ProcessingJob, error) {
	if err := c.checkLocations(ctx, locationIDs); err != nil {
		return nil, err
	}
	job := c.newJob(JobFullPipeline, nil)
	discover, err := Task(units.NameDiscover, nil, units.DiscoverPayload{LocationIDs: locationIDs})
	if err != nil {
		return nil, err
	}
	if err := c.startStaged(ctx, job, discover); err != nil {
		return nil, err
	}

	go c.orchestrate(job.ID, func(ctx context.Context) error {
		ids, err := c.awaitDiscovery(ctx, discover.Task.TaskID)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			c.logger.Info("discovery found nothing new", zap.String("job_id", job.ID))
			return nil
		}

		backupIDs, err := c.submitBackupStage(ctx, job.ID, ids, true)
		if err != nil {
			return err
		}
		if err := c.awaitBackups(ctx, backupIDs); err != nil {
			return err
		}

		ready, err := c.backedUpCaptures(ctx, ids)
		if err != nil {
			return err
		}
		if len(ready) == 0 {
			c.logger.Info("no discovered captures were backed up",
				zap.String("job_id", job.ID), zap.Int("discovered", len(ids)))
			return nil
		}

		root, err := c.multiCaptureGraph(job, ready, bands, bounds, withTemporal)
		if err != nil {
			return err
		}
		return c.submitStage(ctx, job.ID, root)
	})
	return job, nil
}

// ReprocessExisting reruns the processing pipeline over captures that are
// already backed up, newest first, up to limit. The mission filter is a
// substring match on mission_id; empty defaults to Sentinel-2.
func (c *Composer) ReprocessExisting(ctx context.Context, mission string, bands []string, bounds *geo.Bounds, limit int, withTemporal bool) (*catalog.ProcessingJob, error) {
	if mission == "" {
		mission = platform.MissionSentinel
	}
	backedUp := true
	captures, err := c.repo.ListCaptures(ctx, catalog.CaptureFilter{
		BackedUp:    &backedUp,
		MissionLike: []string{mission},
		NewestFirst: true,
		Limit:       limit,
	})
	if err != nil {
		return nil, err
	}
	if len(captures) == 0 {
		return nil, catalog.ErrCaptureNotFound
	}
	ids := make([]int64, len(captures))
	for i, row := range captures {
		ids[i] = row.ID
	}

	job := c.newJob(JobReprocess, nil)
	root, err := c.multiCaptureGraph(job, ids, bands, bounds, withTemporal)
	if err != nil {
		return nil, err
	}
	return job, c.start(ctx, job, root)
}

// LocationCaptures processes every backed-up capture whose footprint covers
// the location's center, cropped to the location's bounds.
func (c *Composer) LocationCaptures(ctx context.Context, locationID int64, bands []string, withTemporal bool) (*catalog.ProcessingJob, error) {
	loc, err := c.repo.GetLocation(ctx, locationID)
	if err != nil {
		return nil, err
	}
	backedUp := true
	captures, err := c.repo.ListCaptures(ctx, catalog.CaptureFilter{BackedUp: &backedUp})
	if err != nil {
		return nil, err
	}
	var ids []int64
	for _, row := range captures {
		if row.Footprint().Contains(loc.Latitude, loc.Longitude) {
			ids = append(ids, row.ID)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("location %d: no backed-up captures cover it: %w", locationID, catalog.ErrCaptureNotFound)
	}

	bounds := loc.Bounds()
	job := c.newJob(JobLocationCaptures, nil)
	root, err := c.multiCaptureGraph(job, ids, bands, &bounds, withTemporal)
	if err != nil {
		return nil, err
	}
	return job, c.start(ctx, job, root)
}

// Poll returns the job row as the engine last left it.
func (c *Composer) Poll(ctx context.Context, jobID string) (*catalog.ProcessingJob, error) {
	return c.repo.GetJob(ctx, jobID)
}

// Cancel flags the job's remaining tasks for revocation.
func (c *Composer) Cancel(ctx context.Context, jobID string) error {
	return c.engine.Cancel(ctx, jobID)
}

// checkLocations fails fast when any requested location is unknown, before a
// job row is created.
func (c *Composer) checkLocations(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	locs, err := c.repo.ListLocationsByIDs(ctx, ids)
	if err != nil {
		return err
	}
	if len(locs) != len(ids) {
		return catalog.ErrLocationNotFound
	}
	return nil
}

func (c *Composer) newJob(jobType string, captureID *int64) *catalog.ProcessingJob {
	return &catalog.ProcessingJob{
		ID:        uuid.New().String(),
		JobType:   jobType,
		CaptureID: captureID,
		Status:    catalog.JobQueued,
	}
}

// start persists the job sized to the graph, publishes the root and moves the
// job to PROCESSING. The job id doubles as the trace id on every envelope the
// workflow produces.
func (c *Composer) start(ctx context.Context, job *catalog.ProcessingJob, root *Node) error {
	job.TotalTasks = CountTasks(root)
	if err := c.repo.CreateJob(ctx, job); err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	if err := c.engine.Submit(ctx, job.ID, job.ID, root); err != nil {
		return err
	}
	job.Status = catalog.JobProcessing
	return c.repo.UpdateJobStatus(ctx, job.ID, catalog.JobProcessing)
}

// startStaged starts a job whose later stages arrive from an orchestration
// goroutine. The hold keeps the engine from finalizing the job between
// stages; orchestrate lifts it.
func (c *Composer) startStaged(ctx context.Context, job *catalog.ProcessingJob, root *Node) error {
	if err := c.state.HoldJob(ctx, job.ID); err != nil {
		return fmt.Errorf("hold job %s: %w", job.ID, err)
	}
	if err := c.start(ctx, job, root); err != nil {
		if relErr := c.state.ReleaseJob(ctx, job.ID); relErr != nil {
			c.logger.Warn("release hold on failed start", zap.String("job_id", job.ID), zap.Error(relErr))
		}
		return err
	}
	return nil
}

// submitStage grows a running job by a late-sized graph and publishes it.
func (c *Composer) submitStage(ctx context.Context, jobID string, root *Node) error {
	if err := c.repo.AddJobTasks(ctx, jobID, CountTasks(root)); err != nil {
		return err
	}
	if err := c.repo.UpdateJobStatus(ctx, jobID, catalog.JobProcessing); err != nil {
		return err
	}
	return c.engine.Submit(ctx, jobID, jobID, root)
}

// submitBackupStage publishes the backup stage and returns the ids of its
// tasks so the caller can await them. With perCapture set each capture gets
// its own task for finer retry isolation; otherwise one task takes the whole
// id list.
func (c *Composer) submitBackupStage(ctx context.Context, jobID string, ids []int64, perCapture bool) ([]string, error) {
	if !perCapture {
		backup, err := Task(units.NameBackup, nil, units.BackupPayload{CaptureIDs: ids})
		if err != nil {
			return nil, err
		}
		return []string{backup.Task.TaskID}, c.submitStage(ctx, jobID, backup)
	}
	branches := make([]*Node, 0, len(ids))
	taskIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		id := id
		backup, err := Task(units.NameBackup, &id, units.BackupPayload{CaptureIDs: []int64{id}})
		if err != nil {
			return nil, err
		}
		branches = append(branches, backup)
		taskIDs = append(taskIDs, backup.Task.TaskID)
	}
	return taskIDs, c.submitStage(ctx, jobID, Group(nil, branches...))
}

// backedUpCaptures narrows a discovered id list to the captures the catalog
// now records as backed up and from a processable mission.
func (c *Composer) backedUpCaptures(ctx context.Context, ids []int64) ([]int64, error) {
	backedUp := true
	captures, err := c.repo.ListCaptures(ctx, catalog.CaptureFilter{
		IDs:         ids,
		BackedUp:    &backedUp,
		MissionLike: []string{platform.MissionLandsat8, platform.MissionSentinel},
	})
	if err != nil {
		return nil, err
	}
	ready := make([]int64, len(captures))
	for i, row := range captures {
		ready[i] = row.ID
	}
	return ready, nil
}

// orchestrate runs a staged pipeline's continuation detached from the
// submitting request. A stage error fails the whole job; otherwise the hold
// is lifted and the job finalized if its tasks already settled.
func (c *Composer) orchestrate(jobID string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.discoveryWait+c.backupWait+time.Minute)
	defer cancel()
	err := fn(ctx)
	if relErr := c.state.ReleaseJob(ctx, jobID); relErr != nil {
		c.logger.Warn("release staged job hold", zap.String("job_id", jobID), zap.Error(relErr))
	}
	if err != nil {
		c.logger.Error("staged pipeline aborted", zap.String("job_id", jobID), zap.Error(err))
		if err := c.repo.UpdateJobStatus(ctx, jobID, catalog.JobFailed); err != nil {
			c.logger.Error("fail job after stage abort", zap.String("job_id", jobID), zap.Error(err))
		}
		return
	}
	if err := c.engine.FinalizeIfDone(ctx, jobID); err != nil {
		c.logger.Error("finalize staged job", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (c *Composer) awaitDiscovery(ctx context.Context, taskID string) ([]int64, error) {
	var result units.DiscoverResult
	if err := c.awaitResult(ctx, taskID, c.discoveryWait, &result); err != nil {
		return nil, err
	}
	return result.NewCaptureIDs, nil
}

// awaitResult polls for a task's stored result until wait elapses, decoding
// it into out. A task observed in a terminal FAILURE state aborts the wait
// early.
func (c *Composer) awaitResult(ctx context.Context, taskID string, wait time.Duration, out any) error {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(awaitPollInterval)
	defer ticker.Stop()

	for {
		raw, ok, err := c.state.GetResult(ctx, taskID)
		if err != nil {
			return err
		}
		if ok {
			return json.Unmarshal(raw, out)
		}
		exec, err := c.repo.GetTaskExecution(ctx, taskID)
		if err == nil && exec.Status == catalog.StatusFailure {
			return fmt.Errorf("task %s failed: %s", taskID, exec.Error)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("task %s: %w", taskID, ErrAwaitTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// awaitBackups waits for every backup branch to reach a terminal outcome.
// Failed branches are tolerated; the catalog query afterwards decides which
// captures proceed.
func (c *Composer) awaitBackups(ctx context.Context, taskIDs []string) error {
	deadline := time.Now().Add(c.backupWait)
	ticker := time.NewTicker(awaitPollInterval)
	defer ticker.Stop()

	pending := make(map[string]struct{}, len(taskIDs))
	for _, id := range taskIDs {
		pending[id] = struct{}{}
	}
	for {
		for id := range pending {
			_, ok, err := c.state.GetResult(ctx, id)
			if err != nil {
				return err
			}
			if ok {
				delete(pending, id)
				continue
			}
			exec, err := c.repo.GetTaskExecution(ctx, id)
			if err == nil && (exec.Status == catalog.StatusFailure || exec.Status == catalog.StatusRevoked) {
				delete(pending, id)
			}
		}
		if len(pending) == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%d backup tasks: %w", len(pending), ErrAwaitTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// multiCaptureGraph fans the per-capture pipeline out over ids, with an
// optional temporal analysis joined on the end.
func (c *Composer) multiCaptureGraph(job *catalog.ProcessingJob, ids []int64, bands []string, bounds *geo.Bounds, withTemporal bool) (*Node, error) {
	branches := make([]*Node, 0, len(ids))
	for _, id := range ids {
		branch, err := capturePipeline(id, job.ID, bands, bounds)
		if err != nil {
			return nil, err
		}
		branches = append(branches, branch)
	}
	var callback *Node
	if withTemporal {
		var err error
		callback, err = Task(units.NameTemporal, nil, units.TemporalPayload{RunID: job.ID})
		if err != nil {
			return nil, err
		}
	}
	return Group(callback, branches...), nil
}

// capturePipeline is the core per-capture shape: download, stack-and-crop,
// then NDVI and RGB in parallel. The feature branches are tracked
// independently; one failing does not revoke the other.
func capturePipeline(captureID int64, runID string, bands []string, bounds *geo.Bounds) (*Node, error) {
	download, err := Task(units.NameDownloadBands, &captureID, units.DownloadPayload{CaptureID: captureID, Bands: bands})
	if err != nil {
		return nil, err
	}
	stack, err := Task(units.NameStackAndCrop, &captureID, units.StackPayload{
		CaptureID: captureID,
		RunID:     runID,
		Bands:     bands,
		Bounds:    bounds,
	})
	if err != nil {
		return nil, err
	}
	ndvi, err := Task(units.NameComputeNDVI, &captureID, units.FeaturePayload{CaptureID: captureID, RunID: runID, Bands: bands})
	if err != nil {
		return nil, err
	}
	rgb, err := Task(units.NameGenerateRGB, &captureID, units.FeaturePayload{CaptureID: captureID, RunID: runID, Bands: bands})
	if err != nil {
		return nil, err
	}
	return Chain(download, stack, Group(nil, ndvi, rgb)), nil
}
