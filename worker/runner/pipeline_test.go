package runner

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/aubravo/earthgazer/artifact"
	"github.com/aubravo/earthgazer/catalog"
	"github.com/aubravo/earthgazer/geo"
	"github.com/aubravo/earthgazer/objectstore"
	"github.com/aubravo/earthgazer/platform"
	"github.com/aubravo/earthgazer/queue"
	"github.com/aubravo/earthgazer/raster"
	"github.com/aubravo/earthgazer/tracker"
	"github.com/aubravo/earthgazer/units"
	"github.com/aubravo/earthgazer/workflow"
)

// pumpProducer plays the role of Kafka for in-process pipeline runs: the
// test pops envelopes and hands them to the runner in publish order.
type pumpProducer struct {
	pending []*queue.Envelope
}

func (p *pumpProducer) Publish(_ context.Context, _ string, env *queue.Envelope) error {
	p.pending = append(p.pending, env)
	return nil
}

func (p *pumpProducer) Close() error { return nil }

func (p *pumpProducer) pop() *queue.Envelope {
	if len(p.pending) == 0 {
		return nil
	}
	env := p.pending[0]
	p.pending = p.pending[1:]
	return env
}

// TestSingleCapturePipeline drives a full capture through download, stack,
// NDVI and RGB against synthesized scene data on local storage.
func TestSingleCapturePipeline(t *testing.T) {
	ctx := context.Background()
	storeRoot := t.TempDir()
	dataDir := t.TempDir()
	featuresDir := t.TempDir()

	repo := catalog.NewMemory()
	store := objectstore.NewFS(storeRoot)
	artifacts := artifact.NewFS(t.TempDir())
	logger := zaptest.NewLogger(t)

	c := &catalog.Capture{
		MainID:      "LC08_L1TP_026047_20230601",
		MissionID:   platform.MissionLandsat8,
		SensingTime: time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := repo.CreateCapture(ctx, c); err != nil {
		t.Fatalf("CreateCapture failed: %v", err)
	}
	if err := repo.MarkBackedUp(ctx, c.ID, "backups/capture_data/"+strconv.FormatInt(c.ID, 10), time.Now()); err != nil {
		t.Fatalf("MarkBackedUp failed: %v", err)
	}

	// A 50x50 WGS84 scene over the volcano area: blue 0.1, green 0.15,
	// red 0.2, near-infrared 0.8, so NDVI is a uniform 0.6.
	transform := raster.Transform{A: 0.02, C: -99.0, E: -0.02, F: 19.5}
	values := map[string]float32{"B02": 0.1, "B03": 0.15, "B04": 0.2, "B08": 0.8}
	for band, v := range values {
		g := raster.NewGrid(1, 50, 50, transform, raster.WGS84)
		plane := g.Band(0)
		for i := range plane {
			plane[i] = v
		}
		blob := filepath.Join(storeRoot, "backups", "capture_data", strconv.FormatInt(c.ID, 10),
			c.MainID+"_"+band+".TIF")
		if err := raster.SaveRaster(blob, g); err != nil {
			t.Fatalf("seed band %s: %v", band, err)
		}
	}

	registry := units.NewRegistry()
	registry.Register(units.NewDownloadBands(repo, store, "backups", dataDir, logger))
	registry.Register(units.NewStackAndCrop(artifacts, dataDir, logger))
	registry.Register(units.NewComputeNDVI(artifacts, featuresDir, logger))
	registry.Register(units.NewGenerateRGB(artifacts, featuresDir, logger))

	producer := &pumpProducer{}
	state := workflow.NewMemoryState()
	engine := workflow.NewEngine(producer, state, repo, registry, logger)
	tr := tracker.New(repo, nil, "test-worker", logger)
	run := New(registry, tr, engine, logger)
	composer := workflow.NewComposer(repo, engine, state, time.Minute, time.Minute, logger)

	bounds := geo.Bounds{MinLon: -98.9, MinLat: 18.96, MaxLon: -98.4, MaxLat: 19.28}
	job, err := composer.SingleCapture(ctx, c.ID, nil, &bounds)
	if err != nil {
		t.Fatalf("SingleCapture failed: %v", err)
	}

	for env := producer.pop(); env != nil; env = producer.pop() {
		if err := run.Handle(ctx, env); err != nil {
			t.Fatalf("Handle failed for %s: %v", env.Unit, err)
		}
	}

	got, err := repo.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != catalog.JobCompleted {
		t.Fatalf("Expected COMPLETED job, got %s", got.Status)
	}
	if got.CompletedTasks != 4 || got.FailedTasks != 0 {
		t.Errorf("Expected 4 completed tasks, got %+v", got)
	}

	execs, err := repo.ListTaskExecutions(ctx, catalog.TaskFilter{CaptureID: &c.ID})
	if err != nil {
		t.Fatalf("ListTaskExecutions failed: %v", err)
	}
	if len(execs) != 4 {
		t.Fatalf("Expected 4 executions, got %d", len(execs))
	}
	for _, ex := range execs {
		if ex.Status != catalog.StatusSuccess {
			t.Errorf("Expected SUCCESS for %s, got %s", ex.TaskName, ex.Status)
		}
	}

	idStr := strconv.FormatInt(c.ID, 10)
	ndvi, err := raster.LoadRaster(filepath.Join(featuresDir, "ndvi_"+idStr+".tif"))
	if err != nil {
		t.Fatalf("Expected NDVI raster: %v", err)
	}
	if ndvi.Height >= 50 || ndvi.Width >= 50 {
		t.Errorf("Expected NDVI cropped below scene size, got %dx%d", ndvi.Height, ndvi.Width)
	}
	if v := float64(ndvi.At(0, 0, 0)); math.Abs(v-0.6) > 1e-5 {
		t.Errorf("Expected NDVI 0.6, got %f", v)
	}

	rgb, err := raster.LoadRaster(filepath.Join(featuresDir, "rgb_"+idStr+".tif"))
	if err != nil {
		t.Fatalf("Expected RGB raster: %v", err)
	}
	if rgb.Bands != 3 {
		t.Errorf("Expected 3-band RGB raster, got %d", rgb.Bands)
	}
	if _, err := os.Stat(filepath.Join(featuresDir, "rgb_"+idStr+".png")); err != nil {
		t.Errorf("Expected RGB quicklook: %v", err)
	}
}
