package units

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/aubravo/earthgazer/catalog"
	"github.com/aubravo/earthgazer/platform"
	"github.com/aubravo/earthgazer/raster"
)

func writeNDVI(t *testing.T, dir string, captureID int64, value float32) {
	t.Helper()
	g := raster.NewGrid(1, 4, 4, raster.Transform{A: 0.01, C: -99, E: -0.01, F: 19.5}, raster.WGS84)
	plane := g.Band(0)
	for i := range plane {
		plane[i] = value
	}
	path := filepath.Join(dir, fmt.Sprintf("ndvi_%d.tif", captureID))
	if err := raster.SaveRaster(path, g); err != nil {
		t.Fatalf("write ndvi raster: %v", err)
	}
}

func TestTemporalAnalysis(t *testing.T) {
	ctx := context.Background()
	repo := catalog.NewMemory()
	featuresDir := t.TempDir()

	values := []float32{0.2, 0.4, 0.6}
	for i, v := range values {
		c := &catalog.Capture{
			MainID:      fmt.Sprintf("scene-%d", i),
			MissionID:   platform.MissionSentinel,
			SensingTime: time.Date(2019+i, 6, 1, 0, 0, 0, 0, time.UTC),
		}
		if err := repo.CreateCapture(ctx, c); err != nil {
			t.Fatalf("CreateCapture failed: %v", err)
		}
		writeNDVI(t, featuresDir, c.ID, v)
	}

	unit := NewTemporalAnalysis(repo, featuresDir, zaptest.NewLogger(t))
	payload, _ := json.Marshal(TemporalPayload{RunID: "run-1", MinValidYears: 3})
	out, err := unit.Execute(ctx, payload)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	result := out.(TemporalResult)
	if result.RecordCount != 3 {
		t.Errorf("Expected 3 records, got %d", result.RecordCount)
	}

	f, err := os.Open(result.TimeSeriesPath)
	if err != nil {
		t.Fatalf("Expected time series csv: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("Expected header plus 3 rows, got %d", len(rows))
	}
	if rows[0][0] != "date" || rows[0][1] != "mean_ndvi" {
		t.Errorf("Unexpected header: %v", rows[0])
	}
	// Rows come back sorted by date, so the means follow the values.
	for i, want := range []float64{0.2, 0.4, 0.6} {
		got, err := strconv.ParseFloat(rows[i+1][1], 64)
		if err != nil {
			t.Fatalf("parse mean: %v", err)
		}
		if diff := got - want; diff > 1e-5 || diff < -1e-5 {
			t.Errorf("Expected mean %f at row %d, got %f", want, i, got)
		}
	}

	trend, err := raster.LoadRaster(result.TrendMapPath)
	if err != nil {
		t.Fatalf("Expected trend map: %v", err)
	}
	// NDVI climbs 0.2 per year across three years.
	if v := float64(trend.At(0, 0, 0)); v < 0.19 || v > 0.21 {
		t.Errorf("Expected slope near 0.2, got %f", v)
	}

	if _, err := os.Stat(result.QuicklookPath); err != nil {
		t.Errorf("Expected trend quicklook: %v", err)
	}
}

func TestTemporalAnalysis_NoRastersIsFatal(t *testing.T) {
	unit := NewTemporalAnalysis(catalog.NewMemory(), t.TempDir(), zaptest.NewLogger(t))
	payload, _ := json.Marshal(TemporalPayload{RunID: "run-1"})
	_, err := unit.Execute(context.Background(), payload)
	if err == nil || !IsFatal(err) {
		t.Fatalf("Expected fatal error with no ndvi rasters, got %v", err)
	}
}

func TestTemporalAnalysis_SkipsOrphanRasters(t *testing.T) {
	ctx := context.Background()
	repo := catalog.NewMemory()
	featuresDir := t.TempDir()

	c := &catalog.Capture{
		MainID:      "scene-known",
		MissionID:   platform.MissionSentinel,
		SensingTime: time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := repo.CreateCapture(ctx, c); err != nil {
		t.Fatalf("CreateCapture failed: %v", err)
	}
	writeNDVI(t, featuresDir, c.ID, 0.5)
	writeNDVI(t, featuresDir, 9999, 0.9)

	unit := NewTemporalAnalysis(repo, featuresDir, zaptest.NewLogger(t))
	payload, _ := json.Marshal(TemporalPayload{RunID: "run-1", MinValidYears: 1})
	out, err := unit.Execute(ctx, payload)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	result := out.(TemporalResult)
	if result.RecordCount != 1 {
		t.Errorf("Expected orphan raster skipped, got %d records", result.RecordCount)
	}
}
