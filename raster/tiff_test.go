package raster

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestSaveLoadRaster_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roundtrip.tif")

	src := NewGrid(3, 5, 7, Transform{A: 10, C: 399960, E: -10, F: 2100000}, "EPSG:32614")
	for i := range src.Data {
		src.Data[i] = float32(i) * 0.5
	}
	src.Set(1, 2, 3, float32(math.NaN()))

	if err := SaveRaster(path, src); err != nil {
		t.Fatalf("SaveRaster failed: %v", err)
	}
	got, err := LoadRaster(path)
	if err != nil {
		t.Fatalf("LoadRaster failed: %v", err)
	}

	if got.Bands != 3 || got.Height != 5 || got.Width != 7 {
		t.Fatalf("Expected 3x5x7, got %dx%dx%d", got.Bands, got.Height, got.Width)
	}
	if got.Transform != src.Transform {
		t.Errorf("Expected transform %+v, got %+v", src.Transform, got.Transform)
	}
	if got.CRS != src.CRS {
		t.Errorf("Expected CRS %s, got %s", src.CRS, got.CRS)
	}
	for i := range src.Data {
		a, b := float64(src.Data[i]), float64(got.Data[i])
		if math.IsNaN(a) && math.IsNaN(b) {
			continue
		}
		if a != b {
			t.Fatalf("pixel %d: expected %v, got %v", i, a, b)
		}
	}
}

func TestSaveLoadRaster_SingleBandWGS84(t *testing.T) {
	path := filepath.Join(t.TempDir(), "single.tif")

	src := NewGrid(1, 4, 4, Transform{A: 0.25, C: -98.9, E: -0.25, F: 19.28}, WGS84)
	for i := range src.Data {
		src.Data[i] = float32(i)
	}

	if err := SaveRaster(path, src); err != nil {
		t.Fatalf("SaveRaster failed: %v", err)
	}
	got, err := LoadRaster(path)
	if err != nil {
		t.Fatalf("LoadRaster failed: %v", err)
	}
	if got.CRS != WGS84 {
		t.Errorf("Expected CRS %s, got %s", WGS84, got.CRS)
	}
	if got.At(0, 1, 2) != 6 {
		t.Errorf("Expected value 6 at (1,2), got %v", got.At(0, 1, 2))
	}
}

func TestSaveRaster_RejectsRotatedTransform(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rotated.tif")
	g := NewGrid(1, 2, 2, Transform{A: 1, B: 0.5, E: -1, F: 2}, WGS84)
	if err := SaveRaster(path, g); err == nil {
		t.Fatal("Expected error for rotated transform, got nil")
	}
}

func TestLoadRaster_RejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.tif")
	if err := os.WriteFile(path, []byte("MM not a tiff"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := LoadRaster(path); err == nil {
		t.Fatal("Expected error for non-TIFF input, got nil")
	}
}
