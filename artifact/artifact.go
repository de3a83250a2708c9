// Package artifact stores the intermediate and final rasters a workflow run
// produces. Artifacts are keyed by capture and run so that concurrent runs
// over the same capture never read each other's intermediates.
package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aubravo/earthgazer/raster"
)

var ErrArtifactNotFound = errors.New("artifact not found")

// Kind names a raster artifact within a run.
type Kind string

const (
	KindStacked Kind = "stacked"
	KindNDVI    Kind = "ndvi"
	KindRGB     Kind = "rgb"
	KindTrend   Kind = "trend"
)

// Key identifies one artifact.
type Key struct {
	CaptureID int64
	RunID     string
	Kind      Kind
}

// Store persists run-scoped rasters.
type Store interface {
	Save(key Key, g *raster.Grid) (string, error)
	Load(key Key) (*raster.Grid, error)
	// Path returns where Save would write the artifact.
	Path(key Key) string
}

// FS keeps artifacts as GeoTIFFs under a root directory, one file per key.
type FS struct {
	Root string
}

func NewFS(root string) *FS { return &FS{Root: root} }

func (s *FS) Path(key Key) string {
	name := fmt.Sprintf("%s_%d_%s.tif", key.Kind, key.CaptureID, key.RunID)
	return filepath.Join(s.Root, name)
}

func (s *FS) Save(key Key, g *raster.Grid) (string, error) {
	p := s.Path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", err
	}
	if err := raster.SaveRaster(p, g); err != nil {
		return "", fmt.Errorf("save %s artifact for capture %d: %w", key.Kind, key.CaptureID, err)
	}
	return p, nil
}

func (s *FS) Load(key Key) (*raster.Grid, error) {
	p := s.Path(key)
	g, err := raster.LoadRaster(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s for capture %d run %s: %w", key.Kind, key.CaptureID, key.RunID, ErrArtifactNotFound)
		}
		return nil, err
	}
	return g, nil
}
