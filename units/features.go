package units

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/aubravo/earthgazer/artifact"
	"github.com/aubravo/earthgazer/raster"
)

// FeaturePayload drives both NDVI and RGB units: which run's stacked
// artifact to read and which bands it carries.
type FeaturePayload struct {
	CaptureID int64    `json:"capture_id"`
	RunID     string   `json:"run_id"`
	Bands     []string `json:"bands,omitempty"`
}

type FeatureResult struct {
	RasterPath    string `json:"raster_path"`
	QuicklookPath string `json:"quicklook_path,omitempty"`
}

// ComputeNDVI loads a run's stacked artifact and writes the NDVI raster to
// the features directory as ndvi_<capture_id>.tif.
type ComputeNDVI struct {
	artifacts   artifact.Store
	featuresDir string
	logger      *zap.Logger
}

func NewComputeNDVI(artifacts artifact.Store, featuresDir string, logger *zap.Logger) *ComputeNDVI {
	return &ComputeNDVI{artifacts: artifacts, featuresDir: featuresDir, logger: logger}
}

func (u *ComputeNDVI) Name() string { return NameComputeNDVI }
func (u *ComputeNDVI) Lane() Lane   { return LaneCPU }

func (u *ComputeNDVI) RetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseBackoff: 5 * time.Second, MaxBackoff: 5 * time.Minute, Jitter: true}
}

func (u *ComputeNDVI) Execute(ctx context.Context, payload []byte) (any, error) {
	var p FeaturePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, Fatal(fmt.Errorf("ndvi payload: %w", err))
	}
	if len(p.Bands) == 0 {
		p.Bands = DefaultBands
	}

	stack, err := loadStack(u.artifacts, p)
	if err != nil {
		return nil, err
	}
	ndvi, err := raster.ComputeNDVI(stack, p.Bands)
	if err != nil {
		return nil, Fatal(fmt.Errorf("capture %d: %w", p.CaptureID, err))
	}

	out := filepath.Join(u.featuresDir, fmt.Sprintf("ndvi_%d.tif", p.CaptureID))
	if err := saveFeature(out, ndvi); err != nil {
		return nil, err
	}
	u.logger.Info("ndvi written", zap.Int64("capture_id", p.CaptureID), zap.String("path", out))
	return FeatureResult{RasterPath: out}, nil
}

// GenerateRGB loads a run's stacked artifact and writes the stretched
// true-color raster plus a PNG quicklook.
type GenerateRGB struct {
	artifacts   artifact.Store
	featuresDir string
	logger      *zap.Logger
}

func NewGenerateRGB(artifacts artifact.Store, featuresDir string, logger *zap.Logger) *GenerateRGB {
	return &GenerateRGB{artifacts: artifacts, featuresDir: featuresDir, logger: logger}
}

func (u *GenerateRGB) Name() string { return NameGenerateRGB }
func (u *GenerateRGB) Lane() Lane   { return LaneCPU }

func (u *GenerateRGB) RetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseBackoff: 5 * time.Second, MaxBackoff: 5 * time.Minute, Jitter: true}
}

func (u *GenerateRGB) Execute(ctx context.Context, payload []byte) (any, error) {
	var p FeaturePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, Fatal(fmt.Errorf("rgb payload: %w", err))
	}
	if len(p.Bands) == 0 {
		p.Bands = DefaultBands
	}

	stack, err := loadStack(u.artifacts, p)
	if err != nil {
		return nil, err
	}
	rgb, err := raster.ComputeRGB(stack, p.Bands)
	if err != nil {
		return nil, Fatal(fmt.Errorf("capture %d: %w", p.CaptureID, err))
	}

	out := filepath.Join(u.featuresDir, fmt.Sprintf("rgb_%d.tif", p.CaptureID))
	if err := saveFeature(out, rgb); err != nil {
		return nil, err
	}
	quicklook := filepath.Join(u.featuresDir, fmt.Sprintf("rgb_%d.png", p.CaptureID))
	if err := raster.SaveQuicklook(quicklook, rgb); err != nil {
		return nil, fmt.Errorf("quicklook for capture %d: %w", p.CaptureID, err)
	}
	u.logger.Info("rgb written", zap.Int64("capture_id", p.CaptureID), zap.String("path", out))
	return FeatureResult{RasterPath: out, QuicklookPath: quicklook}, nil
}

func loadStack(store artifact.Store, p FeaturePayload) (*raster.Grid, error) {
	key := artifact.Key{CaptureID: p.CaptureID, RunID: p.RunID, Kind: artifact.KindStacked}
	g, err := store.Load(key)
	if err != nil {
		if errors.Is(err, artifact.ErrArtifactNotFound) {
			return nil, Fatal(err)
		}
		return nil, err
	}
	return g, nil
}

func saveFeature(path string, g *raster.Grid) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := raster.SaveRaster(path, g); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}
