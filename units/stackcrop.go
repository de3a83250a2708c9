package units

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/aubravo/earthgazer/artifact"
	"github.com/aubravo/earthgazer/geo"
	"github.com/aubravo/earthgazer/raster"
)

type StackPayload struct {
	CaptureID int64       `json:"capture_id"`
	RunID     string      `json:"run_id"`
	Bands     []string    `json:"bands,omitempty"`
	Bounds    *geo.Bounds `json:"bounds,omitempty"`
}

type StackResult struct {
	ArtifactPath string   `json:"artifact_path"`
	Bands        []string `json:"bands"`
	Height       int      `json:"height"`
	Width        int      `json:"width"`
	CRS          string   `json:"crs"`
}

// StackAndCrop reads the downloaded bands of a capture, stacks them onto a
// common grid, crops to the requested bounds and persists the result as the
// run's stacked artifact. The downstream NDVI and RGB units load the artifact
// instead of receiving pixel data through the queue.
type StackAndCrop struct {
	artifacts artifact.Store
	dataDir   string
	logger    *zap.Logger
}

func NewStackAndCrop(artifacts artifact.Store, dataDir string, logger *zap.Logger) *StackAndCrop {
	return &StackAndCrop{artifacts: artifacts, dataDir: dataDir, logger: logger}
}

func (u *StackAndCrop) Name() string { return NameStackAndCrop }
func (u *StackAndCrop) Lane() Lane   { return LaneCPU }

func (u *StackAndCrop) RetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseBackoff: 5 * time.Second, MaxBackoff: 5 * time.Minute, Jitter: true}
}

func (u *StackAndCrop) Execute(ctx context.Context, payload []byte) (any, error) {
	var p StackPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, Fatal(fmt.Errorf("stack payload: %w", err))
	}
	if len(p.Bands) == 0 {
		p.Bands = DefaultBands
	}

	sceneDir := filepath.Join(u.dataDir, "raw", fmt.Sprintf("%d", p.CaptureID))
	stack, err := raster.StackBands(sceneDir, p.Bands)
	if err != nil {
		if errors.Is(err, raster.ErrBandNotFound) {
			return nil, Fatal(fmt.Errorf("capture %d: %w", p.CaptureID, err))
		}
		return nil, fmt.Errorf("stack capture %d: %w", p.CaptureID, err)
	}

	if p.Bounds != nil {
		stack, err = raster.CropToBounds(stack, *p.Bounds)
		if err != nil {
			return nil, Fatal(fmt.Errorf("crop capture %d: %w", p.CaptureID, err))
		}
	}

	key := artifact.Key{CaptureID: p.CaptureID, RunID: p.RunID, Kind: artifact.KindStacked}
	path, err := u.artifacts.Save(key, stack)
	if err != nil {
		return nil, err
	}
	u.logger.Info("stack persisted",
		zap.Int64("capture_id", p.CaptureID),
		zap.String("run_id", p.RunID),
		zap.Int("height", stack.Height),
		zap.Int("width", stack.Width))
	return StackResult{
		ArtifactPath: path,
		Bands:        p.Bands,
		Height:       stack.Height,
		Width:        stack.Width,
		CRS:          string(stack.CRS),
	}, nil
}
