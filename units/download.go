package units

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aubravo/earthgazer/catalog"
	"github.com/aubravo/earthgazer/objectstore"
	"github.com/aubravo/earthgazer/raster"
)

type DownloadPayload struct {
	CaptureID int64    `json:"capture_id"`
	Bands     []string `json:"bands,omitempty"`
}

type DownloadResult struct {
	SceneDir string   `json:"scene_dir"`
	Bands    []string `json:"bands"`
}

// DownloadBands pulls a backed-up capture's requested bands from the backup
// bucket into a local per-capture directory. A capture that was never backed
// up fails immediately; there is nothing to retry against.
type DownloadBands struct {
	repo    catalog.Repository
	store   objectstore.Store
	bucket  string
	dataDir string
	logger  *zap.Logger
}

func NewDownloadBands(repo catalog.Repository, store objectstore.Store, backupBucket, dataDir string, logger *zap.Logger) *DownloadBands {
	return &DownloadBands{repo: repo, store: store, bucket: backupBucket, dataDir: dataDir, logger: logger}
}

func (u *DownloadBands) Name() string { return NameDownloadBands }
func (u *DownloadBands) Lane() Lane   { return LaneIO }

func (u *DownloadBands) RetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 5, BaseBackoff: 5 * time.Second, MaxBackoff: 10 * time.Minute, Jitter: true}
}

func (u *DownloadBands) Execute(ctx context.Context, payload []byte) (any, error) {
	var p DownloadPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, Fatal(fmt.Errorf("download payload: %w", err))
	}
	if len(p.Bands) == 0 {
		p.Bands = DefaultBands
	}

	c, err := u.repo.GetCapture(ctx, p.CaptureID)
	if err != nil {
		if errors.Is(err, catalog.ErrCaptureNotFound) {
			return nil, Fatal(err)
		}
		return nil, err
	}
	if !c.BackedUp {
		return nil, Fatal(fmt.Errorf("capture %d: %w", c.ID, ErrNotBackedUp))
	}

	prefix := fmt.Sprintf("capture_data/%d/", c.ID)
	blobs, err := u.store.List(ctx, u.bucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("list backup of capture %d: %w", c.ID, err)
	}

	sceneDir := filepath.Join(u.dataDir, "raw", fmt.Sprintf("%d", c.ID))
	downloaded := make([]string, 0, len(p.Bands))
	for _, band := range p.Bands {
		blob, ok := findBandBlob(blobs, band)
		if !ok {
			return nil, Fatal(fmt.Errorf("capture %d band %s: %w", c.ID, band, raster.ErrBandNotFound))
		}
		local := filepath.Join(sceneDir, band+filepath.Ext(blob))
		if err := u.store.Download(ctx, u.bucket, blob, local); err != nil {
			return nil, fmt.Errorf("download %s: %w", blob, err)
		}
		downloaded = append(downloaded, band)
	}
	u.logger.Info("bands downloaded",
		zap.Int64("capture_id", c.ID),
		zap.Strings("bands", downloaded),
		zap.String("scene_dir", sceneDir))
	return DownloadResult{SceneDir: sceneDir, Bands: downloaded}, nil
}

// findBandBlob matches a requested band against blob names by suffix, for
// both Landsat (_B04.TIF) and Sentinel (_B04.jp2) conventions.
func findBandBlob(blobs []string, band string) (string, bool) {
	for _, blob := range blobs {
		for _, ext := range []string{".TIF", ".tif", ".jp2"} {
			if strings.HasSuffix(blob, "_"+band+ext) {
				return blob, true
			}
		}
	}
	return "", false
}
