package units

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/aubravo/earthgazer/catalog"
	"github.com/aubravo/earthgazer/objectstore"
	"github.com/aubravo/earthgazer/platform"
)

// BackupPayload selects which captures to back up. Empty means every capture
// from a processable mission that is not backed up yet.
type BackupPayload struct {
	CaptureIDs []int64 `json:"capture_ids,omitempty"`
}

type BackupResult struct {
	BackedUpIDs []int64 `json:"backed_up_ids"`
	Skipped     int     `json:"skipped"`
}

// Backup copies every band and metadata blob of a capture from its provider
// bucket into the backup bucket under capture_data/<id>/, then marks the
// capture backed up. Already-backed-up captures are filtered out up front, so
// re-running is a no-op.
type Backup struct {
	repo   catalog.Repository
	store  objectstore.Store
	bucket string
	logger *zap.Logger
}

func NewBackup(repo catalog.Repository, store objectstore.Store, backupBucket string, logger *zap.Logger) *Backup {
	return &Backup{repo: repo, store: store, bucket: backupBucket, logger: logger}
}

func (u *Backup) Name() string { return NameBackup }
func (u *Backup) Lane() Lane   { return LaneIO }

func (u *Backup) RetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 5, BaseBackoff: 10 * time.Second, MaxBackoff: 10 * time.Minute, Jitter: true}
}

func (u *Backup) Execute(ctx context.Context, payload []byte) (any, error) {
	var p BackupPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, Fatal(fmt.Errorf("backup payload: %w", err))
	}

	notBackedUp := false
	captures, err := u.repo.ListCaptures(ctx, catalog.CaptureFilter{
		IDs:         p.CaptureIDs,
		BackedUp:    &notBackedUp,
		MissionLike: []string{platform.MissionLandsat8, platform.MissionSentinel},
	})
	if err != nil {
		return nil, fmt.Errorf("list pending captures: %w", err)
	}

	result := BackupResult{BackedUpIDs: []int64{}}
	for _, c := range captures {
		copied, err := u.backupCapture(ctx, c)
		if err != nil {
			return nil, err
		}
		if copied == 0 {
			u.logger.Warn("no blobs matched capture, leaving it pending",
				zap.Int64("capture_id", c.ID), zap.String("base_url", c.BaseURL))
			result.Skipped++
			continue
		}
		dest := fmt.Sprintf("%s/capture_data/%d", u.bucket, c.ID)
		if err := u.repo.MarkBackedUp(ctx, c.ID, dest, time.Now().UTC()); err != nil {
			return nil, fmt.Errorf("mark capture %d backed up: %w", c.ID, err)
		}
		result.BackedUpIDs = append(result.BackedUpIDs, c.ID)
		u.logger.Info("capture backed up",
			zap.Int64("capture_id", c.ID), zap.Int("blobs", copied))
	}
	return result, nil
}

func (u *Backup) backupCapture(ctx context.Context, c *catalog.Capture) (int, error) {
	srcBucket, prefix, err := objectstore.ParseURL(c.BaseURL)
	if err != nil {
		return 0, Fatal(fmt.Errorf("capture %d: %w", c.ID, err))
	}
	blobs, err := u.store.List(ctx, srcBucket, prefix)
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", c.BaseURL, err)
	}

	copied := 0
	for _, blob := range blobs {
		if _, ok := platform.MatchBandBlob("/" + blob); !ok {
			continue
		}
		dst := fmt.Sprintf("capture_data/%d/%s", c.ID, path.Base(blob))
		if err := u.store.Copy(ctx, srcBucket, blob, u.bucket, dst); err != nil {
			return 0, fmt.Errorf("copy %s: %w", blob, err)
		}
		copied++
	}
	return copied, nil
}
