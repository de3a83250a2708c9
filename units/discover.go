package units

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aubravo/earthgazer/catalog"
	"github.com/aubravo/earthgazer/platform"
)

// DiscoverPayload selects which locations to sweep. Empty means every active
// location.
type DiscoverPayload struct {
	LocationIDs []int64 `json:"location_ids,omitempty"`
}

// DiscoverResult reports what one sweep found.
type DiscoverResult struct {
	NewCaptureIDs []int64 `json:"new_capture_ids"`
	Duplicates    int     `json:"duplicates"`
	Scanned       int     `json:"scanned"`
}

// Discover queries each imagery platform for scenes covering each location's
// center point inside its date window and inserts the captures that are not
// already cataloged.
type Discover struct {
	repo      catalog.Repository
	imagery   platform.ImageryCatalog
	platforms map[string]platform.Platform
	logger    *zap.Logger
}

func NewDiscover(repo catalog.Repository, imagery platform.ImageryCatalog, platforms map[string]platform.Platform, logger *zap.Logger) *Discover {
	return &Discover{repo: repo, imagery: imagery, platforms: platforms, logger: logger}
}

func (u *Discover) Name() string { return NameDiscover }
func (u *Discover) Lane() Lane   { return LaneIO }

func (u *Discover) RetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseBackoff: 10 * time.Second, MaxBackoff: 10 * time.Minute, Jitter: true}
}

func (u *Discover) Execute(ctx context.Context, payload []byte) (any, error) {
	var p DiscoverPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, Fatal(fmt.Errorf("discover payload: %w", err))
	}

	locations, err := u.targetLocations(ctx, p.LocationIDs)
	if err != nil {
		return nil, err
	}

	result := DiscoverResult{NewCaptureIDs: []int64{}}
	for _, loc := range locations {
		newBefore, dupBefore := len(result.NewCaptureIDs), result.Duplicates
		for _, plat := range u.platforms {
			scenes, err := u.imagery.QueryScenes(ctx, plat, platform.SceneQuery{
				From: loc.FromDate,
				To:   loc.ToDate,
				Lat:  loc.Latitude,
				Lon:  loc.Longitude,
			})
			if err != nil {
				return nil, fmt.Errorf("query %s for location %d: %w", plat.Name, loc.ID, err)
			}
			result.Scanned += len(scenes)
			for _, scene := range scenes {
				row := captureFromScene(scene)
				if err := u.repo.CreateCapture(ctx, row); err != nil {
					if errors.Is(err, catalog.ErrDuplicateCapture) {
						result.Duplicates++
						continue
					}
					return nil, fmt.Errorf("insert capture %s: %w", scene.MainID, err)
				}
				result.NewCaptureIDs = append(result.NewCaptureIDs, row.ID)
			}
		}
		u.logger.Info("location swept",
			zap.Int64("location_id", loc.ID),
			zap.Int("new", len(result.NewCaptureIDs)-newBefore),
			zap.Int("duplicates", result.Duplicates-dupBefore))
	}
	return result, nil
}

func (u *Discover) targetLocations(ctx context.Context, ids []int64) ([]*catalog.Location, error) {
	if len(ids) == 0 {
		locs, err := u.repo.ListLocations(ctx, true)
		if err != nil {
			return nil, fmt.Errorf("list active locations: %w", err)
		}
		return locs, nil
	}
	locs, err := u.repo.ListLocationsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	if len(locs) != len(ids) {
		return nil, Fatal(fmt.Errorf("%d of %d requested locations: %w", len(ids)-len(locs), len(ids), catalog.ErrLocationNotFound))
	}
	return locs, nil
}

func captureFromScene(s platform.SceneRecord) *catalog.Capture {
	return &catalog.Capture{
		MainID:           s.MainID,
		SecondaryID:      s.SecondaryID,
		MissionID:        s.MissionID,
		SensingTime:      s.SensingTime,
		NorthLat:         s.NorthLat,
		SouthLat:         s.SouthLat,
		WestLon:          s.WestLon,
		EastLon:          s.EastLon,
		CloudCover:       s.CloudCover,
		Measure:          catalog.RadiometricMeasure(s.Radiometric),
		AtmosphericLevel: catalog.AtmosphericLevel(s.AtmosphericLevel),
		MGRSTile:         s.MGRSTile,
		WRSPath:          s.WRSPath,
		WRSRow:           s.WRSRow,
		DataType:         s.DataType,
		BaseURL:          s.BaseURL,
	}
}
