package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aubravo/earthgazer/geo"
)

// sceneRow is the on-disk form of one index record.
type sceneRow struct {
	MainID           string    `json:"main_id"`
	SecondaryID      string    `json:"secondary_id"`
	MissionID        string    `json:"mission_id"`
	SensingTime      time.Time `json:"sensing_time"`
	CloudCover       float64   `json:"cloud_cover"`
	NorthLat         float64   `json:"north_lat"`
	SouthLat         float64   `json:"south_lat"`
	WestLon          float64   `json:"west_lon"`
	EastLon          float64   `json:"east_lon"`
	BaseURL          string    `json:"base_url"`
	MGRSTile         string    `json:"mgrs_tile,omitempty"`
	Radiometric      string    `json:"radiometric_measure,omitempty"`
	AtmosphericLevel string    `json:"atmospheric_reference_level,omitempty"`
	WRSPath          string    `json:"wrs_path,omitempty"`
	WRSRow           string    `json:"wrs_row,omitempty"`
	DataType         string    `json:"data_type,omitempty"`
}

// FileCatalog serves scene queries from local JSON index files, one
// <platform-name>.json per platform. It stands in for a cloud query service
// in self-hosted and test deployments; the filtering semantics match what
// BuildSceneQuery expresses in SQL.
type FileCatalog struct {
	dir string
}

func NewFileCatalog(dir string) *FileCatalog {
	return &FileCatalog{dir: dir}
}

func (f *FileCatalog) QueryScenes(ctx context.Context, p Platform, q SceneQuery) ([]SceneRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(filepath.Join(f.dir, p.Name+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s index: %w", p.Name, err)
	}
	var rows []sceneRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("parse %s index: %w", p.Name, err)
	}

	var out []SceneRecord
	for _, r := range rows {
		if r.SensingTime.Before(q.From) || r.SensingTime.After(q.To) {
			continue
		}
		if !geo.FromFootprint(r.NorthLat, r.SouthLat, r.WestLon, r.EastLon).Contains(q.Lat, q.Lon) {
			continue
		}
		out = append(out, SceneRecord(r))
	}
	return out, nil
}
