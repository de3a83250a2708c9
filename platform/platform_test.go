package platform

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParse_Defaults(t *testing.T) {
	raw, err := os.ReadFile("platforms.json")
	if err != nil {
		t.Fatalf("read platforms.json: %v", err)
	}

	platforms, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(platforms) != 2 {
		t.Fatalf("Expected 2 platforms, got %d", len(platforms))
	}

	landsat, ok := platforms["LANDSAT"]
	if !ok {
		t.Fatal("Expected LANDSAT platform")
	}
	if landsat.Name != "LANDSAT" {
		t.Errorf("Expected name LANDSAT, got %s", landsat.Name)
	}
	if landsat.Mapping.MainID == "" || landsat.Mapping.CatalogPath == "" {
		t.Errorf("Expected populated mapping, got %+v", landsat.Mapping)
	}

	if _, ok := platforms["SENTINEL_2"]; !ok {
		t.Error("Expected SENTINEL_2 platform")
	}
}

func TestParse_RejectsMissingField(t *testing.T) {
	raw := []byte(`{"BROKEN": {"main_id": "scene_id"}}`)
	if _, err := Parse(raw); err == nil {
		t.Fatal("Expected validation error for incomplete mapping")
	}
}

func TestParse_RejectsNonObject(t *testing.T) {
	if _, err := Parse([]byte(`[1, 2, 3]`)); err == nil {
		t.Fatal("Expected validation error for non-object document")
	}
}

func TestMatchBandBlob(t *testing.T) {
	cases := []struct {
		path string
		band string
		ok   bool
	}{
		{"/tiles/14/Q/MB/S2A_MSIL1C.SAFE/GRANULE/L1C/IMG_DATA/T14QMB_20230601_B04.jp2", "B04", true},
		{"/tiles/14/Q/MB/S2A_MSIL1C.SAFE/GRANULE/L1C/IMG_DATA/T14QMB_20230601_B8A.jp2", "B8A", true},
		{"/LC08_L1TP_026047_20230601_20230605_02_T1/LC08_L1TP_026047_20230601_20230605_02_T1_B4.TIF", "B4", true},
		{"/LC08_L1TP_026047_20230601_20230605_02_T1/LC08_L1TP_026047_20230601_20230605_02_T1_MTL.txt", "MTL", true},
		{"/tiles/14/Q/MB/S2A_MSIL1C.SAFE/GRANULE/L1C/QI_DATA/T14QMB_20230601_PVI.jp2", "", false},
		{"/LC08_L1TP_026047/readme.txt", "", false},
	}
	for _, c := range cases {
		band, ok := MatchBandBlob(c.path)
		if ok != c.ok || band != c.band {
			t.Errorf("MatchBandBlob(%q) = (%q, %v), expected (%q, %v)", c.path, band, ok, c.band, c.ok)
		}
	}
}

func TestProcessable(t *testing.T) {
	if !Processable(MissionLandsat8) || !Processable(MissionSentinel) {
		t.Error("Expected both supported missions to be processable")
	}
	if Processable("MODIS") {
		t.Error("Expected unknown mission to be rejected")
	}
}

func TestBuildSceneQuery(t *testing.T) {
	p := Platform{
		Name: "LANDSAT",
		Mapping: FieldMapping{
			MainID:      "scene_id",
			SecondaryID: "product_id",
			MissionID:   "spacecraft_id",
			SensingTime: "sensing_time",
			CloudCover:  "cloud_cover",
			NorthLat:    "north_lat",
			SouthLat:    "south_lat",
			WestLon:     "west_lon",
			EastLon:     "east_lon",
			BaseURL:     "base_url",
			WRSPath:     "wrs_path",
			CatalogPath: "project.dataset.index",
		},
	}

	q := BuildSceneQuery(p)
	if !strings.Contains(q, "FROM `project.dataset.index`") {
		t.Errorf("Expected catalog path in FROM clause, got %s", q)
	}
	if !strings.Contains(q, "sensing_time BETWEEN ? AND ?") {
		t.Errorf("Expected sensing window predicate, got %s", q)
	}
	if !strings.Contains(q, "south_lat <= ? AND north_lat >= ?") {
		t.Errorf("Expected latitude containment predicate, got %s", q)
	}
	if !strings.Contains(q, "wrs_path") {
		t.Errorf("Expected optional column wrs_path selected, got %s", q)
	}
	if strings.Contains(q, "mgrs") {
		t.Errorf("Expected empty optional columns omitted, got %s", q)
	}
}

func TestFileCatalog_QueryScenes(t *testing.T) {
	dir := t.TempDir()
	rows := []sceneRow{
		{
			MainID:      "inside-window",
			MissionID:   MissionSentinel,
			SensingTime: time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
			NorthLat:    19.28, SouthLat: 18.96, WestLon: -98.9, EastLon: -98.4,
			BaseURL: "gs://gcp-public-data-sentinel-2/tiles/14/Q/MB/scene.SAFE",
		},
		{
			MainID:      "outside-window",
			MissionID:   MissionSentinel,
			SensingTime: time.Date(2019, 6, 1, 0, 0, 0, 0, time.UTC),
			NorthLat:    19.28, SouthLat: 18.96, WestLon: -98.9, EastLon: -98.4,
		},
		{
			MainID:      "outside-footprint",
			MissionID:   MissionSentinel,
			SensingTime: time.Date(2023, 6, 2, 0, 0, 0, 0, time.UTC),
			NorthLat:    45.0, SouthLat: 44.0, WestLon: 5.0, EastLon: 6.0,
		},
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		t.Fatalf("marshal index: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "SENTINEL_2.json"), raw, 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}

	cat := NewFileCatalog(dir)
	got, err := cat.QueryScenes(context.Background(), Platform{Name: "SENTINEL_2"}, SceneQuery{
		From: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC),
		Lat:  19.1,
		Lon:  -98.6,
	})
	if err != nil {
		t.Fatalf("QueryScenes failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected 1 scene, got %d", len(got))
	}
	if got[0].MainID != "inside-window" {
		t.Errorf("Expected inside-window, got %s", got[0].MainID)
	}
}

func TestFileCatalog_MissingIndex(t *testing.T) {
	cat := NewFileCatalog(t.TempDir())
	got, err := cat.QueryScenes(context.Background(), Platform{Name: "LANDSAT"}, SceneQuery{})
	if err != nil {
		t.Fatalf("Expected missing index to yield no scenes, got error %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected no scenes, got %d", len(got))
	}
}
