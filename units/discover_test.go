package units

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/aubravo/earthgazer/catalog"
	"github.com/aubravo/earthgazer/geo"
	"github.com/aubravo/earthgazer/platform"
)

type fakeImagery struct {
	scenes []platform.SceneRecord
	err    error
	calls  int
}

func (f *fakeImagery) QueryScenes(ctx context.Context, p platform.Platform, q platform.SceneQuery) ([]platform.SceneRecord, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.scenes, nil
}

func seedLocation(t *testing.T, repo catalog.Repository) *catalog.Location {
	t.Helper()
	loc := &catalog.Location{
		Name:     "popocatepetl",
		FromDate: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		ToDate:   time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC),
		Active:   true,
	}
	if err := loc.SetBounds(geo.Bounds{MinLon: -98.9, MinLat: 18.96, MaxLon: -98.4, MaxLat: 19.28}); err != nil {
		t.Fatalf("SetBounds failed: %v", err)
	}
	if err := repo.CreateLocation(context.Background(), loc); err != nil {
		t.Fatalf("CreateLocation failed: %v", err)
	}
	return loc
}

func TestDiscover_InsertsNewAndSkipsDuplicates(t *testing.T) {
	repo := catalog.NewMemory()
	seedLocation(t, repo)

	imagery := &fakeImagery{scenes: []platform.SceneRecord{
		{MainID: "S2A_20230601", MissionID: platform.MissionSentinel, SensingTime: time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)},
		{MainID: "S2A_20230611", MissionID: platform.MissionSentinel, SensingTime: time.Date(2023, 6, 11, 0, 0, 0, 0, time.UTC)},
	}}
	platforms := map[string]platform.Platform{"SENTINEL_2": {Name: "SENTINEL_2"}}
	unit := NewDiscover(repo, imagery, platforms, zaptest.NewLogger(t))

	out, err := unit.Execute(context.Background(), []byte(`{}`))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	result := out.(DiscoverResult)
	if len(result.NewCaptureIDs) != 2 || result.Duplicates != 0 || result.Scanned != 2 {
		t.Errorf("Unexpected first sweep result: %+v", result)
	}

	// The same scenes on a second sweep are all duplicates.
	out, err = unit.Execute(context.Background(), []byte(`{}`))
	if err != nil {
		t.Fatalf("second Execute failed: %v", err)
	}
	result = out.(DiscoverResult)
	if len(result.NewCaptureIDs) != 0 || result.Duplicates != 2 {
		t.Errorf("Expected idempotent sweep, got %+v", result)
	}
}

func TestDiscover_PerLocationLogCounts(t *testing.T) {
	repo := catalog.NewMemory()
	seedLocation(t, repo)
	second := seedLocation2(t, repo)

	// Both locations see the same scenes, so the first sweep inserts them and
	// the second location observes only duplicates.
	imagery := &fakeImagery{scenes: []platform.SceneRecord{
		{MainID: "S2A_20230601", MissionID: platform.MissionSentinel, SensingTime: time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)},
		{MainID: "S2A_20230611", MissionID: platform.MissionSentinel, SensingTime: time.Date(2023, 6, 11, 0, 0, 0, 0, time.UTC)},
	}}
	platforms := map[string]platform.Platform{"SENTINEL_2": {Name: "SENTINEL_2"}}

	core, logs := observer.New(zap.InfoLevel)
	unit := NewDiscover(repo, imagery, platforms, zap.New(core))
	if _, err := unit.Execute(context.Background(), []byte(`{}`)); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	swept := logs.FilterMessage("location swept").All()
	if len(swept) != 2 {
		t.Fatalf("Expected a log line per location, got %d", len(swept))
	}
	first, last := swept[0].ContextMap(), swept[1].ContextMap()
	if first["new"] != int64(2) || first["duplicates"] != int64(0) {
		t.Errorf("Expected new=2 duplicates=0 for the first location, got %v", first)
	}
	if last["new"] != int64(0) || last["duplicates"] != int64(2) {
		t.Errorf("Expected new=0 duplicates=2 for the second location, got %v", last)
	}
	if last["location_id"] != second.ID {
		t.Errorf("Expected the second location's id on its log line, got %v", last["location_id"])
	}
}

func seedLocation2(t *testing.T, repo catalog.Repository) *catalog.Location {
	t.Helper()
	loc := &catalog.Location{
		Name:     "iztaccihuatl",
		FromDate: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		ToDate:   time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC),
		Active:   true,
	}
	if err := loc.SetBounds(geo.Bounds{MinLon: -98.8, MinLat: 19.1, MaxLon: -98.5, MaxLat: 19.3}); err != nil {
		t.Fatalf("SetBounds failed: %v", err)
	}
	if err := repo.CreateLocation(context.Background(), loc); err != nil {
		t.Fatalf("CreateLocation failed: %v", err)
	}
	return loc
}

func TestDiscover_MissingLocationIsFatal(t *testing.T) {
	repo := catalog.NewMemory()
	unit := NewDiscover(repo, &fakeImagery{}, nil, zaptest.NewLogger(t))

	payload, _ := json.Marshal(DiscoverPayload{LocationIDs: []int64{42}})
	_, err := unit.Execute(context.Background(), payload)
	if err == nil || !IsFatal(err) {
		t.Fatalf("Expected fatal error for unknown location, got %v", err)
	}
}

func TestDiscover_MalformedPayloadIsFatal(t *testing.T) {
	unit := NewDiscover(catalog.NewMemory(), &fakeImagery{}, nil, zaptest.NewLogger(t))
	_, err := unit.Execute(context.Background(), []byte(`{broken`))
	if err == nil || !IsFatal(err) {
		t.Fatalf("Expected fatal error for malformed payload, got %v", err)
	}
}
