package units

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/aubravo/earthgazer/catalog"
	"github.com/aubravo/earthgazer/raster"
)

type TemporalPayload struct {
	Pattern       string `json:"pattern,omitempty"`
	RunID         string `json:"run_id"`
	MinValidYears int    `json:"min_valid_years,omitempty"`
}

type TemporalResult struct {
	TimeSeriesPath string `json:"time_series_path"`
	TrendMapPath   string `json:"trend_map_path"`
	QuicklookPath  string `json:"quicklook_path"`
	RecordCount    int    `json:"record_count"`
}

// ndviFile extracts the capture id from produced NDVI raster names.
var ndviFile = regexp.MustCompile(`ndvi_(\d+)\.tif$`)

// TemporalAnalysis aggregates every NDVI raster matching the pattern into a
// mean-NDVI time series and a per-pixel trend map, joining each raster to its
// capture's sensing date through the catalog.
type TemporalAnalysis struct {
	repo        catalog.Repository
	featuresDir string
	logger      *zap.Logger
}

func NewTemporalAnalysis(repo catalog.Repository, featuresDir string, logger *zap.Logger) *TemporalAnalysis {
	return &TemporalAnalysis{repo: repo, featuresDir: featuresDir, logger: logger}
}

func (u *TemporalAnalysis) Name() string { return NameTemporal }
func (u *TemporalAnalysis) Lane() Lane   { return LaneCPU }

func (u *TemporalAnalysis) RetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseBackoff: 5 * time.Second, MaxBackoff: 5 * time.Minute, Jitter: true}
}

func (u *TemporalAnalysis) Execute(ctx context.Context, payload []byte) (any, error) {
	var p TemporalPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, Fatal(fmt.Errorf("temporal payload: %w", err))
	}
	if p.Pattern == "" {
		p.Pattern = "ndvi_*.tif"
	}

	paths, err := filepath.Glob(filepath.Join(u.featuresDir, p.Pattern))
	if err != nil {
		return nil, Fatal(fmt.Errorf("pattern %q: %w", p.Pattern, err))
	}
	if len(paths) == 0 {
		return nil, Fatal(fmt.Errorf("no ndvi rasters match %q", p.Pattern))
	}

	var dated []raster.DatedRaster
	var yearly []raster.YearRaster
	for _, path := range paths {
		m := ndviFile.FindStringSubmatch(path)
		if m == nil {
			continue
		}
		captureID, _ := strconv.ParseInt(m[1], 10, 64)
		c, err := u.repo.GetCapture(ctx, captureID)
		if err != nil {
			if errors.Is(err, catalog.ErrCaptureNotFound) {
				u.logger.Warn("ndvi raster has no capture row, skipping",
					zap.String("path", path), zap.Int64("capture_id", captureID))
				continue
			}
			return nil, err
		}
		g, err := raster.LoadRaster(path)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		dated = append(dated, raster.DatedRaster{Date: c.SensingTime, Grid: g})
		yearly = append(yearly, raster.YearRaster{Year: c.SensingTime.Year(), Grid: g})
	}
	if len(dated) == 0 {
		return nil, Fatal(fmt.Errorf("no ndvi rasters with catalog rows match %q", p.Pattern))
	}

	seriesPath := filepath.Join(u.featuresDir, fmt.Sprintf("time_series_%s.csv", p.RunID))
	if err := writeSeriesCSV(seriesPath, raster.TimeSeries(dated)); err != nil {
		return nil, err
	}

	trend, err := raster.TrendMap(yearly, p.MinValidYears)
	if err != nil {
		return nil, Fatal(err)
	}
	trendPath := filepath.Join(u.featuresDir, fmt.Sprintf("trend_map_%s.tif", p.RunID))
	if err := saveFeature(trendPath, trend); err != nil {
		return nil, err
	}
	quicklook := filepath.Join(u.featuresDir, fmt.Sprintf("trend_map_%s.png", p.RunID))
	if err := raster.SaveQuicklook(quicklook, trend); err != nil {
		return nil, fmt.Errorf("trend quicklook: %w", err)
	}

	u.logger.Info("temporal analysis complete",
		zap.Int("records", len(dated)),
		zap.String("series", seriesPath),
		zap.String("trend", trendPath))
	return TemporalResult{
		TimeSeriesPath: seriesPath,
		TrendMapPath:   trendPath,
		QuicklookPath:  quicklook,
		RecordCount:    len(dated),
	}, nil
}

func writeSeriesCSV(path string, points []raster.TimeSeriesPoint) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"date", "mean_ndvi"}); err != nil {
		return err
	}
	for _, pt := range points {
		if err := w.Write([]string{pt.Date.Format("2006-01-02"), strconv.FormatFloat(pt.MeanNDVI, 'f', 6, 64)}); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
