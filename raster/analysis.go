package raster

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// DefaultMinValidYears is the sample floor below which a pixel's trend is
// reported as NaN.
const DefaultMinValidYears = 5

// YearRaster associates an NDVI grid with its sensing year.
type YearRaster struct {
	Year int
	Grid *Grid
}

// DatedRaster associates an NDVI grid with its sensing date.
type DatedRaster struct {
	Date time.Time
	Grid *Grid
}

// TimeSeriesPoint is one record of the aggregated series.
type TimeSeriesPoint struct {
	Date     time.Time
	MeanNDVI float64
}

// TrendMap fits ordinary least squares of NDVI against year per pixel and
// returns the slope grid. Only the first raster seen for a given year
// contributes; pixels with fewer than minValidYears valid (non-NaN) samples
// are NaN. All grids must share the first grid's shape.
func TrendMap(series []YearRaster, minValidYears int) (*Grid, error) {
	if len(series) == 0 {
		return nil, fmt.Errorf("trend map: no rasters supplied")
	}
	if minValidYears <= 0 {
		minValidYears = DefaultMinValidYears
	}

	seen := make(map[int]bool)
	var years []float64
	var planes [][]float32
	ref := series[0].Grid

	for _, yr := range series {
		if seen[yr.Year] {
			continue
		}
		if yr.Grid.Height != ref.Height || yr.Grid.Width != ref.Width {
			return nil, fmt.Errorf("trend map: raster for year %d has shape %dx%d, want %dx%d",
				yr.Year, yr.Grid.Height, yr.Grid.Width, ref.Height, ref.Width)
		}
		seen[yr.Year] = true
		years = append(years, float64(yr.Year))
		planes = append(planes, yr.Grid.Band(0))
	}

	slopes := NewGrid(1, ref.Height, ref.Width, ref.Transform, ref.CRS)
	dst := slopes.Band(0)
	nan := float32(math.NaN())

	xs := make([]float64, 0, len(years))
	ys := make([]float64, 0, len(years))
	for i := range dst {
		xs = xs[:0]
		ys = ys[:0]
		for k, plane := range planes {
			v := float64(plane[i])
			if math.IsNaN(v) {
				continue
			}
			xs = append(xs, years[k])
			ys = append(ys, v)
		}
		if len(xs) < minValidYears {
			dst[i] = nan
			continue
		}
		dst[i] = float32(olsSlope(xs, ys))
	}
	return slopes, nil
}

// olsSlope returns the least-squares slope of y against x via centered sums.
func olsSlope(x, y []float64) float64 {
	var meanX, meanY float64
	for i := range x {
		meanX += x[i]
		meanY += y[i]
	}
	meanX /= float64(len(x))
	meanY /= float64(len(y))

	var sumXY, sumX2 float64
	for i := range x {
		dx := x[i] - meanX
		sumXY += dx * (y[i] - meanY)
		sumX2 += dx * dx
	}
	if sumX2 == 0 {
		return 0
	}
	return sumXY / sumX2
}

// TimeSeries computes the per-raster mean NDVI over pixels strictly inside
// (-1, 1); values at the limits are cloud or water artifacts and are excluded
// before averaging. Records come back sorted ascending by date.
func TimeSeries(entries []DatedRaster) []TimeSeriesPoint {
	points := make([]TimeSeriesPoint, 0, len(entries))
	for _, e := range entries {
		var sum float64
		var count int
		for _, v := range e.Grid.Band(0) {
			f := float64(v)
			if math.IsNaN(f) || f <= -1 || f >= 1 {
				continue
			}
			sum += f
			count++
		}
		mean := math.NaN()
		if count > 0 {
			mean = sum / float64(count)
		}
		points = append(points, TimeSeriesPoint{Date: e.Date, MeanNDVI: mean})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	return points
}
