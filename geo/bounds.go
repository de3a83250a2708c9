package geo

import (
	"errors"
	"fmt"

	"github.com/golang/geo/s2"
)

var ErrInvalidBounds = errors.New("invalid bounds: min must be strictly less than max on both axes")

// Bounds is a WGS-84 axis-aligned bounding box in degrees.
type Bounds struct {
	MinLon float64 `json:"min_lon"`
	MinLat float64 `json:"min_lat"`
	MaxLon float64 `json:"max_lon"`
	MaxLat float64 `json:"max_lat"`
}

func NewBounds(minLon, minLat, maxLon, maxLat float64) (Bounds, error) {
	b := Bounds{MinLon: minLon, MinLat: minLat, MaxLon: maxLon, MaxLat: maxLat}
	if err := b.Validate(); err != nil {
		return Bounds{}, err
	}
	return b, nil
}

func (b Bounds) Validate() error {
	if b.MinLon >= b.MaxLon || b.MinLat >= b.MaxLat {
		return fmt.Errorf("%w: (%f,%f,%f,%f)", ErrInvalidBounds, b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
	}
	return nil
}

// Center returns the midpoint as (lon, lat).
func (b Bounds) Center() (float64, float64) {
	return (b.MinLon + b.MaxLon) / 2, (b.MinLat + b.MaxLat) / 2
}

func (b Bounds) rect() s2.Rect {
	return s2.RectFromLatLng(s2.LatLngFromDegrees(b.MinLat, b.MinLon)).
		AddPoint(s2.LatLngFromDegrees(b.MaxLat, b.MaxLon))
}

// Contains reports whether the point (lat, lon) falls inside the box.
func (b Bounds) Contains(lat, lon float64) bool {
	return b.rect().ContainsLatLng(s2.LatLngFromDegrees(lat, lon))
}

// Intersects reports whether two boxes overlap, matching the catalog
// predicate: west <= max_lon AND east >= min_lon AND south <= max_lat AND
// north >= min_lat.
func (b Bounds) Intersects(other Bounds) bool {
	return b.rect().Intersects(other.rect())
}

// FromFootprint builds a box from a scene footprint given as edge latitudes
// and longitudes.
func FromFootprint(northLat, southLat, westLon, eastLon float64) Bounds {
	return Bounds{MinLon: westLon, MinLat: southLat, MaxLon: eastLon, MaxLat: northLat}
}
