// Package raster implements the geospatial feature engine: band stacking,
// cropping with north-up normalization, NDVI and true-color derivation, and
// temporal aggregation. All functions are pure over Grid values.
package raster

import (
	"errors"
	"fmt"
)

var (
	ErrBandNotFound = errors.New("band file not found")
	ErrMissingBand  = errors.New("required band missing from band list")
)

// Sentinel-2 band roles used by the feature computations.
const (
	BandBlue  = "B02"
	BandGreen = "B03"
	BandRed   = "B04"
	BandNIR   = "B08"
)

// Transform is a row-major affine transform from pixel space to world space:
//
//	x = A*col + B*row + C
//	y = D*col + E*row + F
//
// North-up grids have A > 0, B = D = 0, E < 0.
type Transform struct {
	A, B, C float64
	D, E, F float64
}

// Apply maps a (col, row) pixel coordinate to world (x, y).
func (t Transform) Apply(col, row float64) (float64, float64) {
	return t.A*col + t.B*row + t.C, t.D*col + t.E*row + t.F
}

// Invert maps a world (x, y) back to fractional (col, row).
func (t Transform) Invert(x, y float64) (float64, float64) {
	det := t.A*t.E - t.B*t.D
	if det == 0 {
		return 0, 0
	}
	dx, dy := x-t.C, y-t.F
	col := (t.E*dx - t.B*dy) / det
	row := (t.A*dy - t.D*dx) / det
	return col, row
}

// NorthUp reports whether the transform describes a north-up grid.
func (t Transform) NorthUp() bool {
	return t.A > 0 && t.E < 0
}

// Grid is a band-major float32 raster with georeferencing.
type Grid struct {
	Bands     int
	Height    int
	Width     int
	Data      []float32
	Transform Transform
	CRS       CRS
}

func NewGrid(bands, height, width int, transform Transform, crs CRS) *Grid {
	return &Grid{
		Bands:     bands,
		Height:    height,
		Width:     width,
		Data:      make([]float32, bands*height*width),
		Transform: transform,
		CRS:       crs,
	}
}

func (g *Grid) At(band, row, col int) float32 {
	return g.Data[(band*g.Height+row)*g.Width+col]
}

func (g *Grid) Set(band, row, col int, v float32) {
	g.Data[(band*g.Height+row)*g.Width+col] = v
}

// Band returns the plane for one band as a slice view into Data.
func (g *Grid) Band(i int) []float32 {
	size := g.Height * g.Width
	return g.Data[i*size : (i+1)*size]
}

func bandIndex(bandIDs []string, id string) (int, error) {
	for i, b := range bandIDs {
		if b == id {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %s in %v", ErrMissingBand, id, bandIDs)
}
