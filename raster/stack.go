package raster

import (
	"fmt"
	"math"
	"path/filepath"

	"github.com/aubravo/earthgazer/geo"
)

// StackBands locates one file per band id under sceneDir and stacks them into
// a single grid. The first located band defines the reference grid; any later
// band whose pixel grid differs is resampled bilinearly onto it.
func StackBands(sceneDir string, bandIDs []string) (*Grid, error) {
	if len(bandIDs) == 0 {
		return nil, fmt.Errorf("%w: empty band list", ErrBandNotFound)
	}

	paths := make([]string, 0, len(bandIDs))
	for _, b := range bandIDs {
		path, err := findBandFile(sceneDir, b)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}

	var stacked *Grid
	for i, path := range paths {
		band, err := LoadRaster(path)
		if err != nil {
			return nil, fmt.Errorf("load band %s: %w", bandIDs[i], err)
		}
		if stacked == nil {
			stacked = NewGrid(len(bandIDs), band.Height, band.Width, band.Transform, band.CRS)
			copy(stacked.Band(0), band.Band(0))
			continue
		}
		plane := band.Band(0)
		if !sameGrid(band, stacked) {
			plane = resampleBilinear(band, stacked.Transform, stacked.CRS, stacked.Height, stacked.Width)
		}
		copy(stacked.Band(i), plane)
	}
	return stacked, nil
}

func findBandFile(sceneDir, bandID string) (string, error) {
	for _, pattern := range []string{"*" + bandID + "*.tif", "*" + bandID + "*.TIF"} {
		matches, err := filepath.Glob(filepath.Join(sceneDir, pattern))
		if err != nil {
			return "", err
		}
		if len(matches) > 0 {
			return matches[0], nil
		}
	}
	return "", fmt.Errorf("%w: %s in %s", ErrBandNotFound, bandID, sceneDir)
}

func sameGrid(a, b *Grid) bool {
	return a.Height == b.Height && a.Width == b.Width &&
		a.Transform == b.Transform && a.CRS == b.CRS
}

// resampleBilinear samples src at each destination pixel center, converting
// coordinate systems when they differ. Destination pixels falling outside the
// source extent become zero, matching the behavior of a warp with no nodata.
func resampleBilinear(src *Grid, dstT Transform, dstCRS CRS, height, width int) []float32 {
	out := make([]float32, height*width)
	plane := src.Band(0)

	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			x, y := dstT.Apply(float64(col)+0.5, float64(row)+0.5)
			if dstCRS != src.CRS {
				var err error
				x, y, err = TransformPoint(dstCRS, src.CRS, x, y)
				if err != nil {
					continue
				}
			}
			sc, sr := src.Transform.Invert(x, y)
			sc -= 0.5
			sr -= 0.5
			out[row*width+col] = sampleBilinear(plane, src.Height, src.Width, sc, sr)
		}
	}
	return out
}

func sampleBilinear(plane []float32, height, width int, col, row float64) float32 {
	if col < -0.5 || row < -0.5 || col > float64(width)-0.5 || row > float64(height)-0.5 {
		return 0
	}
	c0 := int(math.Floor(col))
	r0 := int(math.Floor(row))
	fc := col - float64(c0)
	fr := row - float64(r0)

	get := func(r, c int) float64 {
		if r < 0 {
			r = 0
		}
		if r >= height {
			r = height - 1
		}
		if c < 0 {
			c = 0
		}
		if c >= width {
			c = width - 1
		}
		return float64(plane[r*width+c])
	}

	top := get(r0, c0)*(1-fc) + get(r0, c0+1)*fc
	bot := get(r0+1, c0)*(1-fc) + get(r0+1, c0+1)*fc
	return float32(top*(1-fr) + bot*fr)
}

// CropToBounds crops the grid to a WGS-84 bounding box. The box is
// reprojected into the grid's CRS, reduced to a whole-pixel window clipped to
// the grid extent, and the result is normalized to north-up orientation with
// the transform updated to describe the corrected grid.
func CropToBounds(g *Grid, b geo.Bounds) (*Grid, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	minX, minY, maxX, maxY, err := TransformBounds(WGS84, g.CRS, b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
	if err != nil {
		return nil, err
	}

	// Fractional window from the world-space envelope.
	colMin, rowMin := math.Inf(1), math.Inf(1)
	colMax, rowMax := math.Inf(-1), math.Inf(-1)
	for _, corner := range [4][2]float64{{minX, minY}, {minX, maxY}, {maxX, minY}, {maxX, maxY}} {
		c, r := g.Transform.Invert(corner[0], corner[1])
		colMin = math.Min(colMin, c)
		rowMin = math.Min(rowMin, r)
		colMax = math.Max(colMax, c)
		rowMax = math.Max(rowMax, r)
	}

	colOff := int(math.Round(colMin))
	rowOff := int(math.Round(rowMin))
	width := int(math.Round(colMax - colMin))
	height := int(math.Round(rowMax - rowMin))

	// Out-of-bounds windows are truncated, never errored.
	if colOff < 0 {
		width += colOff
		colOff = 0
	}
	if rowOff < 0 {
		height += rowOff
		rowOff = 0
	}
	if colOff+width > g.Width {
		width = g.Width - colOff
	}
	if rowOff+height > g.Height {
		height = g.Height - rowOff
	}
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}

	cx, cy := g.Transform.Apply(float64(colOff), float64(rowOff))
	cropped := NewGrid(g.Bands, height, width, Transform{
		A: g.Transform.A, B: g.Transform.B, C: cx,
		D: g.Transform.D, E: g.Transform.E, F: cy,
	}, g.CRS)

	for band := 0; band < g.Bands; band++ {
		for row := 0; row < height; row++ {
			srcStart := ((band*g.Height+rowOff+row)*g.Width + colOff)
			dstStart := (band*height + row) * width
			copy(cropped.Data[dstStart:dstStart+width], g.Data[srcStart:srcStart+width])
		}
	}

	normalizeNorthUp(cropped)
	return cropped, nil
}

// normalizeNorthUp flips the grid so increasing row means decreasing y and
// increasing col means increasing x, keeping the transform in sync.
func normalizeNorthUp(g *Grid) {
	if g.Transform.E > 0 {
		for band := 0; band < g.Bands; band++ {
			plane := g.Band(band)
			for top, bot := 0, g.Height-1; top < bot; top, bot = top+1, bot-1 {
				rt := plane[top*g.Width : (top+1)*g.Width]
				rb := plane[bot*g.Width : (bot+1)*g.Width]
				for i := range rt {
					rt[i], rb[i] = rb[i], rt[i]
				}
			}
		}
		g.Transform.F += g.Transform.E * float64(g.Height)
		g.Transform.E = -g.Transform.E
	}
	if g.Transform.A < 0 {
		for band := 0; band < g.Bands; band++ {
			plane := g.Band(band)
			for row := 0; row < g.Height; row++ {
				line := plane[row*g.Width : (row+1)*g.Width]
				for l, r := 0, g.Width-1; l < r; l, r = l+1, r-1 {
					line[l], line[r] = line[r], line[l]
				}
			}
		}
		g.Transform.C += g.Transform.A * float64(g.Width)
		g.Transform.A = -g.Transform.A
	}
}
