package raster

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

// SaveQuicklook renders a grid to an 8-bit PNG for human inspection. Three
// band grids are treated as stretched R,G,B in [0, 1]; single-band grids are
// normalized over their finite range and rendered as grayscale.
func SaveQuicklook(path string, g *Grid) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	var img *image.NRGBA
	switch g.Bands {
	case 3:
		img = renderRGB(g)
	case 1:
		img = renderGray(g)
	default:
		return fmt.Errorf("quicklook %s: cannot render %d-band grid", path, g.Bands)
	}

	if err := imaging.Save(img, path); err != nil {
		return fmt.Errorf("save quicklook: %w", err)
	}
	return nil
}

func renderRGB(g *Grid) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, g.Width, g.Height))
	r, gr, b := g.Band(0), g.Band(1), g.Band(2)
	for row := 0; row < g.Height; row++ {
		for col := 0; col < g.Width; col++ {
			i := row*g.Width + col
			img.SetNRGBA(col, row, color.NRGBA{
				R: to8(float64(r[i])),
				G: to8(float64(gr[i])),
				B: to8(float64(b[i])),
				A: 255,
			})
		}
	}
	return img
}

func renderGray(g *Grid) *image.NRGBA {
	plane := g.Band(0)
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range plane {
		f := float64(v)
		if math.IsNaN(f) {
			continue
		}
		lo = math.Min(lo, f)
		hi = math.Max(hi, f)
	}
	span := hi - lo
	if span <= 0 || math.IsInf(lo, 1) {
		span = 1
	}

	img := image.NewNRGBA(image.Rect(0, 0, g.Width, g.Height))
	for row := 0; row < g.Height; row++ {
		for col := 0; col < g.Width; col++ {
			f := float64(plane[row*g.Width+col])
			var v uint8
			if !math.IsNaN(f) {
				v = to8((f - lo) / span)
			}
			img.SetNRGBA(col, row, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func to8(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}
