package raster

import (
	"math"
	"sort"
)

// epsilon guards divisions against zero denominators.
const epsilon = 1e-10

// ComputeNDVI derives (NIR - RED) / (NIR + RED + eps) clipped to [-1, 1].
// bandIDs names the channels of the stack in order; B04 and B08 must be
// present.
func ComputeNDVI(stack *Grid, bandIDs []string) (*Grid, error) {
	redIdx, err := bandIndex(bandIDs, BandRed)
	if err != nil {
		return nil, err
	}
	nirIdx, err := bandIndex(bandIDs, BandNIR)
	if err != nil {
		return nil, err
	}

	red := stack.Band(redIdx)
	nir := stack.Band(nirIdx)

	out := NewGrid(1, stack.Height, stack.Width, stack.Transform, stack.CRS)
	dst := out.Band(0)
	for i := range dst {
		v := (float64(nir[i]) - float64(red[i])) / (float64(nir[i]) + float64(red[i]) + epsilon)
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		dst[i] = float32(v)
	}
	return out, nil
}

// ComputeRGB builds a true-color composite with a per-channel 2nd-98th
// percentile stretch, bands ordered R, G, B.
func ComputeRGB(stack *Grid, bandIDs []string) (*Grid, error) {
	redIdx, err := bandIndex(bandIDs, BandRed)
	if err != nil {
		return nil, err
	}
	greenIdx, err := bandIndex(bandIDs, BandGreen)
	if err != nil {
		return nil, err
	}
	blueIdx, err := bandIndex(bandIDs, BandBlue)
	if err != nil {
		return nil, err
	}

	out := NewGrid(3, stack.Height, stack.Width, stack.Transform, stack.CRS)
	for i, srcIdx := range []int{redIdx, greenIdx, blueIdx} {
		stretchInto(out.Band(i), stack.Band(srcIdx))
	}
	return out, nil
}

// stretchInto writes clip((x - p2) / (p98 - p2 + eps), 0, 1) into dst.
func stretchInto(dst, src []float32) {
	p2 := percentile(src, 2)
	p98 := percentile(src, 98)
	scale := p98 - p2 + epsilon
	for i, v := range src {
		s := (float64(v) - p2) / scale
		if s < 0 {
			s = 0
		} else if s > 1 {
			s = 1
		}
		dst[i] = float32(s)
	}
}

// percentile computes the q-th percentile with linear interpolation between
// nearest ranks, NaN values excluded.
func percentile(values []float32, q float64) float64 {
	sorted := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(float64(v)) {
			sorted = append(sorted, float64(v))
		}
	}
	if len(sorted) == 0 {
		return math.NaN()
	}
	sort.Float64s(sorted)

	rank := q / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
