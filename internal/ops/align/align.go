// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package align estimates translation-only displacements between burst
// frames and their reference frame. The search runs coarse-to-fine over a
// mean-downsample pyramid built on half-resolution Bayer luma planes,
// scores candidates with a mean absolute difference metric, and refines
// the integer optimum to sub-pixel precision with Nelder-Mead.
package align

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/optimize"

	"github.com/avolkau/rawisp/internal/raw"
)

// ErrAlignmentFailed indicates that no trustworthy displacement could be
// estimated for a frame. Callers drop the frame; this is never fatal for
// the burst as a whole. Match with errors.Is.
var ErrAlignmentFailed = errors.New("alignment failed")

// Returned by the difference metric when frames do not overlap enough.
const sadInvalid = float32(math.MaxFloat32)

// Minimum number of overlapping samples for a valid difference score.
const minOverlap = 256

// An Aligner estimates per-frame displacements against a fixed reference,
// whose pyramid is built once and shared across frames and goroutines.
type Aligner struct {
	MaxShift    int32   // search radius in full-resolution pixels
	MaxResidual float32 // acceptance threshold for the normalized residual

	refPyr   []*raw.Image
	refScale float32
}

// NewAligner builds the reference pyramid for subsequent Align calls.
func NewAligner(ref *raw.Image, maxShift int32, maxResidual float32) *Aligner {
	pyr := NewPyramid(ref)
	return &Aligner{
		MaxShift:    maxShift,
		MaxResidual: maxResidual,
		refPyr:      pyr,
		refScale:    pyr[0].Stats.Scale(),
	}
}

// Align estimates the displacement of frame f against the reference, in
// full-resolution pixels: resampling f translated by (dx, dy) registers
// it onto the reference grid. The returned residual is the remaining mean
// absolute difference at the optimum, normalized by the reference scale
// estimate. Fails with ErrAlignmentFailed when the optimum sits at the
// edge of the search window, or the residual exceeds MaxResidual.
func (a *Aligner) Align(f *raw.Image, maxThreads int) (dx, dy, residual float32, err error) {
	pyr := NewPyramid(f)
	levels := len(pyr)
	if levels != len(a.refPyr) || !raw.EqualDims(pyr[0], a.refPyr[0]) {
		return 0, 0, 0, fmt.Errorf("%w: frame %d pyramid does not match the reference",
			ErrAlignmentFailed, f.ID)
	}

	// radius of the integer search window at the coarsest level; level 0
	// is already half resolution, so divide once more per extra level
	radius := a.MaxShift >> uint(levels)
	if radius < 1 {
		radius = 1
	}

	// exhaustive search at the coarsest level, fanned out across CPUs
	bestX, bestY := searchWindow(a.refPyr[levels-1], pyr[levels-1], 0, 0, radius, maxThreads)

	// propagate down the pyramid, refining by one texel at each level
	for level := levels - 2; level >= 0; level-- {
		bestX, bestY = searchWindow(a.refPyr[level], pyr[level], bestX*2, bestY*2, 1, maxThreads)
	}

	// reject optima pinned to the window edge; the true displacement
	// likely lies outside the search range
	maxBase := a.MaxShift / 2
	if abs32(bestX) >= maxBase || abs32(bestY) >= maxBase {
		return 0, 0, 0, fmt.Errorf("%w: frame %d optimum (%d,%d) at search window edge",
			ErrAlignmentFailed, f.ID, bestX, bestY)
	}

	// sub-pixel refinement on the finest pyramid level
	fx, fy, sad := refineSubPixel(a.refPyr[0], pyr[0], bestX, bestY)

	residual = sad
	if a.refScale > 1e-8 {
		residual = sad / a.refScale
	}
	if residual > a.MaxResidual {
		return 0, 0, 0, fmt.Errorf("%w: frame %d residual %.4g above threshold %.4g",
			ErrAlignmentFailed, f.ID, residual, a.MaxResidual)
	}

	// displacements were estimated at half resolution
	return 2 * fx, 2 * fy, residual, nil
}

// searchWindow scores all integer shifts within the given radius around
// (centerX, centerY) and returns the one minimizing the mean absolute
// difference. Candidate scoring is fanned out over a bounded worker pool.
func searchWindow(ref, f *raw.Image, centerX, centerY, radius int32, maxThreads int) (bestX, bestY int32) {
	type candidate struct {
		x, y int32
		sad  float32
	}
	n := int(2*radius+1) * int(2*radius+1)
	results := make(chan candidate, n)
	sem := make(chan bool, maxThreads)
	for sy := centerY - radius; sy <= centerY+radius; sy++ {
		for sx := centerX - radius; sx <= centerX+radius; sx++ {
			sem <- true
			go func(sx, sy int32) {
				results <- candidate{sx, sy, sadInt(ref, f, sx, sy)}
				<-sem
			}(sx, sy)
		}
	}

	// prefer the lower score; ties go to the smaller displacement from
	// the window center, then row-major order, so the winner does not
	// depend on goroutine scheduling
	better := func(c, b candidate) bool {
		if c.sad != b.sad {
			return c.sad < b.sad
		}
		cd := (c.x-centerX)*(c.x-centerX) + (c.y-centerY)*(c.y-centerY)
		bd := (b.x-centerX)*(b.x-centerX) + (b.y-centerY)*(b.y-centerY)
		if cd != bd {
			return cd < bd
		}
		if c.y != b.y {
			return c.y < b.y
		}
		return c.x < b.x
	}

	best := candidate{centerX, centerY, sadInvalid}
	for i := 0; i < n; i++ {
		c := <-results
		if better(c, best) {
			best = c
		}
	}
	return best.x, best.y
}

// sadInt computes the mean absolute difference between ref and f shifted
// by the integer displacement (sx, sy): ref(x,y) versus f(x-sx, y-sy).
func sadInt(ref, f *raw.Image, sx, sy int32) float32 {
	x0, x1 := max32(0, sx), min32(ref.Width, f.Width+sx)
	y0, y1 := max32(0, sy), min32(ref.Height, f.Height+sy)
	if (x1-x0)*(y1-y0) < minOverlap {
		return sadInvalid
	}

	sum := float64(0)
	for y := y0; y < y1; y++ {
		refRow := y * ref.Width
		fRow := (y - sy) * f.Width
		for x := x0; x < x1; x++ {
			d := ref.Data[refRow+x] - f.Data[fRow+x-sx]
			if d < 0 {
				d = -d
			}
			sum += float64(d)
		}
	}
	return float32(sum / float64((x1-x0)*(y1-y0)))
}

// sadFrac computes the mean absolute difference at a fractional shift,
// sampling f with bilinear interpolation.
func sadFrac(ref, f *raw.Image, sx, sy float32) float32 {
	x0 := max32(0, int32(math.Ceil(float64(sx))))
	x1 := min32(ref.Width, f.Width+int32(math.Floor(float64(sx)))-1)
	y0 := max32(0, int32(math.Ceil(float64(sy))))
	y1 := min32(ref.Height, f.Height+int32(math.Floor(float64(sy)))-1)
	if (x1-x0)*(y1-y0) < minOverlap {
		return sadInvalid
	}

	sum := float64(0)
	for y := y0; y < y1; y++ {
		srcY := float32(y) - sy
		yl := int32(math.Floor(float64(srcY)))
		yr := srcY - float32(yl)
		refRow := y * ref.Width
		fRow := yl * f.Width
		for x := x0; x < x1; x++ {
			srcX := float32(x) - sx
			xl := int32(math.Floor(float64(srcX)))
			xr := srcX - float32(xl)

			xlyl := fRow + xl
			vyl := f.Data[xlyl]*(1-xr) + f.Data[xlyl+1]*xr
			vyh := f.Data[xlyl+f.Width]*(1-xr) + f.Data[xlyl+f.Width+1]*xr
			d := ref.Data[refRow+x] - (vyl*(1-yr) + vyh*yr)
			if d < 0 {
				d = -d
			}
			sum += float64(d)
		}
	}
	return float32(sum / float64((x1-x0)*(y1-y0)))
}

// refineSubPixel minimizes the fractional difference metric around an
// integer optimum with Nelder-Mead, constrained to one texel of movement.
func refineSubPixel(ref, f *raw.Image, intX, intY int32) (dx, dy, sad float32) {
	intSad := sadFrac(ref, f, float32(intX), float32(intY))

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			sx, sy := float32(x[0]), float32(x[1])
			if absf32(sx-float32(intX)) > 1 || absf32(sy-float32(intY)) > 1 {
				return float64(sadInvalid)
			}
			return float64(sadFrac(ref, f, sx, sy))
		},
	}
	settings := &optimize.Settings{MajorIterations: 100}
	res, err := optimize.Minimize(problem, []float64{float64(intX), float64(intY)}, settings, &optimize.NelderMead{})
	if err != nil || res == nil || float32(res.F) >= intSad {
		return float32(intX), float32(intY), intSad
	}
	return float32(res.X[0]), float32(res.X[1]), float32(res.F)
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

func absf32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

func min32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}

func max32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}
