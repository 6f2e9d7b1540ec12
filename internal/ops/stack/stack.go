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

// Package stack merges an aligned burst of normalized mosaic frames into
// one mosaic with improved signal-to-noise ratio. Frames which cannot be
// aligned to the reference are dropped, not fatal; combiners skip NaN
// samples marking out-of-bounds regions of warped frames.
package stack

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"sync"

	"github.com/avolkau/rawisp/internal/ops"
	"github.com/avolkau/rawisp/internal/ops/align"
	"github.com/avolkau/rawisp/internal/qsort"
	"github.com/avolkau/rawisp/internal/raw"
	"github.com/avolkau/rawisp/internal/stats"
)

// ErrInsufficientFrames indicates that no usable frames remain to merge.
// Match with errors.Is.
var ErrInsufficientFrames = errors.New("no usable frames to merge")

// Frame combination modes.
const (
	CombineMean  = "mean"
	CombineSigma = "sigma"
)

// Aligns a burst of mosaic frames to its first frame and merges them into
// one. Takes n inputs, produces one output.
type OpMerge struct {
	ops.OpBase
	Mode        string  `json:"mode"`        // mean or sigma
	SigmaLow    float32 `json:"sigmaLow"`    // lower clipping bound, in standard deviations
	SigmaHigh   float32 `json:"sigmaHigh"`   // upper clipping bound, in standard deviations
	MaxShift    int32   `json:"maxShift"`    // alignment search radius in pixels
	MaxResidual float32 `json:"maxResidual"` // alignment acceptance threshold
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpMergeDefault() }) } // register the operator for JSON decoding

func NewOpMergeDefault() *OpMerge { return NewOpMerge(CombineSigma, 3.0, 3.0, 16, 0.5) }

func NewOpMerge(mode string, sigmaLow, sigmaHigh float32, maxShift int32, maxResidual float32) *OpMerge {
	return &OpMerge{
		OpBase:      ops.OpBase{Type: "merge", Active: true},
		Mode:        mode,
		SigmaLow:    sigmaLow,
		SigmaHigh:   sigmaHigh,
		MaxShift:    maxShift,
		MaxResidual: maxResidual,
	}
}

func (op *OpMerge) MakePromises(ins []ops.Promise, c *ops.Context) (outs []ops.Promise, err error) {
	if len(ins) == 0 {
		return nil, ErrInsufficientFrames
	}
	if op.Mode != CombineMean && op.Mode != CombineSigma {
		return nil, fmt.Errorf("unknown combine mode %q", op.Mode)
	}
	out := func() (*raw.Image, error) {
		frames, err := ops.MaterializeAll(ins, c.MaxThreads, false)
		if err != nil {
			return nil, err
		}
		return op.merge(frames, c)
	}
	return []ops.Promise{out}, nil
}

func (op *OpMerge) merge(frames []*raw.Image, c *ops.Context) (*raw.Image, error) {
	if len(frames) == 0 {
		return nil, ErrInsufficientFrames
	}
	ref := frames[0]
	for _, f := range frames {
		if f.Channels != 1 || !raw.EqualDims(ref, f) {
			return nil, fmt.Errorf("%w: frame %d is %s %s, reference is %s %s",
				raw.ErrDimensionMismatch, f.ID, f.DimensionsToString(), f.CFA,
				ref.DimensionsToString(), ref.CFA)
		}
	}
	c.RefFrame = ref

	if len(frames) == 1 {
		fmt.Fprintf(c.Log, "%d: Single frame burst, passing reference through\n", ref.ID)
		return ref.Clone(), nil
	}

	// estimate displacements and warp surviving frames onto the reference
	// grid, one alignment per worker
	aligned := make([]*raw.Image, len(frames))
	aligned[0] = ref
	aligner := align.NewAligner(ref, op.MaxShift, op.MaxResidual)
	sem := make(chan bool, c.MaxThreads)
	for i := 1; i < len(frames); i++ {
		sem <- true
		go func(i int, f *raw.Image) {
			defer func() { <-sem }()
			dx, dy, residual, err := aligner.Align(f, 1)
			if err != nil {
				fmt.Fprintf(c.Log, "%d: Dropping frame: %s\n", f.ID, err.Error())
				return
			}
			warped := f.Translate(dx, dy, float32(math.NaN()))
			warped.ShiftX, warped.ShiftY, warped.Residual = dx, dy, residual
			fmt.Fprintf(c.Log, "%d: Aligned with shift (%.3f,%.3f) residual %.4g\n",
				f.ID, dx, dy, residual)
			aligned[i] = warped
		}(i, frames[i])
	}
	for i := 0; i < cap(sem); i++ { // wait for goroutines to finish
		sem <- true
	}

	usable := ops.RemoveNils(aligned)
	if len(usable) == 0 {
		return nil, ErrInsufficientFrames
	}
	fmt.Fprintf(c.Log, "%d: Merging %d of %d frames with mode %s\n",
		ref.ID, len(usable), len(frames), op.Mode)

	res, clipLow, clipHigh := op.combine(usable, ref)
	if op.Mode == CombineSigma {
		fmt.Fprintf(c.Log, "%d: Sigma clipping excluded %d low and %d high samples\n",
			res.ID, clipLow, clipHigh)
	}
	fmt.Fprintf(c.Log, "%d: Merged, new %v\n", res.ID, res.Stats)
	return res, nil
}

// combine stacks the given registered frames pixel by pixel, splitting
// the plane into work packages across all CPUs.
func (op *OpMerge) combine(frames []*raw.Image, ref *raw.Image) (res *raw.Image, clipLow, clipHigh int32) {
	res = raw.NewImageLike(ref)
	data := res.Data
	refMedian := ref.Stats.Location()

	// split into 8 MB work packages, no fewer than 8*NumCPU()
	numBatches := 4 * len(frames) * len(data) / (8192 * 1024)
	if numBatches < 8*runtime.NumCPU() {
		numBatches = 8 * runtime.NumCPU()
	}
	batchSize := (len(data) + numBatches - 1) / numBatches
	sem := make(chan bool, runtime.NumCPU())

	clippedLock, clippedLow, clippedHigh := sync.Mutex{}, int32(0), int32(0)
	for lower := 0; lower < len(data); lower += batchSize {
		upper := lower + batchSize
		if upper > len(data) {
			upper = len(data)
		}

		sem <- true
		go func(lower, upper int) {
			defer func() { <-sem }()

			batch := make([][]float32, len(frames))
			for i, f := range frames {
				batch[i] = f.Data[lower:upper]
			}

			switch op.Mode {
			case CombineMean:
				combineMean(batch, refMedian, data[lower:upper])
			case CombineSigma:
				low, high := combineSigma(batch, refMedian, op.SigmaLow, op.SigmaHigh, data[lower:upper])
				clippedLock.Lock()
				clippedLow += low
				clippedHigh += high
				clippedLock.Unlock()
			}
		}(lower, upper)
	}
	for i := 0; i < cap(sem); i++ { // wait for goroutines to finish
		sem <- true
	}

	return res, clippedLow, clippedHigh
}

// combineMean averages each pixel across all frames, skipping NaNs.
func combineMean(frameData [][]float32, refMedian float32, res []float32) {
	for i := range res {
		numGathered := 0
		sum := float32(0)
		for li := range frameData {
			value := frameData[li][i]
			if !math.IsNaN(float64(value)) {
				sum += value
				numGathered++
			}
		}
		if numGathered == 0 {
			// If no valid data points are available, replace with the overall
			// median. NaN would break subsequent processing, because IEEE NaN
			// does not compare equal to itself.
			res[i] = refMedian
			continue
		}
		res[i] = sum / float32(numGathered)
	}
}

// combineSigma averages each pixel across all frames with iterative sigma
// clipping: values more than sigmaLow/sigmaHigh standard deviations from
// the median are excluded, until the set is stable. Skips NaNs.
func combineSigma(frameData [][]float32, refMedian, sigmaLow, sigmaHigh float32, res []float32) (clipLow, clipHigh int32) {
	gatheredFull := make([]float32, len(frameData))

	for i := range res {
		numGathered := 0
		for li := range frameData {
			value := frameData[li][i]
			if !math.IsNaN(float64(value)) {
				gatheredFull[numGathered] = value
				numGathered++
			}
		}
		if numGathered == 0 {
			res[i] = refMedian
			continue
		}
		gatheredCur := gatheredFull[:numGathered]

		// repeat until the set of gathered values is stable
		for {
			median := qsort.SelectMedian(gatheredCur)
			mean, stdDev := stats.MeanStdDev(gatheredCur)

			lowBound := median - sigmaLow*stdDev
			highBound := median + sigmaHigh*stdDev
			prevClipped := clipLow + clipHigh
			for j := 0; j < len(gatheredCur); j++ {
				g := gatheredCur[j]
				if g < lowBound {
					gatheredCur[j] = gatheredCur[len(gatheredCur)-1]
					gatheredCur = gatheredCur[:len(gatheredCur)-1]
					clipLow++
					j--
				} else if g > highBound {
					gatheredCur[j] = gatheredCur[len(gatheredCur)-1]
					gatheredCur = gatheredCur[:len(gatheredCur)-1]
					clipHigh++
					j--
				}
			}

			if clipLow+clipHigh == prevClipped || len(gatheredCur) <= 1 {
				res[i] = mean
				break
			}
		}
	}
	return clipLow, clipHigh
}
