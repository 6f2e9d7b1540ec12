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

// Package isp wires the individual processing stages into the full burst
// pipeline: black level normalization, lens shading correction, white
// balance, alignment and merging, demosaicing, color correction, tone
// mapping, LUT grading and sharpening, in a fixed documented order.
package isp

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/avolkau/rawisp/internal/calib"
	"github.com/avolkau/rawisp/internal/ops"
	"github.com/avolkau/rawisp/internal/ops/color"
	"github.com/avolkau/rawisp/internal/ops/demosaic"
	"github.com/avolkau/rawisp/internal/ops/pre"
	"github.com/avolkau/rawisp/internal/ops/stack"
	"github.com/avolkau/rawisp/internal/ops/tone"
	"github.com/avolkau/rawisp/internal/raw"
)

// Options configures the optional and parametric parts of the pipeline.
// The stage order itself is fixed: the lens shading maps are calibrated
// for pre-white-balance data, so white balance runs after shading, and
// alignment needs normalized frames, so merging follows the per-frame
// corrections.
type Options struct {
	CombineMode string  // frame combination: mean or sigma
	SigmaLow    float32 // lower clipping bound for sigma combination
	SigmaHigh   float32 // upper clipping bound for sigma combination
	MaxShift    int32   // alignment search radius in pixels
	MaxResidual float32 // alignment acceptance threshold

	DemosaicMethod string

	ToneMode    string // global curve: gamma or midtones
	Gamma       float32
	Mid         float32
	Black       float32
	LocalSigma  float32
	LocalAmount float32
	Luminance   string // luminance plane for local tone mapping

	LUT *tone.LUT3D // optional grading LUT

	SharpenSigma     float32
	SharpenGain      float32
	SharpenThreshold float32

	SnapshotDir string // when set, saves a preview after each stage
}

// NewOptions returns the default pipeline configuration.
func NewOptions() Options {
	return Options{
		CombineMode:    stack.CombineSigma,
		SigmaLow:       3.0,
		SigmaHigh:      3.0,
		MaxShift:       16,
		MaxResidual:    0.5,
		DemosaicMethod: "bilinear",
		ToneMode:       tone.CurveGamma,
		Gamma:          2.2,
		Mid:            0.25,
		Black:          0,
		LocalSigma:     25,
		LocalAmount:    0,
		Luminance:      tone.LumRec709,
		SharpenSigma:   1.5,
		SharpenGain:    0,
	}
}

// A Pipeline converts bursts of mosaic frames into display-ready RGB
// images using a fixed calibration record. Safe for concurrent use; the
// calibration record is shared read-only.
type Pipeline struct {
	cal  *calib.Data
	opts Options
	seq  *ops.OpSequence
}

// New validates the calibration record and builds the stage sequence.
// A singular CCM surfaces as ErrInvalidCCM here, before any pixel work.
func New(cal *calib.Data, opts Options) (*Pipeline, error) {
	if err := cal.Validate(); err != nil {
		return nil, err
	}

	perFrame := ops.NewOpSequence(
		pre.NewOpBlackLevel(),
		snapshot(opts, "1-blacklevel"),
		pre.NewOpShading(),
		snapshot(opts, "2-shading"),
		pre.NewOpWhiteBalance(),
		snapshot(opts, "3-whitebalance"),
	)
	seq := ops.NewOpSequence(
		ops.NewOpForEach(perFrame),
		stack.NewOpMerge(opts.CombineMode, opts.SigmaLow, opts.SigmaHigh, opts.MaxShift, opts.MaxResidual),
		snapshot(opts, "4-merge"),
		demosaic.NewOpDemosaic(opts.DemosaicMethod),
		snapshot(opts, "5-demosaic"),
		color.NewOpColorCorrect(),
		snapshot(opts, "6-colorcorrect"),
		tone.NewOpGlobalTone(opts.ToneMode, opts.Gamma, opts.Mid, opts.Black),
		snapshot(opts, "7-globaltone"),
		tone.NewOpLocalTone(opts.LocalSigma, opts.LocalAmount, opts.Luminance),
		snapshot(opts, "8-localtone"),
		tone.NewOpLUT(opts.LUT),
		snapshot(opts, "9-lut"),
		tone.NewOpSharpen(opts.SharpenSigma, opts.SharpenGain, opts.SharpenThreshold),
		snapshot(opts, "10-sharpen"),
	)
	return &Pipeline{cal: cal, opts: opts, seq: seq}, nil
}

// snapshot returns a save step for intermediate results after the named
// stage, or an inactive no-op when snapshots are disabled.
func snapshot(opts Options, stage string) *ops.OpSave {
	if opts.SnapshotDir == "" {
		return ops.NewOpSave("")
	}
	return ops.NewOpSave(filepath.Join(opts.SnapshotDir, stage+"-%d.jpg"))
}

// Process runs the pipeline over a burst. Frame 0 is the reference; the
// input frames are never mutated. Fails eagerly on calibration or
// geometry mismatches before any stage runs.
func (p *Pipeline) Process(burst []*raw.Image, log io.Writer) (*raw.Image, error) {
	if len(burst) == 0 {
		return nil, ErrInsufficientFrames
	}
	for _, f := range burst {
		if err := p.cal.ValidateFrame(f); err != nil {
			return nil, err
		}
		if !raw.EqualDims(burst[0], f) {
			return nil, fmt.Errorf("%w: frame %d is %s, reference is %s",
				ErrDimensionMismatch, f.ID, f.DimensionsToString(), burst[0].DimensionsToString())
		}
	}

	c := ops.NewContext(log, p.cal)
	ins := make([]ops.Promise, len(burst))
	for i, f := range burst {
		theF := f
		ins[i] = func() (*raw.Image, error) { return theF, nil }
	}

	outs, err := p.seq.MakePromises(ins, c)
	if err != nil {
		return nil, err
	}
	if len(outs) != 1 {
		return nil, fmt.Errorf("pipeline produced %d outputs, expected one", len(outs))
	}
	return outs[0]()
}
