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

// Package tone maps linear scene radiance to display range: a global
// monotone curve, optional local contrast compression, a 3D lookup table
// for creative color grading, and unsharp mask sharpening, in that order.
// All operators in this package clamp their output to [0,1].
package tone

import (
	"fmt"
	"math"

	colorful "github.com/lucasb-eyer/go-colorful"

	"github.com/avolkau/rawisp/internal/ops"
	"github.com/avolkau/rawisp/internal/raw"
)

// Global tone curve modes.
const (
	CurveGamma    = "gamma"
	CurveMidtones = "midtones"
)

// Applies a global monotone tone curve to a range-clamped RGB image:
// either a plain gamma, or a parametric midtones transfer curve with a
// black point.
type OpGlobalTone struct {
	ops.OpUnaryBase
	Mode  string  `json:"mode"`
	Gamma float32 `json:"gamma"`
	Mid   float32 `json:"mid"`
	Black float32 `json:"black"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpGlobalToneDefault() }) } // register the operator for JSON decoding

func NewOpGlobalToneDefault() *OpGlobalTone { return NewOpGlobalTone(CurveGamma, 2.2, 0.25, 0) }

func NewOpGlobalTone(mode string, gamma, mid, black float32) *OpGlobalTone {
	op := OpGlobalTone{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "globalTone", Active: true}},
		Mode:        mode,
		Gamma:       gamma,
		Mid:         mid,
		Black:       black,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

func (op *OpGlobalTone) Apply(f *raw.Image, c *ops.Context) (result *raw.Image, err error) {
	if !op.Active {
		return f, nil
	}
	if f.Channels != 3 {
		return nil, fmt.Errorf("%w: tone mapping a %d-channel image", raw.ErrDimensionMismatch, f.Channels)
	}

	res := f.Clone()
	res.ApplyPixelFunction(pfClamp01, nil)
	switch op.Mode {
	case CurveGamma:
		res.ApplyPixelFunction(pfGamma, op.Gamma)
		fmt.Fprintf(c.Log, "%d: Applied global gamma %.2f\n", f.ID, op.Gamma)
	case CurveMidtones:
		res.ApplyPixelFunction(pfMidtones, pfMidtonesArgs{op.Mid, op.Black})
		fmt.Fprintf(c.Log, "%d: Applied midtones %.2f with black %.2f%%\n", f.ID, op.Mid, op.Black*100)
	default:
		return nil, fmt.Errorf("unknown tone curve mode %q", op.Mode)
	}
	return res, nil
}

// Pixel function to clamp data to [0,1]. Operates in-place.
func pfClamp01(data []float32, params interface{}) {
	for i, d := range data {
		if d < 0 {
			data[i] = 0
		} else if d > 1 {
			data[i] = 1
		}
	}
}

// Pixel function to apply gamma correction. Data must be normalized to [0,1]. 2nd parameter must be a float32. Operates in-place.
func pfGamma(data []float32, params interface{}) {
	g := params.(float32)
	gg := float64(1.0 / g)
	for i, d := range data {
		data[i] = float32(math.Pow(float64(d), gg))
	}
}

// Arguments for the pixel function to adjust midtones
type pfMidtonesArgs struct {
	Mid   float32
	Black float32
}

// Pixel function to apply midtones correction to given image slice. Data must be normalized to [0,1].
// 2nd parameter must be a pfMidtonesArgs. Operates in-place.
func pfMidtones(data []float32, params interface{}) {
	mid, black := params.(pfMidtonesArgs).Mid, params.(pfMidtonesArgs).Black
	clipLow := black * (mid - 1.0) / ((2.0*mid-1.0)*black - mid)
	clipHigh := float32(1.0)
	scaler := 1.0 / (clipHigh - clipLow)
	for i, d := range data {
		value := d * (mid - 1.0) / ((2.0*mid-1.0)*d - mid)
		if value < clipLow {
			value = 0
		} else if value > clipHigh {
			value = 1
		}
		data[i] = (value - clipLow) * scaler
	}
}

// Luminance plane modes for local tone mapping.
const (
	LumRec709 = "rec709"
	LumHSLuv  = "hsluv"
)

// Compresses large-scale brightness variation while preserving detail:
// the luminance plane is split into a gaussian-blurred base layer and a
// detail residual, the base is pulled towards middle gray by Amount, and
// the channels are rescaled by the luminance ratio. Amount 0 is the
// identity.
type OpLocalTone struct {
	ops.OpUnaryBase
	Sigma     float32 `json:"sigma"`
	Amount    float32 `json:"amount"`
	Luminance string  `json:"luminance"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpLocalToneDefault() }) } // register the operator for JSON decoding

func NewOpLocalToneDefault() *OpLocalTone { return NewOpLocalTone(25, 0, LumRec709) }

func NewOpLocalTone(sigma, amount float32, luminance string) *OpLocalTone {
	op := OpLocalTone{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "localTone", Active: amount != 0}},
		Sigma:       sigma,
		Amount:      amount,
		Luminance:   luminance,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

func (op *OpLocalTone) Apply(f *raw.Image, c *ops.Context) (result *raw.Image, err error) {
	if !op.Active || op.Amount == 0 {
		return f, nil
	}
	if f.Channels != 3 {
		return nil, fmt.Errorf("%w: tone mapping a %d-channel image", raw.ErrDimensionMismatch, f.Channels)
	}

	size := int(f.Pixels())
	lum := make([]float32, size)
	rs, gs, bs := f.Plane(0), f.Plane(1), f.Plane(2)
	switch op.Luminance {
	case LumRec709, "":
		for i := 0; i < size; i++ {
			lum[i] = 0.2126*rs[i] + 0.7152*gs[i] + 0.0722*bs[i]
		}
	case LumHSLuv:
		for i := 0; i < size; i++ {
			_, _, l := colorful.LinearRgb(float64(rs[i]), float64(gs[i]), float64(bs[i])).HSLuv()
			lum[i] = float32(l)
		}
	default:
		return nil, fmt.Errorf("unknown luminance mode %q", op.Luminance)
	}

	base := make([]float32, size)
	tmp := make([]float32, size)
	GaussFilter2D(base, tmp, lum, int(f.Width), op.Sigma)

	// compress the base layer towards middle gray, keep the detail
	// residual, and carry the luminance change onto the channels
	res := raw.NewImageLike(f)
	or, og, ob := res.Plane(0), res.Plane(1), res.Plane(2)
	for i := 0; i < size; i++ {
		l := lum[i]
		if l < 1e-6 {
			or[i], og[i], ob[i] = clamp01(rs[i]), clamp01(gs[i]), clamp01(bs[i])
			continue
		}
		newBase := base[i]*(1-op.Amount) + 0.5*op.Amount
		newL := newBase + (l - base[i])
		ratio := newL / l
		or[i] = clamp01(rs[i] * ratio)
		og[i] = clamp01(gs[i] * ratio)
		ob[i] = clamp01(bs[i] * ratio)
	}

	fmt.Fprintf(c.Log, "%d: Applied local tone mapping with sigma %.1f amount %.2f on %s luminance\n",
		f.ID, op.Sigma, op.Amount, op.Luminance)
	return res, nil
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
