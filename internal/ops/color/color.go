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

// Package color maps sensor-native RGB to the linear working color space
// by applying the calibration record's 3x3 color correction matrix.
package color

import (
	"fmt"

	"github.com/avolkau/rawisp/internal/ops"
	"github.com/avolkau/rawisp/internal/raw"
)

// Multiplies every pixel of an RGB image with a 3x3 matrix. The matrix
// comes from the calibration record, which validates invertibility at
// load time; application itself cannot fail on pixel data.
type OpColorCorrect struct {
	ops.OpUnaryBase
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpColorCorrectDefault() }) } // register the operator for JSON decoding

func NewOpColorCorrectDefault() *OpColorCorrect { return NewOpColorCorrect() }

func NewOpColorCorrect() *OpColorCorrect {
	op := OpColorCorrect{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "colorCorrect", Active: true}},
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

func (op *OpColorCorrect) Apply(f *raw.Image, c *ops.Context) (result *raw.Image, err error) {
	if !op.Active {
		return f, nil
	}
	if f.Channels != 3 {
		return nil, fmt.Errorf("%w: color correcting a %d-channel image", raw.ErrDimensionMismatch, f.Channels)
	}

	res := f.Clone()
	ApplyMatrix(res, c.Calib.CCM)
	fmt.Fprintf(c.Log, "%d: Applied color correction matrix %v\n", f.ID, c.Calib.CCM)
	return res, nil
}

// ApplyMatrix multiplies every pixel of an RGB image with the given 3x3
// matrix, in place, parallelized across CPUs.
func ApplyMatrix(f *raw.Image, m [3][3]float32) {
	f.ApplyPixelFunction3Chan(pf3ChanMatrix, m)
}

// Pixel function to multiply RGB samples with a 3x3 matrix. 2nd parameter
// must be a [3][3]float32. Operates in-place.
func pf3ChanMatrix(rs, gs, bs []float32, params interface{}) {
	m := params.([3][3]float32)
	for i := 0; i < len(rs); i++ {
		r, g, b := rs[i], gs[i], bs[i]
		rs[i] = m[0][0]*r + m[0][1]*g + m[0][2]*b
		gs[i] = m[1][0]*r + m[1][1]*g + m[1][2]*b
		bs[i] = m[2][0]*r + m[2][1]*g + m[2][2]*b
	}
}
