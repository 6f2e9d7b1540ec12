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

package tone

import (
	"fmt"

	"github.com/avolkau/rawisp/internal/ops"
	"github.com/avolkau/rawisp/internal/raw"
)

// DefaultLUTSize is the default edge length of a 3D lookup table.
const DefaultLUTSize = 17

// A LUT3D is a cubic lookup table mapping RGB to RGB, sampled with
// trilinear interpolation. Entries are stored as interleaved RGB triples
// with the red index varying fastest, matching the .cube file layout.
type LUT3D struct {
	Size int32     `json:"size"`
	Data []float32 `json:"data"` // 3*Size*Size*Size values
}

// NewIdentityLUT returns a LUT mapping every color to itself, up to the
// quantization of the grid. Applying it is a near-exact no-op.
func NewIdentityLUT(size int32) *LUT3D {
	l := &LUT3D{Size: size, Data: make([]float32, 3*size*size*size)}
	scale := 1.0 / float32(size-1)
	i := 0
	for b := int32(0); b < size; b++ {
		for g := int32(0); g < size; g++ {
			for r := int32(0); r < size; r++ {
				l.Data[i] = float32(r) * scale
				l.Data[i+1] = float32(g) * scale
				l.Data[i+2] = float32(b) * scale
				i += 3
			}
		}
	}
	return l
}

func (l *LUT3D) valid() bool {
	return l.Size >= 2 && len(l.Data) == 3*int(l.Size)*int(l.Size)*int(l.Size)
}

// Lookup samples the table at (r, g, b) with trilinear interpolation.
// Inputs are clamped to [0,1].
func (l *LUT3D) Lookup(r, g, b float32) (or, og, ob float32) {
	n := l.Size
	rf := clamp01(r) * float32(n-1)
	gf := clamp01(g) * float32(n-1)
	bf := clamp01(b) * float32(n-1)

	r0, g0, b0 := int32(rf), int32(gf), int32(bf)
	if r0 > n-2 {
		r0 = n - 2
	}
	if g0 > n-2 {
		g0 = n - 2
	}
	if b0 > n-2 {
		b0 = n - 2
	}
	rd, gd, bd := rf-float32(r0), gf-float32(g0), bf-float32(b0)

	stride := int32(3)
	rowStride := 3 * n
	sliceStride := 3 * n * n
	base := r0*stride + g0*rowStride + b0*sliceStride

	for c := int32(0); c < 3; c++ {
		i := base + c
		c000 := l.Data[i]
		c100 := l.Data[i+stride]
		c010 := l.Data[i+rowStride]
		c110 := l.Data[i+stride+rowStride]
		c001 := l.Data[i+sliceStride]
		c101 := l.Data[i+stride+sliceStride]
		c011 := l.Data[i+rowStride+sliceStride]
		c111 := l.Data[i+stride+rowStride+sliceStride]

		c00 := c000*(1-rd) + c100*rd
		c10 := c010*(1-rd) + c110*rd
		c01 := c001*(1-rd) + c101*rd
		c11 := c011*(1-rd) + c111*rd
		c0 := c00*(1-gd) + c10*gd
		c1 := c01*(1-gd) + c11*gd
		v := c0*(1-bd) + c1*bd

		switch c {
		case 0:
			or = v
		case 1:
			og = v
		case 2:
			ob = v
		}
	}
	return or, og, ob
}

// Grades an RGB image through a 3D lookup table. A nil table or an
// inactive operator passes the image through unchanged.
type OpLUT struct {
	ops.OpUnaryBase
	LUT *LUT3D `json:"lut"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpLUTDefault() }) } // register the operator for JSON decoding

func NewOpLUTDefault() *OpLUT { return NewOpLUT(nil) }

func NewOpLUT(lut *LUT3D) *OpLUT {
	op := OpLUT{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "lut", Active: lut != nil}},
		LUT:         lut,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

func (op *OpLUT) Apply(f *raw.Image, c *ops.Context) (result *raw.Image, err error) {
	if !op.Active || op.LUT == nil {
		return f, nil
	}
	if f.Channels != 3 {
		return nil, fmt.Errorf("%w: applying a LUT to a %d-channel image", raw.ErrDimensionMismatch, f.Channels)
	}
	if !op.LUT.valid() {
		return nil, fmt.Errorf("malformed %d^3 LUT with %d entries", op.LUT.Size, len(op.LUT.Data))
	}

	res := f.Clone()
	res.ApplyPixelFunction3Chan(pf3ChanLUT, op.LUT)
	fmt.Fprintf(c.Log, "%d: Applied %d^3 LUT\n", f.ID, op.LUT.Size)
	return res, nil
}

// Pixel function to grade RGB samples through a 3D LUT. 2nd parameter
// must be a *LUT3D. Operates in-place.
func pf3ChanLUT(rs, gs, bs []float32, params interface{}) {
	l := params.(*LUT3D)
	for i := 0; i < len(rs); i++ {
		rs[i], gs[i], bs[i] = l.Lookup(rs[i], gs[i], bs[i])
	}
}
