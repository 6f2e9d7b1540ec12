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

// Package demosaic reconstructs full-resolution RGB images from Bayer
// mosaics. The Demosaicer interface keeps the interpolation method
// pluggable; the bilinear baseline averages the nearest neighbors of
// each missing color sample.
package demosaic

import (
	"fmt"

	"github.com/avolkau/rawisp/internal/ops"
	"github.com/avolkau/rawisp/internal/raw"
)

// A Demosaicer turns a single-channel mosaic into a 3-channel RGB image
// of the same dimensions. Measured samples pass through unchanged, so
// sampling the output at the original CFA phase positions reproduces the
// mosaic exactly. The value range is preserved, including negatives and
// values above one.
type Demosaicer interface {
	Name() string
	Demosaic(f *raw.Image) (*raw.Image, error)
}

// NewDemosaicer returns the demosaicer registered under the given name.
func NewDemosaicer(name string) (Demosaicer, error) {
	switch name {
	case "bilinear", "":
		return &Bilinear{}, nil
	}
	return nil, fmt.Errorf("unknown demosaic method %q", name)
}

// Bilinear interpolates each missing color sample from its nearest
// neighbors of that color: horizontal, vertical, plus-shaped or diagonal
// averages depending on the CFA site. Borders mirror by one quad, which
// keeps CFA parity intact; no access goes out of bounds.
type Bilinear struct{}

func (d *Bilinear) Name() string { return "bilinear" }

func (d *Bilinear) Demosaic(f *raw.Image) (*raw.Image, error) {
	if f.Channels != 1 {
		return nil, fmt.Errorf("%w: demosaicing a %d-channel image", raw.ErrDimensionMismatch, f.Channels)
	}
	width, height := f.Width, f.Height
	res := raw.NewImage(width, height, 3, raw.CFA{}, nil)
	res.ID, res.FileName, res.Exposure = f.ID, f.FileName, f.Exposure

	size := width * height
	rs, gs, bs := res.Data[:size], res.Data[size:2*size], res.Data[2*size:]

	// sample with parity-preserving mirroring at the borders
	at := func(row, col int32) float32 {
		if col < 0 {
			col = 1
		} else if col >= width {
			col = width - 2
		}
		if row < 0 {
			row = 1
		} else if row >= height {
			row = height - 2
		}
		return f.Data[col+row*width]
	}

	for row := int32(0); row < height; row++ {
		offset := row * width
		for col := int32(0); col < width; col++ {
			v := f.Data[offset+col]
			horiz := 0.5 * (at(row, col-1) + at(row, col+1))
			vert := 0.5 * (at(row-1, col) + at(row+1, col))

			switch f.CFA.ChannelAt(row, col) {
			case raw.ChanR:
				rs[offset+col] = v
				gs[offset+col] = 0.5 * (horiz + vert)
				bs[offset+col] = 0.25 * (at(row-1, col-1) + at(row-1, col+1) +
					at(row+1, col-1) + at(row+1, col+1))
			case raw.ChanGr:
				rs[offset+col] = horiz
				gs[offset+col] = v
				bs[offset+col] = vert
			case raw.ChanGb:
				rs[offset+col] = vert
				gs[offset+col] = v
				bs[offset+col] = horiz
			case raw.ChanB:
				rs[offset+col] = 0.25 * (at(row-1, col-1) + at(row-1, col+1) +
					at(row+1, col-1) + at(row+1, col+1))
				gs[offset+col] = 0.5 * (horiz + vert)
				bs[offset+col] = v
			}
		}
	}
	return res, nil
}

// Interpolates a mosaic frame into a full-resolution RGB image.
type OpDemosaic struct {
	ops.OpUnaryBase
	Method string `json:"method"`
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpDemosaicDefault() }) } // register the operator for JSON decoding

func NewOpDemosaicDefault() *OpDemosaic { return NewOpDemosaic("bilinear") }

func NewOpDemosaic(method string) *OpDemosaic {
	op := OpDemosaic{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "demosaic", Active: true}},
		Method:      method,
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

func (op *OpDemosaic) Apply(f *raw.Image, c *ops.Context) (result *raw.Image, err error) {
	if !op.Active {
		return f, nil
	}
	d, err := NewDemosaicer(op.Method)
	if err != nil {
		return nil, err
	}
	res, err := d.Demosaic(f)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(c.Log, "%d: Demosaiced %s %s mosaic with %s interpolation\n",
		f.ID, f.DimensionsToString(), f.CFA, d.Name())
	return res, nil
}
