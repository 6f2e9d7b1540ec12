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

// Package pre contains the mosaic-domain corrections which run on every
// frame before alignment and merging: black level normalization, lens
// shading correction and white balance. All three operate out of place
// and leave the input frame untouched.
package pre

import (
	"fmt"

	"github.com/avolkau/rawisp/internal/calib"
	"github.com/avolkau/rawisp/internal/ops"
	"github.com/avolkau/rawisp/internal/raw"
)

// Normalizes a mosaic frame to [0,1] nominal range by subtracting the
// per-CFA-channel black level and dividing by the usable range. Values
// are not clamped: noise below black stays negative, and highlights
// above the white level stay above one.
type OpBlackLevel struct {
	ops.OpUnaryBase
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpBlackLevelDefault() }) } // register the operator for JSON decoding

func NewOpBlackLevelDefault() *OpBlackLevel { return NewOpBlackLevel() }

func NewOpBlackLevel() *OpBlackLevel {
	op := OpBlackLevel{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "blackLevel", Active: true}},
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

func (op *OpBlackLevel) Apply(f *raw.Image, c *ops.Context) (result *raw.Image, err error) {
	if !op.Active {
		return f, nil
	}
	if err = c.Calib.ValidateFrame(f); err != nil {
		return nil, err
	}

	blacks := c.Calib.BlackLevels
	if !c.Calib.HasBlackLevels() {
		blacks = calib.EstimateBlackLevels(f)
		fmt.Fprintf(c.Log, "%d: No black levels in calibration record, estimated R=%.5g Gr=%.5g Gb=%.5g B=%.5g from frame content\n",
			f.ID, blacks[0], blacks[1], blacks[2], blacks[3])
	}
	white := c.Calib.WhiteLevel
	var invRange [4]float32
	for ch, black := range blacks {
		if white <= black {
			return nil, fmt.Errorf("%w: white level %g not above estimated black level %g for channel %s",
				calib.ErrCalibrationMismatch, white, black, raw.ChannelName(int32(ch)))
		}
		invRange[ch] = 1.0 / (white - black)
	}

	res := raw.NewImageLike(f)
	width := f.Width
	for row := int32(0); row < f.Height; row++ {
		rowOffset := row * width
		// CFA channels alternate in pairs along a row; resolve both once
		chEven := f.CFA.ChannelAt(row, 0)
		chOdd := f.CFA.ChannelAt(row, 1)
		for col := int32(0); col < width; col += 2 {
			res.Data[rowOffset+col] = (f.Data[rowOffset+col] - blacks[chEven]) * invRange[chEven]
			res.Data[rowOffset+col+1] = (f.Data[rowOffset+col+1] - blacks[chOdd]) * invRange[chOdd]
		}
	}

	fmt.Fprintf(c.Log, "%d: Normalized black levels R=%.5g Gr=%.5g Gb=%.5g B=%.5g white=%.5g, new %v\n",
		f.ID, blacks[0], blacks[1], blacks[2], blacks[3], white, res.Stats)
	return res, nil
}

// Compensates lens vignetting and color shading by multiplying each
// sample with the bilinearly resampled gain of its CFA channel.
type OpShading struct {
	ops.OpUnaryBase
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpShadingDefault() }) } // register the operator for JSON decoding

func NewOpShadingDefault() *OpShading { return NewOpShading() }

func NewOpShading() *OpShading {
	op := OpShading{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "shading", Active: true}},
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

func (op *OpShading) Apply(f *raw.Image, c *ops.Context) (result *raw.Image, err error) {
	if !op.Active {
		return f, nil
	}
	if err = c.Calib.ValidateFrame(f); err != nil {
		return nil, err
	}
	m := c.Calib.Shading
	if m == nil {
		fmt.Fprintf(c.Log, "%d: No shading map in calibration record, skipping\n", f.ID)
		return f, nil
	}

	res := raw.NewImageLike(f)
	width, height := f.Width, f.Height
	for row := int32(0); row < height; row++ {
		rowOffset := row * width
		for col := int32(0); col < width; col++ {
			ch := f.CFA.ChannelAt(row, col)
			res.Data[rowOffset+col] = f.Data[rowOffset+col] * m.GainAt(ch, col, row, width, height)
		}
	}

	fmt.Fprintf(c.Log, "%d: Applied %dx%d lens shading map, new %v\n",
		f.ID, m.GridWidth, m.GridHeight, res.Stats)
	return res, nil
}

// Scales each CFA channel by its white balance gain.
type OpWhiteBalance struct {
	ops.OpUnaryBase
}

func init() { ops.SetOperatorFactory(func() ops.Operator { return NewOpWhiteBalanceDefault() }) } // register the operator for JSON decoding

func NewOpWhiteBalanceDefault() *OpWhiteBalance { return NewOpWhiteBalance() }

func NewOpWhiteBalance() *OpWhiteBalance {
	op := OpWhiteBalance{
		OpUnaryBase: ops.OpUnaryBase{OpBase: ops.OpBase{Type: "whiteBalance", Active: true}},
	}
	op.OpUnaryBase.Apply = op.Apply // assign class method to superclass abstract method
	return &op
}

func (op *OpWhiteBalance) Apply(f *raw.Image, c *ops.Context) (result *raw.Image, err error) {
	if !op.Active {
		return f, nil
	}
	if err = c.Calib.ValidateFrame(f); err != nil {
		return nil, err
	}
	gains := c.Calib.WBGains

	res := raw.NewImageLike(f)
	width := f.Width
	for row := int32(0); row < f.Height; row++ {
		rowOffset := row * width
		chEven := f.CFA.ChannelAt(row, 0)
		chOdd := f.CFA.ChannelAt(row, 1)
		for col := int32(0); col < width; col += 2 {
			res.Data[rowOffset+col] = f.Data[rowOffset+col] * gains[chEven]
			res.Data[rowOffset+col+1] = f.Data[rowOffset+col+1] * gains[chOdd]
		}
	}

	fmt.Fprintf(c.Log, "%d: Applied white balance gains R=%.4g Gr=%.4g Gb=%.4g B=%.4g\n",
		f.ID, gains[0], gains[1], gains[2], gains[3])
	return res, nil
}
