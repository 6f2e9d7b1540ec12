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

package align

import (
	"github.com/avolkau/rawisp/internal/raw"
)

// BinBayerLuma folds each 2x2 CFA quad of a mosaic into one luma sample
// at half resolution. The quad average blends all four CFA channels the
// same way regardless of pattern, so the result is comparable between
// frames without demosaicing, and difference metrics on it never compare
// samples of different colors.
func BinBayerLuma(f *raw.Image) *raw.Image {
	width, height := f.Width/2, f.Height/2
	res := raw.NewImage(width, height, 1, raw.CFA{}, nil)
	res.ID = f.ID
	for row := int32(0); row < height; row++ {
		src := 2 * row * f.Width
		dst := row * width
		for col := int32(0); col < width; col++ {
			c2 := 2 * col
			res.Data[dst+col] = 0.25 * (f.Data[src+c2] + f.Data[src+c2+1] +
				f.Data[src+f.Width+c2] + f.Data[src+f.Width+c2+1])
		}
	}
	return res
}

// bin2x2 mean-downsamples a plane by a factor of two, dropping a trailing
// odd row or column.
func bin2x2(f *raw.Image) *raw.Image {
	width, height := f.Width/2, f.Height/2
	res := raw.NewImage(width, height, 1, raw.CFA{}, nil)
	res.ID = f.ID
	for row := int32(0); row < height; row++ {
		src := 2 * row * f.Width
		dst := row * width
		for col := int32(0); col < width; col++ {
			c2 := 2 * col
			res.Data[dst+col] = 0.25 * (f.Data[src+c2] + f.Data[src+c2+1] +
				f.Data[src+f.Width+c2] + f.Data[src+f.Width+c2+1])
		}
	}
	return res
}

// Smallest edge length at the coarsest pyramid level.
const minPyramidEdge = 32

// NewPyramid builds a coarse-to-fine pyramid over a mosaic frame.
// Level 0 is the half-resolution Bayer luma plane; each further level is
// a 2x2 mean downsample of the previous one. Downsampling stops before
// an edge would fall below minPyramidEdge.
func NewPyramid(f *raw.Image) []*raw.Image {
	levels := []*raw.Image{BinBayerLuma(f)}
	for {
		top := levels[len(levels)-1]
		if top.Width/2 < minPyramidEdge || top.Height/2 < minPyramidEdge {
			break
		}
		levels = append(levels, bin2x2(top))
	}
	return levels
}
