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

package raw

import (
	"math"
)

// Translate resamples a single-plane image shifted by (dx, dy) onto the
// original pixel grid, using bilinear interpolation. A destination pixel
// (col, row) receives the source value at (col-dx, row-dy). Pixels whose
// source falls outside the image are filled with outOfBounds.
//
// Passing NaN as outOfBounds marks missing pixels for the frame combiners,
// which skip NaNs. Note that partitioning and sorting based operations
// fail on NaN inputs, because IEEE NaN does not compare equal to itself.
func (img *Image) Translate(dx, dy, outOfBounds float32) *Image {
	res := NewImageLike(img)

	d := img.Data
	width, height := img.Width, img.Height

	for row := int32(0); row < height; row++ {
		srcY := float32(row) - dy
		yl := int32(math.Floor(float64(srcY)))
		yh := yl + 1
		yr := srcY - float32(yl)

		for col := int32(0); col < width; col++ {
			srcX := float32(col) - dx
			xl := int32(math.Floor(float64(srcX)))
			xh := xl + 1
			xr := srcX - float32(xl)

			if xl < 0 || xh >= width || yl < 0 || yh >= height {
				res.Data[col+row*width] = outOfBounds
				continue
			}

			xlyl := xl + yl*width
			xhyl := xlyl + 1     // xh+yl*width
			xlyh := xlyl + width // xl+yh*width
			xhyh := xhyl + width // xh+yh*width

			vyl := d[xlyl]*(1-xr) + d[xhyl]*xr
			vyh := d[xlyh]*(1-xr) + d[xhyh]*xr
			res.Data[col+row*width] = vyl*(1-yr) + vyh*yr
		}
	}
	return res
}
