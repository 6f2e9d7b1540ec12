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

// Package raw provides the in-memory image representation shared by all
// pipeline stages: a planar float32 image which is either a single-channel
// Bayer mosaic tagged with its CFA pattern, or a demosaiced 3-channel RGB.
package raw

import (
	"fmt"

	"github.com/avolkau/rawisp/internal/stats"
)

// An Image is a planar float32 raster. Channels==1 denotes a Bayer mosaic
// whose pixel-to-channel assignment is given by CFA; Channels==3 denotes a
// full-resolution RGB image with planes stored back to back (R, G, B).
//
// Pixel values are nominally in [0,1] after black level normalization, but
// are deliberately not clamped: sub-black noise goes negative and specular
// highlights exceed 1. Only the final display conversion clamps.
type Image struct {
	ID       int    // Sequential frame number within a burst, for log output
	FileName string // Original file name, if any, for log output

	Width    int32
	Height   int32
	Channels int32
	CFA      CFA     // Valid for Channels==1 only
	Exposure float32 // Exposure in seconds, if known

	Data []float32 // len = Width*Height*Channels, planar

	Stats *stats.Stats // Lazily evaluated statistics over all planes

	ShiftX   float32 // Estimated displacement to the burst reference frame, in pixels
	ShiftY   float32
	Residual float32 // Normalized dissimilarity left after applying the shift
}

// NewImage creates a mosaic or RGB image of the given dimensions.
// Data is not copied; it is allocated when nil.
func NewImage(width, height, channels int32, cfa CFA, data []float32) *Image {
	if data == nil {
		data = make([]float32, int(width)*int(height)*int(channels))
	}
	return &Image{
		Width:    width,
		Height:   height,
		Channels: channels,
		CFA:      cfa,
		Data:     data,
		Stats:    stats.NewStats(data),
	}
}

// NewImageLike creates an image with the same geometry and metadata as img,
// with a freshly allocated data array.
func NewImageLike(img *Image) *Image {
	res := NewImage(img.Width, img.Height, img.Channels, img.CFA, nil)
	res.ID, res.FileName, res.Exposure = img.ID, img.FileName, img.Exposure
	return res
}

// Clone returns a deep copy of the image.
func (img *Image) Clone() *Image {
	res := NewImageLike(img)
	copy(res.Data, img.Data)
	res.ShiftX, res.ShiftY, res.Residual = img.ShiftX, img.ShiftY, img.Residual
	return res
}

// Pixels returns the number of pixels per plane.
func (img *Image) Pixels() int32 { return img.Width * img.Height }

// Plane returns the backing slice for channel i.
func (img *Image) Plane(i int32) []float32 {
	l := int(img.Pixels())
	return img.Data[int(i)*l : (int(i)+1)*l]
}

// At returns the sample of plane ch at (x, y). No bounds checking.
func (img *Image) At(ch, x, y int32) float32 {
	return img.Data[ch*img.Pixels()+y*img.Width+x]
}

func (img *Image) DimensionsToString() string {
	if img.Channels == 1 {
		return fmt.Sprintf("%dx%d", img.Width, img.Height)
	}
	return fmt.Sprintf("%dx%dx%d", img.Width, img.Height, img.Channels)
}

// EqualDims tells whether two images share geometry and CFA pattern.
func EqualDims(a, b *Image) bool {
	return a.Width == b.Width && a.Height == b.Height &&
		a.Channels == b.Channels && a.CFA == b.CFA
}
