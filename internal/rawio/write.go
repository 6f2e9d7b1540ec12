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

package rawio

import (
	"bufio"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"math"
	"os"

	"golang.org/x/image/tiff"

	"github.com/avolkau/rawisp/internal/raw"
)

// WriteTIFF16File stores an RGB image as 16-bit TIFF with deflate compression.
func WriteTIFF16File(img *raw.Image, fileName string) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	defer writer.Flush()

	return WriteTIFF16(img, writer)
}

// WriteTIFF16 stores an RGB image as 16-bit TIFF with deflate compression.
// Values are clamped to [0,1]; NaNs become zero.
func WriteTIFF16(f *raw.Image, writer io.Writer) error {
	width, height := int(f.Width), int(f.Height)
	size := width * height
	img := image.NewRGBA64(image.Rectangle{image.Point{0, 0}, image.Point{width, height}})
	for y := 0; y < height; y++ {
		yoffset := y * width
		for x := 0; x < width; x++ {
			r := clamp01(f.Data[yoffset+x])
			g := clamp01(f.Data[yoffset+x+size])
			b := clamp01(f.Data[yoffset+x+size*2])
			c := color.RGBA64{uint16(r * 65535), uint16(g * 65535), uint16(b * 65535), 65535}
			img.SetRGBA64(x, y, c)
		}
	}

	return tiff.Encode(writer, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
}

// WriteJPGFile stores an RGB image as 8-bit JPEG with the given quality.
func WriteJPGFile(img *raw.Image, fileName string, quality int) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	defer writer.Flush()

	return WriteJPG(img, writer, quality)
}

// WriteJPG stores an RGB image as 8-bit JPEG with the given quality.
// Values are clamped to [0,1]; NaNs become zero.
func WriteJPG(f *raw.Image, writer io.Writer, quality int) error {
	width, height := int(f.Width), int(f.Height)
	size := width * height
	img := image.NewRGBA(image.Rectangle{image.Point{0, 0}, image.Point{width, height}})
	for y := 0; y < height; y++ {
		yoffset := y * width
		for x := 0; x < width; x++ {
			r := clamp01(f.Data[yoffset+x])
			g := clamp01(f.Data[yoffset+x+size])
			b := clamp01(f.Data[yoffset+x+size*2])
			c := color.RGBA{uint8(r * 255), uint8(g * 255), uint8(b * 255), 255}
			img.SetRGBA(x, y, c)
		}
	}

	return jpeg.Encode(writer, img, &jpeg.Options{Quality: quality})
}

// WriteMonoJPGFile stores a single-plane image as grayscale JPEG.
func WriteMonoJPGFile(img *raw.Image, fileName string, quality int) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	defer writer.Flush()

	return WriteMonoJPG(img, writer, quality)
}

// WriteMonoJPG stores a single-plane image as grayscale JPEG.
// Values are clamped to [0,1]; NaNs become zero.
func WriteMonoJPG(f *raw.Image, writer io.Writer, quality int) error {
	width, height := int(f.Width), int(f.Height)
	img := image.NewGray(image.Rectangle{image.Point{0, 0}, image.Point{width, height}})
	for y := 0; y < height; y++ {
		yoffset := y * width
		for x := 0; x < width; x++ {
			gray := clamp01(f.Data[yoffset+x])
			img.SetGray(x, y, color.Gray{uint8(gray * 255)})
		}
	}

	return jpeg.Encode(writer, img, &jpeg.Options{Quality: quality})
}

// replace NaNs with zeros for export, else image encoding breaks
func clamp01(v float32) float32 {
	if math.IsNaN(float64(v)) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
