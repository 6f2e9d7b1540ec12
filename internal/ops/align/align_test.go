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
	"errors"
	"math"
	"testing"

	"github.com/valyala/fastrand"

	"github.com/avolkau/rawisp/internal/raw"
)

// texture is a smooth test pattern with structure at several scales, so
// the difference metric has a clean minimum at every pyramid level.
func texture(x, y float32) float32 {
	return float32(math.Sin(float64(x)*0.37)) +
		float32(math.Cos(float64(y)*0.23)) +
		0.5*float32(math.Sin(float64(x+y)*0.11))
}

// texturedMosaic samples the pattern displaced by (shiftX, shiftY)
// full-resolution pixels.
func texturedMosaic(width, height, shiftX, shiftY int32) *raw.Image {
	f := raw.NewImage(width, height, 1, raw.RGGB, nil)
	for row := int32(0); row < height; row++ {
		for col := int32(0); col < width; col++ {
			f.Data[col+row*width] = texture(float32(col-shiftX), float32(row-shiftY))
		}
	}
	return f
}

func TestBinBayerLuma(t *testing.T) {
	f := raw.NewImage(4, 4, 1, raw.RGGB, nil)
	for i := range f.Data {
		f.Data[i] = float32(i)
	}
	luma := BinBayerLuma(f)
	if luma.Width != 2 || luma.Height != 2 {
		t.Fatalf("got %dx%d expect 2x2", luma.Width, luma.Height)
	}
	// first quad holds samples 0, 1, 4, 5
	if got, want := luma.Data[0], float32(0+1+4+5)/4; got != want {
		t.Errorf("quad (0,0) got %f expect %f", got, want)
	}
}

func TestNewPyramidLevels(t *testing.T) {
	f := texturedMosaic(128, 128, 0, 0)
	pyr := NewPyramid(f)
	if len(pyr) != 2 {
		t.Fatalf("got %d levels expect 2", len(pyr))
	}
	if pyr[0].Width != 64 || pyr[1].Width != 32 {
		t.Errorf("level widths got %d,%d expect 64,32", pyr[0].Width, pyr[1].Width)
	}
}

func TestAlignIntegerShift(t *testing.T) {
	ref := texturedMosaic(128, 128, 0, 0)
	a := NewAligner(ref, 16, 0.5)

	// f holds the pattern displaced by (2,0); registering it back onto
	// the reference grid needs a translation of (-2,0)
	f := texturedMosaic(128, 128, 2, 0)
	dx, dy, residual, err := a.Align(f, 4)
	if err != nil {
		t.Fatalf("unexpected error %s", err.Error())
	}
	if math.Abs(float64(dx+2)) > 0.25 || math.Abs(float64(dy)) > 0.25 {
		t.Errorf("shift got (%f,%f) expect (-2,0)", dx, dy)
	}
	if residual > 0.1 {
		t.Errorf("residual got %f expect near zero for a pure translation", residual)
	}
}

func TestAlignOddPixelShift(t *testing.T) {
	// an odd full-resolution displacement is fractional on the binned
	// luma plane, so the optimum lies between texels and must be found
	// by the sub-pixel refinement
	ref := texturedMosaic(128, 128, 0, 0)
	a := NewAligner(ref, 16, 0.5)

	f := texturedMosaic(128, 128, 1, 0)
	dx, dy, residual, err := a.Align(f, 4)
	if err != nil {
		t.Fatalf("unexpected error %s", err.Error())
	}
	if math.Abs(float64(dx+1)) > 0.25 || math.Abs(float64(dy)) > 0.25 {
		t.Errorf("shift got (%f,%f) expect (-1,0)", dx, dy)
	}
	if residual > 0.1 {
		t.Errorf("residual got %f expect near zero for a pure translation", residual)
	}
}

func TestAlignBothAxes(t *testing.T) {
	ref := texturedMosaic(128, 128, 0, 0)
	a := NewAligner(ref, 16, 0.5)

	f := texturedMosaic(128, 128, -4, 2)
	dx, dy, _, err := a.Align(f, 4)
	if err != nil {
		t.Fatalf("unexpected error %s", err.Error())
	}
	if math.Abs(float64(dx-4)) > 0.25 || math.Abs(float64(dy+2)) > 0.25 {
		t.Errorf("shift got (%f,%f) expect (4,-2)", dx, dy)
	}
}

func TestAlignZeroShift(t *testing.T) {
	ref := texturedMosaic(128, 128, 0, 0)
	a := NewAligner(ref, 16, 0.5)

	dx, dy, residual, err := a.Align(ref.Clone(), 4)
	if err != nil {
		t.Fatalf("unexpected error %s", err.Error())
	}
	if math.Abs(float64(dx)) > 0.1 || math.Abs(float64(dy)) > 0.1 {
		t.Errorf("shift got (%f,%f) expect (0,0)", dx, dy)
	}
	if residual > 0.01 {
		t.Errorf("residual got %f expect near zero for identical frames", residual)
	}
}

func TestAlignFlatFrame(t *testing.T) {
	// a featureless frame scores every candidate identically; ties must
	// resolve to the zero displacement on every run
	ref := raw.NewImage(64, 64, 1, raw.RGGB, nil)
	for i := range ref.Data {
		ref.Data[i] = 0.5
	}
	a := NewAligner(ref, 16, 0.5)

	for run := 0; run < 3; run++ {
		dx, dy, residual, err := a.Align(ref.Clone(), 4)
		if err != nil {
			t.Fatalf("unexpected error %s", err.Error())
		}
		if dx != 0 || dy != 0 {
			t.Errorf("run %d: shift got (%f,%f) expect exactly (0,0)", run, dx, dy)
		}
		if residual != 0 {
			t.Errorf("run %d: residual got %f expect 0", run, residual)
		}
	}
}

func TestAlignShiftBeyondRange(t *testing.T) {
	// a displacement well past MaxShift cannot be recovered: the optimum
	// either pins to the search window edge or leaves a large residual
	ref := texturedMosaic(128, 128, 0, 0)
	a := NewAligner(ref, 16, 0.05)

	f := texturedMosaic(128, 128, 24, 0)
	if _, _, _, err := a.Align(f, 4); !errors.Is(err, ErrAlignmentFailed) {
		t.Errorf("got %v expect ErrAlignmentFailed", err)
	}
}

func TestAlignUncorrelatedFrame(t *testing.T) {
	ref := texturedMosaic(128, 128, 0, 0)
	a := NewAligner(ref, 16, 0.01)

	rng := fastrand.RNG{}
	f := raw.NewImage(128, 128, 1, raw.RGGB, nil)
	for i := range f.Data {
		f.Data[i] = 10 * float32(rng.Uint32n(1000)) / 1000
	}
	if _, _, _, err := a.Align(f, 4); !errors.Is(err, ErrAlignmentFailed) {
		t.Errorf("got %v expect ErrAlignmentFailed", err)
	}
}

func TestAlignDimensionMismatch(t *testing.T) {
	ref := texturedMosaic(128, 128, 0, 0)
	a := NewAligner(ref, 16, 0.5)

	f := texturedMosaic(64, 128, 0, 0)
	if _, _, _, err := a.Align(f, 4); !errors.Is(err, ErrAlignmentFailed) {
		t.Errorf("got %v expect ErrAlignmentFailed", err)
	}
}
