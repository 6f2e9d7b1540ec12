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

package stack

import (
	"errors"
	"io/ioutil"
	"math"
	"testing"

	"github.com/avolkau/rawisp/internal/ops"
	"github.com/avolkau/rawisp/internal/raw"
)

// texturedMosaic samples a smooth multi-scale pattern displaced by
// (shiftX, shiftY) pixels, giving the aligner structure to lock onto.
func texturedMosaic(width, height, shiftX, shiftY int32) *raw.Image {
	f := raw.NewImage(width, height, 1, raw.RGGB, nil)
	for row := int32(0); row < height; row++ {
		for col := int32(0); col < width; col++ {
			x, y := float64(col-shiftX), float64(row-shiftY)
			f.Data[col+row*width] = float32(math.Sin(x*0.37)) +
				float32(math.Cos(y*0.23)) + 0.5*float32(math.Sin((x+y)*0.11))
		}
	}
	return f
}

func TestMergeEmptyBurst(t *testing.T) {
	op := NewOpMergeDefault()
	c := ops.NewContext(ioutil.Discard, nil)
	if _, err := op.merge(nil, c); !errors.Is(err, ErrInsufficientFrames) {
		t.Errorf("got %v expect ErrInsufficientFrames", err)
	}
	if _, err := op.MakePromises(nil, c); !errors.Is(err, ErrInsufficientFrames) {
		t.Errorf("got %v expect ErrInsufficientFrames", err)
	}
}

func TestMergeUnknownMode(t *testing.T) {
	op := NewOpMerge("average", 3, 3, 16, 0.5)
	c := ops.NewContext(ioutil.Discard, nil)
	ins := []ops.Promise{func() (*raw.Image, error) { return texturedMosaic(64, 64, 0, 0), nil }}
	if _, err := op.MakePromises(ins, c); err == nil {
		t.Errorf("expected error for unknown combine mode")
	}
}

func TestMergeDimensionMismatch(t *testing.T) {
	op := NewOpMergeDefault()
	c := ops.NewContext(ioutil.Discard, nil)
	frames := []*raw.Image{texturedMosaic(64, 64, 0, 0), texturedMosaic(64, 32, 0, 0)}
	if _, err := op.merge(frames, c); !errors.Is(err, raw.ErrDimensionMismatch) {
		t.Errorf("got %v expect ErrDimensionMismatch", err)
	}
}

func TestMergeSingleFrame(t *testing.T) {
	op := NewOpMergeDefault()
	c := ops.NewContext(ioutil.Discard, nil)
	ref := texturedMosaic(64, 64, 0, 0)

	res, err := op.merge([]*raw.Image{ref}, c)
	if err != nil {
		t.Fatalf("unexpected error %s", err.Error())
	}
	if res == ref {
		t.Fatalf("expected a copy, not the reference itself")
	}
	for i, v := range res.Data {
		if v != ref.Data[i] {
			t.Errorf("sample %d got %f expect %f", i, v, ref.Data[i])
		}
	}
	if c.RefFrame != ref {
		t.Errorf("reference frame not recorded in context")
	}
}

func TestMergeMeanTwoFramesWithShift(t *testing.T) {
	// the second frame holds the same scene displaced by two pixels; after
	// alignment and warping the merged result must match the reference
	op := NewOpMerge(CombineMean, 3, 3, 16, 0.5)
	c := ops.NewContext(ioutil.Discard, nil)
	ref := texturedMosaic(128, 128, 0, 0)
	f := texturedMosaic(128, 128, 2, 0)

	res, err := op.merge([]*raw.Image{ref, f}, c)
	if err != nil {
		t.Fatalf("unexpected error %s", err.Error())
	}
	for row := int32(0); row < 128; row++ {
		for col := int32(0); col < 128; col++ {
			got := res.Data[col+row*128]
			want := ref.Data[col+row*128]
			if math.IsNaN(float64(got)) {
				t.Fatalf("(%d,%d) got NaN", col, row)
			}
			if math.Abs(float64(got-want)) > 0.02 {
				t.Errorf("(%d,%d) got %f expect %f", col, row, got, want)
			}
		}
	}
}

func TestMergeMeanOddPixelShift(t *testing.T) {
	// a one-pixel displacement is fractional on the binned luma plane the
	// aligner works on, exercising the sub-pixel estimate and fractional
	// warping end to end; the merged result must still match the reference
	op := NewOpMerge(CombineMean, 3, 3, 16, 0.5)
	c := ops.NewContext(ioutil.Discard, nil)
	ref := texturedMosaic(128, 128, 0, 0)
	f := texturedMosaic(128, 128, 1, 0)

	res, err := op.merge([]*raw.Image{ref, f}, c)
	if err != nil {
		t.Fatalf("unexpected error %s", err.Error())
	}
	for row := int32(0); row < 128; row++ {
		for col := int32(0); col < 128; col++ {
			got := res.Data[col+row*128]
			want := ref.Data[col+row*128]
			if math.IsNaN(float64(got)) {
				t.Fatalf("(%d,%d) got NaN", col, row)
			}
			if math.Abs(float64(got-want)) > 0.02 {
				t.Errorf("(%d,%d) got %f expect %f", col, row, got, want)
			}
		}
	}
}

func TestMergeSigmaRejectsOutlier(t *testing.T) {
	// ten registered frames, one with a hot pixel well inside the frame;
	// sigma clipping must excise the outlier and restore the clean value
	op := NewOpMerge(CombineSigma, 3, 3, 16, 0.5)
	c := ops.NewContext(ioutil.Discard, nil)

	frames := make([]*raw.Image, 10)
	for i := range frames {
		frames[i] = texturedMosaic(128, 128, 0, 0)
		frames[i].ID = i
	}
	hotIdx := int32(40 + 52*128)
	clean := frames[0].Data[hotIdx]
	frames[3].Data[hotIdx] = clean + 5

	res, err := op.merge(frames, c)
	if err != nil {
		t.Fatalf("unexpected error %s", err.Error())
	}
	got := res.Data[hotIdx]
	if math.Abs(float64(got-clean)) > 0.01 {
		t.Errorf("hot pixel got %f expect clean value %f", got, clean)
	}
}

func TestMergeMeanKeepsOutlier(t *testing.T) {
	// plain averaging has no outlier rejection; the spike must bleed into
	// the result, establishing the contrast to sigma mode
	op := NewOpMerge(CombineMean, 3, 3, 16, 0.5)
	c := ops.NewContext(ioutil.Discard, nil)

	frames := make([]*raw.Image, 10)
	for i := range frames {
		frames[i] = texturedMosaic(128, 128, 0, 0)
	}
	hotIdx := int32(40 + 52*128)
	clean := frames[0].Data[hotIdx]
	frames[3].Data[hotIdx] = clean + 5

	res, err := op.merge(frames, c)
	if err != nil {
		t.Fatalf("unexpected error %s", err.Error())
	}
	got := res.Data[hotIdx]
	if math.Abs(float64(got-(clean+0.5))) > 0.01 {
		t.Errorf("hot pixel got %f expect %f", got, clean+0.5)
	}
}

func TestCombineMeanSkipsNaN(t *testing.T) {
	nan := float32(math.NaN())
	frameData := [][]float32{{1, nan, nan}, {3, 5, nan}}
	res := make([]float32, 3)
	combineMean(frameData, 42, res)
	if res[0] != 2 || res[1] != 5 || res[2] != 42 {
		t.Errorf("got %v expect [2 5 42]", res)
	}
}

func TestCombineSigmaAllNaNFallback(t *testing.T) {
	nan := float32(math.NaN())
	frameData := [][]float32{{nan}, {nan}}
	res := make([]float32, 1)
	combineSigma(frameData, 42, 3, 3, res)
	if res[0] != 42 {
		t.Errorf("got %f expect reference median fallback 42", res[0])
	}
}
