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
	"bytes"
	"image/jpeg"
	"math"
	"path/filepath"
	"testing"

	"golang.org/x/image/tiff"

	"github.com/avolkau/rawisp/internal/raw"
)

func TestSidecarName(t *testing.T) {
	tcs := [][2]string{
		{"frame-0.raw", "frame-0.yaml"},
		{"burst/frame.raw", "burst/frame.yaml"},
		{"noext", "noext.yaml"},
	}
	for _, tc := range tcs {
		if got := SidecarName(tc[0]); got != tc[1] {
			t.Errorf("SidecarName(%q) got %q expect %q", tc[0], got, tc[1])
		}
	}
}

func TestFrameFileRoundTrip(t *testing.T) {
	img := raw.NewImage(6, 4, 1, raw.GRBG, nil)
	img.Exposure = 1.0 / 30
	for i := range img.Data {
		img.Data[i] = float32(i) * 0.125
	}

	fileName := filepath.Join(t.TempDir(), "frame-0.raw")
	if err := WriteFrameFile(img, fileName); err != nil {
		t.Fatalf("write: %s", err.Error())
	}

	loaded, err := ReadFrameFile(fileName, 7)
	if err != nil {
		t.Fatalf("read: %s", err.Error())
	}
	if loaded.ID != 7 {
		t.Errorf("ID got %d expect 7", loaded.ID)
	}
	if loaded.Width != 6 || loaded.Height != 4 || loaded.CFA != raw.GRBG {
		t.Errorf("geometry got %s %s expect 6x4 GRBG", loaded.DimensionsToString(), loaded.CFA)
	}
	if loaded.Exposure != img.Exposure {
		t.Errorf("exposure got %f expect %f", loaded.Exposure, img.Exposure)
	}
	for i, v := range loaded.Data {
		if v != img.Data[i] {
			t.Errorf("sample %d got %f expect %f", i, v, img.Data[i])
		}
	}
	if loaded.FileName != fileName {
		t.Errorf("file name got %q expect %q", loaded.FileName, fileName)
	}
}

func TestReadFrameRejectsBadSidecar(t *testing.T) {
	sc := &Sidecar{Width: 1, Height: 4, CFA: "RGGB"}
	if _, err := ReadFrame(bytes.NewReader(nil), sc, 0); err == nil {
		t.Errorf("expected error for width below 2")
	}
	sc = &Sidecar{Width: 4, Height: 4, CFA: "XYZW"}
	if _, err := ReadFrame(bytes.NewReader(nil), sc, 0); err == nil {
		t.Errorf("expected error for unknown CFA pattern")
	}
}

func TestWriteTIFF16(t *testing.T) {
	img := raw.NewImage(8, 8, 3, raw.CFA{}, nil)
	for i := range img.Data {
		img.Data[i] = float32(i) / float32(len(img.Data))
	}

	buf := bytes.Buffer{}
	if err := WriteTIFF16(img, &buf); err != nil {
		t.Fatalf("encode: %s", err.Error())
	}
	decoded, err := tiff.Decode(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("decode: %s", err.Error())
	}
	bounds := decoded.Bounds()
	if bounds.Dx() != 8 || bounds.Dy() != 8 {
		t.Errorf("got %dx%d expect 8x8", bounds.Dx(), bounds.Dy())
	}
}

func TestWriteJPG(t *testing.T) {
	img := raw.NewImage(8, 8, 3, raw.CFA{}, nil)
	for i := range img.Data {
		img.Data[i] = 0.5
	}

	buf := bytes.Buffer{}
	if err := WriteJPG(img, &buf, 95); err != nil {
		t.Fatalf("encode: %s", err.Error())
	}
	decoded, err := jpeg.Decode(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("decode: %s", err.Error())
	}
	if decoded.Bounds().Dx() != 8 {
		t.Errorf("got width %d expect 8", decoded.Bounds().Dx())
	}
}

func TestWriteMonoJPG(t *testing.T) {
	img := raw.NewImage(8, 8, 1, raw.RGGB, nil)
	buf := bytes.Buffer{}
	if err := WriteMonoJPG(img, &buf, 95); err != nil {
		t.Fatalf("encode: %s", err.Error())
	}
	if _, err := jpeg.Decode(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatalf("decode: %s", err.Error())
	}
}

func TestExportClamping(t *testing.T) {
	tcs := []struct {
		In, Out float32
	}{
		{-0.5, 0}, {0, 0}, {0.5, 0.5}, {1, 1}, {1.5, 1},
		{float32(math.NaN()), 0},
	}
	for _, tc := range tcs {
		if got := clamp01(tc.In); got != tc.Out {
			t.Errorf("clamp01(%f) got %f expect %f", tc.In, got, tc.Out)
		}
	}
}
