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
	"math"
	"testing"
)

func TestIdentityLUTLatticePoints(t *testing.T) {
	l := NewIdentityLUT(5)
	scale := float32(1) / 4
	for b := int32(0); b < 5; b++ {
		for g := int32(0); g < 5; g++ {
			for r := int32(0); r < 5; r++ {
				rin, gin, bin := float32(r)*scale, float32(g)*scale, float32(b)*scale
				or, og, ob := l.Lookup(rin, gin, bin)
				if or != rin || og != gin || ob != bin {
					t.Errorf("lattice (%f,%f,%f) got (%f,%f,%f)", rin, gin, bin, or, og, ob)
				}
			}
		}
	}
}

func TestIdentityLUTInterpolated(t *testing.T) {
	// trilinear interpolation of a linear table is exact up to rounding
	l := NewIdentityLUT(DefaultLUTSize)
	for _, v := range [][3]float32{{0.1, 0.2, 0.3}, {0.99, 0.01, 0.5}, {0.333, 0.667, 0.123}} {
		or, og, ob := l.Lookup(v[0], v[1], v[2])
		if math.Abs(float64(or-v[0])) > 1e-5 ||
			math.Abs(float64(og-v[1])) > 1e-5 ||
			math.Abs(float64(ob-v[2])) > 1e-5 {
			t.Errorf("(%f,%f,%f) got (%f,%f,%f)", v[0], v[1], v[2], or, og, ob)
		}
	}
}

func TestLUTLookupClampsInput(t *testing.T) {
	l := NewIdentityLUT(5)
	or, og, ob := l.Lookup(-0.5, 1.5, 2)
	if or != 0 || og != 1 || ob != 1 {
		t.Errorf("got (%f,%f,%f) expect clamped (0,1,1)", or, og, ob)
	}
}

func TestOpLUTNilPassesThrough(t *testing.T) {
	f := gradientRGB(8, 8)
	res, err := NewOpLUT(nil).Apply(f, testContext())
	if err != nil {
		t.Fatalf("unexpected error %s", err.Error())
	}
	if res != f {
		t.Errorf("expected pass-through without a table")
	}
}

func TestOpLUTConstantTable(t *testing.T) {
	// a table holding 0.5 everywhere grades any input to flat gray
	l := &LUT3D{Size: 2, Data: make([]float32, 3*2*2*2)}
	for i := range l.Data {
		l.Data[i] = 0.5
	}

	f := gradientRGB(8, 8)
	res, err := NewOpLUT(l).Apply(f, testContext())
	if err != nil {
		t.Fatalf("unexpected error %s", err.Error())
	}
	if res == f {
		t.Fatalf("expected out of place result")
	}
	for i, v := range res.Data {
		if v != 0.5 {
			t.Errorf("sample %d got %f expect 0.5", i, v)
		}
	}
}

func TestOpLUTMalformed(t *testing.T) {
	l := &LUT3D{Size: 5, Data: make([]float32, 10)}
	f := gradientRGB(8, 8)
	if _, err := NewOpLUT(l).Apply(f, testContext()); err == nil {
		t.Errorf("expected error for malformed table")
	}
}
