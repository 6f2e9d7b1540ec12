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

package calib

import (
	"fmt"
	"math"

	"github.com/avolkau/rawisp/internal/raw"
)

// A ShadingMap is a low-resolution grid of per-CFA-channel multiplicative
// gains compensating lens vignetting and color shading. Grids are stored
// row-major at GridWidth x GridHeight, channel order R, Gr, Gb, B.
type ShadingMap struct {
	GridWidth  int32        `yaml:"gridWidth"`
	GridHeight int32        `yaml:"gridHeight"`
	Gains      [4][]float32 `yaml:"gains"`
}

// NewIdentityShadingMap returns an all-ones map of the given grid size.
func NewIdentityShadingMap(gridWidth, gridHeight int32) *ShadingMap {
	m := &ShadingMap{GridWidth: gridWidth, GridHeight: gridHeight}
	for ch := range m.Gains {
		g := make([]float32, gridWidth*gridHeight)
		for i := range g {
			g[i] = 1
		}
		m.Gains[ch] = g
	}
	return m
}

func (m *ShadingMap) validate() error {
	if m.GridWidth < 1 || m.GridHeight < 1 {
		return fmt.Errorf("%w: shading grid %dx%d", ErrCalibrationMismatch, m.GridWidth, m.GridHeight)
	}
	want := int(m.GridWidth) * int(m.GridHeight)
	for ch, g := range m.Gains {
		if len(g) != want {
			return fmt.Errorf("%w: shading grid for channel %s has %d entries, expected %d",
				ErrCalibrationMismatch, raw.ChannelName(int32(ch)), len(g), want)
		}
		for _, v := range g {
			if v <= 0 || math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				return fmt.Errorf("%w: non-positive shading gain %g for channel %s",
					ErrCalibrationMismatch, v, raw.ChannelName(int32(ch)))
			}
		}
	}
	return nil
}

// GainAt resamples the gain for channel ch at full-resolution pixel
// (col, row) of a width x height image, with bilinear interpolation
// between grid cells. Coordinates beyond the outermost grid cell centers
// clamp to the nearest edge, so corners never extrapolate.
func (m *ShadingMap) GainAt(ch, col, row, width, height int32) float32 {
	gx := (float32(col)+0.5)*float32(m.GridWidth)/float32(width) - 0.5
	gy := (float32(row)+0.5)*float32(m.GridHeight)/float32(height) - 0.5

	if gx < 0 {
		gx = 0
	} else if gx > float32(m.GridWidth-1) {
		gx = float32(m.GridWidth - 1)
	}
	if gy < 0 {
		gy = 0
	} else if gy > float32(m.GridHeight-1) {
		gy = float32(m.GridHeight - 1)
	}

	xl := int32(math.Floor(float64(gx)))
	yl := int32(math.Floor(float64(gy)))
	xh, yh := xl+1, yl+1
	if xh > m.GridWidth-1 {
		xh = m.GridWidth - 1
	}
	if yh > m.GridHeight-1 {
		yh = m.GridHeight - 1
	}
	xr, yr := gx-float32(xl), gy-float32(yl)

	g := m.Gains[ch]
	vyl := g[xl+yl*m.GridWidth]*(1-xr) + g[xh+yl*m.GridWidth]*xr
	vyh := g[xl+yh*m.GridWidth]*(1-xr) + g[xh+yh*m.GridWidth]*xr
	return vyl*(1-yr) + vyh*yr
}
