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
	"fmt"
	"strings"
)

// A CFA identifies the Bayer color filter array pattern of a mosaic.
// OffX/OffY give the position of the red sample within each 2x2 quad,
// i.e. the offsets which translate the pattern into RGGB order.
type CFA struct {
	Name string
	OffX int32
	OffY int32
}

var (
	RGGB = CFA{"RGGB", 0, 0}
	GRBG = CFA{"GRBG", 1, 0}
	GBRG = CFA{"GBRG", 0, 1}
	BGGR = CFA{"BGGR", 1, 1}
)

// CFA channel indices. Gr is the green sample sharing a row with red,
// Gb the green sample sharing a row with blue.
const (
	ChanR  = int32(0)
	ChanGr = int32(1)
	ChanGb = int32(2)
	ChanB  = int32(3)
)

// CFAFromString parses a pattern name like "rggb". Case-insensitive.
func CFAFromString(s string) (CFA, error) {
	switch strings.ToUpper(s) {
	case "RGGB":
		return RGGB, nil
	case "GRBG":
		return GRBG, nil
	case "GBRG":
		return GBRG, nil
	case "BGGR":
		return BGGR, nil
	}
	return CFA{}, fmt.Errorf("unknown CFA pattern %q", s)
}

func (c CFA) String() string { return c.Name }

// ChannelAt returns the CFA channel of the sample at (row, col).
func (c CFA) ChannelAt(row, col int32) int32 {
	x := (col + c.OffX) & 1
	y := (row + c.OffY) & 1
	switch {
	case x == 0 && y == 0:
		return ChanR
	case x == 1 && y == 0:
		return ChanGr
	case x == 0 && y == 1:
		return ChanGb
	default:
		return ChanB
	}
}

// ChannelName returns a human-readable name for a CFA channel index.
func ChannelName(ch int32) string {
	return [...]string{"R", "Gr", "Gb", "B"}[ch]
}
