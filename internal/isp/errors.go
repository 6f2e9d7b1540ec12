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

package isp

import (
	"github.com/avolkau/rawisp/internal/calib"
	"github.com/avolkau/rawisp/internal/ops/stack"
	"github.com/avolkau/rawisp/internal/raw"
)

// The sentinel errors of the pipeline, re-exported from the packages
// which raise them so callers can match the whole taxonomy with
// errors.Is against a single import.
var (
	ErrCalibrationMismatch = calib.ErrCalibrationMismatch
	ErrDimensionMismatch   = raw.ErrDimensionMismatch
	ErrInvalidCCM          = calib.ErrInvalidCCM
	ErrInsufficientFrames  = stack.ErrInsufficientFrames
)
