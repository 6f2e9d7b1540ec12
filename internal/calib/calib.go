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

// Package calib holds the per-sensor calibration record consumed by the
// processing stages: black levels, white level, lens shading gain maps,
// white balance gains and the color correction matrix. A record is
// immutable after Load and shared read-only across goroutines.
package calib

import (
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"math"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v2"

	"github.com/avolkau/rawisp/internal/raw"
)

// ErrCalibrationMismatch indicates that a calibration record does not fit
// a frame, e.g. differing CFA patterns. Match with errors.Is.
var ErrCalibrationMismatch = errors.New("calibration does not match frame")

// ErrInvalidCCM indicates a singular or malformed color correction matrix.
// Match with errors.Is.
var ErrInvalidCCM = errors.New("invalid color correction matrix")

// Data is a sensor calibration record. Channel-indexed fields follow the
// CFA channel order R, Gr, Gb, B.
type Data struct {
	CFA         string        `yaml:"cfa"`
	BlackLevels [4]float32    `yaml:"blackLevels"`
	WhiteLevel  float32       `yaml:"whiteLevel"`
	WBGains     [4]float32    `yaml:"wbGains"`
	Shading     *ShadingMap   `yaml:"shading,omitempty"`
	CCM         [3][3]float32 `yaml:"ccm"`
}

// NewIdentity returns a calibration record which leaves pixel values
// untouched apart from scaling by the given white level: zero black
// levels, unit white balance gains, no shading map, identity CCM.
func NewIdentity(cfa raw.CFA, whiteLevel float32) *Data {
	return &Data{
		CFA:        cfa.Name,
		WhiteLevel: whiteLevel,
		WBGains:    [4]float32{1, 1, 1, 1},
		CCM:        [3][3]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
	}
}

// Load reads and validates a YAML calibration record.
func Load(r io.Reader) (*Data, error) {
	buf, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, err
	}
	d := &Data{}
	if err := yaml.Unmarshal(buf, d); err != nil {
		return nil, fmt.Errorf("parsing calibration record: %s", err.Error())
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Pattern returns the parsed CFA pattern of the record.
func (d *Data) Pattern() (raw.CFA, error) {
	return raw.CFAFromString(d.CFA)
}

// Validate checks internal consistency of the record: the white level must
// exceed every black level, white balance gains must be positive, the
// shading map grids must be well-formed, and the CCM must be invertible.
func (d *Data) Validate() error {
	if _, err := d.Pattern(); err != nil {
		return fmt.Errorf("%w: %s", ErrCalibrationMismatch, err.Error())
	}
	for ch, black := range d.BlackLevels {
		if black < 0 {
			return fmt.Errorf("%w: negative black level %g for channel %s",
				ErrCalibrationMismatch, black, raw.ChannelName(int32(ch)))
		}
		if d.WhiteLevel <= black {
			return fmt.Errorf("%w: white level %g not above black level %g for channel %s",
				ErrCalibrationMismatch, d.WhiteLevel, black, raw.ChannelName(int32(ch)))
		}
	}
	for ch, gain := range d.WBGains {
		if gain <= 0 {
			return fmt.Errorf("%w: non-positive white balance gain %g for channel %s",
				ErrCalibrationMismatch, gain, raw.ChannelName(int32(ch)))
		}
	}
	if d.Shading != nil {
		if err := d.Shading.validate(); err != nil {
			return err
		}
	}
	return d.validateCCM()
}

// validateCCM rejects singular and near-singular matrices before any
// pixel work runs.
func (d *Data) validateCCM() error {
	m := mat.NewDense(3, 3, nil)
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			v := d.CCM[row][col]
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				return fmt.Errorf("%w: non-finite entry at (%d,%d)", ErrInvalidCCM, row, col)
			}
			m.Set(row, col, float64(v))
		}
	}
	if det := mat.Det(m); math.Abs(det) < 1e-9 {
		return fmt.Errorf("%w: determinant %g", ErrInvalidCCM, det)
	}
	return nil
}

// InverseCCM returns the inverse of the color correction matrix.
func (d *Data) InverseCCM() ([3][3]float32, error) {
	m := mat.NewDense(3, 3, nil)
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			m.Set(row, col, float64(d.CCM[row][col]))
		}
	}
	var inv mat.Dense
	if err := inv.Inverse(m); err != nil {
		return [3][3]float32{}, fmt.Errorf("%w: %s", ErrInvalidCCM, err.Error())
	}
	var res [3][3]float32
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			res[row][col] = float32(inv.At(row, col))
		}
	}
	return res, nil
}

// ValidateFrame checks that the record fits the given mosaic frame.
func (d *Data) ValidateFrame(f *raw.Image) error {
	cfa, err := d.Pattern()
	if err != nil {
		return err
	}
	if f.Channels != 1 {
		return fmt.Errorf("%w: frame %d has %d channels, expected mosaic",
			ErrCalibrationMismatch, f.ID, f.Channels)
	}
	if f.CFA != cfa {
		return fmt.Errorf("%w: frame %d has CFA %s, record has %s",
			ErrCalibrationMismatch, f.ID, f.CFA, cfa)
	}
	if f.Width&1 != 0 || f.Height&1 != 0 {
		return fmt.Errorf("%w: frame %d has odd dimensions %dx%d",
			ErrCalibrationMismatch, f.ID, f.Width, f.Height)
	}
	return nil
}

// HasBlackLevels tells whether the record carries usable black levels.
// An all-zero vector counts as absent, triggering estimation from frame
// content.
func (d *Data) HasBlackLevels() bool {
	for _, b := range d.BlackLevels {
		if b != 0 {
			return true
		}
	}
	return false
}

// EstimateBlackLevels derives per-channel black levels from a frame as the
// minimum sample of each CFA plane. A fallback for records without factory
// black level data.
func EstimateBlackLevels(f *raw.Image) (blacks [4]float32) {
	mins := [4]float32{
		float32(math.MaxFloat32), float32(math.MaxFloat32),
		float32(math.MaxFloat32), float32(math.MaxFloat32),
	}
	for row := int32(0); row < f.Height; row++ {
		for col := int32(0); col < f.Width; col++ {
			ch := f.CFA.ChannelAt(row, col)
			if v := f.Data[col+row*f.Width]; v < mins[ch] {
				mins[ch] = v
			}
		}
	}
	return mins
}
