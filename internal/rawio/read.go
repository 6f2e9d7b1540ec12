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

// Package rawio reads and writes images at the pipeline boundary.
// Input frames are headerless little-endian float32 plane dumps with a
// YAML sidecar describing geometry and CFA pattern; container formats
// like DNG must be unpacked to this form by external tooling.
package rawio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/avolkau/rawisp/internal/raw"
)

// A Sidecar describes the geometry and provenance of a raw plane dump.
type Sidecar struct {
	Width    int32   `yaml:"width"`
	Height   int32   `yaml:"height"`
	CFA      string  `yaml:"cfa"`
	Exposure float32 `yaml:"exposure,omitempty"`
}

// SidecarName returns the sidecar file name for a given plane dump name,
// replacing the extension with .yaml.
func SidecarName(fileName string) string {
	ext := filepath.Ext(fileName)
	return strings.TrimSuffix(fileName, ext) + ".yaml"
}

// ReadFrameFile loads a mosaic frame from a plane dump plus its sidecar.
func ReadFrameFile(fileName string, id int) (*raw.Image, error) {
	buf, err := ioutil.ReadFile(SidecarName(fileName))
	if err != nil {
		return nil, fmt.Errorf("%d: reading sidecar: %s", id, err.Error())
	}
	sc := Sidecar{}
	if err := yaml.Unmarshal(buf, &sc); err != nil {
		return nil, fmt.Errorf("%d: parsing sidecar: %s", id, err.Error())
	}

	file, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, err := ReadFrame(bufio.NewReader(file), &sc, id)
	if err != nil {
		return nil, fmt.Errorf("%d: reading %s: %s", id, fileName, err.Error())
	}
	img.FileName = fileName
	return img, nil
}

// ReadFrame loads a mosaic frame from a little-endian float32 plane dump.
func ReadFrame(r io.Reader, sc *Sidecar, id int) (*raw.Image, error) {
	if sc.Width < 2 || sc.Height < 2 {
		return nil, fmt.Errorf("invalid dimensions %dx%d", sc.Width, sc.Height)
	}
	cfa, err := raw.CFAFromString(sc.CFA)
	if err != nil {
		return nil, err
	}

	img := raw.NewImage(sc.Width, sc.Height, 1, cfa, nil)
	img.ID, img.Exposure = id, sc.Exposure
	if err := binary.Read(r, binary.LittleEndian, img.Data); err != nil {
		return nil, err
	}
	return img, nil
}

// WriteFrameFile stores a single-plane image as a plane dump plus sidecar,
// the inverse of ReadFrameFile.
func WriteFrameFile(img *raw.Image, fileName string) error {
	sc := Sidecar{Width: img.Width, Height: img.Height, CFA: img.CFA.Name, Exposure: img.Exposure}
	buf, err := yaml.Marshal(&sc)
	if err != nil {
		return err
	}
	if err := ioutil.WriteFile(SidecarName(fileName), buf, 0644); err != nil {
		return err
	}

	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	defer w.Flush()
	return binary.Write(w, binary.LittleEndian, img.Data)
}
