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
	"runtime"
)

//////////////////////////////////////////////////////////////////
// Complex, CPU-limited pixel operations. Parallelized across CPUs
//////////////////////////////////////////////////////////////////

// A pixel function. Operates in-place. For parallelization across CPUs.
type PixelFunction func(data []float32, params interface{})

// A three-channel pixel function. Operates in-place. For parallelization across CPUs.
type PixelFunction3Chan func(c0, c1, c2 []float32, params interface{})

// ApplyPixelFunction applies the given pixel function to all image data,
// split into 8*NumCPU work packages with parallelism limited to NumCPU.
// Operates in-place; clears cached statistics.
func (img *Image) ApplyPixelFunction(pf PixelFunction, args interface{}) {
	data := img.Data

	numBatches := 8 * runtime.NumCPU()
	batchSize := (len(data) + numBatches - 1) / numBatches
	sem := make(chan bool, runtime.NumCPU())
	for lower := 0; lower < len(data); lower += batchSize {
		upper := lower + batchSize
		if upper > len(data) {
			upper = len(data)
		}

		sem <- true
		go func(data []float32) {
			pf(data, args)
			<-sem
		}(data[lower:upper])
	}

	for i := 0; i < cap(sem); i++ { // wait for goroutines to finish
		sem <- true
	}
	img.Stats.Clear()
}

// ApplyPixelFunction3Chan applies the given pixel function to the three
// planes of an RGB image in lockstep, split into 8*NumCPU work packages
// with parallelism limited to NumCPU. Operates in-place.
func (img *Image) ApplyPixelFunction3Chan(pf PixelFunction3Chan, args interface{}) {
	data := img.Data
	l := len(data) / 3

	numBatches := 8 * runtime.NumCPU()
	batchSize := (l + numBatches - 1) / numBatches
	sem := make(chan bool, runtime.NumCPU())
	for lower := 0; lower < l; lower += batchSize {
		upper := lower + batchSize
		if upper > l {
			upper = l
		}

		sem <- true
		go func(c0, c1, c2 []float32) {
			pf(c0, c1, c2, args)
			<-sem
		}(data[lower:upper], data[lower+l:upper+l], data[lower+2*l:upper+2*l])
	}

	for i := 0; i < cap(sem); i++ { // wait for goroutines to finish
		sem <- true
	}
	img.Stats.Clear()
}
