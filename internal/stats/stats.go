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

// Package stats provides lazily evaluated image statistics, and robust
// location and scale estimators based on randomized subsampling.
package stats

import (
	"fmt"
	"math"
	"sync"

	"github.com/valyala/fastrand"

	"github.com/avolkau/rawisp/internal/qsort"
)

// Number of random samples used by the approximate estimators on large planes.
const numSamples = 32 * 1024

// Plane size below which the estimators run exactly instead of sampling.
const exactThreshold = 64 * 1024

// Stats holds basic and robust statistics for an image plane.
// Values are computed on first access and cached until Clear is called.
type Stats struct {
	data []float32

	mu         sync.Mutex
	haveBasic  bool
	min        float32
	max        float32
	mean       float32
	stdDev     float32
	haveRobust bool
	location   float32
	scale      float32
}

func NewStats(data []float32) *Stats {
	return &Stats{data: data}
}

// Clear invalidates all cached values, e.g. after the data was mutated in place.
func (s *Stats) Clear() {
	s.mu.Lock()
	s.haveBasic, s.haveRobust = false, false
	s.mu.Unlock()
}

func (s *Stats) Min() float32    { s.basic(); return s.min }
func (s *Stats) Max() float32    { s.basic(); return s.max }
func (s *Stats) Mean() float32   { s.basic(); return s.mean }
func (s *Stats) StdDev() float32 { s.basic(); return s.stdDev }

// Location returns a robust location estimate (sigma-clipped sampled median).
func (s *Stats) Location() float32 { s.robust(); return s.location }

// Scale returns a robust scale estimate (sampled Qn, sigma-clipped).
func (s *Stats) Scale() float32 { s.robust(); return s.scale }

func (s *Stats) String() string {
	return fmt.Sprintf("Min %.6g Max %.6g Mean %.6g StdDev %.6g Location %.6g Scale %.6g",
		s.Min(), s.Max(), s.Mean(), s.StdDev(), s.Location(), s.Scale())
}

func (s *Stats) basic() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.haveBasic {
		return
	}
	s.min, s.mean, s.max = MinMeanMax(s.data)
	variance := Variance(s.data, s.mean)
	s.stdDev = float32(math.Sqrt(float64(variance)))
	s.haveBasic = true
}

func (s *Stats) robust() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.haveRobust {
		return
	}
	if len(s.data) < exactThreshold {
		tmp := append([]float32(nil), s.data...)
		s.location = qsort.SelectMedian(tmp)
		for i, d := range s.data {
			tmp[i] = float32(math.Abs(float64(d - s.location)))
		}
		s.scale = qsort.SelectMedian(tmp) * 1.4826 // normalize MAD to gaussian sigma
	} else {
		s.location, s.scale = SigmaClippedMedianAndQn(s.data, 2, 2, 1e-6, numSamples)
	}
	s.haveRobust = true
}

// MinMeanMax calculates minimum, mean and maximum of the given data in one pass.
func MinMeanMax(data []float32) (min, mean, max float32) {
	min, max = data[0], data[0]
	sum := float64(0)
	for _, d := range data {
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
		sum += float64(d)
	}
	return min, float32(sum / float64(len(data))), max
}

// Variance calculates the variance of the given data w.r.t. the provided mean.
func Variance(data []float32, mean float32) float32 {
	v := float64(0)
	for _, d := range data {
		diff := float64(d - mean)
		v += diff * diff
	}
	return float32(v / float64(len(data)))
}

// MeanStdDev calculates mean and standard deviation of the given data.
func MeanStdDev(data []float32) (mean, stdDev float32) {
	_, mean, _ = MinMeanMax(data)
	return mean, float32(math.Sqrt(float64(Variance(data, mean))))
}

// ApproxMedian estimates the median of a large plane by sampling.
// The samples slice is used as a scratchpad.
func ApproxMedian(data []float32, samples []float32) float32 {
	max := uint32(len(data))
	rng := fastrand.RNG{}
	for i := range samples {
		samples[i] = data[rng.Uint32n(max)]
	}
	return qsort.SelectMedian(samples)
}

// ApproxBoundedMedian estimates the median of the values within [low, high] by sampling.
func ApproxBoundedMedian(data []float32, low, high float32, samples []float32) float32 {
	max := uint32(len(data))
	rng := fastrand.RNG{}
	for i := range samples {
		var d float32
		for {
			d = data[rng.Uint32n(max)]
			if d >= low && d <= high {
				break
			}
		}
		samples[i] = d
	}
	return qsort.SelectMedian(samples)
}

// ApproxQn estimates the Qn scale of a large plane by sampling random pairs.
// See Rousseeuw & Croux, "Alternatives to the Median Absolute Deviation".
func ApproxQn(data []float32, samples []float32) float32 {
	max := uint32(len(data))
	rng := fastrand.RNG{}
	for i := range samples {
		i1 := 1 + rng.Uint32n(max-1)
		i2 := rng.Uint32n(i1)
		samples[i] = float32(math.Abs(float64(data[i1] - data[i2])))
	}
	return qsort.SelectFirstQuartile(samples) * 2.21914 // normalize to gaussian sigma
}

// ApproxBoundedQn estimates the Qn scale of the values within [low, high] by sampling pairs.
func ApproxBoundedQn(data []float32, low, high float32, samples []float32) float32 {
	max := uint32(len(data))
	rng := fastrand.RNG{}
	for i := range samples {
		var d1, d2 float32
		for {
			i1 := 1 + rng.Uint32n(max-1)
			d1 = data[i1]
			if d1 < low || d1 > high {
				continue
			}
			d2 = data[rng.Uint32n(i1)]
			if d2 >= low && d2 <= high {
				break
			}
		}
		samples[i] = float32(math.Abs(float64(d1 - d2)))
	}
	return qsort.SelectFirstQuartile(samples) * 2.21914
}

// SigmaClippedMedianAndQn returns a rapid robust estimation of location and
// scale, iterating a sampled median and sampled Qn with sigma clipping until
// the absolute change drops below epsilon.
func SigmaClippedMedianAndQn(data []float32, sigmaLow, sigmaHigh, epsilon float32, numSamples int) (location, scale float32) {
	samples := make([]float32, numSamples)
	location = ApproxMedian(data, samples)
	scale = ApproxQn(data, samples)

	for i := 0; ; i++ {
		low := location - sigmaLow*scale
		high := location + sigmaHigh*scale

		newLocation := ApproxBoundedMedian(data, low, high, samples)
		newScale := ApproxBoundedQn(data, low, high, samples)
		newScale *= 1.134 // adjust for the clipping applied above

		delta := math.Abs(float64(newLocation-location)) + math.Abs(float64(newScale-scale))
		location, scale = newLocation, newScale
		if float32(delta) <= epsilon || i >= 10 {
			return location, scale
		}
	}
}
