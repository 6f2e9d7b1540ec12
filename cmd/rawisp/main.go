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

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/avolkau/rawisp/internal/calib"
	"github.com/avolkau/rawisp/internal/isp"
	"github.com/avolkau/rawisp/internal/ops"
	"github.com/avolkau/rawisp/internal/ops/tone"
	"github.com/avolkau/rawisp/internal/rawio"
	"github.com/avolkau/rawisp/internal/rest"
)

const version = "0.1.0"

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

var calFile = flag.String("calib", "", "load calibration record from YAML `file`")
var out = flag.String("out", "out.tif", "save output to `file` as 16-bit TIFF")
var jpg = flag.String("jpg", "%auto", "save 8bit preview of output as JPEG to `file`. `%auto` replaces suffix of output file with .jpg")
var snapshots = flag.String("snapshots", "", "save intermediate previews after each stage into `dir`")

var mode = flag.String("mode", "sigma", "frame combination mode, one of mean, sigma")
var sigLow = flag.Float64("sigLow", 3.0, "low sigma for merge outlier rejection as multiple of standard deviations")
var sigHigh = flag.Float64("sigHigh", 3.0, "high sigma for merge outlier rejection as multiple of standard deviations")
var maxShift = flag.Int64("maxShift", 16, "alignment search radius in pixels")
var maxResidual = flag.Float64("maxResidual", 0.5, "skip frames if alignment to reference frame has residual greater than this")

var demosaicMethod = flag.String("demosaic", "bilinear", "demosaic interpolation method")

var toneMode = flag.String("tone", "gamma", "global tone curve, one of gamma, midtones")
var gamma = flag.Float64("gamma", 2.2, "apply output gamma, 1: keep linear light data")
var midtone = flag.Float64("midtone", 0.25, "midtone value for the midtones tone curve")
var midBlack = flag.Float64("midBlack", 0, "black point for the midtones tone curve")

var localSigma = flag.Float64("localSigma", 25, "local tone mapping base layer blur sigma")
var localAmount = flag.Float64("localAmount", 0, "local tone mapping base compression in [0,1], 0=no op")
var luminance = flag.String("luminance", "rec709", "luminance plane for local tone mapping, one of rec709, hsluv")

var lutFile = flag.String("lut", "", "load 3D grading LUT from JSON `file`")

var usmSigma = flag.Float64("usmSigma", 1.5, "unsharp masking sigma, ~1/3 radius")
var usmGain = flag.Float64("usmGain", 0, "unsharp masking gain, 0=no op")
var usmThresh = flag.Float64("usmThresh", 1, "unsharp masking threshold, in standard deviations above background")

var addr = flag.String("addr", ":8080", "listen address for the serve command")

func main() {
	logWriter := os.Stdout
	start := time.Now()
	flag.Usage = func() {
		fmt.Fprintf(logWriter, `Rawisp Copyright (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

Usage: %s [-flag value] (process|serve|legal|version) (img0.raw ... imgn.raw)

Commands:
  process Process a burst of raw frames into a single RGB image
  serve   Serve the processing pipeline over HTTP
  legal   Show license and attribution information
  version Show version information

Flags:
`, os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	// Enable CPU profiling if flagged
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			fmt.Fprintf(logWriter, "Could not create CPU profile: %s\n", err.Error())
			os.Exit(-1)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(logWriter, "Could not start CPU profile: %s\n", err.Error())
			os.Exit(-1)
		}
		defer pprof.StopCPUProfile()
	}

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		return
	}

	switch args[0] {
	case "process":
		if err := process(args[1:]); err != nil {
			fmt.Fprintf(logWriter, "error: %s\n", err.Error())
			os.Exit(-1)
		}
		fmt.Fprintf(logWriter, "Done after %v\n", time.Since(start))

	case "serve":
		if err := rest.Serve(*addr); err != nil {
			fmt.Fprintf(logWriter, "error: %s\n", err.Error())
			os.Exit(-1)
		}

	case "legal":
		fmt.Fprintf(logWriter, "%s\n", legal)

	case "version":
		fmt.Fprintf(logWriter, "Version %s\n", version)

	case "help", "?":
		flag.Usage()

	default:
		fmt.Fprintf(logWriter, "Unknown command '%s'\n", args[0])
		flag.Usage()
		os.Exit(-1)
	}

	// Write memory profile if flagged
	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			fmt.Fprintf(logWriter, "Could not create memory profile: %s\n", err.Error())
			os.Exit(-1)
		}
		defer f.Close()
		if err := pprof.WriteHeapProfile(f); err != nil {
			fmt.Fprintf(logWriter, "Could not write memory profile: %s\n", err.Error())
			os.Exit(-1)
		}
	}
}

func process(patterns []string) error {
	logWriter := os.Stdout
	if *calFile == "" {
		return fmt.Errorf("process requires a calibration record, use -calib")
	}
	calF, err := os.Open(*calFile)
	if err != nil {
		return err
	}
	cal, err := calib.Load(calF)
	calF.Close()
	if err != nil {
		return err
	}

	opts := isp.NewOptions()
	opts.CombineMode = *mode
	opts.SigmaLow, opts.SigmaHigh = float32(*sigLow), float32(*sigHigh)
	opts.MaxShift, opts.MaxResidual = int32(*maxShift), float32(*maxResidual)
	opts.DemosaicMethod = *demosaicMethod
	opts.ToneMode = *toneMode
	opts.Gamma, opts.Mid, opts.Black = float32(*gamma), float32(*midtone), float32(*midBlack)
	opts.LocalSigma, opts.LocalAmount = float32(*localSigma), float32(*localAmount)
	opts.Luminance = *luminance
	opts.SharpenSigma, opts.SharpenGain = float32(*usmSigma), float32(*usmGain)
	opts.SharpenThreshold = float32(*usmThresh)
	opts.SnapshotDir = *snapshots

	if *lutFile != "" {
		buf, err := ioutil.ReadFile(*lutFile)
		if err != nil {
			return err
		}
		lut := &tone.LUT3D{}
		if err := json.Unmarshal(buf, lut); err != nil {
			return fmt.Errorf("parsing LUT %s: %s", *lutFile, err.Error())
		}
		opts.LUT = lut
	}

	pipe, err := isp.New(cal, opts)
	if err != nil {
		return err
	}

	// glob filename arguments and load the burst
	c := ops.NewContext(logWriter, cal)
	opLoad := ops.NewOpLoadMany(patterns)
	ins, err := opLoad.MakePromises(nil, c)
	if err != nil {
		return err
	}
	burst, err := ops.MaterializeAll(ins, c.MaxThreads, false)
	if err != nil {
		return err
	}

	final, err := pipe.Process(burst, logWriter)
	if err != nil {
		return err
	}

	fmt.Fprintf(logWriter, "%d: Writing %s pixel 16-bit TIFF to %s\n", final.ID, final.DimensionsToString(), *out)
	if err := rawio.WriteTIFF16File(final, *out); err != nil {
		return err
	}

	// Also auto-select JPEG output target
	jpgOut := *jpg
	if jpgOut == "%auto" {
		if *out != "" {
			jpgOut = strings.TrimSuffix(*out, filepath.Ext(*out)) + ".jpg"
		} else {
			jpgOut = ""
		}
	}
	if jpgOut != "" {
		fmt.Fprintf(logWriter, "%d: Writing %s pixel color JPEG to %s\n", final.ID, final.DimensionsToString(), jpgOut)
		if err := rawio.WriteJPGFile(final, jpgOut, 95); err != nil {
			return err
		}
	}
	return nil
}
