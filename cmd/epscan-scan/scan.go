// Copyright 2016 Michael Stapelberg and contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Program epscan-scan scans all documents in the hopper of a directly
// connected Epjitsu scanner into image files, one file per page side.
//
// Example:
//
//	epscan-scan -firmware=/perm/300_0C00.nal -mode=gray -resolution=300 -output=page%03d.png
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"image/png"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/stapelberg/epscan/internal/epjitsu"
	"github.com/stapelberg/epscan/internal/epjitsu/usb"
	"golang.org/x/image/tiff"
)

var (
	firmwarePath = flag.String("firmware",
		"",
		"Path to the firmware file of the Windows driver (e.g. 300_0C00.nal)")

	source = flag.String("source",
		"",
		"flatbed, adf-front, adf-back or adf-duplex. Empty selects the scanner default.")

	mode = flag.String("mode",
		"",
		"color, gray or lineart. Empty selects the scanner default.")

	resolution = flag.Int("resolution",
		0,
		"resolution in dpi. 0 selects the scanner default.")

	brightness = flag.Int("brightness", 0, "brightness, -127 to 127")
	contrast   = flag.Int("contrast", 0, "contrast, -127 to 127")
	gamma      = flag.Float64("gamma", 1, "gamma, 0.3 to 5")

	threshold = flag.Int("threshold",
		120,
		"lineart: pixels brighter than this become white, 0 to 255")

	thresholdCurve = flag.Int("threshold_curve",
		55,
		"lineart: dynamic threshold curve, -127 to 127. 0 disables dynamic thresholding.")

	pageWidth = flag.Float64("page_width",
		0,
		"page width in mm. 0 keeps the scanner default.")

	pageHeight = flag.Float64("page_height",
		-1,
		"page height in mm. 0 detects the page length while scanning, -1 keeps the scanner default.")

	output = flag.String("output",
		"out%d.png",
		"fmt pattern of the output file names, which receives the page number. The extension selects the format: .png, .tif/.tiff or .pnm")

	statusOnly = flag.Bool("status",
		false,
		"print the hardware status and exit")

	verbose = flag.Bool("verbose",
		false,
		"log driver debug messages")
)

func applyFlags(sc *epjitsu.Scanner) error {
	if *source != "" {
		src, err := epjitsu.ParseSource(*source)
		if err != nil {
			return err
		}
		if err := sc.SetSource(src); err != nil {
			return fmt.Errorf("-source: %w", err)
		}
	}
	if *mode != "" {
		m, err := epjitsu.ParseMode(*mode)
		if err != nil {
			return err
		}
		if err := sc.SetMode(m); err != nil {
			return fmt.Errorf("-mode: %w", err)
		}
	}
	if *resolution != 0 {
		if err := sc.SetResolution(*resolution); err != nil {
			return fmt.Errorf("-resolution: %w", err)
		}
	}
	if *pageWidth != 0 || *pageHeight >= 0 {
		w, h := sc.PageSize()
		if *pageWidth != 0 {
			w = *pageWidth
		}
		if *pageHeight >= 0 {
			h = *pageHeight
		}
		if err := sc.SetPageSize(w, h); err != nil {
			return fmt.Errorf("-page_width/-page_height: %w", err)
		}
	}
	if err := sc.SetBrightness(*brightness); err != nil {
		return fmt.Errorf("-brightness: %w", err)
	}
	if err := sc.SetContrast(*contrast); err != nil {
		return fmt.Errorf("-contrast: %w", err)
	}
	if err := sc.SetGamma(*gamma); err != nil {
		return fmt.Errorf("-gamma: %w", err)
	}
	if err := sc.SetThreshold(*threshold); err != nil {
		return fmt.Errorf("-threshold: %w", err)
	}
	if err := sc.SetThresholdCurve(*thresholdCurve); err != nil {
		return fmt.Errorf("-threshold_curve: %w", err)
	}
	return nil
}

type encodeFunc func(io.Writer, *side) error

func encoderFor(fn string) (encodeFunc, error) {
	switch filepath.Ext(fn) {
	case ".png":
		return func(w io.Writer, s *side) error {
			return png.Encode(w, s.image())
		}, nil
	case ".tif", ".tiff":
		return func(w io.Writer, s *side) error {
			return tiff.Encode(w, s.image(), &tiff.Options{Compression: tiff.Deflate})
		}, nil
	case ".pnm", ".pbm", ".pgm", ".ppm":
		return writePNM, nil
	}
	return nil, fmt.Errorf("unrecognized extension %q", filepath.Ext(fn))
}

// readSide reads one page side until io.EOF.
func readSide(sc *epjitsu.Scanner) (*side, error) {
	params := sc.Parameters()
	b, err := io.ReadAll(sc)
	if err != nil {
		return nil, err
	}
	s := &side{params: params, data: b}
	s.lines = len(b) / params.BytesPerLine
	return s, nil
}

func writeSide(fn string, enc encodeFunc, s *side) error {
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := enc(f, s); err != nil {
		return err
	}
	return f.Close()
}

func scan(ctx context.Context, sc *epjitsu.Scanner, enc encodeFunc) error {
	p := sc.Parameters()
	log.Printf("format %v, depth %d, %d pixels (%d bytes) per line, %d lines, %dx%d dpi",
		p.Format, p.Depth, p.PixelsPerLine, p.BytesPerLine, p.Lines, p.XResolution, p.YResolution)

	defer sc.Cancel()
	for n := 1; ; n++ {
		if err := sc.Start(ctx); err != nil {
			if errors.Is(err, epjitsu.ErrNoDocs) && n > 1 {
				return nil
			}
			return err
		}
		s, err := readSide(sc)
		if err != nil {
			return err
		}
		fn := fmt.Sprintf(*output, n)
		if err := writeSide(fn, enc, s); err != nil {
			return err
		}
		log.Printf("wrote %s (%d lines)", fn, s.lines)
		if sc.Source() == epjitsu.SourceFlatbed {
			return nil
		}
	}
}

func logic() error {
	ctx, canc := signal.NotifyContext(context.Background(), os.Interrupt)
	defer canc()

	enc, err := encoderFor(*output)
	if err != nil {
		return err
	}

	dev, err := usb.FindDevice()
	if err != nil {
		return err
	}
	cfg := &epjitsu.Config{
		FirmwarePath: *firmwarePath,
	}
	if *verbose {
		cfg.Logf = log.Printf
	}
	sc, err := epjitsu.Open(dev, cfg)
	if err != nil {
		dev.Close()
		return err
	}
	defer sc.Close()
	ident := sc.Ident()
	log.Printf("found %s %s (USB power: %v)", ident.Vendor, ident.Product, sc.USBPower())

	if *statusOnly {
		hw, err := sc.HardwareStatus(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%+v\n", hw)
		return nil
	}

	if err := applyFlags(sc); err != nil {
		return err
	}
	if err := scan(ctx, sc, enc); err != nil {
		return err
	}
	return sc.Close()
}

func main() {
	flag.Parse()
	if err := logic(); err != nil {
		log.Fatal(err)
	}
}

// side is the raw image data of one page side.
type side struct {
	params epjitsu.Parameters
	data   []byte
	lines  int
}

func (s *side) image() image.Image {
	p := s.params
	rect := image.Rect(0, 0, p.PixelsPerLine, s.lines)
	switch {
	case p.Format == epjitsu.FormatRGB:
		img := image.NewRGBA(rect)
		for i := 0; i < p.PixelsPerLine*s.lines; i++ {
			img.Pix[i*4+0] = s.data[i*3+0]
			img.Pix[i*4+1] = s.data[i*3+1]
			img.Pix[i*4+2] = s.data[i*3+2]
			img.Pix[i*4+3] = 0xff
		}
		return img
	case p.Depth == 1:
		img := image.NewGray(rect)
		for y := 0; y < s.lines; y++ {
			row := s.data[y*p.BytesPerLine:]
			for x := 0; x < p.PixelsPerLine; x++ {
				if row[x/8]&(0x80>>uint(x%8)) == 0 {
					img.Pix[y*img.Stride+x] = 0xff // white
				}
			}
		}
		return img
	default:
		return &image.Gray{
			Pix:    s.data[:p.BytesPerLine*s.lines],
			Stride: p.BytesPerLine,
			Rect:   rect,
		}
	}
}

// writePNM writes the raw data as PBM (P4), PGM (P5) or PPM (P6), which
// matches the layout returned by Read.
func writePNM(w io.Writer, s *side) error {
	p := s.params
	var err error
	switch {
	case p.Format == epjitsu.FormatRGB:
		_, err = fmt.Fprintf(w, "P6\n%d %d\n255\n", p.PixelsPerLine, s.lines)
	case p.Depth == 1:
		_, err = fmt.Fprintf(w, "P4\n%d %d\n", p.PixelsPerLine, s.lines)
	default:
		_, err = fmt.Fprintf(w, "P5\n%d %d\n255\n", p.PixelsPerLine, s.lines)
	}
	if err != nil {
		return err
	}
	_, err = w.Write(s.data[:p.BytesPerLine*s.lines])
	return err
}
