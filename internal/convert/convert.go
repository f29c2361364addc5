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

// Package convert turns the pages of a scan job into a PDF file and a
// PNG thumbnail.
package convert

import (
	"bytes"
	"image"
	"image/color"
	"image/png"

	"github.com/stapelberg/epscan/internal/g3"
	"github.com/stapelberg/epscan/internal/page"
	"github.com/stapelberg/epscan/internal/pdf"
	"golang.org/x/image/draw"
	"golang.org/x/net/trace"
)

// blankThreshold is the share of white pixels above which a page is
// considered blank.
const blankThreshold = 0.99

// thumbWidth is the width of the thumbnail in pixels.
const thumbWidth = 256

type Options struct {
	// SkipBlank drops pages which are almost entirely white, e.g. the
	// empty back sides of a duplex scan.
	SkipBlank bool
}

// Convert encodes lineart pages with G3 (CCITT) and embeds color and
// gray pages as JPEG. The thumbnail shows the first page which made it
// into the PDF.
func Convert(tr trace.Trace, pages []*page.Any, opts Options) (pdfBytes []byte, thumb []byte, err error) {
	var images []*pdfImage
	var first *page.Any
	for idx, pg := range pages {
		if opts.SkipBlank {
			_, whitePct, err := pg.Binarized()
			if err != nil {
				return nil, nil, err
			}
			blank := whitePct > blankThreshold
			tr.LazyPrintf("white percentage of page %d is %f, blank = %v", idx, whitePct, blank)
			if blank {
				continue
			}
		}

		img, err := imageFor(pg)
		if err != nil {
			return nil, nil, err
		}
		tr.LazyPrintf("page %d: %dx%d pixels at %d dpi, %d bytes", idx, img.width, img.height, img.dpi, len(img.stream))
		images = append(images, img)

		if first == nil {
			first = pg
		}
	}

	if first != nil {
		thumb, err = thumbnail(first)
		if err != nil {
			return nil, nil, err
		}
	}

	var buf bytes.Buffer
	if err := writePDF(&buf, images); err != nil {
		return nil, nil, err
	}

	return buf.Bytes(), thumb, nil
}

func imageFor(pg *page.Any) (*pdfImage, error) {
	if l := pg.Lineart(); l != nil {
		// compress
		var buf bytes.Buffer
		if err := g3.NewEncoder(&buf).EncodeBits(l.Bits, l.Width, l.Height); err != nil {
			return nil, err
		}
		return &pdfImage{
			stream: buf.Bytes(),
			width:  l.Width,
			height: l.Height,
			dpi:    pg.DPI(),
			filter: pdf.CCITTFax,
		}, nil
	}

	b, err := pg.JPEGBytes()
	if err != nil {
		return nil, err
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	return &pdfImage{
		stream: b,
		width:  cfg.Width,
		height: cfg.Height,
		dpi:    pg.DPI(),
		filter: pdf.DCT,
		gray:   cfg.ColorModel == color.GrayModel,
	}, nil
}

// thumbnail returns the page scaled down to thumbWidth pixels, PNG-encoded.
func thumbnail(pg *page.Any) ([]byte, error) {
	img, err := pg.Image()
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return nil, nil
	}
	height := bounds.Dy() * thumbWidth / bounds.Dx()
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, thumbWidth, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Src, nil)
	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
