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

package epjitsu

import "math"

// Geometry is stored in scanner units of 1/1200 inch.
const unitsPerInch = 1200

func pixToUnit(n, dpi int) int { return n * unitsPerInch / dpi }

func unitToPix(n, dpi int) int { return n * dpi / unitsPerInch }

func mmToUnit(mm float64) int { return int(math.Round(mm * unitsPerInch / 25.4)) }

func unitToMM(n int) float64 { return float64(n) * 25.4 / unitsPerInch }

// fullScan is the bookkeeping for all raw data of one scan pass,
// which the scanner delivers in blocks.
type fullScan struct {
	widthBytes int
	height     int
	xRes, yRes int

	totalBytes int
	rxBytes    int
	done       bool
}

func (f *fullScan) reset() {
	f.totalBytes = f.widthBytes * f.height
	f.rxBytes = 0
	f.done = false
}

// page tracks how much of one side has been converted and handed out.
type page struct {
	image *image

	bytesTotal   int
	bytesScanned int
	bytesRead    int
	done         bool
}

func (p *page) reset() {
	p.bytesTotal = p.image.widthBytes * p.image.height
	p.bytesScanned = 0
	p.bytesRead = 0
	p.done = false
}

// changeParams looks up the native settings for the current options,
// clamps the scan area to what the model supports and derives the
// dimensions of all transfers and images.
func (s *Scanner) changeParams() error {
	st, err := lookupSettings(s.model, s.mode, s.resolution, s.usbPower)
	if err != nil {
		return err
	}
	s.set = st

	s.maxX = pixToUnit(st.maxX, st.xRes)
	s.minX = pixToUnit(st.minX, st.xRes)
	s.maxY = pixToUnit(st.maxY, st.yRes)
	s.minY = pixToUnit(st.minY, st.yRes)

	var pages int
	switch {
	case s.model.sheetfed():
		s.heads, pages = 1, 2
	case s.model == ModelS1100:
		s.heads, pages = 1, 1
	default:
		// image width is 3 times the plane width
		s.heads, pages = 3, 1
	}

	pad := s.caps.adfPadding

	// height
	if s.tlY > s.maxY-s.minY {
		s.tlY = s.maxY - s.minY - pad
	}
	if s.tlY+s.pageHeight > s.maxY-pad {
		s.pageHeight = s.maxY - pad - s.tlY
	}
	if s.pageHeight < s.minY && s.pageHeight > 0 {
		s.pageHeight = s.minY
	}
	if s.tlY+s.pageHeight > s.maxY {
		s.tlY = s.maxY - pad - s.pageHeight
	}
	if s.tlY < 0 {
		s.tlY = 0
	}
	if s.pageHeight > 0 {
		s.brY = s.tlY + s.pageHeight
	} else {
		s.brY = s.maxY
	}

	// width, always centered
	if s.pageWidth > s.maxX {
		s.pageWidth = s.maxX
	} else if s.pageWidth < s.minX {
		s.pageWidth = s.minX
	}
	s.tlX = (s.maxX - s.pageWidth) / 2
	s.brX = (s.maxX + s.pageWidth) / 2

	// calibration: full width, few lines, native resolution
	s.calImage = transfer{
		lineStride:  st.calLineStride,
		planeStride: st.calPlaneStride,
		planeWidth:  st.calPlaneWidth,
		mode:        ModeColor,
		xRes:        st.xRes,
		yRes:        st.yRes,
		raw:         s.calImage.raw,
		image:       &s.darkcal,
	}
	// same width, but 2 bytes (offset and gain) per pixel component
	s.calData = transfer{
		lineStride:  st.calLineStride * 2,
		planeStride: st.calPlaneStride * 2,
		planeWidth:  st.calPlaneWidth,
		mode:        ModeColor,
		xRes:        st.xRes,
		yRes:        st.yRes,
		raw:         s.calData.raw,
		image:       &s.sendcal,
	}

	width := st.calPlaneWidth * s.heads
	calImage := func(img *image, height int) {
		*img = image{
			mode:       ModeColor,
			xRes:       st.xRes,
			yRes:       st.yRes,
			widthPix:   width,
			widthBytes: width * 3,
			height:     height,
			pages:      pages,
			buf:        img.buf,
		}
	}
	calImage(&s.coarsecal, 1)
	calImage(&s.darkcal, 16)
	calImage(&s.lightcal, 16)
	calImage(&s.sendcal, 1)
	s.sendcal.widthBytes = width * 6

	// bookkeeping for what is actually pulled from the scanner
	s.fullscan = fullScan{
		widthBytes: st.lineStride,
		xRes:       st.xRes,
		yRes:       st.yRes,
	}
	if s.source == SourceFlatbed || s.pageHeight == 0 {
		// flatbed and ADF in autodetect always ask for everything
		s.fullscan.height = unitToPix(s.maxY, st.yRes)
	} else {
		// ADF with a fixed page size needs the padding on top
		s.fullscan.height = unitToPix(s.pageHeight+s.tlY+pad, st.yRes)
	}

	// one block of raw data, and its descrambled image, which has the
	// output width but the native height and vertical resolution
	s.blockXfr = transfer{
		lineStride:  st.lineStride,
		planeStride: st.planeStride,
		planeWidth:  st.planeWidth,
		mode:        st.mode,
		xRes:        st.xRes,
		yRes:        st.yRes,
		raw:         s.blockXfr.raw,
		image:       &s.blockImg,
	}
	width = st.maxX * s.resolution / st.xRes
	s.blockImg = image{
		mode:       st.mode,
		xRes:       s.resolution,
		yRes:       st.yRes,
		widthPix:   width,
		widthBytes: width,
		height:     st.blockHeight,
		pages:      pages,
		buf:        s.blockImg.buf,
	}
	if st.mode == ModeColor {
		s.blockImg.widthBytes = width * 3
	}

	// output images, possibly scaled down vertically
	front := image{
		mode:     s.mode,
		xRes:     s.resolution,
		yRes:     s.resolution,
		pages:    1,
		widthPix: s.blockImg.widthPix,
		buf:      s.front.buf,
	}
	switch {
	case s.source == SourceFlatbed:
		front.height = unitToPix(s.maxY-s.tlY, front.yRes)
	case s.pageHeight == 0:
		front.height = unitToPix(s.maxY, front.yRes)
	default:
		front.height = unitToPix(s.pageHeight, front.yRes)
	}
	front.xStartOffset = (s.blockImg.widthPix - front.widthPix) / 2
	switch s.mode {
	case ModeColor:
		front.widthBytes = front.widthPix * 3
		front.xOffsetBytes = front.xStartOffset * 3
	case ModeGray:
		front.widthBytes = front.widthPix
		front.xOffsetBytes = front.xStartOffset
	default:
		front.widthBytes = front.widthPix / 8
		front.widthPix = front.widthBytes * 8
		front.xOffsetBytes = front.xStartOffset / 8
	}
	// the ADF feeds the padding before the page
	if s.source != SourceFlatbed {
		front.ySkipOffset = unitToPix(s.tlY+pad, s.fullscan.yRes)
	} else {
		front.ySkipOffset = unitToPix(s.tlY, s.fullscan.yRes)
	}
	s.front = front

	back := front
	back.buf = s.back.buf
	back.ySkipOffset = unitToPix(s.tlY, s.fullscan.yRes)
	s.back = back

	// gray line buffer for dynamic thresholding
	s.dt = image{
		mode:       ModeGray,
		xRes:       front.xRes,
		yRes:       front.yRes,
		widthPix:   front.widthPix,
		widthBytes: front.widthPix,
		height:     1,
		pages:      1,
		buf:        s.dt.buf,
	}

	s.pages[sideFront] = page{image: &s.front}
	s.pages[sideBack] = page{image: &s.back}
	return nil
}

// setupBuffers allocates all buffers for the dimensions derived by
// changeParams.
func (s *Scanner) setupBuffers() {
	s.coarsecal.alloc()
	s.darkcal.alloc()
	s.lightcal.alloc()
	s.sendcal.alloc()

	// sized for the tallest calibration image
	s.calImage.image = &s.darkcal
	s.calImage.alloc()
	s.calData.alloc()

	s.blockImg.alloc()
	s.blockXfr.alloc()
	s.front.alloc()
	s.back.alloc()
	s.dt.alloc()
}
