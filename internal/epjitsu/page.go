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

// copyBlockToPage copies the descrambled block into the image of side
// sd, converting to the output mode. The output might have a lower
// vertical resolution than the block, in which case rows are skipped.
// The back side and the fi-60F/fi-65F deliver mirrored lines, which are
// reversed here.
func (s *Scanner) copyBlockToPage(sd side) {
	block := &s.blockXfr
	pg := &s.pages[sd]
	img := pg.image

	imageHeight := block.totalBytes / block.lineStride
	pageWidth := img.widthPix
	blockPageStride := block.image.pageStride()
	reverse := sd == sideBack || s.model.fi()

	currInRow := s.fullscan.rxBytes / s.fullscan.widthBytes
	lastOutRow := pg.bytesScanned/img.widthBytes - 1

	// skip padding and the top margin
	k := 0
	skip := block.lineStride * img.ySkipOffset
	if s.fullscan.rxBytes+block.rxBytes <= skip {
		return
	}
	if s.fullscan.rxBytes < skip {
		k = img.ySkipOffset - s.fullscan.rxBytes/block.lineStride
	}

	for i := k; i < imageHeight; i++ {
		inRow := currInRow + i
		outRow := (inRow - img.ySkipOffset) * img.yRes / s.fullscan.yRes

		if outRow >= img.height || outRow < 0 {
			return
		}
		if outRow <= lastOutRow {
			continue // already filled at the lower output resolution
		}
		lastOutRow = outRow

		start := int(sd)*blockPageStride + i*block.image.widthBytes
		in := block.image.buf[start : start+block.image.widthBytes]
		out := img.buf[outRow*img.widthBytes : (outRow+1)*img.widthBytes]

		if block.mode == ModeColor {
			s.convertColorRow(in[img.xStartOffset*3:], out, pageWidth, reverse)
		} else {
			s.convertGrayRow(in[img.xStartOffset:], out, pageWidth, reverse)
		}

		if s.mode == ModeLineart {
			s.bin.binarizeLine(s.dt.buf, out, pageWidth)
		}

		pg.bytesScanned += img.widthBytes
	}
}

func (s *Scanner) convertColorRow(in, out []byte, width int, reverse bool) {
	p, step := 0, 3
	if reverse {
		p, step = (width-1)*3, -3
	}
	for j := 0; j < width; j++ {
		var r, g, b byte
		if s.model.sheetfed() {
			r, g, b = in[p+1], in[p+2], in[p]
		} else {
			r, g, b = in[p], in[p+1], in[p+2]
		}
		switch s.mode {
		case ModeColor:
			out[j*3+0] = r
			out[j*3+1] = g
			out[j*3+2] = b
		case ModeGray:
			out[j] = byte((int(r) + int(g) + int(b)) / 3)
		case ModeLineart:
			// binarized once the line is complete
			s.dt.buf[j] = byte((int(r) + int(g) + int(b)) / 3)
		}
		p += step
	}
}

func (s *Scanner) convertGrayRow(in, out []byte, width int, reverse bool) {
	p, step := 0, 1
	if reverse {
		p, step = width-1, -1
	}
	for j := 0; j < width; j++ {
		switch s.mode {
		case ModeGray:
			out[j] = in[p]
		case ModeLineart:
			s.dt.buf[j] = in[p]
		}
		p += step
	}
}
