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

import (
	"errors"
	"fmt"
)

const (
	// maxImagePass is the largest amount of data requested from the
	// scanner in one bulk read.
	maxImagePass = 0x10000

	// blockTrailerLen is the number of bytes the scanner appends to
	// every transfer. They carry no image data.
	blockTrailerLen = 8
)

// image is a buffer of packed pixel data, holding one or more pages of
// the same dimensions.
type image struct {
	mode       Mode
	xRes, yRes int

	widthPix   int
	widthBytes int
	height     int
	pages      int

	xStartOffset int
	xOffsetBytes int
	ySkipOffset  int // rows of the full scan before the first row of this image

	buf []byte
}

func (img *image) pageStride() int {
	return img.widthBytes * img.height
}

// alloc sizes buf for the current dimensions.
func (img *image) alloc() {
	n := img.widthBytes * img.height * img.pages
	if cap(img.buf) < n {
		img.buf = make([]byte, n)
		return
	}
	img.buf = img.buf[:n]
}

// transfer describes raw data as sent by the scanner, and where to put
// it once descrambled.
type transfer struct {
	lineStride  int
	planeStride int
	planeWidth  int

	mode       Mode
	xRes, yRes int

	totalBytes int
	rxBytes    int
	trailerRx  int
	done       bool

	raw   []byte
	image *image
}

// reset prepares t for receiving a transfer covering its entire image.
func (t *transfer) reset() {
	t.totalBytes = t.lineStride * t.image.height
	t.rxBytes = 0
	t.trailerRx = 0
	t.done = false
}

// alloc sizes raw for a transfer covering the entire image.
func (t *transfer) alloc() {
	n := t.lineStride * t.image.height
	if cap(t.raw) < n {
		t.raw = make([]byte, n)
		return
	}
	t.raw = t.raw[:n]
}

// readBlock reads the next part of t from the scanner. Once the last
// data byte and the trailer have been received, t.done is set.
func readBlock(dev Device, m Model, t *transfer) error {
	if t.done {
		return fmt.Errorf("%w: read of completed transfer", ErrInvalid)
	}
	if t.totalBytes > len(t.raw) {
		return fmt.Errorf("%w: transfer of %d bytes exceeds buffer of %d bytes", ErrInvalid, t.totalBytes, len(t.raw))
	}
	remain := t.totalBytes - t.rxBytes + blockTrailerLen - t.trailerRx
	want := maxImagePass
	// the S1300i wants big requests
	if want > remain && m != ModelS1300i {
		want = remain
	}

	in, err := do(dev, &request{inLen: want})
	if err != nil && !(errors.Is(err, ErrShortRead) && len(in) > 0) {
		return fmt.Errorf("read block: %w", err)
	}

	n := len(in)
	if n > remain {
		n = remain
	}
	data := t.totalBytes - t.rxBytes
	if data > n {
		data = n
	}
	copy(t.raw[t.rxBytes:], in[:data])
	t.rxBytes += data
	t.trailerRx += n - data
	if t.rxBytes == t.totalBytes && t.trailerRx == blockTrailerLen {
		t.done = true
	}
	return nil
}

type pixelSum struct {
	r, g, b, n int
}

// descramble converts the raw data of t into packed RGB pixels in
// t.image, scaling down horizontally to the image resolution by
// averaging. Padding is removed. At most t.image.widthPix pixels are
// written per line.
func descramble(m Model, t *transfer) error {
	img := t.image
	if img == nil {
		return fmt.Errorf("%w: descramble without destination image", ErrInvalid)
	}
	if t.mode == ModeGray {
		return descrambleGray(m, t)
	}

	ls, ps, pw := t.lineStride, t.planeStride, t.planeWidth
	height := t.totalBytes / ls

	// offsets returns the raw offsets of red, green and blue for
	// column k of page or read head i within a raw line.
	var offsets func(i, k int) (r, g, b int)
	pages, heads := 1, 1
	switch {
	case m.sheetfed():
		// planes of red, green and blue, each holding the front and
		// back side interleaved
		pages = 2
		offsets = func(i, k int) (int, int, int) {
			o := k*3 + i
			return o, ps + o, 2*ps + o
		}
	case m == ModelS1100:
		// planes of blue, red and green
		offsets = func(i, k int) (int, int, int) {
			return ps + k, 2*ps + k, k
		}
	default:
		// planes of red, green and blue, each holding the three read
		// heads interleaved
		heads = 3
		offsets = func(i, k int) (int, int, int) {
			o := k*3 + i
			return o, ps + o, 2*ps + o
		}
	}

	if height > img.height {
		return fmt.Errorf("%w: %d raw lines exceed image height %d", ErrInvalid, height, img.height)
	}
	if height*ls > len(t.raw) {
		return fmt.Errorf("%w: %d raw lines exceed buffer of %d bytes", ErrInvalid, height, len(t.raw))
	}
	if pages > img.pages || img.pages*img.pageStride() > len(img.buf) {
		return fmt.Errorf("%w: image buffer too small for %d pages", ErrInvalid, pages)
	}
	if img.widthBytes < img.widthPix*3 {
		return fmt.Errorf("%w: image of %d bytes per line cannot hold %d RGB pixels", ErrInvalid, img.widthBytes, img.widthPix)
	}
	r, g, b := offsets(pages+heads-2, pw-1)
	if max3(r, g, b) >= ls {
		return fmt.Errorf("%w: raw offset %d beyond line stride %d", ErrInvalid, max3(r, g, b), ls)
	}

	for p := 0; p < pages; p++ {
		for j := 0; j < height; j++ {
			line := t.raw[j*ls : (j+1)*ls]
			start := p*img.pageStride() + j*img.widthBytes
			out := img.buf[start : start+img.widthBytes]
			col, currCol := 0, 0
			var sum pixelSum
			flush := func() {
				if col < img.widthPix {
					out[col*3+0] = byte(sum.r / sum.n)
					out[col*3+1] = byte(sum.g / sum.n)
					out[col*3+2] = byte(sum.b / sum.n)
					col++
				}
				sum = pixelSum{}
			}
			// an output pixel can span two read heads
			for h := 0; h < heads; h++ {
				for k := 0; k <= pw; k++ {
					thisCol := (k + h*pw) * img.xRes / t.xRes

					// moving on to the next output pixel
					if sum.n > 0 && currCol != thisCol {
						flush()
						currCol = thisCol
					}

					if k == pw || thisCol >= img.widthPix {
						break
					}

					r, g, b := offsets(p+h, k)
					sum.r += int(line[r])
					sum.g += int(line[g])
					sum.b += int(line[b])
					sum.n++
				}
			}
			// last output pixel, covering less than the full ratio
			if sum.n > 0 {
				flush()
			}
		}
	}
	return nil
}

// descrambleGray converts raw gray data, which only the fi-60F and
// fi-65F deliver. Columns are picked, not averaged.
func descrambleGray(m Model, t *transfer) error {
	if !m.fi() {
		return fmt.Errorf("%w: %v does not deliver gray data", ErrInvalid, m)
	}
	img := t.image
	ls, pw := t.lineStride, t.planeWidth
	height := t.totalBytes / ls
	if height*ls > len(t.raw) || height*img.widthPix > len(img.buf) {
		return fmt.Errorf("%w: image buffer too small for %d gray lines", ErrInvalid, height)
	}
	for row := 0; row < height; row++ {
		in := t.raw[row*ls : (row+1)*ls]
		out := img.buf[row*img.widthPix : (row+1)*img.widthPix]
		for colOut := range out {
			colIn := colOut * t.xRes / img.xRes
			idx := (colIn%pw)*3 + colIn/pw
			if idx >= ls {
				return fmt.Errorf("%w: raw offset %d beyond line stride %d", ErrInvalid, idx, ls)
			}
			out[colOut] = in[idx]
		}
	}
	return nil
}

func max3(a, b, c int) int {
	if b > a {
		a = b
	}
	if c > a {
		a = c
	}
	return a
}
