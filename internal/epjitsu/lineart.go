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

// loadLUT builds a lookup table of 1<<inBits entries along a straight
// line, clamped to [outMin, outMax].
//
// slope (-127 to 127) rotates the line around the center of the table,
// 0 results in a horizontal line. offset (-127 to 127) moves the line
// vertically, 0 keeps it crossing the center of the table.
func loadLUT(inBits, outBits, outMin, outMax, slope, offset int) []byte {
	maxIn := float64(int(1)<<inBits - 1)
	maxOut := float64(int(1)<<outBits - 1)

	// [-127,127] to [-1,1], to radians, to rise per unit of run
	rise := math.Tan(float64(slope)/127*math.Pi/2) * maxOut / maxIn

	// keep the line vertically centered
	shift := maxOut/2 - rise*maxIn/2
	shift += float64(offset) / 127 * maxOut / 2

	lut := make([]byte, int(maxIn)+1)
	for i := range lut {
		v := rise*float64(i) + shift
		switch {
		case v < float64(outMin):
			lut[i] = byte(outMin)
		case v > float64(outMax):
			lut[i] = byte(outMax)
		default:
			lut[i] = byte(int(v))
		}
	}
	return lut
}

// thresholdLUT returns the table which maps the local average
// brightness to the threshold used for dynamic thresholding.
func thresholdLUT(threshold, curve int) []byte {
	return loadLUT(8, 8, 50, 205, curve, threshold-127)
}

// binarizer converts gray lines into packed 1 bit lines (MSB first,
// 1 is black).
type binarizer struct {
	resolution int
	threshold  int

	// curve enables dynamic thresholding when non-zero
	curve int

	lut []byte
}

// windowWidth returns the width of the sliding window: about 1mm,
// with an odd number of pixels.
func (b *binarizer) windowWidth() int {
	w := 6 * b.resolution / 150
	if w%2 == 0 {
		w++
	}
	return w
}

// binarizeLine thresholds the first width pixels of dt into out. With
// a curve, the threshold of each pixel is looked up from the average of
// the surrounding window. The window does not move near the line ends.
func (b *binarizer) binarizeLine(dt []byte, out []byte, width int) {
	window := b.windowWidth()

	sum := 0
	for j := 0; j < window && j < width; j++ {
		sum += int(dt[j])
	}

	for j := 0; j < width; j++ {
		mask := byte(0x80 >> uint(j%8))
		thresh := b.threshold

		if b.curve != 0 {
			add := j + window/2
			drop := add - window
			if drop >= 0 && add < width {
				sum -= int(dt[drop])
				sum += int(dt[add])
			}
			thresh = int(b.lut[sum/window])
		}

		if int(dt[j]) > thresh {
			out[j/8] &^= mask // white
		} else {
			out[j/8] |= mask // black
		}
	}
}
