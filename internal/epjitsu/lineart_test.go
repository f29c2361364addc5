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
	"bytes"
	"fmt"
	"testing"
)

func TestWindowWidth(t *testing.T) {
	for _, test := range []struct {
		resolution, want int
	}{
		{50, 3},
		{150, 7},
		{300, 13},
		{600, 25},
	} {
		b := binarizer{resolution: test.resolution}
		if got := b.windowWidth(); got != test.want {
			t.Errorf("windowWidth(%d dpi) = %d, want %d", test.resolution, got, test.want)
		}
	}
}

func TestLoadLUT(t *testing.T) {
	flat := thresholdLUT(127, 0)
	if got, want := len(flat), 256; got != want {
		t.Fatalf("unexpected length: got %d, want %d", got, want)
	}
	if !allEqual(flat, 127) {
		t.Fatalf("flat curve is not flat: %v", flat)
	}

	for _, curve := range []int{-127, -55, 0, 55, 127} {
		lut := thresholdLUT(120, curve)
		for i, v := range lut {
			if v < 50 || v > 205 {
				t.Fatalf("curve %d: lut[%d] = %d outside [50, 205]", curve, i, v)
			}
		}
		if curve > 0 && lut[0] > lut[255] {
			t.Errorf("curve %d: not rising", curve)
		}
		if curve < 0 && lut[0] < lut[255] {
			t.Errorf("curve %d: not falling", curve)
		}
	}

	if got, want := loadLUT(8, 8, 0, 255, 0, 127)[0], byte(255); got != want {
		t.Errorf("offset 127: got %d, want %d", got, want)
	}
}

func TestBinarizeUniform(t *testing.T) {
	const width = 64
	for _, curve := range []int{0, 55, 100, -100} {
		for _, test := range []struct {
			value byte
			black bool
		}{
			{0, true},
			{30, true},
			{220, false},
			{255, false},
		} {
			t.Run(fmt.Sprintf("curve=%d/value=%d", curve, test.value), func(t *testing.T) {
				b := binarizer{
					resolution: 300,
					threshold:  120,
					curve:      curve,
					lut:        thresholdLUT(120, curve),
				}
				dt := bytes.Repeat([]byte{test.value}, width)
				out := make([]byte, width/8)
				b.binarizeLine(dt, out, width)
				want := byte(0x00)
				if test.black {
					want = 0xff
				}
				if !allEqual(out, want) {
					t.Fatalf("got % x, want all %#02x", out, want)
				}
			})
		}
	}
}

func TestBinarizePacking(t *testing.T) {
	dt := []byte{0, 255, 0, 255, 0, 255, 0, 255, 0, 255}
	b := binarizer{resolution: 150, threshold: 120}
	out := []byte{0x00, 0x00}
	b.binarizeLine(dt, out, len(dt))
	if want := []byte{0xaa, 0x80}; !bytes.Equal(out, want) {
		t.Fatalf("got % x, want % x", out, want)
	}

	// previous contents are overwritten
	out = []byte{0xff, 0xff}
	b.binarizeLine(dt, out, len(dt))
	if want := []byte{0xaa, 0xbf}; !bytes.Equal(out, want) {
		t.Fatalf("got % x, want % x", out, want)
	}
}

func TestBinarizeDynamic(t *testing.T) {
	// a dark line on a gray background: the threshold follows the
	// background, so the background stays white
	const width = 40
	dt := bytes.Repeat([]byte{140}, width)
	for i := 18; i < 22; i++ {
		dt[i] = 60
	}
	b := binarizer{
		resolution: 150,
		threshold:  120,
		curve:      55,
		lut:        thresholdLUT(120, 55),
	}
	out := make([]byte, width/8)
	b.binarizeLine(dt, out, width)
	for j := 0; j < width; j++ {
		black := out[j/8]&(0x80>>uint(j%8)) != 0
		if want := j >= 18 && j < 22; black != want {
			t.Errorf("pixel %d: black = %v, want %v", j, black, want)
		}
	}
}
