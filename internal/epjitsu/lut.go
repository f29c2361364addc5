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

// toneTable returns the brightness/contrast table in the wire format
// of model m. Instead of applying brightness and contrast on the host,
// the scanner applies a (usually 12 bit by 12 bit) lookup table, whose
// default is linear with a slope of 1.
//
// Contrast (-127 to 127) rotates the line around the center, and
// brightness (-127 to 127) moves it vertically, clamped to the table.
// A gamma other than 1 bends the result, values above 1 brighten the
// midtones.
func toneTable(m Model, brightness, contrast int, gamma float64) []byte {
	var n, tables int
	switch m {
	case ModelS1100:
		n, tables = 0x200, 1
	case ModelFI65F:
		n, tables = 0x600, 3
	default:
		n, tables = 0x6000, 3
	}
	width := n / (2 * tables)
	height := width // square table

	// [-127,127] to [0,1], to radians [0,90°], to slope
	slope := math.Tan((float64(contrast) + 127) / 254 * math.Pi / 2)

	// keep the line centered at the central input value
	offset := float64(height)/2 - slope*float64(width)/2

	// scale brightness so that it can slide the curve entirely off
	// the table
	b := float64(brightness) / 127 * (slope*float64(width-1) + offset)

	out := make([]byte, n)
	for i := 0; i < width; i++ {
		var j int
		switch v := slope*float64(i) + offset + b; {
		case v < 0:
			j = 0
		case v > float64(height-1):
			j = height - 1
		default:
			j = int(v)
		}
		if gamma != 1 && j > 0 {
			j = int(math.Pow(float64(j)/float64(height-1), 1/gamma) * float64(height-1))
		}

		for t := 0; t < tables; t++ {
			o := t*width*2 + i*2
			if m == ModelS1100 || m == ModelFI65F {
				// big endian
				out[o] = byte(j >> 8)
				out[o+1] = byte(j)
			} else {
				// little endian, 12 bit
				out[o] = byte(j)
				out[o+1] = byte(j>>8) & 0x0f
			}
		}
	}
	return out
}

func sendLUT(dev Device, m Model, brightness, contrast int, gamma float64) error {
	if err := command(dev, "send lut", opSendLUT); err != nil {
		return err
	}
	return payload(dev, "send lut", toneTable(m, brightness, contrast, gamma))
}
