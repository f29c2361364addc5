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

import "fmt"

// settings describe the native scan geometry for one model at one
// resolution and power source. The values were determined from USB
// traffic captures.
type settings struct {
	model    Model // bit mask
	mode     Mode
	xRes     int
	yRes     int
	usbPower bool

	// scan area bounds, in pixels at xRes/yRes
	maxX, minX int
	maxY, minY int

	lineStride  int // byte width of 1 raw line (all planes), with padding
	planeStride int // byte width of 1 raw color plane, with padding
	planeWidth  int // pixels in 1 raw color plane, without padding

	blockHeight int // lines per block transfer

	calLineStride  int
	calPlaneStride int
	calPlaneWidth  int
}

var settingsTable = []settings{
	// S300, AC power
	{ModelS300, ModeColor, 150, 150, false, 1296, 32, 2662, 32, 4256 * 3, 1480 * 3, 1296, 41, 8512 * 3, 2960 * 3, 2592},
	{ModelS300, ModeColor, 225, 200, false, 1944, 32, 3993, 32, 6144 * 3, 2100 * 3, 1944, 28, 8192 * 3, 2800 * 3, 2592},
	{ModelS300, ModeColor, 300, 300, false, 2592, 32, 5324, 32, 8192 * 3, 2800 * 3, 2592, 21, 8192 * 3, 2800 * 3, 2592},
	{ModelS300, ModeColor, 600, 600, false, 5184, 32, 10648, 32, 16064 * 3, 5440 * 3, 5184, 10, 16064 * 3, 5440 * 3, 5184},

	// S300, USB power
	{ModelS300, ModeColor, 150, 150, true, 1296, 32, 2662, 32, 7216 * 3, 2960 * 3, 1296, 24, 14432 * 3, 5920 * 3, 2592},
	{ModelS300, ModeColor, 225, 200, true, 1944, 32, 3993, 32, 10584 * 3, 4320 * 3, 1944, 16, 14112 * 3, 5760 * 3, 2592},
	{ModelS300, ModeColor, 300, 300, true, 2592, 32, 5324, 32, 15872 * 3, 6640 * 3, 2592, 11, 15872 * 3, 6640 * 3, 2592},
	{ModelS300, ModeColor, 600, 600, true, 5184, 32, 10648, 32, 16064 * 3, 5440 * 3, 5184, 10, 16064 * 3, 5440 * 3, 5184},

	// S1300i, AC power
	{ModelS1300i, ModeColor, 150, 150, false, 1296, 32, 2662, 32, 4016 * 3, 1360 * 3, 1296, 43, 8032 * 3, 2720 * 3, 2592},
	{ModelS1300i, ModeColor, 225, 200, false, 1944, 32, 3993, 32, 6072 * 3, 2063 * 3, 1944, 28, 8096 * 3, 2752 * 3, 2592},
	{ModelS1300i, ModeColor, 300, 300, false, 2592, 32, 5324, 32, 8096 * 3, 2751 * 3, 2592, 21, 8096 * 3, 2752 * 3, 2592},
	{ModelS1300i, ModeColor, 600, 600, false, 5184, 32, 10648, 32, 16064 * 3, 5440 * 3, 5184, 10, 16064 * 3, 5440 * 3, 5184},

	// S1300i, USB power
	{ModelS1300i, ModeColor, 150, 150, true, 1296, 32, 2662, 32, 7216 * 3, 2960 * 3, 1296, 24, 14432 * 3, 5920 * 3, 2592},
	{ModelS1300i, ModeColor, 225, 200, true, 1944, 32, 3993, 32, 10584 * 3, 4320 * 3, 1944, 16, 14112 * 3, 5760 * 3, 2592},
	{ModelS1300i, ModeColor, 300, 300, true, 2592, 32, 5324, 32, 15872 * 3, 6640 * 3, 2592, 11, 15872 * 3, 6640 * 3, 2592},
	{ModelS1300i, ModeColor, 600, 600, true, 5184, 32, 10648, 32, 16064 * 3, 5440 * 3, 5184, 10, 16064 * 3, 5440 * 3, 5184},

	// fi-60F and fi-65F. The scanner can deliver gray data, but
	// calibration only works in color, so gray is converted from color.
	{ModelFI60F | ModelFI65F, ModeColor, 300, 150, false, 1296, 32, 875, 32, 2400 * 3, 958 * 3, 432, 72, 2400 * 3, 958 * 3, 432},
	{ModelFI60F | ModelFI65F, ModeColor, 300, 200, false, 1296, 32, 1166, 32, 2400 * 3, 958 * 3, 432, 72, 2400 * 3, 958 * 3, 432},
	{ModelFI60F | ModelFI65F, ModeColor, 300, 300, false, 1296, 32, 1749, 32, 2400 * 3, 958 * 3, 432, 72, 2400 * 3, 958 * 3, 432},
	{ModelFI60F | ModelFI65F, ModeColor, 600, 400, false, 2592, 32, 2332, 32, 2848 * 3, 978 * 3, 864, 61, 2848 * 3, 978 * 3, 864},
	{ModelFI60F | ModelFI65F, ModeColor, 600, 600, false, 2592, 32, 3498, 32, 2848 * 3, 978 * 3, 864, 61, 2848 * 3, 978 * 3, 864},

	// S1100, always USB powered
	{ModelS1100, ModeColor, 300, 300, true, 2592, 32, 5324, 32, 8912, 3160, 2592, 58, 8912, 3160, 2592},
	{ModelS1100, ModeColor, 600, 600, true, 5184, 32, 10648, 32, 15904, 5360, 5184, 32, 15904, 5360, 5184},
}

// lookupSettings returns the first settings entry which covers the
// requested model, mode and resolution for the given power source.
// Entries cover lower resolutions by scanning at their native
// resolution and scaling down.
func lookupSettings(model Model, mode Mode, resolution int, usbPower bool) (settings, error) {
	for _, s := range settingsTable {
		if s.model&model != 0 &&
			s.mode <= mode &&
			s.xRes >= resolution &&
			s.yRes >= resolution &&
			s.usbPower == usbPower {
			return s, nil
		}
	}
	return settings{}, fmt.Errorf("%w: %v, %v, %d dpi, usb power %v",
		ErrNoSettings, model, mode, resolution, usbPower)
}
