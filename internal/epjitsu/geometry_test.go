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
	"testing"
)

func TestLookupSettings(t *testing.T) {
	for _, test := range []struct {
		model      Model
		mode       Mode
		resolution int
		usbPower   bool
		wantX      int
		wantY      int
	}{
		{ModelS300, ModeColor, 300, false, 300, 300},
		{ModelS300, ModeGray, 200, false, 225, 200},
		{ModelS300, ModeLineart, 100, true, 150, 150},
		{ModelS1300i, ModeColor, 600, true, 600, 600},
		{ModelFI60F, ModeColor, 100, false, 300, 150},
		{ModelFI65F, ModeGray, 300, false, 300, 300},
		{ModelFI60F, ModeColor, 400, false, 600, 400},
		{ModelS1100, ModeLineart, 150, true, 300, 300},
	} {
		st, err := lookupSettings(test.model, test.mode, test.resolution, test.usbPower)
		if err != nil {
			t.Fatalf("lookupSettings(%v, %v, %d): %v", test.model, test.mode, test.resolution, err)
		}
		if st.xRes != test.wantX || st.yRes != test.wantY {
			t.Errorf("lookupSettings(%v, %v, %d) = %dx%d, want %dx%d",
				test.model, test.mode, test.resolution, st.xRes, st.yRes, test.wantX, test.wantY)
		}
	}

	for _, test := range []struct {
		model      Model
		resolution int
		usbPower   bool
	}{
		{ModelS300, 1200, false},
		{ModelS1100, 300, false},
		{ModelFI60F, 300, true},
	} {
		if _, err := lookupSettings(test.model, ModeColor, test.resolution, test.usbPower); !errors.Is(err, ErrNoSettings) {
			t.Errorf("lookupSettings(%v, %d, usb %v): got %v, want ErrNoSettings", test.model, test.resolution, test.usbPower, err)
		}
	}
}

// lastRawOffset returns the highest raw offset the descrambler reads
// for a line of the given layout.
func lastRawOffset(m Model, planeStride, planeWidth int) int {
	switch {
	case m&(ModelFI60F|ModelFI65F) != 0:
		return 2*planeStride + (planeWidth-1)*3 + 2
	case m == ModelS1100:
		return 2*planeStride + planeWidth - 1
	default:
		return 2*planeStride + (planeWidth-1)*3 + 1
	}
}

func TestSettingsLayout(t *testing.T) {
	for _, st := range settingsTable {
		if st.planeWidth > st.maxX {
			t.Errorf("%v %d dpi: plane width %d exceeds scan width %d", st.model, st.xRes, st.planeWidth, st.maxX)
		}
		if got := lastRawOffset(st.model, st.planeStride, st.planeWidth); got >= st.lineStride {
			t.Errorf("%v %d dpi: raw offset %d beyond line stride %d", st.model, st.xRes, got, st.lineStride)
		}
		if got := lastRawOffset(st.model, st.calPlaneStride, st.calPlaneWidth); got >= st.calLineStride {
			t.Errorf("%v %d dpi: cal raw offset %d beyond line stride %d", st.model, st.xRes, got, st.calLineStride)
		}
	}
}

func TestUnits(t *testing.T) {
	if got, want := mmToUnit(25.4), 1200; got != want {
		t.Errorf("mmToUnit(25.4) = %d, want %d", got, want)
	}
	if got, want := mmToUnit(215.9), 10200; got != want {
		t.Errorf("mmToUnit(215.9) = %d, want %d", got, want)
	}
	if got, want := unitToPix(1200, 300), 300; got != want {
		t.Errorf("unitToPix(1200, 300) = %d, want %d", got, want)
	}
	if got, want := pixToUnit(2592, 300), 10368; got != want {
		t.Errorf("pixToUnit(2592, 300) = %d, want %d", got, want)
	}
	if got, want := unitToMM(1200), 25.4; got != want {
		t.Errorf("unitToMM(1200) = %v, want %v", got, want)
	}
}

func newParamsScanner(m Model) *Scanner {
	caps := capabilitiesFor(m)
	return &Scanner{
		model:      m,
		caps:       caps,
		usbPower:   m == ModelS1100,
		source:     caps.source,
		mode:       ModeColor,
		resolution: 300,
		pageWidth:  caps.pageWidth,
		pageHeight: caps.pageHeight,
	}
}

func TestChangeParamsADF(t *testing.T) {
	s := newParamsScanner(ModelS300)
	s.pageHeight = 11 * unitsPerInch
	if err := s.changeParams(); err != nil {
		t.Fatal(err)
	}
	for _, test := range []struct {
		name      string
		got, want int
	}{
		{"heads", s.heads, 1},
		{"maxX", s.maxX, 10368},
		{"tlX", s.tlX, (10368 - 10200) / 2},
		{"brX", s.brX, (10368 + 10200) / 2},
		{"fullscan height", s.fullscan.height, (11*1200 + 600) / 4},
		{"fullscan width", s.fullscan.widthBytes, 8192 * 3},
		{"front height", s.front.height, 3300},
		{"front width", s.front.widthPix, 2592},
		{"front skip", s.front.ySkipOffset, 150},
		{"back skip", s.back.ySkipOffset, 0},
		{"block height", s.blockImg.height, 21},
		{"block pages", s.blockImg.pages, 2},
		{"coarse cal height", s.coarsecal.height, 1},
		{"fine cal height", s.lightcal.height, 16},
		{"send cal width", s.sendcal.widthBytes, 2592 * 6},
		{"cal data stride", s.calData.lineStride, 8192 * 3 * 2},
	} {
		if test.got != test.want {
			t.Errorf("%s: got %d, want %d", test.name, test.got, test.want)
		}
	}
	if s.pages[sideFront].image != &s.front || s.pages[sideBack].image != &s.back {
		t.Errorf("pages do not refer to the front and back images")
	}
}

func TestChangeParamsClamp(t *testing.T) {
	s := newParamsScanner(ModelS300)
	s.pageHeight = 30000
	s.pageWidth = 10
	if err := s.changeParams(); err != nil {
		t.Fatal(err)
	}
	if got, want := s.pageHeight, 21296-600; got != want {
		t.Errorf("page height: got %d, want %d", got, want)
	}
	if got, want := s.pageWidth, pixToUnit(32, 300); got != want {
		t.Errorf("page width: got %d, want %d", got, want)
	}

	s.pageWidth = 20000
	s.tlY = 25000
	s.pageHeight = 1200
	if err := s.changeParams(); err != nil {
		t.Fatal(err)
	}
	if got, want := s.pageWidth, s.maxX; got != want {
		t.Errorf("page width: got %d, want %d", got, want)
	}
	if s.tlY+s.pageHeight > s.maxY {
		t.Errorf("scan area (%d+%d) exceeds the maximum height %d", s.tlY, s.pageHeight, s.maxY)
	}
}

func TestChangeParamsFlatbed(t *testing.T) {
	s := newParamsScanner(ModelFI60F)
	s.mode = ModeLineart
	if err := s.changeParams(); err != nil {
		t.Fatal(err)
	}
	if got, want := s.heads, 3; got != want {
		t.Errorf("heads: got %d, want %d", got, want)
	}
	if got, want := s.fullscan.height, 1749; got != want {
		t.Errorf("fullscan height: got %d, want %d", got, want)
	}
	if got, want := s.front.height, 1749; got != want {
		t.Errorf("front height: got %d, want %d", got, want)
	}
	if got, want := s.front.widthBytes, s.front.widthPix/8; got != want {
		t.Errorf("front width: got %d bytes, want %d", got, want)
	}
	if got, want := s.coarsecal.widthPix, 432*3; got != want {
		t.Errorf("coarse cal width: got %d, want %d", got, want)
	}
}
