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
	"encoding/binary"
	"errors"
	"fmt"
	"testing"
	"time"
)

// fakeScanner simulates an Epjitsu scanner of the S300 family or an
// S1100 at the USB bulk transfer level. The simulated sensor responds
// to the coarse and fine calibration settings:
//
//   dark:  value = 2*offset + 5 (offsets are signed)
//   light: value = 3*gain + 1 (coarse gain)
//   fine:  value = 60 + (0xff - gain) (fine gain, lower is brighter)
//
// fine replaces the fine response when set. Scan data is a constant
// value.
type fakeScanner struct {
	t *testing.T

	model          Model
	product        string
	usbPower       bool
	firmwareLoaded bool

	// sheets is the number of sheets in the hopper.
	sheets int

	// paperLines is the paper length reported in the block status,
	// 0 means the scan window height.
	paperLines int

	scanValue byte

	fine func(gain, col int) int

	// recorded
	commands []byte
	windows  []windowKind
	timeouts []time.Duration
	ingests  int
	ejects   int
	six5s    int
	lamp     bool
	lutLen   int
	coarse   []byte
	coarses  [][]byte
	cal      []byte
	firmware []byte

	expect    fakeExpect
	payloadOp byte
	pending   []byte // response to the last write
	data      []byte // image data, read after pending

	window      []byte
	scanLines   int
	sentLines   int
	blockHeight int
	lineStride  int
}

type fakeExpect int

const (
	expectCommand fakeExpect = iota
	expectPayload
	expectFirmwareData
	expectChecksum
)

func newFakeS300(t *testing.T, sheets int) *fakeScanner {
	return &fakeScanner{
		t:              t,
		model:          ModelS300,
		product:        "ScanSnap S300",
		firmwareLoaded: true,
		sheets:         sheets,
		scanValue:      200,
	}
}

func newFakeS1100(t *testing.T, sheets int) *fakeScanner {
	return &fakeScanner{
		t:              t,
		model:          ModelS1100,
		product:        "ScanSnap S1100",
		usbPower:       true,
		firmwareLoaded: true,
		sheets:         sheets,
		scanValue:      200,
	}
}

func newFakeFI60F(t *testing.T) *fakeScanner {
	return &fakeScanner{
		t:              t,
		model:          ModelFI60F,
		product:        "fi-60F",
		firmwareLoaded: true,
		scanValue:      200,
	}
}

func (f *fakeScanner) SetTimeout(d time.Duration) {
	f.timeouts = append(f.timeouts, d)
}

func (f *fakeScanner) Read(p []byte) (int, error) {
	if len(f.pending) > 0 {
		n := copy(p, f.pending)
		f.pending = f.pending[n:]
		return n, nil
	}
	if len(f.data) > 0 {
		n := copy(p, f.data)
		f.data = f.data[n:]
		return n, nil
	}
	return 0, errors.New("fake: timeout")
}

func (f *fakeScanner) Write(b []byte) (int, error) {
	switch f.expect {
	case expectPayload:
		f.expect = expectCommand
		f.pending = []byte{f.payload(f.payloadOp, b)}
		return len(b), nil

	case expectFirmwareData:
		f.firmware = append([]byte(nil), b...)
		f.expect = expectChecksum
		return len(b), nil

	case expectChecksum:
		f.expect = expectCommand
		var sum byte
		for _, v := range f.firmware {
			sum += v
		}
		f.pending = []byte{statusAck}
		if len(b) != 1 || b[0] != sum {
			f.pending = []byte{statusNoPaper}
		}
		return len(b), nil
	}

	if bytes.Equal(b, []byte{0x01, 0x00, 0x01, 0x00}) {
		f.expect = expectFirmwareData
		return len(b), nil
	}
	if len(b) != 2 || b[0] != 0x1b {
		f.t.Errorf("fake: unexpected write: % x", b)
		return len(b), nil
	}
	f.commands = append(f.commands, b[1])
	f.pending = f.command(b[1])
	return len(b), nil
}

func (f *fakeScanner) command(op byte) []byte {
	ack := []byte{statusAck}
	switch op {
	case opGetStat:
		var stat byte
		if f.firmwareLoaded {
			stat |= statFirmwareLoaded
		}
		if f.usbPower {
			stat |= statUSBPower
		}
		return []byte{stat, 0}

	case opGetIdent:
		b := make([]byte, 0x20)
		copy(b, fmt.Sprintf("%-8s%-16s0001", "FUJITSU", f.product))
		copy(b[28:], []byte{0xff, 0xff, 0xff, 0xff})
		return b

	case opHardwareStatus:
		var b0 byte
		if f.sheets == 0 {
			b0 |= 0x40
		}
		return []byte{b0, 0, 0, 0}

	case opLoadFirmware, opSix5:
		if op == opSix5 {
			f.six5s++
		}
		return ack

	case opReinit, opLamp, opSetWindow, opSendCoarseCal, opSendFineCal1,
		opSendFineCal2, opSendLUT, opObjectPosition:
		f.expect = expectPayload
		f.payloadOp = op
		return ack

	case opGetLine:
		f.calibrationLine()
		return ack

	case opScan:
		f.startScan()
		return ack

	case opRequestBlock:
		f.nextBlock()
		return ack

	case opBlockStatus:
		b := make([]byte, 10)
		lines := f.paperLines
		if lines == 0 {
			lines = f.scanLines
		}
		binary.BigEndian.PutUint16(b[6:], uint16(lines))
		return b
	}
	f.t.Errorf("fake: unexpected command %#02x", op)
	return []byte{0}
}

func (f *fakeScanner) payload(op byte, b []byte) byte {
	switch op {
	case opLamp:
		f.lamp = b[0] == 1
	case opSetWindow:
		if len(b) != setWindowLen {
			f.t.Errorf("fake: window of %d bytes", len(b))
			return 0
		}
		f.window = append([]byte(nil), b...)
		f.windows = append(f.windows, windowKind(b[windowIDOffset]))
	case opSendCoarseCal:
		f.coarse = append([]byte(nil), b...)
		f.coarses = append(f.coarses, f.coarse)
	case opSendFineCal1:
		f.cal = append([]byte(nil), b[sendCal1HeaderLen:]...)
	case opSendFineCal2:
		if got, want := len(b)-sendCal2HeaderLen, len(f.cal); got != want {
			f.t.Errorf("fake: second fine cal table of %d bytes, want %d", got, want)
		}
	case opSendLUT:
		f.lutLen = len(b)
	case opObjectPosition:
		if b[0] == paperIngest {
			if f.sheets == 0 {
				return statusNoPaper
			}
			f.sheets--
			f.ingests++
			return statusAck
		}
		f.ejects++
	case opReinit:
		if b[0] == 0x80 && len(f.firmware) == firmwareLength {
			f.firmwareLoaded = true
		}
	}
	return statusAck
}

// settings returns the settings the current window was derived from.
func (f *fakeScanner) settings() settings {
	xres := int(binary.BigEndian.Uint16(f.window[windowXResOffset:]))
	yres := int(binary.BigEndian.Uint16(f.window[windowYResOffset:]))
	for _, st := range settingsTable {
		if st.model&f.model != 0 && st.xRes == xres && st.yRes == yres && st.usbPower == f.usbPower {
			return st
		}
	}
	f.t.Fatalf("fake: no settings for %dx%d dpi", xres, yres)
	return settings{}
}

func (f *fakeScanner) windowLines() int {
	return int(binary.BigEndian.Uint32(f.window[windowLinesOffset:]))
}

func (f *fakeScanner) windowStride() int {
	return int(binary.BigEndian.Uint32(f.window[windowStrideOffset:]))
}

func clampByte(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

// calibrationLine queues the lines of a coarse or fine calibration
// window.
func (f *fakeScanner) calibrationLine() {
	kind := windowKind(f.window[windowIDOffset])
	if kind != windowCoarseCal && kind != windowFineCal {
		f.t.Errorf("fake: get line with %v window", kind)
		return
	}
	st := f.settings()
	stride := f.windowStride()
	line := make([]byte, stride)
	for pos := range line {
		line[pos] = f.sensor(kind, st, pos)
	}
	lines := f.windowLines()
	f.data = bytes.Repeat(line, lines)
	f.data = append(f.data, make([]byte, blockTrailerLen)...)
}

// sensor returns the raw value at pos of a calibration line.
func (f *fakeScanner) sensor(kind windowKind, st settings, pos int) byte {
	ps := st.calPlaneStride
	c, o := pos/ps, pos%ps
	col, pg := o, 0
	if f.model.sheetfed() {
		col, pg = o/3, o%3
		if pg > 1 {
			return 0 // padding
		}
	}
	if c > 2 || col >= st.calPlaneWidth {
		return 0
	}

	if kind == windowCoarseCal {
		if !f.lamp {
			return clampByte(int(int8(f.coarse[coarseOffset0+2*pg]))*2 + 5)
		}
		return clampByte(int(f.coarse[coarseGain0+2*pg])*3 + 1)
	}

	gain := 0xff
	if f.cal != nil {
		idx := c*ps*2 + col*2 + 1
		if f.model.sheetfed() {
			idx = c*ps*2 + col*6 + pg*2 + 1
		}
		gain = int(f.cal[idx])
	}
	if f.fine != nil {
		return clampByte(f.fine(gain, col))
	}
	return clampByte(60 + 0xff - gain)
}

func (f *fakeScanner) startScan() {
	if kind := windowKind(f.window[windowIDOffset]); kind != windowScan {
		f.t.Errorf("fake: scan with %v window", kind)
	}
	st := f.settings()
	f.scanLines = f.windowLines()
	f.sentLines = 0
	f.blockHeight = st.blockHeight
	f.lineStride = f.windowStride()
}

// nextBlock queues the next block of scan data.
func (f *fakeScanner) nextBlock() {
	total := f.scanLines
	if f.paperLines > 0 && f.paperLines < total {
		total = f.paperLines
		if r := total % f.blockHeight; r != 0 {
			total += f.blockHeight - r
		}
	}
	n := total - f.sentLines
	if n > f.blockHeight {
		n = f.blockHeight
	}
	if n <= 0 {
		f.t.Errorf("fake: block requested after %d of %d lines", f.sentLines, total)
		return
	}
	f.sentLines += n
	f.data = bytes.Repeat([]byte{f.scanValue}, n*f.lineStride)
	f.data = append(f.data, make([]byte, blockTrailerLen)...)
}

// count returns how often op was sent.
func (f *fakeScanner) count(op byte) int {
	n := 0
	for _, c := range f.commands {
		if c == op {
			n++
		}
	}
	return n
}

func openFake(t *testing.T, f *fakeScanner) *Scanner {
	t.Helper()
	s, err := Open(f, &Config{
		Logf: t.Logf,
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}
