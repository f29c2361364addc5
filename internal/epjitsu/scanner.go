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
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Config configures a Scanner.
type Config struct {
	// FirmwarePath is the firmware file shipped with the Windows
	// driver, e.g. 300_0C00.nal for the S300. The firmware is uploaded
	// when the scanner does not run one yet.
	FirmwarePath string

	// Calibration defaults to DefaultCalibration() when zero.
	Calibration CalibrationConfig

	// Logf receives debug messages. Defaults to discarding them.
	Logf func(format string, args ...interface{})
}

type jobState int

const (
	stateIdle jobState = iota
	stateIngesting
	stateScanning
	stateDraining
	statePageDone
	stateJobDone
)

func (s jobState) String() string {
	switch s {
	case stateIngesting:
		return "ingesting"
	case stateScanning:
		return "scanning"
	case stateDraining:
		return "draining"
	case statePageDone:
		return "page done"
	case stateJobDone:
		return "job done"
	}
	return "idle"
}

// Scanner is an opened Epjitsu scanner. A Scanner is not safe for
// concurrent use.
//
// A job consists of calls to Start, each followed by calls to Read
// until io.EOF, one page side at a time. With an ADF source, Start
// returns ErrNoDocs once the hopper is empty, which ends the job.
type Scanner struct {
	dev   Device
	cfg   Config
	logf  func(format string, args ...interface{})
	now   func() time.Time
	sleep func(time.Duration)

	ident    Ident
	model    Model
	caps     capabilities
	usbPower bool

	// options, geometry in 1/1200 inch
	source                Source
	mode                  Mode
	resolution            int
	tlX, tlY, brX, brY    int
	pageWidth, pageHeight int
	brightness, contrast  int
	gamma                 float64
	threshold             int
	thresholdCurve        int

	// derived by changeParams
	set                    settings
	maxX, minX, maxY, minY int
	heads                  int

	calImage transfer // coarse and fine calibration scans
	calData  transfer // fine calibration table
	blockXfr transfer

	coarsecal, darkcal, lightcal, sendcal image
	blockImg                              image
	front, back                           image
	dt                                    image // gray line for lineart

	fullscan fullScan
	pages    [2]page
	bin      binarizer

	started bool
	side    side
	ejected bool
	state   jobState

	hw     HardwareStatus
	hwTime time.Time

	fine FineReport
}

// Open prepares the scanner behind dev: the firmware is uploaded if
// necessary, the model is identified and the model defaults apply.
func Open(dev Device, cfg *Config) (*Scanner, error) {
	s := &Scanner{
		dev:   dev,
		now:   time.Now,
		sleep: time.Sleep,
	}
	if cfg != nil {
		s.cfg = *cfg
	}
	if s.cfg.Calibration == (CalibrationConfig{}) {
		s.cfg.Calibration = DefaultCalibration()
	}
	s.logf = s.cfg.Logf
	if s.logf == nil {
		s.logf = func(string, ...interface{}) {}
	}

	if err := loadFirmware(dev, s.cfg.FirmwarePath, s.logf); err != nil {
		return nil, err
	}

	ident, err := getIdent(dev)
	if err != nil {
		return nil, err
	}
	s.ident = ident
	s.model, err = modelFromIdent(ident.Product)
	if err != nil {
		return nil, err
	}
	s.logf("found %s %s (model %v)", ident.Vendor, ident.Product, s.model)

	switch {
	case s.model.sheetfed():
		stat, err := getStat(dev)
		if err != nil {
			return nil, err
		}
		s.usbPower = stat&statUSBPower != 0
	case s.model == ModelS1100:
		s.usbPower = true
	}

	s.caps = capabilitiesFor(s.model)
	s.source = s.caps.source
	s.mode = s.caps.mode
	s.resolution = s.caps.resolution
	s.pageWidth = s.caps.pageWidth
	s.pageHeight = s.caps.pageHeight
	s.gamma = 1
	s.threshold = 120
	s.thresholdCurve = 55

	if err := s.changeParams(); err != nil {
		return nil, err
	}
	return s, nil
}

// Ident returns the identification the scanner reported.
func (s *Scanner) Ident() Ident { return s.ident }

// Model returns the model family of the scanner.
func (s *Scanner) Model() Model { return s.model }

// USBPower returns whether the scanner runs from USB bus power.
func (s *Scanner) USBPower() bool { return s.usbPower }

// Calibration returns the report of the most recent fine calibration.
func (s *Scanner) Calibration() FineReport { return s.fine }

// Start starts acquiring the next page side. On the first call of a
// job, the scanner is calibrated first. ErrNoDocs is returned when the
// ADF hopper is empty; the job ends in that case.
func (s *Scanner) Start(ctx context.Context) error {
	if err := s.start(ctx); err != nil {
		jobDone := errors.Is(err, ErrNoDocs) && s.started
		s.cancel()
		if jobDone {
			s.state = stateJobDone
		}
		return err
	}
	return nil
}

func (s *Scanner) start(ctx context.Context) error {
	if !s.started {
		s.side = sideFront
		if s.source == SourceADFBack {
			s.side = sideBack
		}
	} else if s.source == SourceADFDuplex {
		s.side ^= 1
	}

	// recent models need the hardware status queried before scanning
	if err := s.refreshHardwareStatus(); err != nil {
		s.logf("start: %v", err)
	}

	if s.source == SourceADFFront || s.source == SourceADFBack ||
		(s.source == SourceADFDuplex && s.side == sideFront) {
		s.state = stateIngesting
		if err := objectPosition(s.dev, true, s.logf); err != nil {
			return fmt.Errorf("ingest: %w", err)
		}
		s.ejected = false
	}

	if !s.started {
		s.logf("start: first page, calibrating")
		s.started = true
		if err := s.prepare(ctx); err != nil {
			return err
		}
	}

	if s.side == sideFront || s.source == SourceADFBack {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.fullscan.reset()
		s.blockXfr.reset()
		s.pages[sideFront].reset()
		s.pages[sideBack].reset()
		if err := startScan(s.dev, s.model); err != nil {
			return err
		}
		s.state = stateScanning
	} else {
		s.logf("start: back side")
		s.state = stateDraining
	}
	return nil
}

// prepare sets up buffers and calibrates for a new job.
func (s *Scanner) prepare(ctx context.Context) error {
	if err := s.changeParams(); err != nil {
		return err
	}
	s.setupBuffers()
	s.bin = binarizer{
		resolution: s.resolution,
		threshold:  s.threshold,
		curve:      s.thresholdCurve,
		lut:        thresholdLUT(s.threshold, s.thresholdCurve),
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.coarseCal(); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	fine, err := s.fineCal()
	if err != nil {
		return err
	}
	s.fine = fine

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := sendLUT(s.dev, s.model, s.brightness, s.contrast, s.gamma); err != nil {
		return err
	}
	if err := lamp(s.dev, true); err != nil {
		return err
	}
	return setWindow(s.dev, encodeWindow(windowScan, s.set, s.heads, s.fullscan.height))
}

// Read reads image data of the current page side, in the format
// described by Parameters. io.EOF marks the end of the side.
func (s *Scanner) Read(p []byte) (int, error) {
	if !s.started {
		return 0, ErrCancelled
	}
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := s.read(p)
		if err != nil && err != io.EOF {
			s.cancel()
			return n, err
		}
		if n > 0 || err != nil {
			return n, err
		}
	}
}

func (s *Scanner) read(p []byte) (int, error) {
	pg := &s.pages[s.side]

	if s.fullscan.done && pg.done {
		if err := s.endOfPage(); err != nil {
			return 0, err
		}
		return 0, io.EOF
	}

	if !s.fullscan.done {
		if err := s.pullBlock(); err != nil {
			return 0, err
		}
	}

	n := copy(p, pg.image.buf[pg.bytesRead:pg.bytesScanned])
	pg.bytesRead += n
	if s.fullscan.done && pg.bytesRead == pg.bytesScanned {
		pg.done = true
	}
	return n, nil
}

// pullBlock reads the next part of the current block from the scanner.
// Once the block is complete, it is distributed to the pages.
func (s *Scanner) pullBlock() error {
	block := &s.blockXfr
	if block.rxBytes == 0 {
		if remain := s.fullscan.totalBytes - s.fullscan.rxBytes; remain < block.totalBytes {
			s.logf("read: shrinking block to %d bytes", remain)
			block.totalBytes = remain
		}
		if !s.model.fi() {
			if err := requestBlock(s.dev); err != nil {
				return err
			}
		}
	}

	if err := readBlock(s.dev, s.model, block); err != nil {
		return err
	}
	if !block.done {
		return nil
	}

	if err := descramble(s.model, block); err != nil {
		return err
	}

	var status []byte
	if !s.model.fi() {
		var err error
		status, err = blockStatus(s.dev)
		if err != nil {
			return err
		}
	}

	if s.source == SourceADFDuplex || s.source == SourceADFBack {
		s.copyBlockToPage(sideBack)
	}
	if s.source != SourceADFBack {
		s.copyBlockToPage(sideFront)
	}
	s.fullscan.rxBytes += block.rxBytes

	if status != nil && s.source != SourceFlatbed && s.pageHeight == 0 {
		s.detectLength(status)
	}

	block.reset()
	if s.fullscan.rxBytes == s.fullscan.totalBytes {
		s.logf("read: last block")
		s.fullscan.done = true
	}
	return nil
}

// detectLength shrinks the full scan to the number of lines the
// scanner reports once the end of the paper passed the sensor.
func (s *Scanner) detectLength(status []byte) {
	lines := int(status[6])<<8 | int(status[7])

	// always full blocks
	if bh := s.blockImg.height; lines%bh != 0 {
		lines += bh - lines%bh
	}
	if lines >= s.fullscan.height {
		return
	}
	total := s.fullscan.widthBytes * lines
	if total < s.fullscan.rxBytes {
		total = s.fullscan.rxBytes
	}
	if total != s.fullscan.totalBytes {
		s.logf("read: paper end detected, %d lines", lines)
		s.fullscan.totalBytes = total
	}
}

// endOfPage handles the end of a page side. The S1100 needs the paper
// ejected explicitly to stop its button from flashing.
func (s *Scanner) endOfPage() error {
	if s.state != statePageDone {
		s.logf("read: %v side done", s.side)
		s.state = statePageDone
	}
	if s.model != ModelS1100 || s.ejected {
		return nil
	}
	s.sleep(15 * time.Millisecond)
	s.ejected = true
	if err := objectPosition(s.dev, false, s.logf); err != nil && !errors.Is(err, ErrNoDocs) {
		return err
	}
	return six5(s.dev)
}

// Cancel ends the current job. Paper remaining in the ADF is ejected.
func (s *Scanner) Cancel() {
	s.cancel()
}

func (s *Scanner) cancel() {
	if s.started && s.source != SourceFlatbed && !s.ejected {
		s.ejected = true
		if err := objectPosition(s.dev, false, s.logf); err != nil && !errors.Is(err, ErrNoDocs) {
			s.logf("cancel: eject: %v", err)
		}
	}
	s.started = false
	s.state = stateIdle
}

// Close cancels any job, turns the lamp off and closes the device if
// it implements io.Closer.
func (s *Scanner) Close() error {
	s.cancel()
	lampErr := lamp(s.dev, false)
	if c, ok := s.dev.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return err
		}
	}
	return lampErr
}

// Format is the pixel format of the image data returned by Read.
type Format int

const (
	FormatGray Format = iota
	FormatRGB
)

func (f Format) String() string {
	if f == FormatRGB {
		return "rgb"
	}
	return "gray"
}

// Parameters describes the image data returned by Read.
type Parameters struct {
	Format        Format
	Depth         int // bits per sample
	PixelsPerLine int
	BytesPerLine  int

	// Lines is -1 when the page length is detected while scanning.
	Lines int

	XResolution, YResolution int
}

// Parameters describes the image of the next page side given the
// current options.
func (s *Scanner) Parameters() Parameters {
	p := Parameters{
		Format:        FormatGray,
		Depth:         8,
		PixelsPerLine: s.front.widthPix,
		BytesPerLine:  s.front.widthBytes,
		Lines:         s.front.height,
		XResolution:   s.front.xRes,
		YResolution:   s.front.yRes,
	}
	if s.pageHeight == 0 {
		p.Lines = -1
	}
	switch s.mode {
	case ModeColor:
		p.Format = FormatRGB
	case ModeLineart:
		p.Depth = 1
	}
	return p
}
