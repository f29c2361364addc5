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

// All setters return ErrBusy while a job is running, and ErrInvalid
// for values the model does not support. Geometry is in millimeters.

func (s *Scanner) checkIdle() error {
	if s.started {
		return ErrBusy
	}
	return nil
}

// reparam runs changeParams after an option change, restoring the
// previous options if no settings exist for the new combination.
func (s *Scanner) reparam(restore func()) error {
	if err := s.changeParams(); err != nil {
		restore()
		if rerr := s.changeParams(); rerr != nil {
			return fmt.Errorf("%w (restoring: %v)", err, rerr)
		}
		return err
	}
	return nil
}

// Sources returns the sources the model supports.
func (s *Scanner) Sources() []Source {
	var sources []Source
	if s.caps.flatbed {
		sources = append(sources, SourceFlatbed)
	}
	if s.caps.adf {
		sources = append(sources, SourceADFFront)
	}
	if s.caps.duplex {
		sources = append(sources, SourceADFBack, SourceADFDuplex)
	}
	return sources
}

func (s *Scanner) Source() Source { return s.source }

func (s *Scanner) SetSource(src Source) error {
	if err := s.checkIdle(); err != nil {
		return err
	}
	supported := false
	for _, ss := range s.Sources() {
		supported = supported || ss == src
	}
	if !supported {
		return fmt.Errorf("%w: source %v not supported by %v", ErrInvalid, src, s.model)
	}
	if src == s.source {
		return nil
	}
	old := s.source
	s.source = src
	return s.reparam(func() { s.source = old })
}

func (s *Scanner) Mode() Mode { return s.mode }

func (s *Scanner) SetMode(m Mode) error {
	if err := s.checkIdle(); err != nil {
		return err
	}
	if _, ok := modeNames[m]; !ok {
		return fmt.Errorf("%w: %v", ErrInvalid, m)
	}
	if m == s.mode {
		return nil
	}
	old := s.mode
	s.mode = m
	return s.reparam(func() { s.mode = old })
}

// Resolution returns the resolution in dpi, which applies to both axes.
func (s *Scanner) Resolution() int { return s.resolution }

func (s *Scanner) SetResolution(dpi int) error {
	if err := s.checkIdle(); err != nil {
		return err
	}
	if dpi < s.caps.minRes || dpi > s.caps.maxRes {
		return fmt.Errorf("%w: resolution %d outside [%d, %d]", ErrInvalid, dpi, s.caps.minRes, s.caps.maxRes)
	}
	if dpi == s.resolution {
		return nil
	}
	old := s.resolution
	s.resolution = dpi
	return s.reparam(func() { s.resolution = old })
}

// ScanArea returns the scan area, after clamping to what the model
// supports.
func (s *Scanner) ScanArea() (tlX, tlY, brX, brY float64) {
	return unitToMM(s.tlX), unitToMM(s.tlY), unitToMM(s.brX), unitToMM(s.brY)
}

// SetScanArea sets the scan area. The scanner always scans centered,
// so only the width of the horizontal range is used.
func (s *Scanner) SetScanArea(tlX, tlY, brX, brY float64) error {
	if err := s.checkIdle(); err != nil {
		return err
	}
	if brX <= tlX || brY <= tlY || tlX < 0 || tlY < 0 {
		return fmt.Errorf("%w: scan area (%.1f,%.1f)-(%.1f,%.1f)", ErrInvalid, tlX, tlY, brX, brY)
	}
	oldTLY, oldW, oldH := s.tlY, s.pageWidth, s.pageHeight
	s.tlY = mmToUnit(tlY)
	s.pageWidth = mmToUnit(brX - tlX)
	s.pageHeight = mmToUnit(brY - tlY)
	return s.reparam(func() { s.tlY, s.pageWidth, s.pageHeight = oldTLY, oldW, oldH })
}

// PageSize returns the paper size. A height of 0 means the length of
// each page is detected while scanning.
func (s *Scanner) PageSize() (width, height float64) {
	return unitToMM(s.pageWidth), unitToMM(s.pageHeight)
}

// SetPageSize sets the paper size. A height of 0 detects the length of
// each page while scanning (ADF only).
func (s *Scanner) SetPageSize(width, height float64) error {
	if err := s.checkIdle(); err != nil {
		return err
	}
	if width <= 0 || height < 0 {
		return fmt.Errorf("%w: page size %.1fx%.1f", ErrInvalid, width, height)
	}
	oldW, oldH := s.pageWidth, s.pageHeight
	s.pageWidth = mmToUnit(width)
	s.pageHeight = mmToUnit(height)
	return s.reparam(func() { s.pageWidth, s.pageHeight = oldW, oldH })
}

func checkRange(name string, v, min, max int) error {
	if v < min || v > max {
		return fmt.Errorf("%w: %s %d outside [%d, %d]", ErrInvalid, name, v, min, max)
	}
	return nil
}

func (s *Scanner) Brightness() int { return s.brightness }

// SetBrightness sets the brightness (-127 to 127), applied by the
// scanner.
func (s *Scanner) SetBrightness(v int) error {
	if err := s.checkIdle(); err != nil {
		return err
	}
	if err := checkRange("brightness", v, -127, 127); err != nil {
		return err
	}
	s.brightness = v
	return nil
}

func (s *Scanner) Contrast() int { return s.contrast }

// SetContrast sets the contrast (-127 to 127), applied by the scanner.
func (s *Scanner) SetContrast(v int) error {
	if err := s.checkIdle(); err != nil {
		return err
	}
	if err := checkRange("contrast", v, -127, 127); err != nil {
		return err
	}
	s.contrast = v
	return nil
}

func (s *Scanner) Gamma() float64 { return s.gamma }

// SetGamma sets the gamma correction (0.3 to 5).
func (s *Scanner) SetGamma(v float64) error {
	if err := s.checkIdle(); err != nil {
		return err
	}
	if v < 0.3 || v > 5 {
		return fmt.Errorf("%w: gamma %.2f outside [0.3, 5]", ErrInvalid, v)
	}
	s.gamma = v
	return nil
}

func (s *Scanner) Threshold() int { return s.threshold }

// SetThreshold sets the lineart threshold (0 to 255). Pixels brighter
// than the threshold become white.
func (s *Scanner) SetThreshold(v int) error {
	if err := s.checkIdle(); err != nil {
		return err
	}
	if err := checkRange("threshold", v, 0, 255); err != nil {
		return err
	}
	s.threshold = v
	return nil
}

func (s *Scanner) ThresholdCurve() int { return s.thresholdCurve }

// SetThresholdCurve sets how strongly the lineart threshold follows
// the local brightness (-127 to 127). 0 disables dynamic thresholding.
func (s *Scanner) SetThresholdCurve(v int) error {
	if err := s.checkIdle(); err != nil {
		return err
	}
	if err := checkRange("threshold curve", v, -127, 127); err != nil {
		return err
	}
	s.thresholdCurve = v
	return nil
}
