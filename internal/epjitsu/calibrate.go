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
	"fmt"
	"math"
)

// CalibrationConfig holds the targets and limits of the calibration.
// The defaults were tuned empirically against real hardware; change
// them only after verifying the result on a device.
type CalibrationConfig struct {
	// CoarseOffsetTarget is the average value of a dark line.
	CoarseOffsetTarget int

	// CoarseGainMin and CoarseGainMax bound the average value of a
	// white line, per side.
	CoarseGainMin [2]int
	CoarseGainMax [2]int

	// CoarseClipLimit is the maximum proportion of clipped pixels in a
	// white line, in tenths of a percent.
	CoarseClipLimit int

	CoarseTries int

	// FineGainTarget is the value each pixel of a white line should
	// read after fine calibration, per side. It is scaled by the white
	// factor of each color.
	FineGainTarget [2]int

	// FineMaxAvgError and FineMaxVariance determine when fine
	// calibration has converged.
	FineMaxAvgError float64
	FineMaxVariance float64

	FineTries int

	// FineDamping reduces the gain slope of a pixel whenever a
	// correction overshot.
	FineDamping float64
}

// DefaultCalibration returns the calibration constants which work for
// all supported models.
func DefaultCalibration() CalibrationConfig {
	return CalibrationConfig{
		CoarseOffsetTarget: 15,
		CoarseGainMin:      [2]int{88, 88},
		CoarseGainMax:      [2]int{92, 92},
		CoarseClipLimit:    9,
		CoarseTries:        8,
		FineGainTarget:     [2]int{185, 150},
		FineMaxAvgError:    1.0,
		FineMaxVariance:    3.0,
		FineTries:          8,
		FineDamping:        0.75,
	}
}

// bisect searches one coarse parameter.
type bisect struct {
	param, low, high int
	good             bool
}

// step moves the parameter towards the target. cmp is positive when
// the measured value was too high, negative when too low, and zero when
// on target.
func (b *bisect) step(cmp int) {
	switch {
	case cmp > 0:
		b.high = b.param
		b.param = (b.low + b.high) / 2
	case cmp < 0:
		b.low = b.param
		b.param = (b.low + b.high) / 2
	default:
		b.good = true
	}
}

// coarseSearch bisects the parameters of all pages at once. measure
// applies the given parameters in try (starting at 0) and compares the
// result with the target (see bisect.step). The number of tries is
// returned.
func coarseSearch(b []bisect, tries int, measure func(try int, params []int) ([]int, error)) (int, error) {
	params := make([]int, len(b))
	for try := 0; try < tries; try++ {
		for i := range b {
			params[i] = b[i].param
		}
		cmp, err := measure(try, params)
		if err != nil {
			return try + 1, err
		}
		done := true
		for i := range b {
			if !b[i].good {
				b[i].step(cmp[i])
			}
			done = done && b[i].good
		}
		if done {
			return try + 1, nil
		}
	}
	return tries, nil
}

// setCoarseParams writes params into the coarse calibration payload at
// the offset or gain starting at base.
func (s *Scanner) setCoarseParams(pay []byte, base int, params []int) {
	if s.model.sheetfed() {
		pay[base] = byte(params[0])
		pay[base+2] = byte(params[1])
		return
	}
	pay[base] = byte(params[0])
	pay[base+2] = byte(params[0])
	pay[base+4] = byte(params[0])
}

// coarseCal sets up the analog front end: first the offsets with the
// lamp off, then the gains with the lamp on.
func (s *Scanner) coarseCal() error {
	pay := coarsePayload(s.model)

	// one line
	if err := setWindow(s.dev, encodeWindow(windowCoarseCal, s.set, s.heads, s.coarsecal.height)); err != nil {
		return err
	}

	if s.model == ModelS1100 {
		return sendCoarseCal(s.dev, pay)
	}

	if err := s.coarseCalDark(pay); err != nil {
		return err
	}
	return s.coarseCalLight(pay)
}

func (s *Scanner) coarseCalDark(pay []byte) error {
	if err := lamp(s.dev, false); err != nil {
		return err
	}

	cfg := s.cfg.Calibration
	img := &s.coarsecal
	b := make([]bisect, img.pages)
	for i := range b {
		// the S300 accepts offsets from -128 to 127, a smaller range
		// converges faster
		b[i] = bisect{param: 63, low: -64, high: 63}
	}
	tries, err := coarseSearch(b, cfg.CoarseTries, func(_ int, params []int) ([]int, error) {
		s.setCoarseParams(pay, coarseOffset0, params)
		if err := sendCoarseCal(s.dev, pay); err != nil {
			return nil, err
		}
		if err := s.calGetLine(img); err != nil {
			return nil, err
		}

		// with the lamp off, only the average is of interest
		cmp := make([]int, img.pages)
		for p := range cmp {
			line := img.buf[p*img.pageStride():][:img.widthBytes]
			sum := 0
			for _, v := range line {
				sum += int(v)
			}
			avg := sum / img.widthBytes
			cmp[p] = avg - cfg.CoarseOffsetTarget
			s.logf("coarse cal dark: page %d: offset %d, average %d", p, params[p], avg)
		}
		return cmp, nil
	})
	if err != nil {
		return fmt.Errorf("coarse cal dark: %w", err)
	}
	s.logCoarse("dark", b, tries)
	return nil
}

func (s *Scanner) coarseCalLight(pay []byte) error {
	if err := lamp(s.dev, true); err != nil {
		return err
	}

	cfg := s.cfg.Calibration
	img := &s.coarsecal
	b := make([]bisect, img.pages)
	initial := []int{int(pay[coarseGain0]), int(pay[coarseGain1])}
	for i := range b {
		b[i] = bisect{param: initial[i], low: 0, high: 63}
	}
	tries, err := coarseSearch(b, cfg.CoarseTries, func(try int, params []int) ([]int, error) {
		// the first try sends the gains of the payload unchanged
		if try > 0 {
			s.setCoarseParams(pay, coarseGain0, params)
		}
		if err := sendCoarseCal(s.dev, pay); err != nil {
			return nil, err
		}
		if err := s.calGetLine(img); err != nil {
			return nil, err
		}

		cmp := make([]int, img.pages)
		for p := range cmp {
			avg, clipped := s.lightStats(img, p)
			switch {
			case clipped > cfg.CoarseClipLimit || avg > cfg.CoarseGainMax[p]:
				cmp[p] = 1
			case avg < cfg.CoarseGainMin[p]:
				cmp[p] = -1
			}
			s.logf("coarse cal light: page %d: gain %d, average %d, clipped %.1f%%", p, params[p], avg, float64(clipped)/10)
		}
		return cmp, nil
	})
	if err != nil {
		return fmt.Errorf("coarse cal light: %w", err)
	}
	s.logCoarse("light", b, tries)
	return nil
}

// lightStats returns the average of the brightest color channel (after
// applying the white factors) and the proportion of pixels at 255 in
// the most clipped channel, in tenths of a percent.
func (s *Scanner) lightStats(img *image, p int) (avg, clipped int) {
	var sum, hi [3]int
	line := img.buf[p*img.pageStride():][:img.widthBytes]
	for x := 0; x < img.widthPix; x++ {
		for c := 0; c < 3; c++ {
			v := line[x*3+c]
			sum[c] += int(v)
			if v == 255 {
				hi[c]++
			}
		}
	}
	var weighted [3]int
	for c := range weighted {
		weighted[c] = int(float64(sum[c]) * s.caps.whiteFactor[c])
		hi[c] = hi[c] * 1000 / img.widthPix
	}
	return max3(weighted[0], weighted[1], weighted[2]) / img.widthPix, max3(hi[0], hi[1], hi[2])
}

func (s *Scanner) logCoarse(pass string, b []bisect, tries int) {
	for p := range b {
		if !b[p].good {
			s.logf("coarse cal %s: page %d did not converge after %d tries, using %d", pass, p, tries, b[p].param)
		}
	}
}

// calGetLine scans into img (coarse or fine calibration) using the
// current window.
func (s *Scanner) calGetLine(img *image) error {
	if err := command(s.dev, "get line", opGetLine); err != nil {
		return err
	}
	t := &s.calImage
	t.image = img
	t.reset()
	for !t.done {
		if err := readBlock(s.dev, s.model, t); err != nil {
			return err
		}
	}
	return descramble(s.model, t)
}

// fineGetLine scans 16 lines into img and averages each column. The
// averages of page p end up in row p.
func (s *Scanner) fineGetLine(img *image) error {
	if err := setWindow(s.dev, encodeWindow(windowFineCal, s.set, s.heads, img.height)); err != nil {
		return err
	}
	if err := s.calGetLine(img); err != nil {
		return err
	}

	round := img.height / 2
	for p := 0; p < img.pages; p++ {
		lines := img.buf[p*img.pageStride():]
		avg := img.buf[p*img.widthBytes:]
		for j := 0; j < img.widthBytes; j++ {
			total := 0
			for k := 0; k < img.height; k++ {
				total += int(lines[j+k*img.widthBytes])
			}
			avg[j] = byte((total + round) / img.height)
		}
	}
	return nil
}

// sendFineCal scrambles the per pixel offset and gain table in
// s.sendcal into the raw format of the scanner and sends it.
func (s *Scanner) sendFineCal() error {
	t := &s.calData
	raw := t.raw
	for i := range raw {
		raw[i] = 0
	}
	in := s.sendcal.buf
	ps := t.planeStride

	if s.model == ModelS1100 {
		// input is RrGgBb (offset, gain), output is Bb…Rr…Gg…
		for k := 0; k < s.sendcal.widthPix; k++ {
			p := in[k*6:]
			copy(raw[ps+k*2:], p[0:2])
			copy(raw[2*ps+k*2:], p[2:4])
			copy(raw[k*2:], p[4:6])
		}
	} else {
		planes := 2 // S300 family: front and back side
		if s.model.fi() {
			planes = 3 // read heads
		}
		n := 0
		for i := 0; i < planes; i++ {
			for j := 0; j < t.planeWidth; j++ {
				for k := 0; k < 3; k++ {
					o := k*ps + j*6 + i*2
					raw[o] = in[n]   // offset
					raw[o+1] = in[n+1] // gain
					n += 2
				}
			}
		}
	}

	if err := setWindow(s.dev, encodeWindow(windowSendCal, s.set, s.heads, 1)); err != nil {
		return err
	}
	h1, h2 := sendCalHeaders(s.set)
	return sendFineCal(s.dev, h1, h2, raw)
}

// FineReport summarizes a fine calibration run.
type FineReport struct {
	// Iterations is the number of feedback iterations which ran.
	Iterations int

	// MaxAvgError holds, per iteration, the largest absolute average
	// error of any side and color.
	MaxAvgError []float64

	// MaxVariance holds, per iteration, the largest error variance of
	// any side and color.
	MaxVariance []float64

	Converged bool

	// HighPegs and LowPegs count the gains of the last iteration which
	// were clamped to 0xff and 0, respectively.
	HighPegs, LowPegs int
}

func round2(x float64) float64 {
	if x >= 0 {
		return float64(int(x + 0.5))
	}
	return float64(int(x - 0.5))
}

// fineCal determines the per pixel gains which equalize the sensor
// response, in a feedback loop.
func (s *Scanner) fineCal() (FineReport, error) {
	var report FineReport
	cfg := s.cfg.Calibration
	maxPages := 1
	if s.model.sheetfed() {
		maxPages = 2
	}

	setAll := func(gain byte) {
		buf := s.sendcal.buf
		for i := 0; i < s.sendcal.widthBytes*s.sendcal.pages/2; i++ {
			buf[i*2] = 0 // offset
			buf[i*2+1] = gain
		}
	}

	// lowest gain (0xff)
	setAll(0xff)
	if err := s.sendFineCal(); err != nil {
		return report, err
	}
	if err := lamp(s.dev, true); err != nil {
		return report, err
	}
	if err := s.fineGetLine(&s.darkcal); err != nil {
		return report, err
	}

	// a fixed higher gain
	setAll(0xbf)
	if err := s.sendFineCal(); err != nil {
		return report, err
	}
	if err := s.fineGetLine(&s.lightcal); err != nil {
		return report, err
	}

	// per pixel slope of value over gain, limited to 1 or less to
	// avoid overshooting when the light reference is clipped
	const gainDelta = 0xff - 0xbf
	light, dark := s.lightcal.buf, s.darkcal.buf
	n := s.lightcal.widthPix * 3 * maxPages
	slope := make([]float64, n)
	lastErr := make([]float64, n)
	for idx := range slope {
		delta := int(light[idx]) - int(dark[idx])
		if delta < gainDelta {
			slope[idx] = -1
		} else {
			slope[idx] = -float64(gainDelta) / float64(delta)
		}
	}

	width := s.lightcal.widthPix
	gains := s.sendcal.buf
	for try := 0; try < cfg.FineTries; try++ {
		report.HighPegs, report.LowPegs = 0, 0
		var sum, sum2 [2][3]float64
		idx := 0
		for p := 0; p < maxPages; p++ {
			for j := 0; j < width; j++ {
				for k := 0; k < 3; k++ {
					v := float64(s.lightcal.buf[idx])
					e := float64(cfg.FineGainTarget[p])*s.caps.whiteFactor[k] - v

					// overshot the last correction
					if e*lastErr[idx] < 0 {
						slope[idx] *= cfg.FineDamping
					}
					lastErr[idx] = e

					gain := int(gains[idx*2+1]) + int(round2(e*slope[idx]))
					switch {
					case gain < 0:
						report.LowPegs++
						gain = 0
					case gain > 0xff:
						report.HighPegs++
						gain = 0xff
					}
					gains[idx*2+1] = byte(gain)

					sum[p][k] += e
					sum2[p][k] += e * e
					idx++
				}
			}
		}

		good := true
		var maxAvg, maxVar float64
		for p := 0; p < maxPages; p++ {
			for k := 0; k < 3; k++ {
				avg := sum[p][k] / float64(width)
				variance := (sum2[p][k] - sum[p][k]*sum[p][k]/float64(width)) / float64(width)
				if math.Abs(avg) > cfg.FineMaxAvgError || variance > cfg.FineMaxVariance {
					good = false
				}
				maxAvg = math.Max(maxAvg, math.Abs(avg))
				maxVar = math.Max(maxVar, variance)
			}
		}
		report.Iterations++
		report.MaxAvgError = append(report.MaxAvgError, maxAvg)
		report.MaxVariance = append(report.MaxVariance, maxVar)
		s.logf("fine cal: iteration %d: max average error %.1f, max variance %.1f", try+1, maxAvg, maxVar)

		if good {
			report.Converged = true
			break
		}

		if err := s.sendFineCal(); err != nil {
			return report, err
		}
		if err := s.fineGetLine(&s.lightcal); err != nil {
			return report, err
		}
	}
	if !report.Converged {
		s.logf("fine cal: did not converge after %d iterations", report.Iterations)
	}
	return report, nil
}
