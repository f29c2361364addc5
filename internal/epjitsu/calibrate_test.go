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

	"github.com/google/go-cmp/cmp"
)

func TestCoarseSearch(t *testing.T) {
	for _, test := range []struct {
		name      string
		b         bisect
		value     func(param int) int
		target    int
		wantParam int
		wantTries int
	}{
		{
			name:      "offset",
			b:         bisect{param: 63, low: -64, high: 63},
			value:     func(p int) int { return 2*p + 5 },
			target:    15,
			wantParam: 5,
			wantTries: 7,
		},
		{
			name:      "gain",
			b:         bisect{param: 0x12, low: 0, high: 63},
			value:     func(p int) int { return 3*p + 1 },
			target:    88,
			wantParam: 29,
			wantTries: 3,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			b := []bisect{test.b}
			tries, err := coarseSearch(b, 8, func(_ int, params []int) ([]int, error) {
				return []int{test.value(params[0]) - test.target}, nil
			})
			if err != nil {
				t.Fatal(err)
			}
			if !b[0].good {
				t.Fatalf("search did not converge: %+v", b[0])
			}
			if got, want := b[0].param, test.wantParam; got != want {
				t.Errorf("unexpected param: got %d, want %d", got, want)
			}
			if got, want := tries, test.wantTries; got != want {
				t.Errorf("unexpected number of tries: got %d, want %d", got, want)
			}
		})
	}
}

func TestCoarseSearchGivesUp(t *testing.T) {
	b := []bisect{{param: 63, low: -64, high: 63}}
	var seen []int
	tries, err := coarseSearch(b, 8, func(try int, params []int) ([]int, error) {
		seen = append(seen, try)
		return []int{1}, nil // always too bright
	})
	if err != nil {
		t.Fatal(err)
	}
	if b[0].good {
		t.Fatalf("search converged unexpectedly")
	}
	if diff := cmp.Diff([]int{0, 1, 2, 3, 4, 5, 6, 7}, seen); diff != "" {
		t.Errorf("unexpected tries: diff (-want +got):\n%s", diff)
	}
	if got, want := tries, 8; got != want {
		t.Errorf("unexpected number of tries: got %d, want %d", got, want)
	}
}

func TestCoarseSearchPerPage(t *testing.T) {
	// the back side is converged first and must not move anymore
	b := []bisect{
		{param: 63, low: -64, high: 63},
		{param: 63, low: -64, high: 63},
	}
	_, err := coarseSearch(b, 8, func(_ int, params []int) ([]int, error) {
		return []int{params[0] - 5, params[1] - 63}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := b[1].param, 63; got != want {
		t.Errorf("back side moved: got %d, want %d", got, want)
	}
	if got, want := b[0].param, 5; got != want {
		t.Errorf("unexpected front side param: got %d, want %d", got, want)
	}
}

func TestCoarseSearchError(t *testing.T) {
	errRead := errors.New("read failed")
	b := []bisect{{param: 63, low: -64, high: 63}}
	tries, err := coarseSearch(b, 8, func(int, []int) ([]int, error) { return nil, errRead })
	if err != errRead {
		t.Fatalf("got %v, want %v", err, errRead)
	}
	if got, want := tries, 1; got != want {
		t.Errorf("unexpected number of tries: got %d, want %d", got, want)
	}
}

func calibrationScanner(t *testing.T, f *fakeScanner) *Scanner {
	t.Helper()
	s := openFake(t, f)
	if err := s.SetResolution(150); err != nil {
		t.Fatal(err)
	}
	if err := s.changeParams(); err != nil {
		t.Fatal(err)
	}
	s.setupBuffers()
	return s
}

func TestCoarseCal(t *testing.T) {
	f := newFakeS300(t, 0)
	s := calibrationScanner(t, f)
	if err := s.coarseCal(); err != nil {
		t.Fatal(err)
	}
	for _, test := range []struct {
		name string
		off  int
		want byte
	}{
		{"front offset", coarseOffset0, 5},
		{"back offset", coarseOffset1, 5},
		{"front gain", coarseGain0, 29},
		{"back gain", coarseGain1, 29},
	} {
		if got := f.coarse[test.off]; got != test.want {
			t.Errorf("%s: got %d, want %d", test.name, got, test.want)
		}
	}
	// 7 dark and 3 light lines
	if got, want := f.count(opGetLine), 10; got != want {
		t.Errorf("unexpected number of lines: got %d, want %d", got, want)
	}
	if !f.lamp {
		t.Errorf("lamp off after coarse calibration")
	}
	if got, want := f.windows[0], windowCoarseCal; got != want {
		t.Errorf("unexpected window: got %v, want %v", got, want)
	}
}

func TestCoarseCalLightKeepsInitialGains(t *testing.T) {
	f := newFakeFI60F(t)
	s := calibrationScanner(t, f)
	if err := setWindow(s.dev, encodeWindow(windowCoarseCal, s.set, s.heads, s.coarsecal.height)); err != nil {
		t.Fatal(err)
	}
	pay := coarsePayload(s.model)
	// one gain per color, which the first try must send as is
	pay[coarseGain0] = 0x1c
	pay[coarseGain1] = 0x20
	pay[coarseGain2] = 0x24
	want := append([]byte(nil), pay...)
	if err := s.coarseCalLight(pay); err != nil {
		t.Fatal(err)
	}
	if len(f.coarses) < 2 {
		t.Fatalf("got %d coarse calibration payloads, want at least 2", len(f.coarses))
	}
	if diff := cmp.Diff(want, f.coarses[0]); diff != "" {
		t.Errorf("unexpected first payload: diff (-want +got):\n%s", diff)
	}
	// later tries set all colors to the bisected gain
	second := f.coarses[1]
	if second[coarseGain0] != second[coarseGain1] || second[coarseGain0] != second[coarseGain2] {
		t.Errorf("unexpected second payload gains: % x", second[coarseGain0:coarseGain2+1])
	}
}

func TestFineCal(t *testing.T) {
	f := newFakeS300(t, 0)
	s := calibrationScanner(t, f)
	report, err := s.fineCal()
	if err != nil {
		t.Fatal(err)
	}
	if !report.Converged {
		t.Fatalf("fine calibration did not converge: %+v", report)
	}
	if got, want := report.Iterations, 2; got != want {
		t.Errorf("unexpected number of iterations: got %d, want %d", got, want)
	}
	if report.HighPegs != 0 || report.LowPegs != 0 {
		t.Errorf("unexpected pegs: %+v", report)
	}
	if got := report.MaxAvgError[len(report.MaxAvgError)-1]; got > 1 {
		t.Errorf("final average error too large: %.2f", got)
	}

	// red of the first front pixel: 124 read with gain 0xbf, 185
	// wanted, at a slope of -1
	if got, want := s.sendcal.buf[1], byte(0xbf-61); got != want {
		t.Errorf("unexpected gain: got %#x, want %#x", got, want)
	}
	// red of the first back pixel: 150 wanted
	backRed := s.lightcal.widthPix * 3 * 2
	if got, want := s.sendcal.buf[backRed+1], byte(0xbf-26); got != want {
		t.Errorf("unexpected back side gain: got %#x, want %#x", got, want)
	}
	if got, want := f.windows[len(f.windows)-1], windowFineCal; got != want {
		t.Errorf("unexpected last window: got %v, want %v", got, want)
	}
}

func TestFineCalGivesUp(t *testing.T) {
	f := newFakeS300(t, 0)
	s := calibrationScanner(t, f)
	s.cfg.Calibration.FineTries = 1
	report, err := s.fineCal()
	if err != nil {
		t.Fatal(err)
	}
	if report.Converged {
		t.Fatalf("fine calibration converged unexpectedly")
	}
	if got, want := report.Iterations, 1; got != want {
		t.Errorf("unexpected number of iterations: got %d, want %d", got, want)
	}
}

func TestFineCalNonlinearSensor(t *testing.T) {
	for _, test := range []struct {
		name    string
		fine    func(gain, col int) int
		damping float64
		want    int // iterations
		ok      bool
	}{
		{
			name: "linear",
			fine: func(gain, col int) int {
				// two counts per gain step
				return 60 + 2*(0xff-gain) + col%3 - 1
			},
			damping: 0.75,
			want:    2,
			ok:      true,
		},
		{
			name: "quadratic",
			fine: func(gain, col int) int {
				// four times steeper around the target than the slope
				// measured between the two reference gains
				return 60 + (0xff-gain)*(0xff-gain)/32 + col%3 - 1
			},
			damping: 0.75,
			want:    4,
			ok:      true,
		},
		{
			name: "quadratic undamped",
			fine: func(gain, col int) int {
				return 60 + (0xff-gain)*(0xff-gain)/32 + col%3 - 1
			},
			damping: 1,
			want:    8,
			ok:      false,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			f := newFakeS300(t, 0)
			f.fine = test.fine
			s := calibrationScanner(t, f)
			s.cfg.Calibration.FineDamping = test.damping
			report, err := s.fineCal()
			if err != nil {
				t.Fatal(err)
			}
			if got, want := report.Converged, test.ok; got != want {
				t.Fatalf("unexpected convergence: got %v, want %v (report %+v)", got, want, report)
			}
			if got, want := report.Iterations, test.want; got != want {
				t.Errorf("unexpected number of iterations: got %d, want %d", got, want)
			}
			if got, want := len(report.MaxAvgError), report.Iterations; got != want {
				t.Errorf("unexpected number of errors: got %d, want %d", got, want)
			}
			if !test.ok {
				return
			}
			for i := 1; i < len(report.MaxAvgError); i++ {
				if prev, cur := report.MaxAvgError[i-1], report.MaxAvgError[i]; cur > prev {
					t.Errorf("average error increased in iteration %d: %.3f > %.3f", i+1, cur, prev)
				}
			}
			if got := report.MaxAvgError[len(report.MaxAvgError)-1]; got > 1 {
				t.Errorf("final average error too large: %.3f", got)
			}
		})
	}
}

func TestFineCalUnresponsiveSensor(t *testing.T) {
	f := newFakeS300(t, 0)
	f.fine = func(gain, col int) int { return 100 }
	s := calibrationScanner(t, f)
	report, err := s.fineCal()
	if err != nil {
		t.Fatal(err)
	}
	if report.Converged {
		t.Fatalf("fine calibration converged unexpectedly")
	}
	if got, want := report.Iterations, 8; got != want {
		t.Errorf("unexpected number of iterations: got %d, want %d", got, want)
	}
	if got, want := len(report.MaxAvgError), 8; got != want {
		t.Errorf("unexpected number of errors: got %d, want %d", got, want)
	}
	// dark, light and one after each iteration but the last
	if got, want := f.count(opGetLine), 2+7; got != want {
		t.Errorf("unexpected number of lines: got %d, want %d", got, want)
	}
	// every target is above 100, so every gain ends up at 0; the
	// count covers the last iteration only
	if got, want := report.LowPegs, s.lightcal.widthPix*3*2; got != want {
		t.Errorf("unexpected low pegs: got %d, want %d", got, want)
	}
	if got := report.HighPegs; got != 0 {
		t.Errorf("unexpected high pegs: got %d, want 0", got)
	}
	for i := 0; i < s.lightcal.widthPix*3*2; i++ {
		if got := s.sendcal.buf[i*2+1]; got != 0 {
			t.Fatalf("gain %d: got %#x, want 0", i, got)
		}
	}
}

func TestRound2(t *testing.T) {
	for _, test := range []struct {
		in, want float64
	}{
		{0.4, 0},
		{0.5, 1},
		{-0.5, -1},
		{-1.4, -1},
		{-15.5, -16},
	} {
		if got := round2(test.in); got != test.want {
			t.Errorf("round2(%v) = %v, want %v", test.in, got, test.want)
		}
	}
}
