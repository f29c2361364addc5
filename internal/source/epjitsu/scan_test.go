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
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"testing"

	"github.com/stapelberg/epscan"
	"github.com/stapelberg/epscan/internal/epjitsu"
	"github.com/stapelberg/epscan/internal/page"
	"github.com/stapelberg/epscan/internal/scaningest"
	"golang.org/x/net/trace"
)

// fakeScanner hands out sides of constant data, one per Start call,
// until sheets is exhausted.
type fakeScanner struct {
	source epjitsu.Source
	mode   epjitsu.Mode
	dpi    int

	sides    int // remaining
	value    byte
	lines    int
	startErr error

	started   int
	cancelled int
	remain    []byte
}

func newFake(sides int) *fakeScanner {
	return &fakeScanner{
		source: epjitsu.SourceADFFront,
		mode:   epjitsu.ModeGray,
		dpi:    150,
		sides:  sides,
		value:  0x80,
		lines:  20,
	}
}

func (f *fakeScanner) Source() epjitsu.Source { return f.source }

func (f *fakeScanner) SetSource(s epjitsu.Source) error {
	if s == epjitsu.SourceADFDuplex {
		return fmt.Errorf("%w: no duplex", epjitsu.ErrInvalid)
	}
	f.source = s
	return nil
}

func (f *fakeScanner) SetMode(m epjitsu.Mode) error {
	f.mode = m
	return nil
}

func (f *fakeScanner) SetResolution(dpi int) error {
	if dpi > 600 {
		return epjitsu.ErrInvalid
	}
	f.dpi = dpi
	return nil
}

func (f *fakeScanner) Parameters() epjitsu.Parameters {
	p := epjitsu.Parameters{
		Format:        epjitsu.FormatGray,
		Depth:         8,
		PixelsPerLine: 32,
		BytesPerLine:  32,
		Lines:         -1,
		XResolution:   f.dpi,
		YResolution:   f.dpi,
	}
	switch f.mode {
	case epjitsu.ModeColor:
		p.Format = epjitsu.FormatRGB
		p.BytesPerLine = 3 * 32
	case epjitsu.ModeLineart:
		p.Depth = 1
		p.BytesPerLine = 32 / 8
	}
	return p
}

func (f *fakeScanner) Start(ctx context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	if f.sides == 0 {
		return fmt.Errorf("ingest: %w", epjitsu.ErrNoDocs)
	}
	f.sides--
	f.started++
	f.remain = bytes.Repeat([]byte{f.value}, f.lines*f.Parameters().BytesPerLine)
	return nil
}

func (f *fakeScanner) Read(p []byte) (int, error) {
	if len(f.remain) == 0 {
		return 0, io.EOF
	}
	n := copy(p, f.remain)
	f.remain = f.remain[n:]
	return n, nil
}

func (f *fakeScanner) Cancel() { f.cancelled++ }

func (f *fakeScanner) HardwareStatus(context.Context) (epjitsu.HardwareStatus, error) {
	return epjitsu.HardwareStatus{Hopper: f.sides > 0}, nil
}

func runScan(t *testing.T, f *fakeScanner, req *epscan.ScanRequest) ([]*page.Any, error) {
	t.Helper()
	var pages []*page.Any
	ingester := &scaningest.Ingester{
		IngestCallback: func(j *scaningest.Job) (string, error) {
			pages = j.Pages
			return "job", nil
		},
	}
	tr := trace.New("Epjitsu", t.Name())
	defer tr.Finish()
	_, err := scan(context.Background(), tr, ingester, f, req)
	return pages, err
}

func TestScanGray(t *testing.T) {
	f := newFake(3)
	pages, err := runScan(t, f, &epscan.ScanRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(pages), 3; got != want {
		t.Fatalf("unexpected number of pages: got %d, want %d", got, want)
	}
	for idx, pg := range pages {
		if pg.Lineart() != nil {
			t.Fatalf("page %d: unexpectedly lineart", idx)
		}
		b, err := pg.JPEGBytes()
		if err != nil {
			t.Fatal(err)
		}
		cfg, err := jpeg.DecodeConfig(bytes.NewReader(b))
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Width != 32 || cfg.Height != 20 {
			t.Errorf("page %d: unexpected size: got %dx%d, want 32x20", idx, cfg.Width, cfg.Height)
		}
		if got, want := pg.DPI(), 150; got != want {
			t.Errorf("page %d: unexpected dpi: got %d, want %d", idx, got, want)
		}
	}
}

func TestScanLineart(t *testing.T) {
	f := newFake(1)
	f.value = 0xaa
	pages, err := runScan(t, f, &epscan.ScanRequest{
		Mode:       "lineart",
		Resolution: 300,
	})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(pages), 1; got != want {
		t.Fatalf("unexpected number of pages: got %d, want %d", got, want)
	}
	l := pages[0].Lineart()
	if l == nil {
		t.Fatalf("page is not lineart")
	}
	if l.Width != 32 || l.Height != 20 {
		t.Errorf("unexpected size: got %dx%d, want 32x20", l.Width, l.Height)
	}
	if !bytes.Equal(l.Bits, bytes.Repeat([]byte{0xaa}, 4*20)) {
		t.Errorf("unexpected bits")
	}
	if got, want := pages[0].DPI(), 300; got != want {
		t.Errorf("unexpected dpi: got %d, want %d", got, want)
	}
}

func TestScanFlatbed(t *testing.T) {
	f := newFake(5)
	pages, err := runScan(t, f, &epscan.ScanRequest{Source: "flatbed", Mode: "color"})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(pages), 1; got != want {
		t.Fatalf("unexpected number of pages: got %d, want %d", got, want)
	}
	if got, want := f.cancelled, 1; got != want {
		t.Errorf("unexpected number of Cancel calls: got %d, want %d", got, want)
	}
}

func TestScanErrors(t *testing.T) {
	for _, test := range []struct {
		name  string
		req   *epscan.ScanRequest
		setup func(*fakeScanner)
		want  error
	}{
		{
			name: "EmptyHopper",
			req:  &epscan.ScanRequest{},
			setup: func(f *fakeScanner) {
				f.sides = 0
			},
			want: epjitsu.ErrNoDocs,
		},
		{
			name: "UnknownMode",
			req:  &epscan.ScanRequest{Mode: "sepia"},
			want: epjitsu.ErrInvalid,
		},
		{
			name: "UnsupportedSource",
			req:  &epscan.ScanRequest{Source: "adf-duplex"},
			want: epjitsu.ErrInvalid,
		},
		{
			name: "Resolution",
			req:  &epscan.ScanRequest{Resolution: 1200},
			want: epjitsu.ErrInvalid,
		},
		{
			name: "Busy",
			req:  &epscan.ScanRequest{},
			setup: func(f *fakeScanner) {
				f.startErr = epjitsu.ErrBusy
			},
			want: epjitsu.ErrBusy,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			f := newFake(1)
			if test.setup != nil {
				test.setup(f)
			}
			_, err := runScan(t, f, test.req)
			if !errors.Is(err, test.want) {
				t.Fatalf("scan: got %v, want %v", err, test.want)
			}
		})
	}
}

func TestRequestDefaults(t *testing.T) {
	s := &EpjitsuSource{
		defaults: epscan.ScanRequest{
			Source:     "adf-duplex",
			Mode:       "lineart",
			Resolution: 300,
		},
	}
	got := s.request(&epscan.ScanRequest{Mode: "gray"})
	want := &epscan.ScanRequest{
		Source:     "adf-duplex",
		Mode:       "gray",
		Resolution: 300,
	}
	if *got != *want {
		t.Errorf("unexpected request: got %+v, want %+v", got, want)
	}
	if got := s.request(nil); *got != s.defaults {
		t.Errorf("unexpected request: got %+v, want %+v", got, s.defaults)
	}
}

func TestCanProcess(t *testing.T) {
	s := &EpjitsuSource{}
	for _, test := range []struct {
		req     epscan.ScanRequest
		wantErr bool
	}{
		{epscan.ScanRequest{}, false},
		{epscan.ScanRequest{SourceId: "epjitsu!usb", Mode: "gray"}, false},
		{epscan.ScanRequest{SourceId: "airscan!printer"}, true},
		{epscan.ScanRequest{Source: "glass"}, true},
		{epscan.ScanRequest{Mode: "sepia"}, true},
	} {
		err := s.CanProcess(&test.req)
		if gotErr := err != nil; gotErr != test.wantErr {
			t.Errorf("CanProcess(%+v) = %v, want error: %v", test.req, err, test.wantErr)
		}
	}
}
