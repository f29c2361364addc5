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

// Package epjitsu implements a scan source for the Fujitsu fi-60F, fi-65F,
// ScanSnap S300, S1300, S1300i and S1100 document scanners connected via USB.
package epjitsu

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/stapelberg/epscan"
	"github.com/stapelberg/epscan/internal/dispatch"
	"github.com/stapelberg/epscan/internal/epjitsu"
	"github.com/stapelberg/epscan/internal/epjitsu/usb"
	"github.com/stapelberg/epscan/internal/mayqtt"
	"github.com/stapelberg/epscan/internal/scaningest"
	"golang.org/x/net/trace"
)

// scanner is the part of *epjitsu.Scanner which a scan job uses.
type scanner interface {
	Source() epjitsu.Source
	SetSource(epjitsu.Source) error
	SetMode(epjitsu.Mode) error
	SetResolution(int) error
	Start(context.Context) error
	Read([]byte) (int, error)
	Parameters() epjitsu.Parameters
	Cancel()
	HardwareStatus(context.Context) (epjitsu.HardwareStatus, error)
}

type lockedScanner struct {
	mu sync.Mutex
	sc scanner // nil once the device is gone
}

type Config struct {
	// FirmwarePath is handed to epjitsu.Config.
	FirmwarePath string

	// Defaults fills in the empty fields of scan requests.
	Defaults epscan.ScanRequest
}

type EpjitsuSourceFinder struct {
	cfg Config

	mu     sync.Mutex
	source *EpjitsuSource
	status epjitsu.HardwareStatus
}

// implements epscan.ScanSourceFinder
func (f *EpjitsuSourceFinder) CurrentScanSources() []epscan.ScanSource {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.source != nil {
		return []epscan.ScanSource{f.source}
	}
	return nil
}

// Status returns the most recently polled hardware status.
func (f *EpjitsuSourceFinder) Status(ctx context.Context) (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.source == nil {
		return nil, dispatch.ErrNoScanner
	}
	return f.status, nil
}

func (f *EpjitsuSourceFinder) findDevice(tr trace.Trace, ingesterForDefault func() *scaningest.Ingester) error {
	dev, err := usb.FindDevice()
	if err != nil {
		mayqtt.Publishf("powersave")
		return fmt.Errorf("device not found: %v", err)
	}
	sc, err := epjitsu.Open(dev, &epjitsu.Config{
		FirmwarePath: f.cfg.FirmwarePath,
		Logf:         tr.LazyPrintf,
	})
	if err != nil {
		dev.Close()
		return fmt.Errorf("opening %s: %v", dev.Product(), err)
	}
	ident := sc.Ident()
	l := &lockedScanner{sc: sc}
	source := &EpjitsuSource{
		dev:      l,
		name:     ident.Vendor + " " + ident.Product,
		defaults: f.cfg.Defaults,
	}
	action := &scanAction{
		source:             source,
		ingesterForDefault: ingesterForDefault,
	}

	// Make the source finder return a source for this device:
	f.mu.Lock()
	f.source = source
	f.mu.Unlock()
	dispatch.Register(action)
	defer func() {
		dispatch.Unregister(action)
		f.mu.Lock()
		f.source = nil
		f.mu.Unlock()
	}()

	tr.LazyPrintf("%s opened, waiting for scan button press", source.name)
	mayqtt.Publishf("scanner ready")
	f.poll(tr, l, action)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := sc.Close(); err != nil {
		tr.LazyPrintf("device close failed: %v", err)
	}
	l.sc = nil

	return nil
}

// poll watches the sensors until the device stops responding, and
// scans when the scan button is pressed.
func (f *EpjitsuSourceFinder) poll(tr trace.Trace, l *lockedScanner, action *scanAction) {
	var lastScan time.Time
	for {
		l.mu.Lock()
		hw, err := l.sc.HardwareStatus(context.Background())
		l.mu.Unlock()
		if err != nil {
			tr.LazyPrintf("hardware status request failed: %v", err)
			return
		}
		f.mu.Lock()
		f.status = hw
		f.mu.Unlock()
		mayqtt.PublishHardwareStatus(hw)

		if hw.ScanSw && time.Since(lastScan) > 5*time.Second {
			lastScan = time.Now()
			tr.LazyPrintf("scan button pressed, scanning")
			jobId, err := action.Scan(&epscan.ScanRequest{})
			if err != nil {
				tr.LazyPrintf("scan failed: %v", err)
				mayqtt.Publishf("scan failed: %v", err)
			} else {
				tr.LazyPrintf("scan completed: %s", jobId)
			}
		}
		if hw.Hopper {
			// The user inserted paper, so they’re likely about to
			// scan. Poll more frequently.
			time.Sleep(50 * time.Millisecond)
		} else {
			time.Sleep(1 * time.Second)
		}
	}
}

func SourceFinder(cfg Config, ingesterForDefault func() *scaningest.Ingester) *EpjitsuSourceFinder {
	tr := trace.New("Epjitsu", "USB")

	log.Printf("Searching for Epjitsu scanners via USB")
	tr.LazyPrintf("Searching for Epjitsu scanners via USB")
	sourceFinder := &EpjitsuSourceFinder{cfg: cfg}
	go func() {
		defer tr.Finish()
		for {
			if err := sourceFinder.findDevice(tr, ingesterForDefault); err != nil {
				tr.LazyPrintf("%v", err)
				time.Sleep(1 * time.Second)
			}
		}
	}()
	return sourceFinder
}

// scanAction hooks the scan source up to dispatch.Scan.
type scanAction struct {
	source             *EpjitsuSource
	ingesterForDefault func() *scaningest.Ingester
}

func (a *scanAction) Display() dispatch.Display {
	return dispatch.Display{
		Name:    a.source.name,
		IconURL: "/assets/scannerprinter.svg",
	}
}

func (a *scanAction) Scan(req *epscan.ScanRequest) (string, error) {
	ingester := a.ingesterForDefault()
	if ingester == nil {
		return "", fmt.Errorf("no ingester configured")
	}
	return a.source.ScanTo(ingester, req)
}

type EpjitsuSource struct {
	dev      *lockedScanner
	name     string
	defaults epscan.ScanRequest
}

// implements epscan.ScanSource
func (s *EpjitsuSource) Metadata() epscan.ScanSourceMetadata {
	return epscan.ScanSourceMetadata{
		Id:      "epjitsu!usb",
		Name:    s.name,
		IconURL: "/assets/scannerprinter.svg",
	}
}

// implements epscan.ScanSource
func (s *EpjitsuSource) CanProcess(r *epscan.ScanRequest) error {
	if r.SourceId != "" && r.SourceId != "epjitsu!usb" {
		return fmt.Errorf("requested source id is not epjitsu!usb")
	}
	if r.Source != "" {
		if _, err := epjitsu.ParseSource(r.Source); err != nil {
			return err
		}
	}
	if r.Mode != "" {
		if _, err := epjitsu.ParseMode(r.Mode); err != nil {
			return err
		}
	}
	return nil
}

// request returns r with empty fields set to the defaults.
func (s *EpjitsuSource) request(r *epscan.ScanRequest) *epscan.ScanRequest {
	req := s.defaults
	if r == nil {
		return &req
	}
	if r.Source != "" {
		req.Source = r.Source
	}
	if r.Mode != "" {
		req.Mode = r.Mode
	}
	if r.Resolution != 0 {
		req.Resolution = r.Resolution
	}
	return &req
}

// implements epscan.ScanSource
func (s *EpjitsuSource) ScanTo(ingester *scaningest.Ingester, r *epscan.ScanRequest) (string, error) {
	tr := trace.New("Epjitsu", "ScanTo")
	defer tr.Finish()
	start := time.Now()
	defer func() {
		tr.LazyPrintf("scan done in %v", time.Since(start))
	}()
	mayqtt.Publishf("scanning...")

	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	if s.dev.sc == nil {
		return "", fmt.Errorf("scanner disappeared")
	}
	return scan(context.Background(), tr, ingester, s.dev.sc, s.request(r))
}
