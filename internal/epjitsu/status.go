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
	"fmt"
	"time"
)

// HardwareStatus holds the sensors of the scanner.
type HardwareStatus struct {
	// Top is set while the top cover (fi-60F, fi-65F) is open.
	Top bool `json:"top"`

	// Hopper is set while paper is in the document hopper.
	Hopper bool `json:"hopper"`

	ADFOpen bool `json:"adf_open"`

	// Sleep is set while the scanner is in power saving mode.
	Sleep bool `json:"sleep"`

	// ScanSw is set while the scan button is pressed.
	ScanSw bool `json:"scan_sw"`
}

func hardwareStatusFromBytes(b []byte) HardwareStatus {
	return HardwareStatus{
		Top:     b[0]&0x80 != 0,
		Hopper:  b[0]&0x40 == 0,
		ADFOpen: b[0]&0x20 != 0,
		Sleep:   b[1]&0x80 != 0,
		ScanSw:  b[1]&0x01 != 0,
	}
}

// hardwareStatusInterval is how long a queried hardware status stays
// valid.
const hardwareStatusInterval = time.Second

// request:
//   00000000  1b 33                                             |.3|
// response:
//   00000000  00 01 00 00                                       |....|
func getHardwareStatus(dev Device) (HardwareStatus, error) {
	in, err := do(dev, &request{
		cmd:   []byte{0x1b, opHardwareStatus},
		inLen: 4,
		short: true,
	})
	if err != nil {
		return HardwareStatus{}, fmt.Errorf("hardware status: %w", err)
	}
	return hardwareStatusFromBytes(in), nil
}

// refreshHardwareStatus queries the scanner unless the last query is
// less than a second old.
func (s *Scanner) refreshHardwareStatus() error {
	now := s.now()
	if !s.hwTime.IsZero() && now.Sub(s.hwTime) < hardwareStatusInterval {
		return nil
	}
	hw, err := getHardwareStatus(s.dev)
	if err != nil {
		return err
	}
	s.hw = hw
	s.hwTime = now
	return nil
}

// HardwareStatus returns the sensor state, queried at most once per
// second.
func (s *Scanner) HardwareStatus(ctx context.Context) (HardwareStatus, error) {
	if err := ctx.Err(); err != nil {
		return HardwareStatus{}, err
	}
	if err := s.refreshHardwareStatus(); err != nil {
		return HardwareStatus{}, err
	}
	return s.hw, nil
}
