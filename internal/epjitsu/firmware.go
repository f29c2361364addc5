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
	"io"
	"os"
)

const (
	// firmwareOffset is the size of the header preceding the firmware
	// image in the files shipped with the Windows driver (e.g.
	// 300_0C00.nal).
	firmwareOffset = 0x100
	firmwareLength = 0x10000

	// statFirmwareLoaded is set in the getStat response once the
	// firmware is running.
	statFirmwareLoaded = 0x10

	// statUSBPower is set in the getStat response of the S300 family
	// when running from USB bus power.
	statUSBPower = 0x01
)

// readFirmware returns the firmware image contained in the file at
// path.
func readFirmware(path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: no firmware file configured", ErrFirmware)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFirmware, err)
	}
	defer f.Close()
	fw := make([]byte, firmwareLength)
	if _, err := io.ReadFull(io.NewSectionReader(f, firmwareOffset, firmwareLength), fw); err != nil {
		return nil, fmt.Errorf("%w: %s: wrong length: %v", ErrFirmware, path, err)
	}
	return fw, nil
}

// loadFirmware uploads the firmware unless the scanner reports it as
// already running.
func loadFirmware(dev Device, path string, logf func(string, ...interface{})) error {
	stat, err := getStat(dev)
	if err != nil {
		return err
	}
	if stat&statFirmwareLoaded != 0 {
		logf("firmware already loaded")
		return nil
	}

	fw, err := readFirmware(path)
	if err != nil {
		return err
	}
	logf("uploading firmware %s", path)

	if err := command(dev, "load firmware", opLoadFirmware); err != nil {
		return err
	}

	// length and data, not acknowledged
	if _, err := do(dev, &request{
		cmd: []byte{0x01, 0x00, 0x01, 0x00},
		out: fw,
	}); err != nil {
		return fmt.Errorf("load firmware: data: %w", err)
	}

	var sum byte
	for _, b := range fw {
		sum += b
	}
	in, err := do(dev, &request{
		cmd:   []byte{sum},
		inLen: 1,
	})
	if err != nil {
		return fmt.Errorf("load firmware: checksum: %w", err)
	}
	if err := ack("load firmware checksum", in); err != nil {
		return err
	}

	if err := command(dev, "reinit", opReinit); err != nil {
		return err
	}
	if err := payload(dev, "reinit", []byte{0x80}); err != nil {
		return err
	}

	stat, err = getStat(dev)
	if err != nil {
		return err
	}
	if stat&statFirmwareLoaded == 0 {
		return fmt.Errorf("%w: not running after upload (status %#02x)", ErrFirmware, stat)
	}
	return nil
}
