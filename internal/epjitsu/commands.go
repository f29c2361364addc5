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
	"fmt"
)

const (
	opGetStat        = 0x03
	opLoadFirmware   = 0x06
	opGetIdent       = 0x13
	opReinit         = 0x16
	opHardwareStatus = 0x33
	opBlockStatus    = 0x43
	opSix5           = 0x65
	opSendFineCal1   = 0xc3
	opSendFineCal2   = 0xc4
	opSendLUT        = 0xc5
	opSendCoarseCal  = 0xc6
	opLamp           = 0xd0
	opSetWindow      = 0xd1
	opGetLine        = 0xd2 // also starts a scan on the fi-60F and fi-65F
	opRequestBlock   = 0xd3
	opObjectPosition = 0xd4
	opScan           = 0xd6
)

// getStat returns the first status byte. Bit 0x10 is set once
// firmware is loaded, bit 0x01 is set when running from USB power.
//
// request:
//   00000000  1b 03                                             |..|
// response:
//   00000000  14 00                                             |..|
func getStat(dev Device) (byte, error) {
	in, err := do(dev, &request{
		cmd:   []byte{0x1b, opGetStat},
		inLen: 2,
		short: true,
	})
	if err != nil {
		return 0, fmt.Errorf("get stat: %w", err)
	}
	return in[0], nil
}

// Ident is the identification returned by the scanner.
type Ident struct {
	Vendor  string
	Product string
}

// getIdent returns vendor and product, in the style of a SCSI
// INQUIRY response.
//
// request:
//   00000000  1b 13                                             |..|
// response:
//   00000000  46 55 4a 49 54 53 55 20  53 63 61 6e 53 6e 61 70  |FUJITSU ScanSnap|
//   00000010  20 53 33 30 30 20 20 20  30 30 30 31 ff ff ff ff  | S300   0001....|
func getIdent(dev Device) (Ident, error) {
	in, err := do(dev, &request{
		cmd:   []byte{0x1b, opGetIdent},
		inLen: 0x20,
	})
	if err != nil {
		return Ident{}, fmt.Errorf("get ident: %w", err)
	}
	trim := func(b []byte) string {
		return string(bytes.TrimRight(b, " \xff\x00"))
	}
	return Ident{
		Vendor:  trim(in[0:8]),
		Product: trim(in[8:24]),
	}, nil
}

func lamp(dev Device, on bool) error {
	if err := command(dev, "lamp", opLamp); err != nil {
		return err
	}
	var b byte
	if on {
		b = 1
	}
	return payload(dev, "lamp", []byte{b})
}

func setWindow(dev Device, window []byte) error {
	if err := command(dev, "set window", opSetWindow); err != nil {
		return err
	}
	return payload(dev, "set window", window)
}

func sendCoarseCal(dev Device, pay []byte) error {
	if err := command(dev, "coarse cal", opSendCoarseCal); err != nil {
		return err
	}
	return payload(dev, "coarse cal", pay)
}

func sendFineCal(dev Device, h1, h2, raw []byte) error {
	if err := command(dev, "fine cal 1", opSendFineCal1); err != nil {
		return err
	}
	if err := payload(dev, "fine cal 1", append(append([]byte(nil), h1...), raw...)); err != nil {
		return err
	}
	if err := command(dev, "fine cal 2", opSendFineCal2); err != nil {
		return err
	}
	return payload(dev, "fine cal 2", append(append([]byte(nil), h2...), raw...))
}

const (
	paperEject  = 0
	paperIngest = 1
)

// objectPosition feeds paper in (ingest) or out (eject). Ingest is
// tried up to 5 times. ErrNoDocs is returned when the hopper stayed
// empty.
func objectPosition(dev Device, ingest bool, logf func(string, ...interface{})) error {
	tries := 1
	var pay byte = paperEject
	if ingest {
		tries = 5
		pay = paperIngest
	}

	var last error
	for i := 0; i < tries; i++ {
		in, err := do(dev, &request{
			cmd:   []byte{0x1b, opObjectPosition},
			inLen: 1,
		})
		if err != nil {
			return fmt.Errorf("object position: %w", err)
		}
		if in[0] != statusAck {
			logf("object position: command status %#02x, retrying", in[0])
			last = &StatusError{Op: "object position", Status: in[0]}
			continue
		}

		in, err = do(dev, &request{
			out:   []byte{pay},
			inLen: 1,
		})
		if err != nil {
			return fmt.Errorf("object position: payload: %w", err)
		}
		switch in[0] {
		case statusAck:
			return nil
		case statusNoPaper, 0x00:
			logf("object position: no paper (try %d of %d)", i+1, tries)
			last = ErrNoDocs
			continue
		default:
			return &StatusError{Op: "object position payload", Status: in[0]}
		}
	}
	return last
}

// startScan triggers the scan of a page.
func startScan(dev Device, m Model) error {
	op := byte(opScan)
	if m.fi() {
		op = opGetLine
	}
	return command(dev, "scan", op)
}

// requestBlock asks the S300 family and the S1100 for the next block
// of scan data.
func requestBlock(dev Device) error {
	return command(dev, "request block", opRequestBlock)
}

// blockStatus is sent after each block on the S300 family and the
// S1100. Bytes 6 and 7 hold the number of lines the scanner will
// deliver in total, which shrinks once the end of the paper passed
// the sensor.
func blockStatus(dev Device) ([]byte, error) {
	in, err := do(dev, &request{
		cmd:   []byte{0x1b, opBlockStatus},
		inLen: 10,
	})
	if err != nil {
		return in, fmt.Errorf("block status: %w", err)
	}
	return in, nil
}

// six5 resets the flashing scan button of the S1100.
func six5(dev Device) error {
	return command(dev, "six5", opSix5)
}
