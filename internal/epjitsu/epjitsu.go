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

// Package epjitsu is a driver for the Fujitsu scanners built around the
// Epson-made controller: the fi-60F, fi-65F, ScanSnap S300, S1300,
// S1300i and S1100. Terminology has been chosen to be consistent with
// the SANE epjitsu backend’s terminology where appropriate.
//
// All commands are sent via USB bulk transfer. A command consists of
// an escape byte (0x1b) followed by an opcode, which the device
// acknowledges with a single status byte (0x06). Commands which take
// a payload expect it in a separate transfer, again acknowledged with
// a single status byte.
package epjitsu

import (
	"errors"
	"fmt"
	"io"
	"time"
)

const (
	// CommandTimeout bounds each command transfer.
	CommandTimeout = 10 * time.Second

	// DataTimeout bounds each payload and response transfer.
	DataTimeout = 10 * time.Second

	// statusAck is the status byte the device sends to acknowledge a
	// command or payload.
	statusAck = 0x06

	// statusNoPaper is sent in response to an ingest request when the
	// document hopper is empty.
	statusNoPaper = 0x15
)

var (
	// ErrIO represents a failed bulk transfer.
	ErrIO = errors.New("i/o error")

	// ErrProtocol is returned when the device sent an unexpected
	// status byte. See StatusError.
	ErrProtocol = errors.New("protocol error")

	// ErrShortRead represents a short read when transferring
	// data. The bytes which were received are returned alongside.
	ErrShortRead = errors.New("short read")

	// ErrShortWrite represents a short write when transferring data.
	ErrShortWrite = errors.New("short write")

	// ErrNoDocs is returned when no paper is in the document hopper.
	ErrNoDocs = errors.New("no documents")

	// ErrCancelled is returned by Read when no scan is in progress.
	ErrCancelled = errors.New("cancelled")

	// ErrInvalid is returned for option values the scanner does not
	// support, and for buffer layouts which do not fit the data.
	ErrInvalid = errors.New("invalid argument")

	// ErrNoSettings is returned when no settings are known for the
	// requested model, mode, resolution and power source.
	ErrNoSettings = errors.New("no settings for this combination")

	// ErrBusy is returned when changing options during a scan.
	ErrBusy = errors.New("device busy")

	// ErrFirmware is returned when the firmware image cannot be
	// uploaded.
	ErrFirmware = errors.New("firmware")
)

// StatusError is returned when the device responded with a status
// byte other than the acknowledgement.
type StatusError struct {
	Op     string
	Status byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %#02x", e.Op, e.Status)
}

// Is makes errors.Is(err, ErrProtocol) work.
func (e *StatusError) Is(target error) bool {
	return target == ErrProtocol
}

// Device is a pair of USB bulk endpoints. The usb package provides an
// implementation.
type Device interface {
	io.ReadWriter

	// SetTimeout sets the timeout for subsequent transfers.
	SetTimeout(time.Duration)
}

type request struct {
	cmd   []byte
	out   []byte
	inLen int

	// short selects a twentieth of the regular timeouts, for status
	// queries which are expected to be answered immediately.
	short bool
}

// do sends r.cmd and r.out (each if non-empty) and then reads up to
// r.inLen bytes. Nothing is retried. A response which is shorter than
// requested is returned together with an error wrapping ErrShortRead.
func do(dev Device, r *request) ([]byte, error) {
	cmdTimeout, dataTimeout := CommandTimeout, DataTimeout
	if r.short {
		cmdTimeout /= 20
		dataTimeout /= 20
	}

	if len(r.cmd) > 0 {
		dev.SetTimeout(cmdTimeout)
		if err := write(dev, r.cmd); err != nil {
			return nil, err
		}
	}

	if len(r.out) > 0 {
		dev.SetTimeout(dataTimeout)
		if err := write(dev, r.out); err != nil {
			return nil, err
		}
	}

	if r.inLen == 0 {
		return nil, nil
	}

	dev.SetTimeout(dataTimeout)
	in := make([]byte, r.inLen)
	n, err := dev.Read(in)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: read: %v", ErrIO, err)
	}
	in = in[:n]
	if n < r.inLen {
		return in, fmt.Errorf("%w: got %d bytes, want %d", ErrShortRead, n, r.inLen)
	}
	return in, nil
}

func write(dev Device, b []byte) error {
	n, err := dev.Write(b)
	if err != nil {
		return fmt.Errorf("%w: write: %v", ErrIO, err)
	}
	if n != len(b) {
		return fmt.Errorf("%w: wrote %d of %d bytes", ErrShortWrite, n, len(b))
	}
	return nil
}

// ack verifies that in consists of the acknowledgement status byte.
func ack(op string, in []byte) error {
	if len(in) != 1 {
		return fmt.Errorf("%s: %w: got %d status bytes", op, ErrProtocol, len(in))
	}
	if in[0] != statusAck {
		return &StatusError{Op: op, Status: in[0]}
	}
	return nil
}

// command sends a two byte command and expects it to be acknowledged.
func command(dev Device, op string, opcode byte) error {
	in, err := do(dev, &request{
		cmd:   []byte{0x1b, opcode},
		inLen: 1,
	})
	if err != nil {
		return fmt.Errorf("%s: %v: %w", op, hexOp(opcode), err)
	}
	return ack(op, in)
}

// payload sends the payload of a previously acknowledged command and
// expects it to be acknowledged.
func payload(dev Device, op string, out []byte) error {
	in, err := do(dev, &request{
		out:   out,
		inLen: 1,
	})
	if err != nil {
		return fmt.Errorf("%s: payload: %w", op, err)
	}
	return ack(op+" payload", in)
}

func hexOp(opcode byte) string {
	return fmt.Sprintf("1b %02x", opcode)
}
