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

package usb

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// TODO: move UsbdevfsBulkTransfer and USBDEVFS_* constants to x/sys/unix
type usbdevfsBulkTransfer struct {
	Ep        uint32
	Len       uint32
	Timeout   uint32
	Pad_cgo_0 [4]byte
	Data      *byte
}

const (
	uSBDEVFS_BULK             = 0xc0185502
	uSBDEVFS_CLAIMINTERFACE   = 0x8004550f
	uSBDEVFS_RELEASEINTERFACE = 0x80045510
)

const usbDevicesRoot = "/sys/bus/usb/devices"

const (
	// defaultDeviceToHost and defaultHostToDevice are used when the
	// bulk endpoints cannot be read from /sys.
	defaultDeviceToHost = 0x81
	defaultHostToDevice = 0x02

	defaultTimeout = 30 * time.Second
)

// Device represents a USB device.
type Device struct {
	name    string // within usbDevicesRoot
	devName string // within /dev
	product string
	f       *os.File

	in, out uint32 // bulk endpoint addresses

	mu      sync.Mutex
	timeout time.Duration
}

func newDevice(name, product string) (*Device, error) {
	dev := &Device{
		name:    name,
		product: product,
		in:      defaultDeviceToHost,
		out:     defaultHostToDevice,
		timeout: defaultTimeout,
	}

	// read DEVNAME= from uevent to locate the device within /dev
	uevent, err := os.ReadFile(dev.sysPath("uevent"))
	if err != nil {
		return nil, err
	}
	for _, line := range strings.Split(string(uevent), "\n") {
		if strings.HasPrefix(line, "DEVNAME=") {
			dev.devName = strings.TrimPrefix(line, "DEVNAME=")
		}
	}
	if dev.devName == "" {
		return nil, fmt.Errorf("%q unexpectedly did not not contain a DEVNAME= line", dev.sysPath("uevent"))
	}

	dev.findEndpoints()

	dev.f, err = os.OpenFile(filepath.Join("/dev", dev.devName), os.O_RDWR, 0664)
	if err != nil {
		return nil, err
	}

	// XXX: assumes the scanner always uses interface number 0
	var interfaceNumber uint32
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(dev.f.Fd()), uSBDEVFS_CLAIMINTERFACE, uintptr(unsafe.Pointer(&interfaceNumber))); errno != 0 {
		dev.f.Close()
		return nil, errno
	}

	return dev, nil
}

func (u *Device) sysPath(filename string) string {
	return filepath.Join(usbDevicesRoot, u.name, filename)
}

// findEndpoints reads the bulk endpoint addresses of interface 0 from
// /sys, e.g. /sys/bus/usb/devices/1-1:1.0/ep_81/{type,direction}.
func (u *Device) findEndpoints() {
	eps, err := filepath.Glob(filepath.Join(usbDevicesRoot, u.name+":1.0", "ep_*"))
	if err != nil {
		return
	}
	for _, ep := range eps {
		typ, err := os.ReadFile(filepath.Join(ep, "type"))
		if err != nil || strings.TrimSpace(string(typ)) != "Bulk" {
			continue
		}
		addr, err := strconv.ParseUint(strings.TrimPrefix(filepath.Base(ep), "ep_"), 16, 8)
		if err != nil {
			continue
		}
		if addr&0x80 != 0 {
			u.in = uint32(addr)
		} else {
			u.out = uint32(addr)
		}
	}
}

// Product returns a description of the connected scanner.
func (u *Device) Product() string { return u.product }

// SetTimeout sets the timeout for subsequent bulk transfers.
func (u *Device) SetTimeout(d time.Duration) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.timeout = d
}

func (u *Device) bulk(ep uint32, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	u.mu.Lock()
	timeout := u.timeout
	u.mu.Unlock()
	bulk := usbdevfsBulkTransfer{
		Ep:      ep,
		Len:     uint32(len(p)),
		Timeout: uint32(timeout / time.Millisecond),
		Data:    &(p[0]),
	}
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(u.f.Fd()), uSBDEVFS_BULK, uintptr(unsafe.Pointer(&bulk)))
	if errno != 0 {
		return 0, errno
	}
	// the ioctl returns the number of bytes transferred
	return int(r), nil
}

// Read transfers up to len(p) bytes from the device to the host via
// blocking USB bulk transfer. Short transfers are not an error.
func (u *Device) Read(p []byte) (n int, err error) {
	return u.bulk(u.in, p)
}

// Write transfers p from the host to the device via blocking USB bulk
// transfer.
func (u *Device) Write(p []byte) (n int, err error) {
	return u.bulk(u.out, p)
}

// Close releases all resources associated with the Device. The
// Device must not be used after calling Close.
func (u *Device) Close() error {
	// XXX: assumes the scanner always uses interface number 0
	var interfaceNumber uint32
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(u.f.Fd()), uSBDEVFS_RELEASEINTERFACE, uintptr(unsafe.Pointer(&interfaceNumber))); errno != 0 {
		u.f.Close()
		return errno
	}

	return u.f.Close()
}

// FindDevice returns a ready-to-use Device object for the first
// supported scanner, or a non-nil error if none is connected.
func FindDevice() (*Device, error) {
	f, err := os.Open(usbDevicesRoot)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	names, err := f.Readdirnames(-1)
	if err != nil {
		return nil, err
	}

	for _, dev := range names {
		if badName(dev) {
			continue
		}
		idProduct, err := os.ReadFile(filepath.Join(usbDevicesRoot, dev, "idProduct"))
		if err != nil {
			return nil, err
		}
		idVendor, err := os.ReadFile(filepath.Join(usbDevicesRoot, dev, "idVendor"))
		if err != nil {
			return nil, err
		}
		if supported(string(idVendor), string(idProduct)) {
			return newDevice(dev, products[strings.TrimSpace(string(idProduct))])
		}
	}
	return nil, fmt.Errorf("no supported scanner (vendor %q) found", vendor)
}
