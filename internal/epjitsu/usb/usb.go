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

// Package usb is a minimal library which uses Linux’s usbdevfs and
// /sys interfaces to communicate with Fujitsu scanners of the Epjitsu
// family (fi-60F, fi-65F, ScanSnap S300, S300M, S1100, S1300, S1300i)
// via USB bulk transfers.
package usb

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// vendor is Fujitsu’s USB vendor ID
const vendor = "04c5"

// products maps the USB product ids of supported scanners to a
// description for log messages.
var products = map[string]string{
	"10c7": "fi-60F",
	"11bd": "fi-65F",
	"1156": "ScanSnap S300",
	"117f": "ScanSnap S300M",
	"11ed": "ScanSnap S1300",
	"128d": "ScanSnap S1300i",
	"1200": "ScanSnap S1100",
}

// supported reports whether the sysfs idVendor and idProduct contents
// belong to a supported scanner.
func supported(idVendor, idProduct string) bool {
	if strings.TrimSpace(idVendor) != vendor {
		return false
	}
	_, ok := products[strings.TrimSpace(idProduct)]
	return ok
}

// badName returns true for names within usbDevicesRoot which do not
// represent a USB device (but a host controller, interface,
// etc.). USB device names consist of digits, dots and dashes,
// starting with a digit.
func badName(name string) bool {
	if name == "" {
		return true
	}

	r, _ := utf8.DecodeRuneInString(name)
	if !unicode.IsDigit(r) {
		return true
	}

	for _, r := range name {
		if r != '.' && r != '-' && !unicode.IsDigit(r) {
			return true
		}
	}

	return false
}
