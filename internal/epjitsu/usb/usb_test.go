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

import "testing"

func TestBadName(t *testing.T) {
	for _, test := range []struct {
		name string
		bad  bool
	}{
		{"", true},
		{"usb1", true},
		{"1-0:1.0", true},
		{"1-1", false},
		{"2-1.4", false},
	} {
		if got := badName(test.name); got != test.bad {
			t.Errorf("badName(%q) = %v, want %v", test.name, got, test.bad)
		}
	}
}

func TestSupported(t *testing.T) {
	for _, test := range []struct {
		vendor, product string
		want            bool
	}{
		{"04c5\n", "1156\n", true},
		{"04c5", "1200", true},
		{"04c5", "132b", false}, // ScanSnap iX500
		{"1d6b", "1156", false},
	} {
		if got := supported(test.vendor, test.product); got != test.want {
			t.Errorf("supported(%q, %q) = %v, want %v", test.vendor, test.product, got, test.want)
		}
	}
}
