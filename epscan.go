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

// Package epscan contains domain types for epscan, like scan sources or
// scan requests.
package epscan

import (
	"github.com/stapelberg/epscan/internal/scaningest"
)

// A ScanRequest is received via MQTT, HTTP or the scan button. Empty
// fields select the defaults configured on the command line.
type ScanRequest struct {
	Source     string `json:"source"`
	Mode       string `json:"mode"`
	Resolution int    `json:"resolution"`

	// SourceId selects a specific scanner, e.g. "epjitsu!usb".
	SourceId string `json:"source_id"`
}

type ScanSourceFinder interface {
	CurrentScanSources() []ScanSource
}

// A ScanSource is a specific device, e.g. a ScanSnap S1300i connected
// via USB.
type ScanSource interface {
	Metadata() ScanSourceMetadata

	// CanProcess returns nil if this source can process the specified scan
	// request, or an error describing what prevents the source from
	// processing.
	CanProcess(*ScanRequest) error

	// ScanTo scans all documents in the hopper into a new job of the
	// ingester and returns the job id.
	ScanTo(*scaningest.Ingester, *ScanRequest) (string, error)
}

type ScanSourceMetadata struct {
	Id      string
	Name    string
	IconURL string
}
