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

// Package dispatch offers a registry in which scan actions are resolved. E.g.,
// as soon as an Epjitsu scanner is connected via USB, the default scan
// action is hooked up to it.
package dispatch

import (
	"errors"
	"sync"

	"github.com/stapelberg/epscan"
)

// ErrNoScanner is returned when no scan action is registered.
var ErrNoScanner = errors.New("dispatch failed: no scanner connected")

type Display struct {
	Name    string
	IconURL string
}

type ScanAction interface {
	Display() Display
	Scan(*epscan.ScanRequest) (jobId string, _ error)
}

var (
	actionsMu sync.Mutex
	actions   []ScanAction
)

func Register(a ScanAction) {
	actionsMu.Lock()
	defer actionsMu.Unlock()
	for _, action := range actions {
		if action != a {
			continue
		}
		return // already registered
	}
	actions = append(actions, a)
}

func Unregister(a ScanAction) {
	actionsMu.Lock()
	defer actionsMu.Unlock()
	for idx, action := range actions {
		if action != a {
			continue
		}
		actions = append(actions[:idx], actions[idx+1:]...)
		return
	}
}

func mostRecent() ScanAction {
	actionsMu.Lock()
	defer actionsMu.Unlock()
	if len(actions) == 0 {
		return nil
	}
	return actions[len(actions)-1]
}

// Scan runs the most recently registered scan action. The registry is
// not locked while scanning, so that scanners can (un)register.
func Scan(req *epscan.ScanRequest) (jobId string, _ error) {
	action := mostRecent()
	if action == nil {
		return "", ErrNoScanner
	}
	return action.Scan(req)
}

func DefaultScanTarget() Display {
	action := mostRecent()
	if action == nil {
		return Display{}
	}
	return action.Display()
}
