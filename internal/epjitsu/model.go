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
	"strings"
)

// Model identifies a scanner family. Values are bits so that settings
// can be shared between models.
type Model int

const (
	ModelNone   Model = 1 << iota
	ModelS300         // also S1300
	ModelFI60F
	ModelS1100
	ModelS1300i
	ModelFI65F
)

func (m Model) String() string {
	switch m {
	case ModelS300:
		return "S300"
	case ModelFI60F:
		return "fi-60F"
	case ModelS1100:
		return "S1100"
	case ModelS1300i:
		return "S1300i"
	case ModelFI65F:
		return "fi-65F"
	}
	return fmt.Sprintf("Model(%d)", int(m))
}

// sheetfed returns whether the S300 family data layout applies: one
// read head per side, both sides interleaved in one transfer.
func (m Model) sheetfed() bool {
	return m == ModelS300 || m == ModelS1300i
}

// fi returns whether m is one of the flatbed models.
func (m Model) fi() bool {
	return m == ModelFI60F || m == ModelFI65F
}

// modelFromIdent classifies the model string returned by the
// identify command.
func modelFromIdent(product string) (Model, error) {
	switch {
	case strings.Contains(product, "S1300i"):
		return ModelS1300i, nil
	case strings.Contains(product, "S300"),
		strings.Contains(product, "S1300"):
		return ModelS300, nil
	case strings.Contains(product, "S1100"):
		return ModelS1100, nil
	case strings.Contains(product, "fi-60F"):
		return ModelFI60F, nil
	case strings.Contains(product, "fi-65F"):
		return ModelFI65F, nil
	}
	return ModelNone, fmt.Errorf("%w: unsupported model %q", ErrInvalid, product)
}

// Source selects where paper is scanned from.
type Source int

const (
	SourceFlatbed Source = iota
	SourceADFFront
	SourceADFBack
	SourceADFDuplex
)

var sourceNames = map[Source]string{
	SourceFlatbed:   "flatbed",
	SourceADFFront:  "adf-front",
	SourceADFBack:   "adf-back",
	SourceADFDuplex: "adf-duplex",
}

func (s Source) String() string {
	if name, ok := sourceNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Source(%d)", int(s))
}

// ParseSource is the inverse of Source.String.
func ParseSource(name string) (Source, error) {
	for s, n := range sourceNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown source %q", ErrInvalid, name)
}

// Mode selects the output pixel format.
type Mode int

const (
	ModeColor Mode = iota
	ModeGray
	ModeLineart
)

var modeNames = map[Mode]string{
	ModeColor:   "color",
	ModeGray:    "gray",
	ModeLineart: "lineart",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode is the inverse of Mode.String.
func ParseMode(name string) (Mode, error) {
	for m, n := range modeNames {
		if n == name {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown mode %q", ErrInvalid, name)
}

type side int

const (
	sideFront side = iota
	sideBack
)

func (s side) String() string {
	if s == sideBack {
		return "back"
	}
	return "front"
}

// capabilities describes what a model supports, and the model
// specific defaults applied on Open.
type capabilities struct {
	flatbed bool
	adf     bool
	duplex  bool

	minRes, maxRes int

	// adfPadding is the distance (in 1/1200 inch) the ADF feeds before
	// the top of the page.
	adfPadding int

	whiteFactor [3]float64

	source     Source
	mode       Mode
	resolution int
	pageWidth  int
	pageHeight int
}

func capabilitiesFor(m Model) capabilities {
	switch m {
	case ModelS300, ModelS1300i:
		return capabilities{
			adf:         true,
			duplex:      true,
			minRes:      50,
			maxRes:      600,
			adfPadding:  600,
			whiteFactor: [3]float64{1.0, 0.93, 0.98},
			source:      SourceADFFront,
			mode:        ModeLineart,
			resolution:  300,
			pageWidth:   8.5 * 1200,
			pageHeight:  11.5 * 1200,
		}
	case ModelS1100:
		return capabilities{
			adf:         true,
			minRes:      50,
			maxRes:      600,
			adfPadding:  450,
			whiteFactor: [3]float64{0.95, 1.0, 1.0},
			source:      SourceADFFront,
			mode:        ModeLineart,
			resolution:  300,
			pageWidth:   8.5 * 1200,
			pageHeight:  11.5 * 1200,
		}
	default: // fi-60F, fi-65F
		return capabilities{
			flatbed:     true,
			minRes:      50,
			maxRes:      600,
			whiteFactor: [3]float64{1.0, 0.93, 0.98},
			source:      SourceFlatbed,
			mode:        ModeColor,
			resolution:  300,
			pageWidth:   4.1 * 1200,
			pageHeight:  5.83 * 1200,
		}
	}
}
