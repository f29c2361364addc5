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

import "encoding/binary"

type windowKind byte

const (
	windowCoarseCal windowKind = iota
	windowFineCal
	windowSendCal
	windowScan
)

func (k windowKind) String() string {
	switch k {
	case windowCoarseCal:
		return "coarsecal"
	case windowFineCal:
		return "finecal"
	case windowSendCal:
		return "sendcal"
	}
	return "scan"
}

const (
	setWindowLen = 72

	// offsets within the window descriptor, which follows the 8 byte
	// header
	windowDescOffset   = 8
	windowIDOffset     = windowDescOffset + 0
	windowXResOffset   = windowDescOffset + 2
	windowYResOffset   = windowDescOffset + 4
	windowWidthOffset  = windowDescOffset + 14
	windowLinesOffset  = windowDescOffset + 18
	windowCompOffset   = windowDescOffset + 25
	windowDepthOffset  = windowDescOffset + 26
	windowStrideOffset = windowDescOffset + 28
)

// encodeWindow returns the SET WINDOW payload for the given kind of
// scan. The layout follows the SCSI SET WINDOW parameter list: an 8 byte
// header whose last two bytes carry the descriptor length, followed by
// the window descriptor.
func encodeWindow(kind windowKind, st settings, heads, lines int) []byte {
	b := make([]byte, setWindowLen)
	binary.BigEndian.PutUint16(b[6:], setWindowLen-windowDescOffset)

	width, stride := st.planeWidth, st.lineStride
	if kind != windowScan {
		width, stride = st.calPlaneWidth, st.calLineStride
	}
	depth := byte(8)
	if kind == windowSendCal {
		// offset and gain per pixel component
		depth = 16
		stride *= 2
	}

	b[windowIDOffset] = byte(kind)
	binary.BigEndian.PutUint16(b[windowXResOffset:], uint16(st.xRes))
	binary.BigEndian.PutUint16(b[windowYResOffset:], uint16(st.yRes))
	// upper left x/y (bytes 6-13) stay zero, the scanner always
	// delivers its full width
	binary.BigEndian.PutUint32(b[windowWidthOffset:], uint32(width*heads))
	binary.BigEndian.PutUint32(b[windowLinesOffset:], uint32(lines))
	b[windowCompOffset] = 0x05 // composition: multi-level RGB
	b[windowDepthOffset] = depth
	binary.BigEndian.PutUint32(b[windowStrideOffset:], uint32(stride))
	return b
}

const coarsePayloadLen = 28

// Offsets into the coarse calibration payload. The S300 family uses
// the first offset/gain for the front side and the second for the back
// side, all other models use all three for red, green and blue.
const (
	coarseOffset0 = 5
	coarseOffset1 = 7
	coarseOffset2 = 9
	coarseGain0   = 11
	coarseGain1   = 13
	coarseGain2   = 15
)

// coarsePayload returns the power-on analog front end setup for m.
func coarsePayload(m Model) []byte {
	var pay []byte
	switch m {
	case ModelS300:
		pay = []byte{
			0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x12, 0x00, 0x12, 0x00, 0x12,
			0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x00,
		}
	case ModelS1300i:
		pay = []byte{
			0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x14, 0x00, 0x14, 0x00, 0x14,
			0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x00,
		}
	case ModelS1100:
		pay = []byte{
			0x00, 0x00, 0x00, 0x00, 0x00, 0x1a, 0x00, 0x1a,
			0x00, 0x1a, 0x00, 0x2c, 0x00, 0x2c, 0x00, 0x2c,
			0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x00,
		}
	default: // fi-60F, fi-65F
		pay = []byte{
			0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x1c, 0x00, 0x1c, 0x00, 0x1c,
			0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
			0x00, 0x00, 0x00, 0x00,
		}
	}
	return pay
}

const (
	sendCal1HeaderLen = 14
	sendCal2HeaderLen = 7
)

// sendCalHeaders returns the headers which precede the fine
// calibration table in the c3 and c4 transfers. Both announce the
// table length; the first one also carries the resolution.
func sendCalHeaders(st settings) (h1, h2 []byte) {
	n := uint32(st.calLineStride * 2)

	h1 = make([]byte, sendCal1HeaderLen)
	h1[0] = 0xc3
	binary.BigEndian.PutUint32(h1[2:], n)
	binary.BigEndian.PutUint16(h1[6:], uint16(st.xRes))
	binary.BigEndian.PutUint16(h1[8:], uint16(st.yRes))
	if st.usbPower {
		h1[10] = 0x01
	}

	h2 = make([]byte, sendCal2HeaderLen)
	h2[0] = 0xc4
	binary.BigEndian.PutUint32(h2[2:], n)
	return h1, h2
}
