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

package page

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// EncodePBM writes a lineart page as binary portable bitmap (P4), with
// the resolution in a "# dpi" comment.
func EncodePBM(w io.Writer, p *Any) error {
	l := p.Lineart()
	if l == nil {
		return fmt.Errorf("page is not lineart")
	}
	if _, err := fmt.Fprintf(w, "P4\n# dpi %d\n%d %d\n", p.DPI(), l.Width, l.Height); err != nil {
		return err
	}
	_, err := w.Write(l.Bits[:l.stride()*l.Height])
	return err
}

// DecodePBM reads a binary portable bitmap as written by EncodePBM.
func DecodePBM(b []byte) (*Any, error) {
	r := bufio.NewReader(bytes.NewReader(b))
	dpi := 0
	var fields []string
	for len(fields) < 3 {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, fmt.Errorf("pbm header: %v", err)
		}
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			if v := strings.TrimPrefix(line, "# dpi "); v != line {
				dpi, _ = strconv.Atoi(v)
			}
			continue
		}
		fields = append(fields, strings.Fields(line)...)
	}
	if fields[0] != "P4" {
		return nil, fmt.Errorf("pbm: unsupported magic %q", fields[0])
	}
	width, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, fmt.Errorf("pbm width: %v", err)
	}
	height, err := strconv.Atoi(fields[2])
	if err != nil {
		return nil, fmt.Errorf("pbm height: %v", err)
	}
	l := &Lineart{Width: width, Height: height}
	l.Bits = make([]byte, l.stride()*height)
	if _, err := io.ReadFull(r, l.Bits); err != nil {
		return nil, fmt.Errorf("pbm data: %v", err)
	}
	return LineartPage(l, dpi), nil
}
