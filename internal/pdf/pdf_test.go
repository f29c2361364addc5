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

package pdf

import (
	"bytes"
	"strings"
	"testing"
)

func TestImageDCT(t *testing.T) {
	img := &Image{
		Common: Common{
			ObjectName: "scan0",
			ID:         4,
			Stream:     []byte{0xff, 0xd8, 0xff, 0xd9},
		},
		Width:  1275,
		Height: 1650,
		Filter: DCT,
		Gray:   true,
	}
	var buf bytes.Buffer
	if err := img.Encode(&buf, nil); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"/Width 1275\n",
		"/Height 1650\n",
		"/Filter /DCTDecode\n",
		"/Length 4\n",
		"/BitsPerComponent 8\n",
		"/ColorSpace /DeviceGray\n",
	} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("image object does not contain %q:\n%s", want, buf.String())
		}
	}
	if strings.Contains(buf.String(), "DecodeParms") {
		t.Errorf("DCT image unexpectedly contains CCITT decode parameters")
	}
}

func TestPageMediaBox(t *testing.T) {
	for _, test := range []struct {
		width, height float64
		want          string
	}{
		{0, 0, "/MediaBox [ 0 0 595.28 841.89 ]"},
		{612, 792, "/MediaBox [ 0 0 612.00 792.00 ]"},
	} {
		p := &Page{Parent: "pages", Width: test.width, Height: test.height}
		var buf bytes.Buffer
		if err := p.Encode(&buf, map[string]ObjectID{"pages": 2}); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(buf.String(), test.want) {
			t.Errorf("page object does not contain %q:\n%s", test.want, buf.String())
		}
	}
}

func TestPageSize(t *testing.T) {
	// US letter at 150 dpi
	w, h := PageSize(1275, 1650, 150)
	if w != 612 || h != 792 {
		t.Errorf("PageSize(1275, 1650, 150) = %v, %v, want 612, 792", w, h)
	}
}
