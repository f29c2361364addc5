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

package convert

import (
	"fmt"
	"io"
	"time"

	"github.com/stapelberg/epscan/internal/pdf"
)

type pdfImage struct {
	stream        []byte
	width, height int
	dpi           int
	filter        pdf.Filter
	gray          bool
}

// now is time.Now, overridden in tests
var now = time.Now

func writePDF(w io.Writer, images []*pdfImage) error {
	var kids []pdf.Object
	for cnt, img := range images {
		width, height := pdf.PageSize(img.width, img.height, img.dpi)
		scanName := fmt.Sprintf("scan%d", cnt)
		kids = append(kids, &pdf.Page{
			Common: pdf.Common{ObjectName: fmt.Sprintf("page%d", cnt)},
			Resources: []pdf.Object{
				&pdf.Image{
					Common: pdf.Common{
						ObjectName: scanName,
						Stream:     img.stream,
					},
					Width:  img.width,
					Height: img.height,
					Filter: img.filter,
					Gray:   img.gray,
				},
			},
			Parent: "pages",
			Contents: []pdf.Object{
				&pdf.Common{
					ObjectName: fmt.Sprintf("content%d", cnt),
					Stream:     []byte(fmt.Sprintf("q %.2f 0 0 %.2f 0.00 0.00 cm /%s Do Q\n", width, height, scanName)),
				},
			},
			Width:  width,
			Height: height,
		})
	}

	doc := &pdf.Catalog{
		Common: pdf.Common{ObjectName: "catalog"},
		Pages: &pdf.Pages{
			Common: pdf.Common{ObjectName: "pages"},
			Kids:   kids,
		},
	}
	info := &pdf.DocumentInfo{
		Common:       pdf.Common{ObjectName: "info"},
		CreationDate: now(),
		Producer:     "https://github.com/stapelberg/epscan",
	}
	pdfEnc := pdf.NewEncoder(w)
	return pdfEnc.Encode(doc, info)
}
