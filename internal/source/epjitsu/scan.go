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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/stapelberg/epscan"
	"github.com/stapelberg/epscan/internal/epjitsu"
	"github.com/stapelberg/epscan/internal/mayqtt"
	"github.com/stapelberg/epscan/internal/page"
	"github.com/stapelberg/epscan/internal/scaningest"
	"github.com/stapelberg/epscan/internal/turbojpeg"
	"golang.org/x/net/trace"
)

const jpegQuality = 75 // like scanimage(1)

func applyOptions(sc scanner, req *epscan.ScanRequest) error {
	if req.Source != "" {
		src, err := epjitsu.ParseSource(req.Source)
		if err != nil {
			return err
		}
		if err := sc.SetSource(src); err != nil {
			return fmt.Errorf("source %v: %w", src, err)
		}
	}
	if req.Mode != "" {
		mode, err := epjitsu.ParseMode(req.Mode)
		if err != nil {
			return err
		}
		if err := sc.SetMode(mode); err != nil {
			return fmt.Errorf("mode %v: %w", mode, err)
		}
	}
	if req.Resolution != 0 {
		if err := sc.SetResolution(req.Resolution); err != nil {
			return fmt.Errorf("resolution %d: %w", req.Resolution, err)
		}
	}
	return nil
}

func scan(ctx context.Context, tr trace.Trace, ingester *scaningest.Ingester, sc scanner, req *epscan.ScanRequest) (_ string, err error) {
	defer func() {
		if err != nil {
			tr.LazyPrintf("error: %v", err)
			tr.SetError()
		}
	}()

	if err := applyOptions(sc, req); err != nil {
		return "", err
	}

	ingestJob, err := ingester.NewJob()
	if err != nil {
		return "", err
	}

	for sides := 0; ; sides++ {
		if err := sc.Start(ctx); err != nil {
			if errors.Is(err, epjitsu.ErrNoDocs) && sides > 0 {
				break // hopper empty
			}
			return "", err
		}
		pg, err := readPage(sc)
		if err != nil {
			sc.Cancel()
			return "", err
		}
		tr.LazyPrintf("side %d done (%d dpi)", sides, pg.DPI())
		mayqtt.Publishf("scanned side %d", sides+1)
		if err := ingestJob.AddPage(pg); err != nil {
			sc.Cancel()
			return "", err
		}
		if sc.Source() == epjitsu.SourceFlatbed {
			sc.Cancel()
			break // one page per job
		}
	}

	return ingestJob.Ingest()
}

// readPage reads the current page side until io.EOF. Lineart stays
// packed, color and gray are JPEG-encoded.
func readPage(sc scanner) (*page.Any, error) {
	params := sc.Parameters()
	if params.BytesPerLine <= 0 {
		return nil, fmt.Errorf("invalid parameters: %+v", params)
	}
	b, err := io.ReadAll(sc)
	if err != nil {
		return nil, err
	}
	// Lines is -1 when the page length is detected while scanning
	lines := len(b) / params.BytesPerLine
	if lines == 0 {
		return nil, fmt.Errorf("empty page")
	}
	b = b[:lines*params.BytesPerLine]

	if params.Depth == 1 {
		return page.LineartPage(&page.Lineart{
			Bits:   b,
			Width:  params.PixelsPerLine,
			Height: lines,
		}, params.XResolution), nil
	}

	channels := 1
	if params.Format == epjitsu.FormatRGB {
		channels = 3
	}
	var buf bytes.Buffer
	if err := turbojpeg.Encode(&buf, jpegQuality, b, params.PixelsPerLine, lines, channels); err != nil {
		return nil, err
	}
	return page.JPEGPageFromBytes(buf.Bytes(), params.XResolution), nil
}
