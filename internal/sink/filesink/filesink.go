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

// Package filesink implements a sink to write scans to a local directory,
// e.g. one which is shared via Samba or synchronized by another program.
package filesink

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"github.com/stapelberg/epscan/internal/jobqueue"
	"golang.org/x/net/trace"
	"golang.org/x/sync/errgroup"
)

// copyAtomically replaces dest with the contents of src. Readers of dest
// never see a partially written file.
func copyAtomically(dest, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	o, err := renameio.TempFile("", dest)
	if err != nil {
		return err
	}
	defer o.Cleanup()

	if _, err := io.Copy(o, in); err != nil {
		return err
	}

	return o.CloseAtomicallyReplace()
}

// ExportOriginals copies the scanned pages (page*.jpg, page*.pbm) into
// the directory <dir>/<job id>.
func ExportOriginals(ctx context.Context, dir string, j *jobqueue.Job) error {
	tr, _ := trace.FromContext(ctx)

	filenames, err := j.Filenames()
	if err != nil {
		return err
	}
	originals := filepath.Join(dir, j.Id())
	if err := os.MkdirAll(originals, 0755); err != nil {
		return err
	}
	eg, ctx := errgroup.WithContext(ctx)
	for _, filename := range filenames {
		filename := filename // copy
		name := filepath.Base(filename)
		if ext := filepath.Ext(name); ext != ".jpg" && ext != ".pbm" {
			continue
		}

		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := copyAtomically(filepath.Join(originals, name), filename); err != nil {
				return err
			}
			if tr != nil {
				tr.LazyPrintf("Exported %q to %q", name, originals)
			}
			return nil
		})
	}
	return eg.Wait()
}

// ExportPDF writes the converted scan.pdf of the job to <dir>/<job id>.pdf.
func ExportPDF(ctx context.Context, dir string, j *jobqueue.Job) error {
	tr, _ := trace.FromContext(ctx)

	src := j.DerivedFile("scan.pdf")
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("job %s not converted: %v", j.Id(), err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	dest := filepath.Join(dir, j.Id()+".pdf")
	if err := copyAtomically(dest, src); err != nil {
		return err
	}
	if tr != nil {
		tr.LazyPrintf("Exported PDF to %q", dest)
	}
	return nil
}
