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

// Package jobqueue implements a reliable job queue that is persisted to the
// file system.
package jobqueue

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/stapelberg/epscan/internal/page"
)

type Queue struct {
	Dir string

	// now is time.Now, overridden in tests
	now func() time.Time
}

type State int

func (s State) String() string {
	switch s {
	case Canceled:
		return "Canceled"
	case InProgress:
		return "InProgress"
	case Done:
		return "Done"
	default:
		return "<unknown>"
	}
}

const (
	Canceled State = iota
	InProgress
	Done
)

type CompletionMarkers struct {
	Converted bool
	Exported  bool
}

type Job struct {
	id      string
	dir     string
	state   State
	curpage int
	pages   []*page.Any
	Markers CompletionMarkers
}

func (q *Queue) timeNow() time.Time {
	if q.now != nil {
		return q.now()
	}
	return time.Now()
}

// AddJob persists pages as a new job. Color and gray pages are stored
// as page%d.jpg, lineart pages as page%d.pbm.
func (q *Queue) AddJob(pages []*page.Any) (*Job, error) {
	if err := os.MkdirAll(q.Dir, 0755); err != nil {
		return nil, err
	}
	base := q.timeNow().Format(time.RFC3339)
	id := base
	for n := 2; ; n++ {
		err := os.Mkdir(filepath.Join(q.Dir, id), 0755)
		if err == nil {
			break
		}
		if !os.IsExist(err) {
			return nil, err
		}
		// two jobs within the same second
		id = fmt.Sprintf("%s-%d", base, n)
	}
	job := &Job{id: id, dir: filepath.Join(q.Dir, id)}
	for _, page := range pages {
		if err := job.addPage(page); err != nil {
			return nil, err
		}
	}
	if err := job.commit(); err != nil {
		return nil, err
	}

	return job, nil
}

func (q *Queue) Scans() (map[string]*Job, error) {
	entries, err := os.ReadDir(q.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	jobs := make(map[string]*Job)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		job, err := q.JobById(entry.Name())
		if err != nil {
			return nil, err
		}
		jobs[job.Id()] = job
	}
	return jobs, nil
}

// pageNumber returns n for page<n>.jpg and page<n>.pbm, or -1.
func pageNumber(name string) int {
	ext := filepath.Ext(name)
	if ext != ".jpg" && ext != ".pbm" {
		return -1
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "page"), ext))
	if err != nil || !strings.HasPrefix(name, "page") {
		return -1
	}
	return n
}

func (q *Queue) JobById(id string) (*Job, error) {
	if id == "" || id != filepath.Base(id) || id == "." || id == ".." {
		return nil, fmt.Errorf("invalid job id %q", id)
	}
	dir := filepath.Join(q.Dir, id)
	job := &Job{
		id:  id,
		dir: dir,
	}
	if err := job.readStateFromDir(); err != nil {
		return nil, err
	}

	if job.Markers.Exported {
		job.state = Done
	}

	// load pages back into memory if the job is still in progress
	if job.state == InProgress {
		if err := job.loadPages(); err != nil {
			return nil, err
		}
	}
	return job, nil
}

func (j *Job) loadPages() error {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return err
	}
	var numbers []int
	names := make(map[int]string)
	for _, entry := range entries {
		n := pageNumber(entry.Name())
		if n < 0 {
			continue
		}
		numbers = append(numbers, n)
		names[n] = entry.Name()
	}
	// page10 sorts before page2 by name
	sort.Ints(numbers)

	dpi, err := j.readResolution()
	if err != nil {
		return err
	}
	for _, n := range numbers {
		name := names[n]
		b, err := os.ReadFile(filepath.Join(j.dir, name))
		if err != nil {
			return err
		}
		if len(b) == 0 {
			continue
		}
		if filepath.Ext(name) == ".pbm" {
			pg, err := page.DecodePBM(b)
			if err != nil {
				return fmt.Errorf("%s: %v", name, err)
			}
			j.pages = append(j.pages, pg)
			continue
		}
		j.pages = append(j.pages, page.JPEGPageFromBytes(b, dpi))
	}
	j.curpage = len(numbers)
	if len(numbers) > 0 {
		j.curpage = numbers[len(numbers)-1]
	}
	return nil
}

// readResolution returns the resolution of the JPEG pages, which is
// not stored in the JPEG files themselves.
func (j *Job) readResolution() (int, error) {
	b, err := os.ReadFile(filepath.Join(j.dir, "resolution"))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(b)))
}

func (j *Job) readStateFromDir() error {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return err
	}
	j.state = Canceled // zero value
	for _, entry := range entries {
		switch entry.Name() {
		case "COMPLETE.scan":
			j.state = InProgress
		case "COMPLETE.convert":
			j.Markers.Converted = true
		case "COMPLETE.export":
			j.Markers.Exported = true
		}
	}
	return nil
}

func (j *Job) Id() string {
	return j.id
}

func (j *Job) State() State {
	return j.state
}

func (j *Job) Pages() []*page.Any {
	return j.pages
}

func (j *Job) addPage(pg *page.Any) error {
	j.curpage++
	var buf bytes.Buffer
	ext := ".jpg"
	if pg.Lineart() != nil {
		ext = ".pbm"
		if err := page.EncodePBM(&buf, pg); err != nil {
			return err
		}
	} else {
		b, err := pg.JPEGBytes()
		if err != nil {
			return err
		}
		buf.Write(b)
		if err := j.AddDerivedFile("resolution", []byte(strconv.Itoa(pg.DPI()))); err != nil {
			return err
		}
	}
	fn := filepath.Join(j.dir, fmt.Sprintf("page%d%s", j.curpage, ext))
	if err := os.WriteFile(fn, buf.Bytes(), 0600); err != nil {
		return err
	}
	j.pages = append(j.pages, pg)
	return nil
}

func (j *Job) Filenames() ([]string, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, err
	}
	filenames := make([]string, 0, len(entries))
	for _, entry := range entries {
		filenames = append(filenames, filepath.Join(j.dir, entry.Name()))
	}
	return filenames, nil
}

// DerivedFile returns the path of a file added with AddDerivedFile.
func (j *Job) DerivedFile(name string) string {
	return filepath.Join(j.dir, name)
}

func (j *Job) AddDerivedFile(name string, contents []byte) error {
	fn := filepath.Join(j.dir, name)
	if err := os.WriteFile(fn, contents, 0600); err != nil {
		return err
	}
	return nil
}

func (j *Job) CommitMarker(name string) error {
	if err := os.WriteFile(filepath.Join(j.dir, "COMPLETE."+name), nil, 0600); err != nil {
		return err
	}
	return j.readStateFromDir()
}

func (j *Job) commit() error {
	if err := j.CommitMarker("scan"); err != nil {
		return err
	}

	j.state = InProgress
	return nil
}
