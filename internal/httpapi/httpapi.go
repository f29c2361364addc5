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

// Package httpapi implements an HTTP API to trigger scans, query the
// scanner and the job queue, and ingest pages scanned elsewhere.
//
// # Example Usage
//
// You can use this API with curl on the command line like so:
//
//	curl -s -X POST -d '{"mode":"lineart","source":"adf-duplex"}' http://localhost:7120/api/scan
//	curl -s http://localhost:7120/api/status
//	curl -s http://localhost:7120/api/jobs
//	curl -s -o scan.pdf http://localhost:7120/api/jobs/$job/scan.pdf
//
//	jobid=$(curl -s -X CREATE http://localhost:7120/api/ingestjob | jq -r .job)
//	curl --request POST --data-binary "@page1.jpg" "http://localhost:7120/api/job/$jobid/addpage?dpi=300"
//	curl --request POST http://localhost:7120/api/job/$jobid/ingest
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/stapelberg/epscan"
	"github.com/stapelberg/epscan/internal/dispatch"
	"github.com/stapelberg/epscan/internal/epjitsu"
	"github.com/stapelberg/epscan/internal/httperr"
	"github.com/stapelberg/epscan/internal/jobqueue"
	"github.com/stapelberg/epscan/internal/page"
	"github.com/stapelberg/epscan/internal/scaningest"
)

// shiftPath from
// https://blog.merovius.de/2017/06/18/how-not-to-use-an-http-router.html:

// shiftPath splits off the first component of p, which will be cleaned of
// relative components before processing. head will never contain a slash and
// tail will always be a rooted path without trailing slash.
func shiftPath(p string) (head, tail string) {
	p = path.Clean("/" + p)
	i := strings.Index(p[1:], "/") + 1
	if i <= 0 {
		return p[1:], "/"
	}
	return p[1:i], p[i:]
}

type Config struct {
	// Ingester receives pages uploaded via /ingestjob.
	Ingester *scaningest.Ingester

	Queue *jobqueue.Queue

	// Scan runs a scan, usually dispatch.Scan.
	Scan func(*epscan.ScanRequest) (jobId string, _ error)

	// Status returns the scanner sensors.
	Status func(context.Context) (interface{}, error)
}

// scanError maps scanner errors to HTTP status codes.
func scanError(err error) error {
	switch {
	case errors.Is(err, dispatch.ErrNoScanner):
		return httperr.Error(http.StatusServiceUnavailable, err)
	case errors.Is(err, epjitsu.ErrBusy), errors.Is(err, epjitsu.ErrNoDocs):
		return httperr.Error(http.StatusConflict, err)
	case errors.Is(err, epjitsu.ErrInvalid), errors.Is(err, epjitsu.ErrNoSettings):
		return httperr.Error(http.StatusBadRequest, err)
	}
	return err
}

func writeJSON(w http.ResponseWriter, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(b)
	return err
}

type jobHandler struct {
	job *scaningest.Job
}

func (h *jobHandler) ServeHTTPError(w http.ResponseWriter, r *http.Request) error {
	var verb string
	verb, r.URL.Path = shiftPath(r.URL.Path)
	switch verb {
	case "addpage":
		if got := r.Method; got != "PUT" && got != "POST" {
			return httperr.Error(
				http.StatusMethodNotAllowed,
				fmt.Errorf("unexpected HTTP method: got %v, want PUT or POST", got))
		}

		b, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}
		if r.Header.Get("Content-Type") == "image/x-portable-bitmap" {
			pg, err := page.DecodePBM(b)
			if err != nil {
				return httperr.Error(http.StatusBadRequest, err)
			}
			return h.job.AddPage(pg)
		}
		dpi := 0
		if v := r.FormValue("dpi"); v != "" {
			dpi, err = strconv.Atoi(v)
			if err != nil {
				return httperr.Error(http.StatusBadRequest, err)
			}
		}
		return h.job.AddPage(page.JPEGPageFromBytes(b, dpi))

	case "ingest":
		jobId, err := h.job.Ingest()
		if err != nil {
			return err
		}
		return writeJSON(w, struct {
			Job string `json:"job"`
		}{jobId})
	}
	return httperr.Error(
		http.StatusNotFound,
		fmt.Errorf("verb %q not found", verb))
}

type jobInfo struct {
	Id        string `json:"id"`
	State     string `json:"state"`
	Converted bool   `json:"converted"`
	Exported  bool   `json:"exported"`
}

func ServeMux(cfg *Config) *http.ServeMux {
	var (
		// TODO: switch to an LRU cache so that we can bound the number of
		// concurrent requests and turn a runaway job request loop into a
		// non-event.
		currentJobsMu sync.Mutex
		currentJobs   = make(map[string]*scaningest.Job)
	)
	getJob := func(jobId string) *scaningest.Job {
		currentJobsMu.Lock()
		defer currentJobsMu.Unlock()
		return currentJobs[jobId]
	}
	serveMux := http.NewServeMux()

	serveMux.Handle("/scan", httperr.Handle(func(w http.ResponseWriter, r *http.Request) error {
		if got, want := r.Method, "POST"; got != want {
			return httperr.Error(
				http.StatusMethodNotAllowed,
				fmt.Errorf("unexpected HTTP method: got %v, want %v", got, want))
		}
		var req epscan.ScanRequest
		b, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}
		if len(b) > 0 {
			if err := json.Unmarshal(b, &req); err != nil {
				return httperr.Error(http.StatusBadRequest, err)
			}
		}
		requestId := uuid.NewString()
		jobId, err := cfg.Scan(&req)
		if err != nil {
			return scanError(fmt.Errorf("scan request %s: %w", requestId, err))
		}
		return writeJSON(w, struct {
			Request string `json:"request"`
			Job     string `json:"job"`
		}{requestId, jobId})
	}))

	serveMux.Handle("/status", httperr.Handle(func(w http.ResponseWriter, r *http.Request) error {
		if cfg.Status == nil {
			return httperr.Error(http.StatusServiceUnavailable, dispatch.ErrNoScanner)
		}
		status, err := cfg.Status(r.Context())
		if err != nil {
			return scanError(err)
		}
		return writeJSON(w, status)
	}))

	serveMux.Handle("/jobs", httperr.Handle(func(w http.ResponseWriter, r *http.Request) error {
		scans, err := cfg.Queue.Scans()
		if err != nil {
			return err
		}
		jobs := make([]jobInfo, 0, len(scans))
		for _, job := range scans {
			jobs = append(jobs, jobInfo{
				Id:        job.Id(),
				State:     job.State().String(),
				Converted: job.Markers.Converted,
				Exported:  job.Markers.Exported,
			})
		}
		sort.Slice(jobs, func(i, j int) bool { return jobs[i].Id < jobs[j].Id })
		return writeJSON(w, jobs)
	}))

	serveMux.Handle("/jobs/", httperr.Handle(func(w http.ResponseWriter, r *http.Request) error {
		jobId, rest := shiftPath(strings.TrimPrefix(r.URL.Path, "/jobs/"))
		job, err := cfg.Queue.JobById(jobId)
		if err != nil {
			return httperr.Error(http.StatusNotFound, fmt.Errorf("job %q not found", jobId))
		}
		var contentType string
		switch rest {
		case "/scan.pdf":
			contentType = "application/pdf"
		case "/thumb.png":
			contentType = "image/png"
		default:
			return httperr.Error(http.StatusNotFound, fmt.Errorf("%q not found", rest))
		}
		b, err := os.ReadFile(job.DerivedFile(path.Base(rest)))
		if err != nil {
			if os.IsNotExist(err) {
				return httperr.Error(http.StatusNotFound, fmt.Errorf("job %q not converted yet", jobId))
			}
			return err
		}
		w.Header().Set("Content-Type", contentType)
		_, err = w.Write(b)
		return err
	}))

	serveMux.Handle("/ingestjob", httperr.Handle(func(w http.ResponseWriter, r *http.Request) error {
		if got, want := r.Method, "CREATE"; got != want {
			return httperr.Error(
				http.StatusMethodNotAllowed,
				fmt.Errorf("unexpected HTTP method: got %v, want %v", got, want))
		}

		job, err := cfg.Ingester.NewJob()
		if err != nil {
			return err
		}

		jobId := uuid.NewString()

		currentJobsMu.Lock()
		defer currentJobsMu.Unlock()
		currentJobs[jobId] = job
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"job":"%s"}`, jobId)
		return nil
	}))

	serveMux.Handle("/job/", httperr.Handle(func(w http.ResponseWriter, r *http.Request) error {
		var jobId string
		jobId, r.URL.Path = shiftPath(strings.TrimPrefix(r.URL.Path, "/job/"))
		job := getJob(jobId)
		if job == nil {
			return httperr.Error(
				http.StatusNotFound,
				fmt.Errorf("job not found"))
		}
		verb, _ := shiftPath(r.URL.Path)
		hdl := jobHandler{job: job}
		if err := hdl.ServeHTTPError(w, r); err != nil {
			return err
		}
		if verb == "ingest" {
			currentJobsMu.Lock()
			delete(currentJobs, jobId)
			currentJobsMu.Unlock()
		}
		return nil
	}))

	return serveMux
}
