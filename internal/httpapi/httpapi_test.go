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

package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stapelberg/epscan"
	"github.com/stapelberg/epscan/internal/dispatch"
	"github.com/stapelberg/epscan/internal/epjitsu"
	"github.com/stapelberg/epscan/internal/jobqueue"
	"github.com/stapelberg/epscan/internal/page"
	"github.com/stapelberg/epscan/internal/scaningest"
)

type testServer struct {
	*httptest.Server
	queue    *jobqueue.Queue
	requests []*epscan.ScanRequest
	scanErr  error
}

func newTestServer(t *testing.T) *testServer {
	ts := &testServer{
		queue: &jobqueue.Queue{Dir: t.TempDir()},
	}
	mux := ServeMux(&Config{
		Ingester: &scaningest.Ingester{
			IngestCallback: func(j *scaningest.Job) (string, error) {
				job, err := ts.queue.AddJob(j.Pages)
				if err != nil {
					return "", err
				}
				return job.Id(), nil
			},
		},
		Queue: ts.queue,
		Scan: func(req *epscan.ScanRequest) (string, error) {
			ts.requests = append(ts.requests, req)
			if ts.scanErr != nil {
				return "", ts.scanErr
			}
			return "2016-06-01T12:00:00Z", nil
		},
		Status: func(ctx context.Context) (interface{}, error) {
			return epjitsu.HardwareStatus{Hopper: true}, nil
		},
	})
	ts.Server = httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, contentType, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, ts.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, string(b)
}

func TestScan(t *testing.T) {
	ts := newTestServer(t)
	code, body := ts.do(t, "POST", "/scan", "application/json", `{"mode":"lineart","source":"adf-duplex"}`)
	if code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d, want %d (body %q)", code, http.StatusOK, body)
	}
	var reply struct {
		Request string `json:"request"`
		Job     string `json:"job"`
	}
	if err := json.Unmarshal([]byte(body), &reply); err != nil {
		t.Fatal(err)
	}
	if got, want := reply.Job, "2016-06-01T12:00:00Z"; got != want {
		t.Errorf("unexpected job: got %q, want %q", got, want)
	}
	if reply.Request == "" {
		t.Errorf("no request id in reply")
	}
	if got, want := len(ts.requests), 1; got != want {
		t.Fatalf("unexpected number of scans: got %d, want %d", got, want)
	}
	if req := ts.requests[0]; req.Mode != "lineart" || req.Source != "adf-duplex" {
		t.Errorf("unexpected scan request: %+v", req)
	}

	// empty body selects the defaults
	if code, body := ts.do(t, "POST", "/scan", "", ""); code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d (body %q)", code, body)
	}

	if code, _ := ts.do(t, "GET", "/scan", "", ""); code != http.StatusMethodNotAllowed {
		t.Errorf("GET /scan: got %d, want %d", code, http.StatusMethodNotAllowed)
	}
	if code, _ := ts.do(t, "POST", "/scan", "", "{"); code != http.StatusBadRequest {
		t.Errorf("invalid JSON: got %d, want %d", code, http.StatusBadRequest)
	}
}

func TestScanErrors(t *testing.T) {
	ts := newTestServer(t)
	for _, test := range []struct {
		err  error
		want int
	}{
		{dispatch.ErrNoScanner, http.StatusServiceUnavailable},
		{fmt.Errorf("start: %w", epjitsu.ErrBusy), http.StatusConflict},
		{epjitsu.ErrNoDocs, http.StatusConflict},
		{fmt.Errorf("mode: %w", epjitsu.ErrInvalid), http.StatusBadRequest},
		{epjitsu.ErrIO, http.StatusInternalServerError},
	} {
		ts.scanErr = test.err
		if code, _ := ts.do(t, "POST", "/scan", "", ""); code != test.want {
			t.Errorf("scan error %v: got HTTP %d, want %d", test.err, code, test.want)
		}
	}
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t)
	code, body := ts.do(t, "GET", "/status", "", "")
	if code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d, want %d", code, http.StatusOK)
	}
	var status epjitsu.HardwareStatus
	if err := json.Unmarshal([]byte(body), &status); err != nil {
		t.Fatal(err)
	}
	if !status.Hopper {
		t.Errorf("hopper not reported: %s", body)
	}
}

func TestJobs(t *testing.T) {
	ts := newTestServer(t)
	job, err := ts.queue.AddJob([]*page.Any{page.JPEGPageFromBytes([]byte("jpeg"), 300)})
	if err != nil {
		t.Fatal(err)
	}

	code, body := ts.do(t, "GET", "/jobs", "", "")
	if code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d, want %d", code, http.StatusOK)
	}
	var jobs []jobInfo
	if err := json.Unmarshal([]byte(body), &jobs); err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 || jobs[0].Id != job.Id() || jobs[0].State != "InProgress" {
		t.Fatalf("unexpected jobs: %+v", jobs)
	}

	if code, _ := ts.do(t, "GET", "/jobs/"+job.Id()+"/scan.pdf", "", ""); code != http.StatusNotFound {
		t.Errorf("unconverted job: got %d, want %d", code, http.StatusNotFound)
	}
	if err := job.AddDerivedFile("scan.pdf", []byte("%PDF-1.0")); err != nil {
		t.Fatal(err)
	}
	code, body = ts.do(t, "GET", "/jobs/"+job.Id()+"/scan.pdf", "", "")
	if code != http.StatusOK || body != "%PDF-1.0" {
		t.Errorf("scan.pdf: got %d %q, want %d %q", code, body, http.StatusOK, "%PDF-1.0")
	}
	if code, _ := ts.do(t, "GET", "/jobs/"+job.Id()+"/secret", "", ""); code != http.StatusNotFound {
		t.Errorf("unknown file: got %d, want %d", code, http.StatusNotFound)
	}
	if code, _ := ts.do(t, "GET", "/jobs/nonexistent/scan.pdf", "", ""); code != http.StatusNotFound {
		t.Errorf("unknown job: got %d, want %d", code, http.StatusNotFound)
	}
}

func TestIngestJob(t *testing.T) {
	ts := newTestServer(t)
	code, body := ts.do(t, "CREATE", "/ingestjob", "", "")
	if code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d, want %d", code, http.StatusOK)
	}
	var created struct {
		Job string `json:"job"`
	}
	if err := json.Unmarshal([]byte(body), &created); err != nil {
		t.Fatal(err)
	}

	if code, body := ts.do(t, "POST", "/job/"+created.Job+"/addpage?dpi=150", "image/jpeg", "jpeg"); code != http.StatusOK {
		t.Fatalf("addpage: got %d (body %q)", code, body)
	}
	if code, body := ts.do(t, "POST", "/job/"+created.Job+"/addpage", "image/x-portable-bitmap", "P4\n8 1\n\xff"); code != http.StatusOK {
		t.Fatalf("addpage (PBM): got %d (body %q)", code, body)
	}
	code, body = ts.do(t, "POST", "/job/"+created.Job+"/ingest", "", "")
	if code != http.StatusOK {
		t.Fatalf("ingest: got %d (body %q)", code, body)
	}
	var ingested struct {
		Job string `json:"job"`
	}
	if err := json.Unmarshal([]byte(body), &ingested); err != nil {
		t.Fatal(err)
	}
	job, err := ts.queue.JobById(ingested.Job)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := len(job.Pages()), 2; got != want {
		t.Fatalf("unexpected number of pages: got %d, want %d", got, want)
	}
	if got, want := job.Pages()[0].DPI(), 150; got != want {
		t.Errorf("unexpected resolution: got %d, want %d", got, want)
	}

	// the job is gone after ingesting
	if code, _ := ts.do(t, "POST", "/job/"+created.Job+"/ingest", "", ""); code != http.StatusNotFound {
		t.Errorf("second ingest: got %d, want %d", code, http.StatusNotFound)
	}
}
