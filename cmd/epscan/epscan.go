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

// Program epscan scans documents with a Fujitsu fi-60F, fi-65F, ScanSnap
// S300, S1300, S1300i or S1100 into PDF files in a local directory.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/brutella/dnssd"
	"github.com/stapelberg/epscan"
	"github.com/stapelberg/epscan/internal/convert"
	"github.com/stapelberg/epscan/internal/dispatch"
	"github.com/stapelberg/epscan/internal/httpapi"
	"github.com/stapelberg/epscan/internal/jobqueue"
	"github.com/stapelberg/epscan/internal/mayqtt"
	"github.com/stapelberg/epscan/internal/scaningest"
	"github.com/stapelberg/epscan/internal/sink/filesink"
	"github.com/stapelberg/epscan/internal/source/epjitsu"
	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/net/trace"
	"golang.org/x/sync/errgroup"

	_ "image/jpeg"
	_ "net/http/pprof"
)

type processor struct {
	outputDir       string
	exportOriginals bool
	convertOpts     convert.Options
}

func (p *processor) convert(ctx context.Context, j *jobqueue.Job) error {
	tr, _ := trace.FromContext(ctx)
	pdf, thumb, err := convert.Convert(tr, j.Pages(), p.convertOpts)
	if err != nil {
		return err
	}
	tr.LazyPrintf("Converted. Writing scan.pdf (%d bytes)", len(pdf))
	if err := j.AddDerivedFile("scan.pdf", pdf); err != nil {
		return err
	}
	if err := j.AddDerivedFile("thumb.png", thumb); err != nil {
		return err
	}
	return nil
}

func (p *processor) processScan(ctx context.Context, j *jobqueue.Job) (err error) {
	tr := trace.New("ProcessScan", "job id "+j.Id())
	defer tr.Finish()
	ctx = trace.NewContext(ctx, tr)

	tr.LazyPrintf("Processing job %v (state %v)", j.Id(), j.State())
	defer func() {
		tr.LazyPrintf("-> return err=%v", err)
		if err != nil {
			tr.SetError()
		}
	}()
	tr.LazyPrintf("job markers: %+v", j.Markers)

	if !j.Markers.Converted {
		mayqtt.Publishf("processing %d pages", len(j.Pages()))
		// convert does G3 encoding of lineart pages, PDF writing, and PNG
		// thumbnail creation.
		if err := p.convert(ctx, j); err != nil {
			return err
		}
		if err := j.CommitMarker("convert"); err != nil {
			return err
		}
		tr.LazyPrintf("job markers now: %+v", j.Markers)
	}

	if !j.Markers.Exported {
		mayqtt.Publishf("exporting PDF")
		if p.exportOriginals {
			if err := filesink.ExportOriginals(ctx, filepath.Join(p.outputDir, "originals"), j); err != nil {
				return fmt.Errorf("exporting originals: %v", err)
			}
		}
		if err := filesink.ExportPDF(ctx, p.outputDir, j); err != nil {
			return fmt.Errorf("exporting PDF: %v", err)
		}
		if err := j.CommitMarker("export"); err != nil {
			return err
		}
		tr.LazyPrintf("job markers now: %+v", j.Markers)
	}

	mayqtt.Publishf("scanner ready")

	return nil
}

func dispatchScanRequest(ingester *scaningest.Ingester, finders []epscan.ScanSourceFinder, scanRequest *epscan.ScanRequest) error {
	tr := trace.New("epscan", "DispatchScanRequest")
	defer tr.Finish()

	for _, finder := range finders {
		srcs := finder.CurrentScanSources()
		tr.LazyPrintf("finder discovered %d scan sources", len(srcs))
		for _, src := range srcs {
			if err := src.CanProcess(scanRequest); err != nil {
				tr.LazyPrintf("skipping source: %v", err)
				continue
			}
			tr.LazyPrintf("scanning to source %s", src.Metadata().Id)
			jobId, err := src.ScanTo(ingester, scanRequest)
			if err != nil {
				return fmt.Errorf("scan failed: %v", err)
			}
			tr.LazyPrintf("scan completed: %s", jobId)
			return nil
		}
	}
	return fmt.Errorf("no scan source found")
}

// advertise announces the HTTP API via DNS-SD until ctx is done.
func advertise(ctx context.Context, name string, addr string) error {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return err
	}
	rp, err := dnssd.NewResponder()
	if err != nil {
		return err
	}
	srv, err := dnssd.NewService(dnssd.Config{
		Name: name,
		Type: "_http._tcp",
		Port: port,
	})
	if err != nil {
		return err
	}
	if _, err := rp.Add(srv); err != nil {
		return err
	}
	log.Printf("advertising %q via DNS-SD", name)
	return rp.Respond(ctx)
}

func logic() error {
	scansDir := flag.String("scans_dir",
		"/perm/scans",
		"Directory in which scanned documents are queued for processing. Unfinished jobs are resumed from here.")

	outputDir := flag.String("output_dir",
		"/perm/export",
		"Directory into which finished PDF files (<job id>.pdf) are written")

	exportOriginals := flag.Bool("export_originals",
		false,
		"Whether to also copy the scanned pages into <output_dir>/originals/<job id>/")

	firmwarePath := flag.String("firmware",
		"",
		"Path to the firmware file of the Windows driver, e.g. /perm/300_0C00.nal for the S300. Only needed for scanners which do not keep their firmware.")

	stateDir := flag.String("state_dir",
		"/perm/epscan-state",
		"Directory containing state such as TLS certificates")

	httpListenAddr := flag.String("http_listen_address",
		"localhost:7120",
		"[host]:port to listen on for HTTP requests")

	httpsListenAddr := flag.String("https_listen_address",
		":https",
		"[host]:port to listen on for HTTPS requests. This is a no-op unless -tls_autocert_hosts is non-empty.")

	autocertHostList := flag.String("tls_autocert_hosts",
		"",
		"If non-empty, a comma-separated list of hostnames to obtain TLS certificates for. If non-empty, a TLS listener will be enabled on -https_listen_address")

	mqttBroker := flag.String("mqtt_broker",
		"",
		"If non-empty, an MQTT broker URL (e.g. tcp://dr.lan:1883) to receive scan requests from and publish status to")

	mqttPrefix := flag.String("mqtt_prefix",
		"epscan",
		"Prefix of all MQTT topics")

	mode := flag.String("mode",
		"",
		"Default scan mode (color, gray or lineart). Empty selects the scanner default.")

	resolution := flag.Int("resolution",
		0,
		"Default resolution in dpi. 0 selects the scanner default.")

	source := flag.String("source",
		"",
		"Default source (flatbed, adf-front, adf-back or adf-duplex). Empty selects the scanner default.")

	skipBlank := flag.Bool("skip_blank",
		true,
		"Whether to leave blank pages (e.g. empty back sides) out of the PDF")

	dnssdName := flag.String("dnssd_name",
		"",
		"If non-empty, the HTTP API is advertised via DNS-SD (_http._tcp) under this name")

	flag.Parse()

	log.Printf("epscan starting")

	mqttScanRequests := make(chan *epscan.ScanRequest, 1)
	// makes mayqtt.Publishf() work as a side effect:
	mayqtt.MQTT(mayqtt.Config{
		Broker: *mqttBroker,
		Prefix: *mqttPrefix,
	}, mqttScanRequests)

	queue := &jobqueue.Queue{Dir: *scansDir}
	p := &processor{
		outputDir:       *outputDir,
		exportOriginals: *exportOriginals,
		convertOpts: convert.Options{
			SkipBlank: *skipBlank,
		},
	}

	// We have one sequential job queue runner, as the resources on the
	// Raspberry Pi are constrained enough that multiple concurrent scan jobs
	// are not a great idea.
	workJobs := make(chan *jobqueue.Job)
	eg, ctx := errgroup.WithContext(context.Background())
	eg.Go(func() error {
		for job := range workJobs {
			if err := p.processScan(ctx, job); err != nil {
				log.Printf("job %v failed: %v", job.Id(), err)
			}
		}
		return nil
	})

	ingester := &scaningest.Ingester{
		IngestCallback: func(j *scaningest.Job) (string, error) {
			// Persist the job into the reliable job queue (on persistent
			// storage) and let the queue worker take it from here.

			log.Printf("ingest(%d pages)", len(j.Pages))
			job, err := queue.AddJob(j.Pages)
			if err != nil {
				return "", err
			}
			log.Printf("enqueuing job %v", job.Id())
			go func() {
				workJobs <- job
				log.Printf("job %v enqueued!", job.Id())
			}()
			return job.Id(), nil
		},
	}
	ingesterForDefault := func() *scaningest.Ingester { return ingester }

	var finders []epscan.ScanSourceFinder
	var status func(context.Context) (interface{}, error)
	if runtime.GOOS == "linux" {
		finder := epjitsu.SourceFinder(epjitsu.Config{
			FirmwarePath: *firmwarePath,
			Defaults: epscan.ScanRequest{
				Source:     *source,
				Mode:       *mode,
				Resolution: *resolution,
			},
		}, ingesterForDefault)
		finders = append(finders, finder)
		status = finder.Status
	}

	type serveFunc struct {
		serve    func() error
		shutdown func() error
	}
	var serveFuncs []serveFunc

	if *autocertHostList != "" {
		// Start HTTPS listener with autocert
		var hosts []string
		for _, host := range strings.Split(*autocertHostList, ",") {
			host = strings.TrimSpace(host)
			if host == "" {
				continue
			}
			hosts = append(hosts, host)
		}

		m := &autocert.Manager{
			Cache:      autocert.DirCache(filepath.Join(*stateDir, "autocert")),
			Prompt:     autocert.AcceptTOS,
			HostPolicy: autocert.HostWhitelist(hosts...),
		}
		s := &http.Server{
			Addr:      *httpsListenAddr,
			TLSConfig: m.TLSConfig(),
		}
		for _, host := range hosts {
			log.Printf("listening on https://%s", host)
		}

		ln, err := net.Listen("tcp", s.Addr)
		if err != nil {
			return err
		}
		serveFuncs = append(serveFuncs, serveFunc{
			serve: func() error {
				defer ln.Close()

				return s.ServeTLS(ln, "", "")
			},
			shutdown: func() error {
				timeout, canc := context.WithTimeout(context.Background(), 250*time.Millisecond)
				defer canc()
				return s.Shutdown(timeout)
			},
		})
	}

	// HTTP listener (local network)
	ln, err := net.Listen("tcp", *httpListenAddr)
	if err != nil {
		return err
	}
	addr := ln.Addr().String()
	if host, port, err := net.SplitHostPort(addr); err == nil {
		if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
			addr = "localhost"
			if port != "" {
				addr += ":" + port
			}
		}
	} else if strings.HasPrefix(addr, "[::]") {
		host, _ := os.Hostname()
		if host == "" {
			host = "localhost"
		}
		addr = host + strings.TrimPrefix(addr, "[::]")
	}
	log.Printf("listening on http://%s", addr)
	httpServer := &http.Server{}
	serveFuncs = append(serveFuncs, serveFunc{
		serve: func() error {
			return httpServer.Serve(ln)
		},
		shutdown: func() error {
			timeout, canc := context.WithTimeout(context.Background(), 250*time.Millisecond)
			defer canc()
			return httpServer.Shutdown(timeout)
		},
	})

	if *dnssdName != "" {
		lnAddr := ln.Addr().String()
		eg.Go(func() error {
			if err := advertise(ctx, *dnssdName, lnAddr); err != nil && ctx.Err() == nil {
				log.Printf("DNS-SD: %v", err)
			}
			return nil
		})
	}

	go func() {
		// start after a brief delay to not slow down startup
		time.Sleep(5 * time.Second)
		// Try to resume incomplete jobs:
		for {
			scans, err := queue.Scans()
			if err != nil {
				log.Print(err)
			}
			for _, job := range scans {
				if job.State() != jobqueue.InProgress {
					continue
				}
				log.Printf("enqueuing unfinished job %s", job.Id())
				workJobs <- job
			}
			log.Printf("waiting 1 hour before retrying any unfinished jobs")
			time.Sleep(1 * time.Hour)
		}
	}()

	// Impulse/Trigger: MQTT
	{
		go func() {
			for scanRequest := range mqttScanRequests {
				if err := dispatchScanRequest(ingester, finders, scanRequest); err != nil {
					log.Printf("dispatchScanRequest: %v", err)
					mayqtt.Publishf("scan failed: %v", err)
				}
			}
		}()
	}

	// Impulse/Trigger: HTTP API
	{
		serveMux := httpapi.ServeMux(&httpapi.Config{
			Ingester: ingester,
			Queue:    queue,
			Scan:     dispatch.Scan,
			Status:   status,
		})
		http.Handle("/api/", http.StripPrefix("/api", serveMux))
	}

	// for /debug/requests:
	trace.AuthRequest = func(req *http.Request) (bool, bool) {
		// RemoteAddr is commonly in the form "IP" or "IP:port".
		// If it is in the form "IP:port", split off the port.
		host, _, err := net.SplitHostPort(req.RemoteAddr)
		if err != nil {
			host = req.RemoteAddr
		}
		ip := net.ParseIP(host)
		if ip == nil {
			return false, false
		}
		if ip.IsLoopback() || ip.IsPrivate() {
			return true, true
		}
		return false, false
	}

	for _, sf := range serveFuncs {
		sf := sf // copy
		eg.Go(func() error {
			errC := make(chan error)
			go func() {
				errC <- sf.serve()
			}()
			select {
			case err := <-errC:
				return err
			case <-ctx.Done():
				if err := sf.shutdown(); err != nil {
					log.Printf("shutting down listener: %v", err)
				}
				return ctx.Err()
			}
		})
	}

	return eg.Wait()
}

func main() {
	gokrazyInit()
	if err := logic(); err != nil {
		log.Fatal(err)
	}
}
