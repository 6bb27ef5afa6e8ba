// Copyright 2014 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package coordinator implements spec §3/§5's Coordinator: it spawns T
// worker threads, each owning C/T connections and R/T of the target rate,
// waits for every worker to finish, and merges their per-worker aggregates
// into one final result.
package coordinator

import (
	"bytes"
	"fmt"
	"net"
	"sync"

	"github.com/wrk-go/wrk/internal/clock"
	"github.com/wrk-go/wrk/internal/config"
	"github.com/wrk-go/wrk/internal/histogram"
	"github.com/wrk-go/wrk/internal/phase"
	"github.com/wrk-go/wrk/internal/script"
	"github.com/wrk-go/wrk/internal/worker"
)

// Result is the merged, whole-run outcome the report package renders.
type Result struct {
	RuntimeUsec      int64
	MeasurementStart int64 // earliest phaseNormalStart across workers, or the run's own start if none warmed up
	Complete         int64
	Bytes            int64
	Errors           worker.ErrorCounts
	Histograms       *histogram.Pair
	RequestsPerSec   float64
}

// Run drives one full load-generation run to completion and returns the
// merged result. scriptCtx, if non-nil, is a probe Context used only for
// the single-threaded control-plane queries (want_response/is_static/
// verify_request) and the end-of-run errors/summary/done hooks — it is
// never handed to a worker. Each worker loads cfg.ScriptPath into its own
// Context instead (spec §3: workers never share a Starlark thread). stop,
// if non-nil, is an externally-closed channel (e.g. on SIGINT) that cuts
// the run short exactly like the configured duration elapsing.
func Run(cfg *config.Config, scriptCtx *script.Context, stop <-chan struct{}) (Result, error) {
	addr := net.JoinHostPort(cfg.Host, cfg.Port)

	wantResp := false
	if scriptCtx != nil {
		w, err := scriptCtx.WantResponse()
		if err != nil {
			return Result{}, fmt.Errorf("want_response(): %w", err)
		}
		wantResp = w
	}

	reqTemplate, err := staticRequestTemplate(cfg, scriptCtx)
	if err != nil {
		return Result{}, err
	}

	threads := cfg.Threads
	if threads < 1 {
		threads = 1
	}
	connsPerThread, connsRemainder := cfg.Connections/threads, cfg.Connections%threads
	throughputPerConn := float64(cfg.Rate) / float64(cfg.Connections) / 1e6 // req/µs

	start := clock.NowUsec()
	stopAt := int64(0)
	if cfg.Duration > 0 {
		stopAt = start + cfg.Duration.Microseconds()
	}

	barrier := phase.NewBarrier(threads)
	stats := worker.NewStats()
	stopFlag := worker.NewStopFlag()

	if stop != nil {
		go func() {
			<-stop
			worker.SetStopFlag(stopFlag)
		}()
	}

	workers := make([]*worker.Worker, threads)
	for i := 0; i < threads; i++ {
		n := connsPerThread
		if i < connsRemainder {
			n++
		}
		if n < 1 {
			n = 1
		}
		localBind := resolveLocalBind(cfg.LocalBindAddrs, i)
		workers[i] = worker.New(i, cfg, addr, cfg.TLSConfig, throughputPerConn, n, barrier, stats, stopFlag, stopAt, cfg.ScriptPath, localBind, reqTemplate, wantResp)
	}

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *worker.Worker) {
			defer wg.Done()
			w.Run()
		}(w)
	}
	wg.Wait()

	runtimeUsec := clock.NowUsec() - start

	res := Result{RuntimeUsec: runtimeUsec, Histograms: histogram.New()}
	measurementStart := int64(0)
	for _, w := range workers {
		snap := w.Snapshot()
		res.Complete += snap.Complete
		res.Bytes += snap.Bytes
		res.Errors.Connect += snap.Errors.Connect
		res.Errors.Read += snap.Errors.Read
		res.Errors.Write += snap.Errors.Write
		res.Errors.Timeout += snap.Errors.Timeout
		res.Errors.Status += snap.Errors.Status
		res.Errors.Established += snap.Errors.Established
		res.Errors.Reconnect += snap.Errors.Reconnect
		res.Histograms.Merge(snap.Histograms)

		if cfg.Warmup && snap.PhaseNormalStart != 0 && (measurementStart == 0 || snap.PhaseNormalStart < measurementStart) {
			measurementStart = snap.PhaseNormalStart
		}
	}
	if measurementStart == 0 {
		measurementStart = start
	}
	res.MeasurementStart = measurementStart
	res.RequestsPerSec = stats.RatePerSec()

	if scriptCtx != nil {
		if err := scriptCtx.Errors(script.ErrorCounts{
			Connect: res.Errors.Connect,
			Read:    res.Errors.Read,
			Write:   res.Errors.Write,
			Timeout: res.Errors.Timeout,
			Status:  res.Errors.Status,
		}); err != nil {
			return res, fmt.Errorf("errors(): %w", err)
		}
		if err := scriptCtx.Summary(runtimeUsec, res.Complete, res.Bytes); err != nil {
			return res, fmt.Errorf("summary(): %w", err)
		}
		p := histogram.Snapshot(res.Histograms.Corrected)
		if err := scriptCtx.Done(
			script.LatencyStats{MinUsec: p.Min, MaxUsec: p.Max, MeanUsec: int64(p.Mean), StdDevUsec: int64(p.StdDev)},
			script.RequestStats{Total: res.Complete, PerSec: res.RequestsPerSec},
		); err != nil {
			return res, fmt.Errorf("done(): %w", err)
		}
	}

	return res, nil
}

// staticRequestTemplate builds the fixed request bytes used when the run
// has no dynamic script request() hook: either the script's own fixed
// request() output (called once, since is_static() held), or a compiled
// HTTP/1.1 GET built from Host/Path/Headers.
func staticRequestTemplate(cfg *config.Config, scriptCtx *script.Context) ([]byte, error) {
	if cfg.DynamicRequest {
		return nil, nil
	}
	if scriptCtx != nil {
		req, err := scriptCtx.Request()
		if err == nil {
			return req, nil
		}
		// No request() hook defined; fall through to the built-in template.
	}
	return buildHTTPRequest(cfg), nil
}

func buildHTTPRequest(cfg *config.Config) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "GET %s HTTP/1.1\r\n", cfg.Path)
	fmt.Fprintf(&buf, "Host: %s\r\n", cfg.Host)
	hasConnection := false
	for _, h := range cfg.Headers {
		buf.WriteString(h)
		buf.WriteString("\r\n")
		if len(h) >= 11 && (h[:11] == "Connection:" || h[:11] == "connection:") {
			hasConnection = true
		}
	}
	if !hasConnection {
		buf.WriteString("Connection: keep-alive\r\n")
	}
	buf.WriteString("\r\n")
	return buf.Bytes()
}

func resolveLocalBind(addrs []string, idx int) net.Addr {
	if len(addrs) == 0 {
		return nil
	}
	ip := net.ParseIP(addrs[idx%len(addrs)])
	if ip == nil {
		return nil
	}
	return &net.TCPAddr{IP: ip}
}
