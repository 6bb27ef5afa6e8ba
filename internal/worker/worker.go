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

// Package worker implements spec §2.9/§3's Worker: one per thread, owning
// C/T connections, two histograms, and the error counters and phase state
// those connections feed.
//
// spec §5 describes a single-threaded-per-worker reactor that therefore
// needs no internal locking. Go's blocking net.Conn makes a literal port
// of that reactor impractical without hand-rolled epoll, so each
// connection here runs in its own goroutine (spec.md §9's re-architecture
// notes sanction this substitution). The one piece of worker state every
// connection goroutine touches — the shared histogram pair and the
// aggregate counters — is therefore guarded by a mutex, the same
// granularity spec §5 already uses for the process-wide aggregate
// throughput stats. Everything else (pacer, parser, pending count) is
// connection-local and never crosses a goroutine boundary.
package worker

import (
	"crypto/tls"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/paulbellamy/ratecounter"

	"github.com/wrk-go/wrk/internal/clock"
	"github.com/wrk-go/wrk/internal/config"
	"github.com/wrk-go/wrk/internal/conn"
	"github.com/wrk-go/wrk/internal/histogram"
	"github.com/wrk-go/wrk/internal/phase"
	"github.com/wrk-go/wrk/internal/script"
)

// ErrorCounts is the error taxonomy of spec §7.
type ErrorCounts struct {
	Connect, Read, Write, Timeout, Status, Established, Reconnect int64
}

// Stats is the shared, process-wide aggregate-throughput sample stream of
// spec §5's "aggregate stats with the throughput samples — protected by a
// mutex". It accumulates one req/sec sample per worker per calibrated
// sampling interval.
type Stats struct {
	mu      sync.Mutex
	counter *ratecounter.RateCounter
}

// NewStats builds a Stats over a 30s trailing window, generous enough that
// a single calibrated sampling interval never ages out before the next one
// lands.
func NewStats() *Stats {
	return &Stats{counter: ratecounter.NewRateCounter(30 * time.Second)}
}

// RecordSample folds one worker's per-interval (requests, elapsed) pair in,
// as spec §4.4 describes: "records (requests * 1000 / elapsed_ms)".
func (s *Stats) RecordSample(requests int64, elapsedMs int64) {
	if elapsedMs <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter.Incr(requests * 1000 / elapsedMs)
}

// RatePerSec reports the current trailing throughput sample.
func (s *Stats) RatePerSec() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return float64(s.counter.Rate())
}

// Worker owns one thread's connections, histograms, and counters.
type Worker struct {
	ID int

	cfg           *config.Config
	addr          string // resolved host:port
	tlsConf       *tls.Config
	reqTemplate   []byte
	localBindAddr net.Addr

	barrier  *phase.Barrier
	stats    *Stats
	stopFlag *int32 // process-wide atomic stop flag, shared across workers

	// script is this worker's own Starlark thread, loaded independently
	// from every other worker's (spec §3: "Workers do not share a
	// Context: each owns its own Starlark thread"). scriptMu guards it
	// since this worker's own connection goroutines call into it
	// concurrently (Request/Response), and a single starlark.Thread is
	// not safe for concurrent use even within one worker.
	script   *script.Context
	scriptMu sync.Mutex

	throughput float64 // req/µs per connection on this worker
	rng        *rand.Rand

	barrierOnce      sync.Once
	establishedConns int

	mu               sync.Mutex
	phaseCtl         *phase.Controller
	histograms       *histogram.Pair
	complete         int64
	requestsInWindow int64
	bytes            int64
	errs             ErrorCounts
	windowStartUsec  int64
	stopAtUsec       int64

	normalCh   chan struct{}
	normalOnce sync.Once

	connections []*conn.Connection
}

var _ conn.Owner = (*Worker)(nil)

// New builds a Worker. connections is how many connections this worker
// owns (C/T); throughput is the per-connection request rate in req/µs.
// scriptPath, if non-empty, is loaded into a Context this worker owns
// exclusively — never shared with any other worker's Context (spec §3).
func New(id int, cfg *config.Config, addr string, tlsConf *tls.Config, throughput float64, connections int, barrier *phase.Barrier, stats *Stats, stopFlag *int32, stopAtUsec int64, scriptPath string, localBind net.Addr, reqTemplate []byte, wantResp bool) *Worker {
	now := clock.NowUsec()
	w := &Worker{
		ID:              id,
		cfg:             cfg,
		addr:            addr,
		tlsConf:         tlsConf,
		reqTemplate:     reqTemplate,
		localBindAddr:   localBind,
		barrier:         barrier,
		stats:           stats,
		stopFlag:        stopFlag,
		throughput:      throughput,
		rng:             rand.New(rand.NewSource(time.Now().UnixNano() + int64(id))),
		phaseCtl:        phase.New(cfg.Warmup, warmupTimeoutOrDefault(cfg), now),
		histograms:      histogram.New(),
		windowStartUsec: now,
		stopAtUsec:      stopAtUsec,
		normalCh:        make(chan struct{}),
	}
	if scriptPath != "" {
		ctx, err := script.Load(scriptPath)
		if err != nil {
			fmt.Printf("worker %d: loading script %s: %v\n", id, scriptPath, err)
		} else if err := ctx.Init(id, nil); err != nil {
			fmt.Printf("worker %d: init(%d, []) hook: %v\n", id, id, err)
		} else {
			w.script = ctx
		}
	}
	w.connections = make([]*conn.Connection, connections)
	for i := range w.connections {
		w.connections[i] = conn.New(i, w, throughput, wantResp)
	}
	return w
}

func warmupTimeoutOrDefault(cfg *config.Config) time.Duration {
	if cfg.WarmupTimeout > 0 {
		return cfg.WarmupTimeout
	}
	return phase.WarmupTimeout(cfg.Connections)
}

// Run starts every connection goroutine and drives this worker's own
// timers (warmup-barrier poll, calibration, periodic sampling, and the
// stop-check of spec §4.5) until the run is stopped, then joins all
// connections before returning.
func (w *Worker) Run() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	for _, c := range w.connections {
		wg.Add(1)
		go func(c *conn.Connection) {
			defer wg.Done()
			c.Run(done)
		}(c)
	}

	if !w.cfg.Warmup {
		w.enterNormal(clock.NowUsec())
	}

	syncTicker := time.NewTicker(phase.ThreadSyncIntervalMs * time.Millisecond)
	stopTicker := time.NewTicker(phase.StopCheckIntervalMs * time.Millisecond)
	calibrateTimer := time.NewTimer(phase.CalibrateDelayMs * time.Millisecond)
	var sampleTicker *time.Ticker
	defer func() {
		syncTicker.Stop()
		stopTicker.Stop()
		calibrateTimer.Stop()
		if sampleTicker != nil {
			sampleTicker.Stop()
		}
	}()

	var sampleCh <-chan time.Time

	for {
		select {
		case <-syncTicker.C:
			if w.phaseCtl.Phase() == phase.Warmup && w.phaseCtl.PollWarmup(w.barrier, clock.NowUsec()) {
				w.enterNormal(clock.NowUsec())
			}
		case <-calibrateTimer.C:
			mean := w.histogramsMeanUsec()
			p90 := w.histogramsP90Usec()
			result := phase.Calibrate(mean, p90)
			if result.Rearm {
				calibrateTimer.Reset(phase.CalibrateDelayMs * time.Millisecond)
				continue
			}
			w.phaseCtl.MarkCalibrated()
			w.resetWindow()
			sampleTicker = time.NewTicker(time.Duration(result.SampleIntervalMs) * time.Millisecond)
			sampleCh = sampleTicker.C
		case <-sampleCh:
			w.sample()
		case <-stopTicker.C:
			if loadStopFlag(w.stopFlag) || (w.stopAtUsec != 0 && clock.NowUsec() >= w.stopAtUsec) || w.scriptDone() {
				w.RequestStop()
				close(done)
				wg.Wait()
				return
			}
		}

		if loadStopFlag(w.stopFlag) {
			select {
			case <-done:
			default:
				close(done)
			}
			wg.Wait()
			return
		}
	}
}

func (w *Worker) histogramsMeanUsec() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.histograms.MeanUsec()
}

func (w *Worker) histogramsP90Usec() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.histograms.P90Usec()
}

func (w *Worker) resetWindow() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.histograms.Reset()
	w.windowStartUsec = clock.NowUsec()
	w.requestsInWindow = 0
}

func (w *Worker) sample() {
	w.mu.Lock()
	now := clock.NowUsec()
	elapsedMs := (now - w.windowStartUsec) / 1000
	requests := w.requestsInWindow
	w.windowStartUsec = now
	w.requestsInWindow = 0
	w.mu.Unlock()

	w.stats.RecordSample(requests, elapsedMs)
}

// scriptDone reports whether this worker's script has asked to end the
// run early via has_done() (spec §6). A nil script, or a script that
// doesn't define the hook, never ends the run this way.
func (w *Worker) scriptDone() bool {
	if w.script == nil {
		return false
	}
	w.scriptMu.Lock()
	defer w.scriptMu.Unlock()
	done, err := w.script.HasDone()
	if err != nil {
		fmt.Printf("worker %d: has_done() hook: %v\n", w.ID, err)
		return false
	}
	return done
}

func (w *Worker) enterNormal(now int64) {
	w.phaseCtl.EnterNormal(now)
	w.normalOnce.Do(func() { close(w.normalCh) })
}

// --- conn.Owner interface ---

// NormalCh returns a channel closed exactly once, when this worker
// transitions to NORMAL — connections select on it instead of polling.
func (w *Worker) NormalCh() <-chan struct{} { return w.normalCh }

// WorkerReady is called by a Connection the first time it establishes.
// Once every connection this worker owns has reported in, it forwards
// exactly one WorkerReady() to the shared barrier (spec §4.4: "When all
// connections on a worker have entered established, that worker publishes
// a per-worker-ready signal"); later reconnects never call this again,
// and even if they did, barrierOnce keeps the barrier's "once per worker"
// contract intact.
func (w *Worker) WorkerReady() {
	w.mu.Lock()
	w.establishedConns++
	ready := w.establishedConns >= len(w.connections)
	w.mu.Unlock()
	if ready {
		w.barrierOnce.Do(func() { w.barrier.WorkerReady() })
	}
}

// Response delivers a completed response to this worker's script, when
// one is configured; a nil script is a no-op so non-scripted runs never
// pay for the wantResp bookkeeping upstream.
func (w *Worker) Response(status int, headers [][2]string, body []byte) error {
	if w.script == nil {
		return nil
	}
	w.scriptMu.Lock()
	defer w.scriptMu.Unlock()
	return w.script.Response(status, headers, body)
}

// RecordComplete folds one completed response into the worker's shared
// aggregates: totals, histograms, and the per-interval request count the
// calibration/sampling timer consumes.
func (w *Worker) RecordComplete(correctedUsec, uncorrectedUsec int64, respBytes int64, status int, recordLatency bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.complete++
	w.requestsInWindow++
	w.bytes += respBytes
	if status > 399 {
		w.errs.Status++
	}
	if recordLatency {
		if correctedUsec >= 0 {
			_ = w.histograms.RecordCorrected(correctedUsec)
		}
		if uncorrectedUsec >= 0 {
			_ = w.histograms.RecordUncorrected(uncorrectedUsec)
		}
	}
}

func (w *Worker) IncrConnectError() { w.incr(ErrConnect) }
func (w *Worker) IncrReadError()    { w.incr(ErrRead) }
func (w *Worker) IncrWriteError()   { w.incr(ErrWrite) }
func (w *Worker) IncrEstablished()  { w.incr(ErrEstablished) }
func (w *Worker) IncrReconnect()    { w.incr(ErrReconnect) }

// ErrorKind enumerates spec §7's error taxonomy for incr.
type ErrorKind int

const (
	ErrConnect ErrorKind = iota
	ErrRead
	ErrWrite
	ErrTimeout
	ErrEstablished
	ErrReconnect
)

func (w *Worker) incr(kind ErrorKind) {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch kind {
	case ErrConnect:
		w.errs.Connect++
	case ErrRead:
		w.errs.Read++
	case ErrWrite:
		w.errs.Write++
	case ErrTimeout:
		w.errs.Timeout++
	case ErrEstablished:
		w.errs.Established++
	case ErrReconnect:
		w.errs.Reconnect++
	}
}

func (w *Worker) StopRequested() bool { return loadStopFlag(w.stopFlag) }

// RequestStop sets the shared stop flag (spec §4.5/§5: "write-once
// transition 0->1").
func (w *Worker) RequestStop() { storeStopFlag(w.stopFlag) }

func (w *Worker) StopAtUsec() int64 { return w.stopAtUsec }

func (w *Worker) RecordAllResponses() bool { return w.cfg.RecordAllResponses }

func (w *Worker) DynamicRequest() bool { return w.cfg.DynamicRequest }

func (w *Worker) NextRequest() ([]byte, error) {
	if w.script == nil {
		return w.reqTemplate, nil
	}
	w.scriptMu.Lock()
	defer w.scriptMu.Unlock()
	return w.script.Request()
}

func (w *Worker) PipelineDepth() int {
	if w.cfg.Pipeline < 1 {
		return 1
	}
	return w.cfg.Pipeline
}

func (w *Worker) DialAddr() string { return w.addr }

func (w *Worker) TLSConfig() *tls.Config { return w.tlsConf }

func (w *Worker) LocalBindAddr() net.Addr { return w.localBindAddr }

func (w *Worker) StaticRequest() []byte { return w.reqTemplate }

func (w *Worker) Timeout() time.Duration { return w.cfg.Timeout }

// Snapshot is the read-only view of a worker's state the coordinator merges
// after join.
type Snapshot struct {
	Histograms       *histogram.Pair
	Complete         int64
	Bytes            int64
	Errors           ErrorCounts
	PhaseNormalStart int64
}

// Snapshot returns a point-in-time copy of this worker's aggregates. Safe
// to call only after the worker's Run has returned (post-join), matching
// the coordinator's "aggregates after join" ordering (spec §5).
func (w *Worker) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Snapshot{
		Histograms:       w.histograms,
		Complete:         w.complete,
		Bytes:            w.bytes,
		Errors:           w.errs,
		PhaseNormalStart: w.phaseCtl.PhaseNormalStart(),
	}
}
