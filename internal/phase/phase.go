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

// Package phase implements the warmup/normal phase machine of spec §4.4:
// a cross-thread handshake barrier, an independent per-worker timeout, and
// the one-shot calibration callback that resets histograms after a warm-in
// period and arms periodic throughput sampling.
package phase

import (
	"sync/atomic"
	"time"
)

// Phase is a worker's current position in the monotonic WARMUP -> NORMAL
// transition (spec §3 invariant: "Phase transitions are monotonic").
type Phase int

const (
	Warmup Phase = iota
	Normal
)

const (
	// ThreadSyncIntervalMs is how often a warming-up worker polls the
	// shared ready flag (spec §9: "avoid spinning... poll on a 1s timer").
	ThreadSyncIntervalMs = 1000
	// CalibrateDelayMs is the one-shot delay into NORMAL before the
	// calibration callback first fires (spec §4.4: "ten seconds").
	CalibrateDelayMs = 10_000
	// StopCheckIntervalMs is the stop-control polling period (spec §4.5).
	StopCheckIntervalMs = 2000
)

// WarmupTimeout computes the independent per-worker warmup timeout of
// spec §4.4: C * 600000 / 350000 ms, floored at 1000ms.
func WarmupTimeout(connections int) time.Duration {
	ms := float64(connections) * 600000 / 350000
	if ms < 1000 {
		ms = 1000
	}
	return time.Duration(ms) * time.Millisecond
}

// Barrier is the cross-thread "all workers finished handshaking" signal of
// spec §4.4: an atomic ready-counter plus a monotone ready flag. Shared by
// every worker in a run; never reset.
type Barrier struct {
	total int32
	count int32
	ready int32
}

// NewBarrier builds a Barrier for a run of total worker threads.
func NewBarrier(total int) *Barrier {
	return &Barrier{total: int32(total)}
}

// WorkerReady is called once per worker, exactly when all of that worker's
// connections have reached established. When the last of total workers
// reports ready, the shared ready flag is set.
func (b *Barrier) WorkerReady() {
	if atomic.AddInt32(&b.count, 1) >= b.total {
		atomic.StoreInt32(&b.ready, 1)
	}
}

// IsReady reports whether every worker has called WorkerReady.
func (b *Barrier) IsReady() bool {
	return atomic.LoadInt32(&b.ready) == 1
}

// Controller holds one worker's phase state. It is not safe for concurrent
// use by more than one goroutine; each worker owns exactly one.
type Controller struct {
	phase            Phase
	phaseNormalStart int64 // µs; set exactly once

	warmupEnabled  bool
	warmupDeadline int64 // µs; absolute, only meaningful pre-NORMAL

	calibrated bool
}

// New builds a Controller. If warmupEnabled is false the controller starts
// directly in Normal, per spec §4.4 ("Warmup disabled: worker starts
// directly in NORMAL").
func New(warmupEnabled bool, warmupTimeout time.Duration, now int64) *Controller {
	c := &Controller{warmupEnabled: warmupEnabled}
	if warmupEnabled {
		c.phase = Warmup
		c.warmupDeadline = now + warmupTimeout.Microseconds()
	} else {
		c.phase = Normal
		c.phaseNormalStart = now
	}
	return c
}

// Phase reports the controller's current phase.
func (c *Controller) Phase() Phase { return c.phase }

// PhaseNormalStart returns the µs timestamp at which this worker entered
// NORMAL. Valid only once Phase() == Normal.
func (c *Controller) PhaseNormalStart() int64 { return c.phaseNormalStart }

// PollWarmup is called periodically (every ThreadSyncIntervalMs) while in
// Warmup. It returns true exactly once, the call that observes either the
// shared barrier becoming ready or this worker's own independent timeout
// expiring — the caller must then transition to NORMAL.
func (c *Controller) PollWarmup(barrier *Barrier, now int64) bool {
	if c.phase != Warmup {
		return false
	}
	if barrier.IsReady() || now >= c.warmupDeadline {
		return true
	}
	return false
}

// EnterNormal transitions WARMUP -> NORMAL. It is idempotent: calling it
// more than once leaves phaseNormalStart unchanged, preserving the "set
// exactly once" invariant of spec §8.
func (c *Controller) EnterNormal(now int64) {
	if c.phase == Normal {
		return
	}
	c.phase = Normal
	c.phaseNormalStart = now
}

// IsCalibrated reports whether the one-shot calibration callback has
// already succeeded (as opposed to re-arming because the mean was zero).
func (c *Controller) IsCalibrated() bool { return c.calibrated }

// MarkCalibrated records that calibration succeeded, so callers don't
// re-enter the one-shot 10s calibration timer path again.
func (c *Controller) MarkCalibrated() { c.calibrated = true }

// CalibrationResult is what the one-shot calibration callback decides.
type CalibrationResult struct {
	// Rearm is true when the mean latency observed was still zero (spec
	// §4.4 / §9's preserved open question: an idle target never begins
	// rate sampling, since this re-arms at the same 10s delay forever).
	Rearm bool
	// SampleIntervalMs is the periodic sampling period once calibrated:
	// max(2 * p90_ms, 10).
	SampleIntervalMs int64
}

// Calibrate implements the one-shot callback body of spec §4.4. meanUsec
// and p90Usec come from the worker's corrected histogram at the moment the
// CalibrateDelayMs timer fires.
func Calibrate(meanUsec float64, p90Usec int64) CalibrationResult {
	if meanUsec == 0 {
		return CalibrationResult{Rearm: true}
	}
	p90Ms := float64(p90Usec) / 1000.0
	interval := int64(2 * p90Ms)
	if interval < 10 {
		interval = 10
	}
	return CalibrationResult{SampleIntervalMs: interval}
}
