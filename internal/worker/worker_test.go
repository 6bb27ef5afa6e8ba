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

package worker

import (
	"testing"

	"github.com/wrk-go/wrk/internal/conn"
	"github.com/wrk-go/wrk/internal/phase"
)

func TestStatsRecordSampleAndRate(t *testing.T) {
	s := NewStats()
	s.RecordSample(100, 1000) // 100 requests in 1000ms -> 100/sec
	if got := s.RatePerSec(); got != 100 {
		t.Fatalf("RatePerSec() = %v, want 100", got)
	}
}

func TestStatsRecordSampleIgnoresNonPositiveElapsed(t *testing.T) {
	s := NewStats()
	s.RecordSample(100, 0)
	if got := s.RatePerSec(); got != 0 {
		t.Fatalf("RatePerSec() = %v, want 0 when elapsedMs is non-positive", got)
	}
}

func TestStopFlagWriteOnce(t *testing.T) {
	f := NewStopFlag()
	if loadStopFlag(f) {
		t.Fatalf("a fresh stop flag should not be set")
	}
	storeStopFlag(f)
	if !loadStopFlag(f) {
		t.Fatalf("stop flag should be set after storeStopFlag")
	}
}

func TestErrorCountsIncr(t *testing.T) {
	w := &Worker{stopFlag: NewStopFlag()}
	w.IncrConnectError()
	w.IncrReadError()
	w.IncrWriteError()
	w.IncrEstablished()
	w.IncrReconnect()

	if w.errs.Connect != 1 || w.errs.Read != 1 || w.errs.Write != 1 || w.errs.Established != 1 || w.errs.Reconnect != 1 {
		t.Fatalf("errs = %+v, want each counter at 1", w.errs)
	}
}

func TestWorkerReadyReportsToBarrierOnceAllConnectionsEstablished(t *testing.T) {
	barrier := phase.NewBarrier(2) // this worker plus one other, never reporting in this test
	w := &Worker{
		stopFlag:    NewStopFlag(),
		barrier:     barrier,
		connections: make([]*conn.Connection, 3),
	}

	w.WorkerReady()
	w.WorkerReady()
	if barrier.IsReady() {
		t.Fatalf("barrier should not be ready until all 3 of this worker's connections report in")
	}

	w.WorkerReady()
	if barrier.IsReady() {
		t.Fatalf("barrier should still not be ready: only this one worker (of 2 total) has reported")
	}
	if w.establishedConns != 3 {
		t.Fatalf("establishedConns = %d, want 3", w.establishedConns)
	}
}
