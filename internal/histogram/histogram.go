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

// Package histogram maintains the corrected and uncorrected latency
// histograms a connection's pacer and batch-recording logic feed into, per
// the coordinated-omission model.
package histogram

import (
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	// lowestDiscernibleValue and highestTrackableValue are in microseconds;
	// one microsecond to one hour covers every plausible request latency.
	lowestDiscernibleValue = 1
	highestTrackableValue  = int64(time.Hour / time.Microsecond)
	significantFigures     = 3
)

// Pair holds the two histograms every worker and the coordinator own: the
// corrected (expected-start-based) recorder used for the coordinated
// omission-corrected report, and the uncorrected (actual-start-based)
// recorder used for -u_latency.
type Pair struct {
	Corrected   *hdrhistogram.Histogram
	Uncorrected *hdrhistogram.Histogram
}

// New allocates a fresh, empty pair of histograms.
func New() *Pair {
	return &Pair{
		Corrected:   hdrhistogram.New(lowestDiscernibleValue, highestTrackableValue, significantFigures),
		Uncorrected: hdrhistogram.New(lowestDiscernibleValue, highestTrackableValue, significantFigures),
	}
}

// RecordCorrected records a corrected-latency sample in microseconds. A
// negative value trips the pacing-bug safety net in conn; it is never
// silently clamped here.
func (p *Pair) RecordCorrected(usec int64) error {
	return p.Corrected.RecordValue(usec)
}

// RecordUncorrected records an actual-latency sample in microseconds.
func (p *Pair) RecordUncorrected(usec int64) error {
	return p.Uncorrected.RecordValue(usec)
}

// Reset clears both histograms in place; used by the phase controller's
// calibration callback (§4.4) to discard warm-in samples.
func (p *Pair) Reset() {
	p.Corrected.Reset()
	p.Uncorrected.Reset()
}

// Merge folds other's counts into p. Used by the coordinator to combine
// per-worker histograms into the final report; per §8, the resulting
// percentiles match recording all samples into one histogram, within the
// histogram's significant-figure precision.
func (p *Pair) Merge(other *Pair) {
	p.Corrected.Merge(other.Corrected)
	p.Uncorrected.Merge(other.Uncorrected)
}

// MeanUsec returns the corrected histogram's mean latency in microseconds,
// used by the calibration callback to decide whether the target has ever
// responded (§4.4: "if zero it re-arms").
func (p *Pair) MeanUsec() float64 {
	return p.Corrected.Mean()
}

// P90Usec returns the corrected histogram's 90th-percentile latency in
// microseconds, used to derive the calibrated sampling interval.
func (p *Pair) P90Usec() int64 {
	return p.Corrected.ValueAtQuantile(90)
}

// Percentiles is a small, fixed report shape; see internal/report for the
// human-readable rendering of these values.
type Percentiles struct {
	P50, P75, P90, P99, P999, P9999 int64
	Mean, StdDev                    float64
	Min, Max                        int64
	Count                           int64
}

// Snapshot computes the Percentiles struct for h. All latency values stay in
// the microsecond recording unit; internal/report converts them for display.
func Snapshot(h *hdrhistogram.Histogram) Percentiles {
	return Percentiles{
		P50:    h.ValueAtQuantile(50),
		P75:    h.ValueAtQuantile(75),
		P90:    h.ValueAtQuantile(90),
		P99:    h.ValueAtQuantile(99),
		P999:   h.ValueAtQuantile(99.9),
		P9999:  h.ValueAtQuantile(99.99),
		Mean:   h.Mean(),
		StdDev: h.StdDev(),
		Min:    h.Min(),
		Max:    h.Max(),
		Count:  h.TotalCount(),
	}
}
