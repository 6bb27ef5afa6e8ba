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

// Package report renders the coordinator's merged Result as the
// human-readable text summary of spec §8: latency percentile table,
// throughput, bytes transferred, and the error taxonomy.
package report

import (
	"fmt"
	"io"

	"github.com/wrk-go/wrk/internal/clock"
	"github.com/wrk-go/wrk/internal/coordinator"
	"github.com/wrk-go/wrk/internal/histogram"
)

// Options controls which optional sections print, matching the -L/-U
// flags of spec §6.
type Options struct {
	PrintLatency  bool // -L: corrected latency distribution
	PrintULatency bool // -U: uncorrected latency distribution
	Connections   int
	Threads       int
}

// Write renders res to w.
func Write(w io.Writer, res coordinator.Result, opt Options) {
	runtime := clock.UsecToDuration(res.RuntimeUsec)
	fmt.Fprintf(w, "Running %s test @ %d connections, %d threads\n", runtime, opt.Connections, opt.Threads)
	fmt.Fprintf(w, "  %d requests in %s, %s read\n", res.Complete, runtime, humanBytes(res.Bytes))

	if opt.PrintLatency {
		writeDistribution(w, "Corrected Latency", histogram.Snapshot(res.Histograms.Corrected))
	}
	if opt.PrintULatency {
		writeDistribution(w, "Uncorrected Latency", histogram.Snapshot(res.Histograms.Uncorrected))
	}

	p := histogram.Snapshot(res.Histograms.Corrected)
	fmt.Fprintf(w, "  Latency   %9s %9s %9s %9s\n", "avg", "stdev", "max", "p90")
	fmt.Fprintf(w, "  %9s %9s %9s %9s\n",
		usec(int64(p.Mean)), usec(int64(p.StdDev)), usec(p.Max), usec(p.P90))

	if res.Errors.Connect+res.Errors.Read+res.Errors.Write+res.Errors.Timeout+res.Errors.Status > 0 {
		fmt.Fprintf(w, "  Socket errors: connect %d, read %d, write %d, timeout %d\n",
			res.Errors.Connect, res.Errors.Read, res.Errors.Write, res.Errors.Timeout)
	}
	if res.Errors.Status > 0 {
		fmt.Fprintf(w, "  Non-2xx/3xx responses: %d\n", res.Errors.Status)
	}

	fmt.Fprintf(w, "Requests/sec: %9.2f\n", res.RequestsPerSec)
	fmt.Fprintf(w, "Transfer/sec: %9s\n", humanBytes(bytesPerSec(res)))
}

func bytesPerSec(res coordinator.Result) int64 {
	secs := float64(res.RuntimeUsec) / 1e6
	if secs <= 0 {
		return 0
	}
	return int64(float64(res.Bytes) / secs)
}

func writeDistribution(w io.Writer, label string, p histogram.Percentiles) {
	fmt.Fprintf(w, "  %s Distribution\n", label)
	fmt.Fprintf(w, "     50%%  %9s\n", usec(p.P50))
	fmt.Fprintf(w, "     75%%  %9s\n", usec(p.P75))
	fmt.Fprintf(w, "     90%%  %9s\n", usec(p.P90))
	fmt.Fprintf(w, "     99%%  %9s\n", usec(p.P99))
	fmt.Fprintf(w, "   99.9%%  %9s\n", usec(p.P999))
	fmt.Fprintf(w, "  99.99%%  %9s\n", usec(p.P9999))
}

func usec(v int64) string {
	return clock.UsecToDuration(v).String()
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
