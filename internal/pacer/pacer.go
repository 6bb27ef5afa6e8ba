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

// Package pacer implements the per-connection rate controller of spec §4.3:
// an ideal schedule of complete/throughput past thread start, and a 2x
// catch-up schedule once the connection falls behind.
package pacer

// Pacer tracks one connection's pacing state. All times are in microseconds
// on the clock.NowUsec() timeline.
type Pacer struct {
	// Throughput is requests per microsecond: R / T / (C/T).
	Throughput float64
	// CatchUpThroughput is 2x Throughput.
	CatchUpThroughput float64
	// ThreadStart is the microsecond timestamp of the connection's first
	// connect; never reset on reconnect.
	ThreadStart int64

	caughtUp               bool
	catchUpStartTime       int64
	completeAtCatchUpStart int64
}

// New builds a Pacer for a connection issuing at throughput requests/µs,
// first connected at threadStart (µs). It starts in the caught-up state.
func New(throughput float64, threadStart int64) *Pacer {
	return &Pacer{
		Throughput:        throughput,
		CatchUpThroughput: 2 * throughput,
		ThreadStart:       threadStart,
		caughtUp:          true,
	}
}

// CaughtUp reports whether the connection is currently on or ahead of its
// ideal schedule.
func (p *Pacer) CaughtUp() bool { return p.caughtUp }

// UsecToNextSend implements spec §4.3's usec_to_next_send(now): it returns
// 0 when a send is permitted immediately, or the positive microsecond delay
// until the next permitted send.
func (p *Pacer) UsecToNextSend(now int64, complete int64) int64 {
	next := p.ThreadStart + int64(float64(complete)/p.Throughput)
	if next > now {
		p.caughtUp = true
		return next - now
	}

	if p.caughtUp {
		p.caughtUp = false
		p.catchUpStartTime = now
		p.completeAtCatchUpStart = complete
	}

	catchNext := p.catchUpStartTime + int64(float64(complete-p.completeAtCatchUpStart)/p.CatchUpThroughput)
	if catchNext > now {
		return catchNext - now
	}
	return 0
}
