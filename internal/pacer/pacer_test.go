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

package pacer

import "testing"

// TestUsecToNextSendSmoke matches the worked "Pacer smoke" scenario: a
// throughput of 0.001 req/µs (1000 req/s) starting at µs 0.
func TestUsecToNextSendSmoke(t *testing.T) {
	p := New(0.001, 0)

	if got := p.UsecToNextSend(0, 0); got != 0 {
		t.Fatalf("UsecToNextSend(0, 0) = %d, want 0", got)
	}
	if p.CaughtUp() {
		t.Fatalf("expected behind-schedule state when next send time equals now (next > now is required to be caught up)")
	}

	if got := p.UsecToNextSend(500, 1); got != 500 {
		t.Fatalf("UsecToNextSend(500, 1) = %d, want 500", got)
	}

	if got := p.UsecToNextSend(2000, 1); got != 0 {
		t.Fatalf("UsecToNextSend(2000, 1) = %d, want 0 (behind schedule)", got)
	}
	if p.CaughtUp() {
		t.Fatalf("expected behind-schedule state after a late send")
	}
}

func TestUsecToNextSendCatchUpDoublesThroughput(t *testing.T) {
	p := New(0.001, 0)

	// Fall behind: ideal send time for complete=0 is 0, but now=3000 means
	// we're 3ms late.
	if got := p.UsecToNextSend(3000, 0); got != 0 {
		t.Fatalf("expected immediate send while behind, got %d", got)
	}
	if p.CaughtUp() {
		t.Fatalf("expected not caught up")
	}

	// Catch-up runs at 2x throughput (0.002 req/µs): one completion after
	// falling behind should not yet be permitted to send again for 500us.
	if got := p.UsecToNextSend(3000, 1); got != 500 {
		t.Fatalf("UsecToNextSend(3000, 1) = %d, want 500", got)
	}
}

func TestNewStartsCaughtUp(t *testing.T) {
	p := New(0.01, 1000)
	if !p.CaughtUp() {
		t.Fatalf("a fresh Pacer should start caught up")
	}
	if p.CatchUpThroughput != 0.02 {
		t.Fatalf("CatchUpThroughput = %v, want 2x Throughput", p.CatchUpThroughput)
	}
}
