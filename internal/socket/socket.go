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

// Package socket defines the five-operation non-blocking I/O contract
// (connect, close, read, write, readable) shared by the plain-TCP and TLS
// connection variants, per spec §4.1 / §9: a tagged variant, not a runtime
// polymorphism chain, with a uniform OK/ERROR/RETRY(want_read, want_write)
// status return. Go's net.Conn is blocking, so callers drive this contract
// with per-call deadlines rather than a readiness-poll reactor; the status
// shape itself is preserved so the TLS path's "a read can demand a write"
// case (handshake re-negotiation) stays representable.
package socket

import "fmt"

// Status is the uniform return of every Socket operation.
type Status int

const (
	// OK means the operation completed in full.
	OK Status = iota
	// Retry means the operation is incomplete; the caller must retry,
	// honoring WantRead/WantWrite.
	Retry
	// Error is unrecoverable; the caller must reconnect.
	Error
)

// Result carries a Status plus, for Retry, which directions the caller must
// wait on before retrying. For TLS, WantRead and WantWrite may not match the
// semantic direction of the call that produced them (e.g. a Write during a
// TLS handshake can return Retry{WantRead: true}); polling both directions
// unconditionally is forbidden by spec §4.1 as it causes CPU spin.
type Result struct {
	Status    Status
	WantRead  bool
	WantWrite bool
	Err       error
}

func okResult() Result { return Result{Status: OK} }

func errResult(err error) Result { return Result{Status: Error, Err: err} }

func retryResult(wantRead, wantWrite bool) Result {
	return Result{Status: Retry, WantRead: wantRead, WantWrite: wantWrite}
}

func (r Result) String() string {
	switch r.Status {
	case OK:
		return "OK"
	case Retry:
		return fmt.Sprintf("RETRY(read=%v,write=%v)", r.WantRead, r.WantWrite)
	default:
		return fmt.Sprintf("ERROR(%v)", r.Err)
	}
}

// Socket is the five-operation interface both the plain and TLS variants
// satisfy. n is the number of bytes actually moved by Read/Write, valid
// regardless of the returned Status (a partial write still advances n).
type Socket interface {
	Connect() Result
	Close() Result
	Read(buf []byte) (n int, res Result)
	Write(buf []byte) (n int, res Result)
	// Readable reports whether the underlying transport currently has
	// buffered application data available without blocking. Both current
	// variants always return false, and the read/parse cycle in package conn
	// does not consult it: it relies on short-read detection instead.
	Readable() bool
}
