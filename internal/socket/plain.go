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

package socket

import (
	"net"
	"time"
)

// pollInterval bounds how long Read/Write block when the caller configured
// no explicit -T/--timeout: without some deadline, a connection stalled
// against an unresponsive peer never surfaces Retry, and the read/write
// loops that check `done` between attempts never get a chance to observe a
// closed-down run (spec §5's cooperative shutdown).
const pollInterval = 500 * time.Millisecond

// Plain is the non-TLS Socket variant: a bare TCP connection. Every
// operation carries a per-call deadline so a blocking net.Conn read/write
// still surfaces as Retry the way a non-blocking EAGAIN/EWOULDBLOCK would;
// the single flag returned always matches the attempted direction, per
// §4.1 ("the plain variant returns RETRY on EAGAIN/EWOULDBLOCK with the
// single flag corresponding to the attempted operation").
type Plain struct {
	Addr      string
	Timeout   time.Duration
	LocalAddr net.Addr
	conn      net.Conn
}

var _ Socket = (*Plain)(nil)

func (p *Plain) Connect() Result {
	dialer := &net.Dialer{Timeout: p.Timeout, LocalAddr: p.LocalAddr}
	conn, err := dialer.Dial("tcp", p.Addr)
	if err != nil {
		if isTimeout(err) {
			return retryResult(false, true)
		}
		return errResult(err)
	}
	p.conn = conn
	return okResult()
}

func (p *Plain) Close() Result {
	if p.conn == nil {
		return okResult()
	}
	err := p.conn.Close()
	p.conn = nil
	if err != nil {
		return errResult(err)
	}
	return okResult()
}

func (p *Plain) Read(buf []byte) (int, Result) {
	deadline := p.Timeout
	if deadline <= 0 {
		deadline = pollInterval
	}
	_ = p.conn.SetReadDeadline(time.Now().Add(deadline))
	n, err := p.conn.Read(buf)
	if err != nil {
		if isTimeout(err) {
			return n, retryResult(true, false)
		}
		return n, errResult(err)
	}
	return n, okResult()
}

func (p *Plain) Write(buf []byte) (int, Result) {
	deadline := p.Timeout
	if deadline <= 0 {
		deadline = pollInterval
	}
	_ = p.conn.SetWriteDeadline(time.Now().Add(deadline))
	n, err := p.conn.Write(buf)
	if err != nil {
		if isTimeout(err) {
			return n, retryResult(false, true)
		}
		return n, errResult(err)
	}
	return n, okResult()
}

// Readable always reports false for Plain: a blocking net.Conn has no
// peek-without-consuming primitive, so the read/parse cycle relies solely
// on short-read detection (§4.3) rather than this hint.
func (p *Plain) Readable() bool { return false }

func isTimeout(err error) bool {
	var ne net.Error
	if ok := asNetError(err, &ne); ok {
		return ne.Timeout()
	}
	return false
}

func asNetError(err error, target *net.Error) bool {
	for err != nil {
		if ne, ok := err.(net.Error); ok {
			*target = ne
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}
