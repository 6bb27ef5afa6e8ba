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

// Package conn implements the per-connection state machine of spec §4.3:
// pacing, batch write/pipeline cycle, read/parse cycle, and reconnect. Each
// Connection runs in its own goroutine (see package worker's doc comment
// for why); all pacing and parsing state below is touched only by that one
// goroutine, so none of it needs synchronization.
package conn

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/http2"

	"github.com/wrk-go/wrk/internal/clock"
	"github.com/wrk-go/wrk/internal/pacer"
	"github.com/wrk-go/wrk/internal/respparser"
	"github.com/wrk-go/wrk/internal/socket"
)

const recvBufSize = 8192

// headerState mirrors spec §3's FIELD/VALUE parse-state field; kept as a
// bookkeeping aid for pairing the respparser's field/value callbacks into
// the headers buffer the script response hook receives.
type headerState int

const (
	stateField headerState = iota
	stateValue
)

// Owner is the subset of worker.Worker a Connection needs. Kept as an
// interface so conn does not import worker (which imports conn's sibling
// packages only, never conn itself) and to keep the "parser carries a
// stable handle back to the connection" note of spec §9 expressible
// without a raw pointer dance: the connection resolves its owner through
// this narrow interface instead.
type Owner interface {
	NormalCh() <-chan struct{}
	WorkerReady()
	RecordComplete(correctedUsec, uncorrectedUsec int64, respBytes int64, status int, recordLatency bool)
	IncrConnectError()
	IncrReadError()
	IncrWriteError()
	IncrEstablished()
	IncrReconnect()
	StopRequested() bool
	RequestStop()
	StopAtUsec() int64
	RecordAllResponses() bool
	DynamicRequest() bool
	NextRequest() ([]byte, error)
	PipelineDepth() int
	DialAddr() string
	TLSConfig() *tls.Config
	LocalBindAddr() net.Addr
	StaticRequest() []byte
	Timeout() time.Duration
	// Response calls the script's response(status, headers_buf, body_buf)
	// hook of spec §4.3 read-cycle step 3. Only called when the connection
	// was built with wantResp; a nil script is a no-op.
	Response(status int, headers [][2]string, body []byte) error
}

// Connection is one pipelined, persistent HTTP/1.1 connection.
type Connection struct {
	idx   int
	owner Owner
	sock  socket.Socket
	pace  *pacer.Pacer
	p     *respparser.Parser

	reqBuf        []byte // shared static template, or per-request dynamic bytes
	pipelineDepth int
	written       int

	pending    int64
	hasPending bool

	threadStart              int64 // µs; set once, never reset on reconnect
	complete                 int64 // this connection's own completion count, fed to the pacer
	actualLatencyStart        int64
	completeAtLastBatchStart  int64

	connected     bool
	needReconnect bool

	headers   [][2]string
	body      []byte
	lastField string
	state     headerState
	wantResp  bool

	latestShouldSendTime int64
	latestExpectedStart  int64
	latestConnect        int64
	latestWrite          int64
}

// New builds a connection bound to owner, with per-connection throughput
// (requests/µs) already computed by the caller (spec §3: R/T/(C/T)).
func New(idx int, owner Owner, throughput float64, wantResp bool) *Connection {
	c := &Connection{
		idx:           idx,
		owner:         owner,
		pipelineDepth: owner.PipelineDepth(),
		wantResp:      wantResp,
	}
	c.pace = pacer.New(throughput, 0)
	c.p = respparser.New(respparser.Callbacks{
		OnHeaderField:     c.onHeaderField,
		OnHeaderValue:     c.onHeaderValue,
		OnBodyChunk:       c.onBodyChunk,
		OnMessageComplete: c.onMessageComplete,
	})
	return c
}

func (c *Connection) newSocket() socket.Socket {
	tlsCfg := c.owner.TLSConfig()
	timeout := c.owner.Timeout()
	if tlsCfg != nil {
		return &socket.TLS{Addr: c.owner.DialAddr(), Config: tlsCfg, Timeout: timeout, LocalAddr: c.owner.LocalBindAddr()}
	}
	return &socket.Plain{Addr: c.owner.DialAddr(), Timeout: timeout, LocalAddr: c.owner.LocalBindAddr()}
}

// Run drives the connection until the owner's stop flag or deadline fires,
// or done is closed. It never returns an error: all I/O errors
// are handled internally by reconnecting, per spec §4.3's reconnect
// behavior ("the reactor continues").
func (c *Connection) Run(done <-chan struct{}) {
	for {
		if c.owner.StopRequested() {
			return
		}
		if !c.connected {
			if !c.connect(done) {
				return
			}
		}

		select {
		case <-done:
			return
		case <-c.owner.NormalCh():
		}

		if c.owner.StopRequested() {
			return
		}

		if !c.batchCycle(done) {
			c.reconnect()
		}

		if c.owner.StopRequested() {
			return
		}
	}
}

// connectRetryBackoff bounds how fast a worker re-attempts a connection
// that keeps failing outright (e.g. connection refused), so a persistently
// broken target doesn't turn into a tight CPU-spinning retry loop.
const connectRetryBackoff = 20 * time.Millisecond

func (c *Connection) connect(done <-chan struct{}) bool {
	c.sock = c.newSocket()
	for {
		select {
		case <-done:
			return false
		default:
		}

		res := c.sock.Connect()
		switch res.Status {
		case socket.OK:
			if tlsSock, ok := c.sock.(*socket.TLS); ok && tlsSock.ConnectionState().NegotiatedProtocol == http2.NextProtoTLS {
				// The target negotiated h2 over ALPN; this engine only ever
				// speaks HTTP/1.1 on the wire, so treat it like any other
				// connect failure rather than silently misparsing frames.
				_ = c.sock.Close()
				c.owner.IncrConnectError()
				c.sock = c.newSocket()
				select {
				case <-done:
					return false
				case <-time.After(connectRetryBackoff):
				}
				continue
			}
			c.connected = true
			firstConnect := c.threadStart == 0
			if firstConnect {
				c.threadStart = clock.NowUsec()
				c.pace.ThreadStart = c.threadStart
			}
			c.latestConnect = clock.NowUsec()
			c.owner.IncrEstablished()
			if firstConnect {
				// WorkerReady reports this connection's first establish only;
				// a reconnect later in the run must never re-trip the
				// cross-thread warmup barrier (spec §4.4).
				c.owner.WorkerReady()
			}
			return true
		case socket.Retry:
			continue
		default:
			c.owner.IncrConnectError()
			c.sock = c.newSocket()
			select {
			case <-done:
				return false
			case <-time.After(connectRetryBackoff):
			}
		}
	}
}

// batchCycle runs one pacer-gated write of pipelineDepth requests followed
// by reading all of their responses, per spec §4.3. It returns false if an
// unrecoverable I/O error, or a "Connection: close" response, requires a
// reconnect.
func (c *Connection) batchCycle(done <-chan struct{}) bool {
	if err := c.writeBatch(done); err != nil {
		return false
	}
	if !c.readBatch(done) {
		return false
	}
	return !c.needReconnect
}

func (c *Connection) writeBatch(done <-chan struct{}) error {
	if c.written == 0 {
		now := clock.NowUsec()
		delay := c.pace.UsecToNextSend(now, c.complete)
		if delay > 0 {
			c.latestShouldSendTime = now + delay
			select {
			case <-done:
				return fmt.Errorf("stopped")
			case <-time.After(clock.UsecToDuration(delay)):
			}
		}

		now = clock.NowUsec()
		c.latestWrite = now

		if c.owner.DynamicRequest() {
			req, err := c.owner.NextRequest()
			if err != nil {
				return err
			}
			c.reqBuf = req
		} else if c.reqBuf == nil {
			c.reqBuf = c.owner.StaticRequest()
		}

		if !c.hasPending {
			c.actualLatencyStart = now
			c.completeAtLastBatchStart = c.complete
			c.hasPending = true
		}
		c.pending = int64(c.pipelineDepth)
	}

	full := repeat(c.reqBuf, c.pipelineDepth)
	for c.written < len(full) {
		select {
		case <-done:
			return fmt.Errorf("stopped")
		default:
		}
		n, res := c.sock.Write(full[c.written:])
		c.written += n
		switch res.Status {
		case socket.OK:
		case socket.Retry:
			continue
		default:
			c.owner.IncrWriteError()
			return res.Err
		}
	}
	c.written = 0
	return nil
}

func repeat(req []byte, depth int) []byte {
	if depth <= 1 {
		return req
	}
	out := make([]byte, 0, len(req)*depth)
	for i := 0; i < depth; i++ {
		out = append(out, req...)
	}
	return out
}

func (c *Connection) readBatch(done <-chan struct{}) bool {
	var buf [recvBufSize]byte
	for c.pending > 0 {
		select {
		case <-done:
			return true
		default:
		}
		n, res := c.sock.Read(buf[:])
		if n > 0 {
			if _, err := c.p.Execute(buf[:n]); err != nil {
				c.owner.IncrReadError()
				return false
			}
		}
		switch res.Status {
		case socket.OK:
			if n < recvBufSize {
				// short read: no more buffered bytes to drain this turn
				if c.pending == 0 {
					return true
				}
			}
		case socket.Retry:
			continue
		default:
			c.owner.IncrReadError()
			return false
		}
	}
	return true
}

func (c *Connection) reconnect() {
	_ = c.sock.Close()
	c.connected = false
	c.written = 0
	c.pending = 0
	c.hasPending = false
	c.needReconnect = false
	c.p.Reset()
	c.owner.IncrReconnect()
}

func (c *Connection) onHeaderField(field string) {
	c.lastField = field
	c.state = stateField
}

func (c *Connection) onHeaderValue(value string) {
	c.state = stateValue
	c.headers = append(c.headers, [2]string{c.lastField, value})
}

func (c *Connection) onBodyChunk(chunk []byte) {
	c.body = append(c.body, chunk...)
}

func (c *Connection) onMessageComplete(status int, keepAlive bool) {
	now := clock.NowUsec()

	c.complete++

	expectedStart := c.threadStart + int64(float64(c.completeAtLastBatchStart)/c.pace.Throughput)
	c.latestExpectedStart = expectedStart
	corrected := now - expectedStart
	actual := now - c.actualLatencyStart

	if corrected < 0 {
		// Safety net of spec §7: never fatal, always surfaced with enough
		// pacing state to diagnose how the schedule went negative.
		fmt.Printf("BUG: negative corrected latency %dus on connection %d: thread_start=%d complete=%d caught_up=%v latest_should_send=%d latest_expected_start=%d latest_connect=%d latest_write=%d uncorrected=%dus\n",
			corrected, c.idx, c.threadStart, c.complete, c.pace.CaughtUp(),
			c.latestShouldSendTime, c.latestExpectedStart, c.latestConnect, c.latestWrite, actual)
	}

	c.pending--
	recordNow := c.owner.RecordAllResponses() || c.pending == 0
	bodyLen := int64(len(c.body))
	c.owner.RecordComplete(corrected, actual, bodyLen, status, recordNow)

	if c.wantResp {
		if err := c.owner.Response(status, c.headers, c.body); err != nil {
			fmt.Printf("response() hook error on connection %d: %v\n", c.idx, err)
		}
	}

	if c.pending == 0 {
		c.hasPending = false
	}

	if c.owner.StopAtUsec() != 0 && now >= c.owner.StopAtUsec() {
		c.owner.RequestStop()
	}

	c.headers = c.headers[:0]
	c.body = c.body[:0]

	if !keepAlive {
		c.needReconnect = true
	}
}
