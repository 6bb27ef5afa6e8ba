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

// Package respparser is the external HTTP/1.1 response parser spec.md §2.4
// puts out of scope ("specified by its callback contract... consumed, not
// implemented here"). It is implemented here as a thin byte-stream facade
// over net/http's own response reader so the rest of the tree only depends
// on the callback contract, not on the parsing internals.
package respparser

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net/http"
)

// Callbacks mirrors the joyent-http-parser-style contract spec.md names:
// header field, header value, body chunk, and message complete, plus
// keep-alive inspection on completion.
type Callbacks struct {
	OnHeaderField     func(field string)
	OnHeaderValue     func(value string)
	OnBodyChunk       func(chunk []byte)
	OnMessageComplete func(status int, keepAlive bool)
}

// Parser consumes bytes fed via Execute and invokes Callbacks as complete
// responses are recognized. One Parser instance is owned per connection and
// re-initialized between responses (spec §3, §4.3 step 9).
type Parser struct {
	cb  Callbacks
	buf bytes.Buffer
}

// New builds a Parser bound to cb. The owning connection passes itself
// through closures captured in cb rather than a user-data pointer, which is
// the Go-idiomatic reading of the "stable handle" note in spec §9.
func New(cb Callbacks) *Parser {
	return &Parser{cb: cb}
}

// Reset prepares the parser for the next response on the same connection.
func (p *Parser) Reset() {
	p.buf.Reset()
}

// ErrConsumptionMismatch is returned when the accumulated bytes do not form
// a parseable response after having been told the response is complete;
// per spec §4.3, any such mismatch is an ERROR that triggers a reconnect.
var ErrConsumptionMismatch = errors.New("respparser: consumption mismatch")

// Execute feeds newly-read bytes into the parser. It returns the number of
// bytes consumed toward forming a complete response; callers should not
// discard unconsumed bytes, since they belong to a still-incomplete
// response still buffered inside p. A non-nil error means the accumulated
// bytes could not be parsed as HTTP/1.1 and the connection must reconnect.
func (p *Parser) Execute(data []byte) (consumed int, err error) {
	p.buf.Write(data)
	consumed = len(data)

	for {
		snapshot := p.buf.Bytes()
		if len(snapshot) == 0 {
			return consumed, nil
		}

		if !bytes.Contains(snapshot, []byte("\r\n\r\n")) && !bytes.Contains(snapshot, []byte("\n\n")) {
			// header block not yet terminated; wait for more bytes
			return consumed, nil
		}

		br := bytes.NewReader(snapshot)
		r := bufio.NewReader(br)
		resp, rerr := http.ReadResponse(r, nil)
		if rerr != nil {
			if errors.Is(rerr, io.ErrUnexpectedEOF) || errors.Is(rerr, io.EOF) || errors.Is(rerr, bufio.ErrBufferFull) {
				// not enough bytes yet for a full response
				return consumed, nil
			}
			return consumed, ErrConsumptionMismatch
		}

		body, berr := io.ReadAll(resp.Body)
		if berr != nil {
			if errors.Is(berr, io.ErrUnexpectedEOF) {
				// body not fully received yet
				return consumed, nil
			}
			return consumed, ErrConsumptionMismatch
		}
		_ = resp.Body.Close()

		used := len(snapshot) - br.Len() - r.Buffered()
		if used <= 0 || used > len(snapshot) {
			return consumed, ErrConsumptionMismatch
		}

		p.emit(resp, body)

		remaining := snapshot[used:]
		p.buf.Reset()
		p.buf.Write(remaining)

		if len(remaining) == 0 {
			return consumed, nil
		}
		// pipelined responses may already be fully buffered; keep draining
	}
}

func (p *Parser) emit(resp *http.Response, body []byte) {
	if p.cb.OnHeaderField != nil || p.cb.OnHeaderValue != nil {
		for field, values := range resp.Header {
			for _, value := range values {
				if p.cb.OnHeaderField != nil {
					p.cb.OnHeaderField(field)
				}
				if p.cb.OnHeaderValue != nil {
					p.cb.OnHeaderValue(value)
				}
			}
		}
	}
	if p.cb.OnBodyChunk != nil && len(body) > 0 {
		p.cb.OnBodyChunk(body)
	}
	if p.cb.OnMessageComplete != nil {
		p.cb.OnMessageComplete(resp.StatusCode, !resp.Close)
	}
}
