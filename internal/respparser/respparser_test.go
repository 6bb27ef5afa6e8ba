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

package respparser

import "testing"

func TestExecuteSingleResponse(t *testing.T) {
	var gotStatus int
	var gotKeepAlive bool
	var gotBody []byte
	var headers [][2]string

	p := New(Callbacks{
		OnHeaderField: func(field string) { headers = append(headers, [2]string{field, ""}) },
		OnHeaderValue: func(value string) { headers[len(headers)-1][1] = value },
		OnBodyChunk:   func(chunk []byte) { gotBody = append(gotBody, chunk...) },
		OnMessageComplete: func(status int, keepAlive bool) {
			gotStatus = status
			gotKeepAlive = keepAlive
		},
	})

	resp := "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello"
	consumed, err := p.Execute([]byte(resp))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if consumed != len(resp) {
		t.Fatalf("consumed = %d, want %d", consumed, len(resp))
	}
	if gotStatus != 200 {
		t.Fatalf("status = %d, want 200", gotStatus)
	}
	if !gotKeepAlive {
		t.Fatalf("keepAlive = false, want true for HTTP/1.1 without Connection: close")
	}
	if string(gotBody) != "hello" {
		t.Fatalf("body = %q, want %q", gotBody, "hello")
	}
}

func TestExecutePartialResponseAcrossCalls(t *testing.T) {
	var completed bool
	p := New(Callbacks{
		OnMessageComplete: func(status int, keepAlive bool) { completed = true },
	})

	first := "HTTP/1.1 200 OK\r\nContent-Leng"
	if _, err := p.Execute([]byte(first)); err != nil {
		t.Fatalf("Execute(first): %v", err)
	}
	if completed {
		t.Fatalf("response should not be complete after a partial header")
	}

	second := "th: 2\r\n\r\nok"
	if _, err := p.Execute([]byte(second)); err != nil {
		t.Fatalf("Execute(second): %v", err)
	}
	if !completed {
		t.Fatalf("response should be complete once the remaining bytes arrive")
	}
}

func TestExecutePipelinedResponsesInOneCall(t *testing.T) {
	var statuses []int
	p := New(Callbacks{
		OnMessageComplete: func(status int, keepAlive bool) { statuses = append(statuses, status) },
	})

	both := "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok" +
		"HTTP/1.1 404 Not Found\r\nContent-Length: 0\r\n\r\n"
	if _, err := p.Execute([]byte(both)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(statuses) != 2 || statuses[0] != 200 || statuses[1] != 404 {
		t.Fatalf("statuses = %v, want [200 404]", statuses)
	}
}

func TestExecuteConnectionCloseReportsNoKeepAlive(t *testing.T) {
	var keepAlive bool
	p := New(Callbacks{
		OnMessageComplete: func(status int, ka bool) { keepAlive = ka },
	})

	resp := "HTTP/1.1 200 OK\r\nContent-Length: 0\r\nConnection: close\r\n\r\n"
	if _, err := p.Execute([]byte(resp)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if keepAlive {
		t.Fatalf("keepAlive = true, want false when the server sent Connection: close")
	}
}
