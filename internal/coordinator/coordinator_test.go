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

package coordinator

import (
	"net"
	"strings"
	"testing"

	"github.com/wrk-go/wrk/internal/config"
)

func TestBuildHTTPRequestIncludesHostPathAndKeepAlive(t *testing.T) {
	cfg := &config.Config{Host: "example.com", Path: "/foo?x=1"}
	got := string(buildHTTPRequest(cfg))

	if !strings.HasPrefix(got, "GET /foo?x=1 HTTP/1.1\r\n") {
		t.Fatalf("request line wrong: %q", got)
	}
	if !strings.Contains(got, "Host: example.com\r\n") {
		t.Fatalf("missing Host header: %q", got)
	}
	if !strings.Contains(got, "Connection: keep-alive\r\n") {
		t.Fatalf("missing default Connection header: %q", got)
	}
	if !strings.HasSuffix(got, "\r\n\r\n") {
		t.Fatalf("request must end with a blank line: %q", got)
	}
}

func TestBuildHTTPRequestHonorsExplicitHeaders(t *testing.T) {
	cfg := &config.Config{
		Host:    "example.com",
		Path:    "/",
		Headers: []string{"Connection: close", "X-Test: 1"},
	}
	got := string(buildHTTPRequest(cfg))

	if strings.Count(got, "Connection:") != 1 {
		t.Fatalf("an explicit Connection header should not be duplicated: %q", got)
	}
	if !strings.Contains(got, "Connection: close\r\n") {
		t.Fatalf("explicit Connection header dropped: %q", got)
	}
	if !strings.Contains(got, "X-Test: 1\r\n") {
		t.Fatalf("custom header dropped: %q", got)
	}
}

func TestStaticRequestTemplateSkippedWhenDynamic(t *testing.T) {
	cfg := &config.Config{DynamicRequest: true}
	got, err := staticRequestTemplate(cfg, nil)
	if err != nil {
		t.Fatalf("staticRequestTemplate: %v", err)
	}
	if got != nil {
		t.Fatalf("staticRequestTemplate() = %v, want nil when DynamicRequest is set", got)
	}
}

func TestStaticRequestTemplateFallsBackToBuiltinTemplate(t *testing.T) {
	cfg := &config.Config{Host: "example.com", Path: "/"}
	got, err := staticRequestTemplate(cfg, nil)
	if err != nil {
		t.Fatalf("staticRequestTemplate: %v", err)
	}
	if string(got) != string(buildHTTPRequest(cfg)) {
		t.Fatalf("staticRequestTemplate() without a script should match buildHTTPRequest()")
	}
}

func TestResolveLocalBindEmptyReturnsNil(t *testing.T) {
	if got := resolveLocalBind(nil, 0); got != nil {
		t.Fatalf("resolveLocalBind(nil, 0) = %v, want nil", got)
	}
}

func TestResolveLocalBindWrapsAroundByIndex(t *testing.T) {
	addrs := []string{"127.0.0.1", "127.0.0.2"}

	got := resolveLocalBind(addrs, 2) // wraps back to addrs[0]
	want := &net.TCPAddr{IP: net.ParseIP("127.0.0.1")}
	tcp, ok := got.(*net.TCPAddr)
	if !ok || !tcp.IP.Equal(want.IP) {
		t.Fatalf("resolveLocalBind(addrs, 2) = %v, want an address wrapping to %v", got, want)
	}
}

func TestResolveLocalBindInvalidIPReturnsNil(t *testing.T) {
	if got := resolveLocalBind([]string{"not-an-ip"}, 0); got != nil {
		t.Fatalf("resolveLocalBind with an invalid IP = %v, want nil", got)
	}
}
