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

// Package config holds the immutable-after-startup configuration of spec
// §3, and the flag/unit parsing that produces it (spec §6).
package config

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config is the fully-resolved, immutable configuration for one run.
type Config struct {
	Scheme string
	Host   string
	Port   string
	Path   string // request-line path+query, derived from URL

	Connections int
	Threads     int
	Duration    time.Duration
	Timeout     time.Duration
	Rate        int // requests/sec, required, >0

	Pipeline int // derived from the script's verify_request(), default 1

	DynamicRequest     bool // a script supplies request() per call
	RecordAllResponses bool // false when -B/--batch_latency set
	Warmup             bool
	WarmupTimeout      time.Duration

	LocalBindAddrs []string

	TLSConfig *tls.Config // non-nil iff Scheme == "https"

	Headers    []string
	ScriptPath string

	PrintLatency  bool // -L
	PrintULatency bool // -U
}

// ParseURL decomposes a target URL string into scheme/host/port/path, per
// spec §3. Scheme defaults are applied (80 for http, 443 for https).
func ParseURL(raw string) (scheme, host, port, path string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", "", "", fmt.Errorf("url.Parse(%q): %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", "", "", "", fmt.Errorf("unsupported scheme %q (only http/https)", u.Scheme)
	}
	host = u.Hostname()
	if host == "" {
		return "", "", "", "", fmt.Errorf("missing host in url %q", raw)
	}
	port = u.Port()
	if port == "" {
		if u.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	path = u.RequestURI()
	if path == "" {
		path = "/"
	}
	return u.Scheme, host, port, path, nil
}

// ParseSIInt parses an integer with an optional k/M/G SI suffix, as spec §6
// requires for numeric CLI args (e.g. "-R 10k" means 10000).
func ParseSIInt(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty numeric argument")
	}
	mult := 1.0
	suffix := s[len(s)-1]
	switch suffix {
	case 'k', 'K':
		mult = 1e3
		s = s[:len(s)-1]
	case 'm', 'M':
		mult = 1e6
		s = s[:len(s)-1]
	case 'g', 'G':
		mult = 1e9
		s = s[:len(s)-1]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %q as a number: %w", s, err)
	}
	return int(v * mult), nil
}

// ParseSIDuration parses a duration with s/m/h suffixes (spec §6); it is a
// thin alias over time.ParseDuration, which already accepts exactly that
// suffix set plus sub-second units.
func ParseSIDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parsing %q as a duration: %w", s, err)
	}
	return d, nil
}
