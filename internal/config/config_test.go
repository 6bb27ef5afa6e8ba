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

package config

import (
	"testing"
	"time"
)

func TestParseURLDefaults(t *testing.T) {
	tests := []struct {
		url    string
		scheme string
		host   string
		port   string
		path   string
	}{
		{"http://example.com/foo", "http", "example.com", "80", "/foo"},
		{"https://example.com", "https", "example.com", "443", "/"},
		{"http://example.com:8080/a/b?c=d", "http", "example.com", "8080", "/a/b?c=d"},
	}
	for _, tt := range tests {
		scheme, host, port, path, err := ParseURL(tt.url)
		if err != nil {
			t.Fatalf("ParseURL(%q): %v", tt.url, err)
		}
		if scheme != tt.scheme || host != tt.host || port != tt.port || path != tt.path {
			t.Fatalf("ParseURL(%q) = (%q, %q, %q, %q), want (%q, %q, %q, %q)",
				tt.url, scheme, host, port, path, tt.scheme, tt.host, tt.port, tt.path)
		}
	}
}

func TestParseURLRejectsUnsupportedScheme(t *testing.T) {
	if _, _, _, _, err := ParseURL("ftp://example.com"); err == nil {
		t.Fatalf("expected an error for an ftp:// url")
	}
}

func TestParseSIInt(t *testing.T) {
	tests := map[string]int{
		"10":   10,
		"10k":  10000,
		"10K":  10000,
		"2M":   2000000,
		"1g":   1000000000,
		"1.5k": 1500,
	}
	for input, want := range tests {
		got, err := ParseSIInt(input)
		if err != nil {
			t.Fatalf("ParseSIInt(%q): %v", input, err)
		}
		if got != want {
			t.Fatalf("ParseSIInt(%q) = %d, want %d", input, got, want)
		}
	}
}

func TestParseSIIntEmpty(t *testing.T) {
	if _, err := ParseSIInt(""); err == nil {
		t.Fatalf("expected an error for an empty string")
	}
}

func TestParseSIDuration(t *testing.T) {
	got, err := ParseSIDuration("30s")
	if err != nil {
		t.Fatalf("ParseSIDuration(30s): %v", err)
	}
	if got != 30*time.Second {
		t.Fatalf("ParseSIDuration(30s) = %v, want 30s", got)
	}
}
