// Copyright 2019 The hithere Authors. All rights reserved.
// Use of this source code is governed by the Apache License,
// Version 2.0, that can be found in the LICENSE file.

package script

import (
	"testing"

	"go.starlark.net/starlark"
)

// load builds a Context directly from Starlark source, bypassing skycfg's
// file-loading machinery so hook-calling behavior can be tested in
// isolation from config loading.
func load(t *testing.T, src string) *Context {
	t.Helper()
	thread := &starlark.Thread{Name: "test"}
	globals, err := starlark.ExecFile(thread, "test.star", src, nil)
	if err != nil {
		t.Fatalf("ExecFile: %v", err)
	}
	return &Context{thread: thread, globals: globals}
}

func TestRequestReturnsHookBytes(t *testing.T) {
	c := load(t, `
def request():
    return "GET / HTTP/1.1\r\n\r\n"
`)
	got, err := c.Request()
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if string(got) != "GET / HTTP/1.1\r\n\r\n" {
		t.Fatalf("Request() = %q", got)
	}
}

func TestRequestWithoutHookErrors(t *testing.T) {
	c := load(t, `x = 1`)
	if _, err := c.Request(); err == nil {
		t.Fatalf("expected an error when request() is undefined")
	}
}

func TestVerifyRequestDefaultsToOne(t *testing.T) {
	c := load(t, `x = 1`)
	depth, err := c.VerifyRequest()
	if err != nil {
		t.Fatalf("VerifyRequest: %v", err)
	}
	if depth != 1 {
		t.Fatalf("VerifyRequest() = %d, want 1 when undefined", depth)
	}
}

func TestVerifyRequestClampsBelowOne(t *testing.T) {
	c := load(t, `
def verify_request():
    return -5
`)
	depth, err := c.VerifyRequest()
	if err != nil {
		t.Fatalf("VerifyRequest: %v", err)
	}
	if depth != 1 {
		t.Fatalf("VerifyRequest() = %d, want 1 (clamped)", depth)
	}
}

func TestVerifyRequestHonorsHookValue(t *testing.T) {
	c := load(t, `
def verify_request():
    return 4
`)
	depth, err := c.VerifyRequest()
	if err != nil {
		t.Fatalf("VerifyRequest: %v", err)
	}
	if depth != 4 {
		t.Fatalf("VerifyRequest() = %d, want 4", depth)
	}
}

func TestIsStaticDefaultsToTrue(t *testing.T) {
	c := load(t, `x = 1`)
	static, err := c.IsStatic()
	if err != nil {
		t.Fatalf("IsStatic: %v", err)
	}
	if !static {
		t.Fatalf("IsStatic() = false, want true when undefined")
	}
}

func TestIsStaticHonorsHookValue(t *testing.T) {
	c := load(t, `
def is_static():
    return False
`)
	static, err := c.IsStatic()
	if err != nil {
		t.Fatalf("IsStatic: %v", err)
	}
	if static {
		t.Fatalf("IsStatic() = true, want false")
	}
}

func TestWantResponseDefaultsToFalse(t *testing.T) {
	c := load(t, `x = 1`)
	want, err := c.WantResponse()
	if err != nil {
		t.Fatalf("WantResponse: %v", err)
	}
	if want {
		t.Fatalf("WantResponse() = true, want false when undefined")
	}
}

func TestHasDoneDefaultsToFalse(t *testing.T) {
	c := load(t, `x = 1`)
	done, err := c.HasDone()
	if err != nil {
		t.Fatalf("HasDone: %v", err)
	}
	if done {
		t.Fatalf("HasDone() = true, want false when undefined")
	}
}

func TestResolveUndefinedReportsNotDefined(t *testing.T) {
	c := load(t, `x = 1`)
	_, defined, err := c.Resolve("example.com", "http")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if defined {
		t.Fatalf("Resolve() defined = true, want false when resolve() is undefined")
	}
}

func TestInitCallsHookWithArgv(t *testing.T) {
	c := load(t, `
seen = []
def init(thread, argv):
    seen.append(argv[0])
`)
	if err := c.Init(0, []string{"foo"}); err != nil {
		t.Fatalf("Init: %v", err)
	}
	seen, ok := c.globals["seen"].(*starlark.List)
	if !ok || seen.Len() != 1 {
		t.Fatalf("init() hook was not invoked with the expected argv")
	}
}

func TestSummaryAndErrorsAndDoneHooksRunWithoutError(t *testing.T) {
	c := load(t, `
def summary(runtime_us, complete, bytes):
    pass

def errors(e):
    pass

def done(latency_stats, requests_stats):
    pass
`)
	if err := c.Summary(1000, 10, 200); err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if err := c.Errors(ErrorCounts{Connect: 1}); err != nil {
		t.Fatalf("Errors: %v", err)
	}
	if err := c.Done(LatencyStats{MeanUsec: 100}, RequestStats{Total: 10, PerSec: 5.0}); err != nil {
		t.Fatalf("Done: %v", err)
	}
}

func TestValueToBytesRejectsUnsupportedType(t *testing.T) {
	if _, err := valueToBytes(starlark.MakeInt(5)); err == nil {
		t.Fatalf("expected an error converting an int to bytes")
	}
}
