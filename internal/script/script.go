// Copyright 2019 The hithere Authors. All rights reserved.
// Use of this source code is governed by the Apache License,
// Version 2.0, that can be found in the LICENSE file.

// Package script wraps the embedded Starlark engine behind the hook
// surface spec §6 names: resolve, init, request, verify_request, is_static,
// want_response, response, has_done, summary, errors, done. Per spec §9,
// the script engine is an opaque per-worker context; the load-generation
// core runs without a script at all when none is configured, falling back
// to a compiled-in HTTP/1.1 request template.
package script

import (
	"context"
	"fmt"

	"go.starlark.net/starlark"

	"github.com/stripe/skycfg"
)

// Context is one worker's script VM. Workers do not share a Context: each
// owns its own Starlark thread, matching spec §3's "script context handle"
// field on Worker.
type Context struct {
	thread  *starlark.Thread
	globals starlark.StringDict
}

// Load parses and executes path, making its top-level functions available
// as hooks. It does not call init; Init does that separately, mirroring the
// wrk2 Lua scripting contract's init(args) call.
func Load(path string) (*Context, error) {
	ctx := context.Background()
	cfg, err := skycfg.Load(ctx, path, skycfg.WithGlobals(starlark.StringDict{}))
	if err != nil {
		return nil, fmt.Errorf("skycfg.Load(%s): %w", path, err)
	}

	return &Context{
		thread:  &starlark.Thread{Name: path},
		globals: cfg.Locals(),
	}, nil
}

func (c *Context) lookup(name string) (starlark.Callable, bool) {
	v, ok := c.globals[name]
	if !ok {
		return nil, false
	}
	fn, ok := v.(starlark.Callable)
	return fn, ok
}

func (c *Context) call(name string, args starlark.Tuple) (starlark.Value, bool, error) {
	fn, ok := c.lookup(name)
	if !ok {
		return starlark.None, false, nil
	}
	v, err := starlark.Call(c.thread, fn, args, nil)
	if err != nil {
		return starlark.None, true, fmt.Errorf("calling %s: %w", name, err)
	}
	return v, true, nil
}

// Resolve calls the script's resolve(host, service) hook if defined,
// reporting whether the script wants to override DNS resolution for this
// target; absent a hook, normal resolution proceeds (defined=false).
func (c *Context) Resolve(host, service string) (ok bool, defined bool, err error) {
	v, defined, err := c.call("resolve", starlark.Tuple{starlark.String(host), starlark.String(service)})
	if err != nil || !defined {
		return false, defined, err
	}
	return truth(v), true, nil
}

// Init calls the script's init(thread, argv) hook once per worker thread.
func (c *Context) Init(threadIdx int, argv []string) error {
	args := make([]starlark.Value, len(argv))
	for i, a := range argv {
		args[i] = starlark.String(a)
	}
	_, _, err := c.call("init", starlark.Tuple{starlark.MakeInt(threadIdx), starlark.NewList(args)})
	return err
}

// Request calls the script's request() hook, which must return a string or
// bytes value used as the raw request to write. Called per batch when
// Config.DynamicRequest is true (spec §4.3 batch-write step 3); otherwise
// the coordinator calls it once to build the shared static request.
func (c *Context) Request() ([]byte, error) {
	v, defined, err := c.call("request", nil)
	if err != nil {
		return nil, err
	}
	if !defined {
		return nil, fmt.Errorf("script has no request() hook")
	}
	return valueToBytes(v)
}

// VerifyRequest calls verify_request(), which returns the advisory
// pipeline depth (spec §3's "pipelining depth P").
func (c *Context) VerifyRequest() (depth int, err error) {
	v, defined, err := c.call("verify_request", nil)
	if err != nil {
		return 1, err
	}
	if !defined {
		return 1, nil
	}
	i, ok := v.(starlark.Int)
	if !ok {
		return 1, fmt.Errorf("verify_request() must return an int, got %s", v.Type())
	}
	depth, _ = i.Int64()
	if depth < 1 {
		depth = 1
	}
	return depth, nil
}

// IsStatic calls is_static(), reporting whether the request body is fixed
// for the whole run (so it can be shared across connections, spec §3).
func (c *Context) IsStatic() (bool, error) {
	v, defined, err := c.call("is_static", nil)
	if err != nil {
		return false, err
	}
	if !defined {
		return true, nil
	}
	return truth(v), nil
}

// WantResponse calls want_response(), reporting whether the script wants
// the response() hook invoked per completed request.
func (c *Context) WantResponse() (bool, error) {
	v, defined, err := c.call("want_response", nil)
	if err != nil {
		return false, err
	}
	if !defined {
		return false, nil
	}
	return truth(v), nil
}

// Response calls response(status, headers, body) when WantResponse is
// true. The [name, value] pairs the parser callbacks collected are passed
// to the script as a dict keyed by header name; when a name repeats, only
// its last value is kept.
func (c *Context) Response(status int, headers [][2]string, body []byte) error {
	h := starlark.NewDict(len(headers))
	for _, kv := range headers {
		_ = h.SetKey(starlark.String(kv[0]), starlark.String(kv[1]))
	}
	_, _, err := c.call("response", starlark.Tuple{
		starlark.MakeInt(status),
		h,
		starlark.String(body),
	})
	return err
}

// HasDone calls has_done(), which lets a script end the run early.
func (c *Context) HasDone() (bool, error) {
	v, defined, err := c.call("has_done", nil)
	if err != nil || !defined {
		return false, err
	}
	return truth(v), nil
}

// Summary calls summary(runtime_us, complete, bytes) once at the end of
// the run, per spec §6.
func (c *Context) Summary(runtimeUsec, complete, bytes int64) error {
	_, _, err := c.call("summary", starlark.Tuple{
		starlark.MakeInt64(runtimeUsec),
		starlark.MakeInt64(complete),
		starlark.MakeInt64(bytes),
	})
	return err
}

// ErrorCounts mirrors the error taxonomy of spec §7 for the errors() hook.
type ErrorCounts struct {
	Connect, Read, Write, Timeout, Status int64
}

// Errors calls errors(errors_struct).
func (c *Context) Errors(e ErrorCounts) error {
	d := starlark.NewDict(5)
	_ = d.SetKey(starlark.String("connect"), starlark.MakeInt64(e.Connect))
	_ = d.SetKey(starlark.String("read"), starlark.MakeInt64(e.Read))
	_ = d.SetKey(starlark.String("write"), starlark.MakeInt64(e.Write))
	_ = d.SetKey(starlark.String("timeout"), starlark.MakeInt64(e.Timeout))
	_ = d.SetKey(starlark.String("status"), starlark.MakeInt64(e.Status))
	_, _, err := c.call("errors", starlark.Tuple{d})
	return err
}

// LatencyStats and RequestStats are the two summary structs the done()
// hook receives, matching spec §6's "done(latency_stats, requests_stats)".
type LatencyStats struct {
	MinUsec, MaxUsec, MeanUsec, StdDevUsec int64
}

type RequestStats struct {
	Total  int64
	PerSec float64
}

// Done calls done(latency_stats, requests_stats).
func (c *Context) Done(l LatencyStats, r RequestStats) error {
	ld := starlark.NewDict(4)
	_ = ld.SetKey(starlark.String("min"), starlark.MakeInt64(l.MinUsec))
	_ = ld.SetKey(starlark.String("max"), starlark.MakeInt64(l.MaxUsec))
	_ = ld.SetKey(starlark.String("mean"), starlark.MakeInt64(l.MeanUsec))
	_ = ld.SetKey(starlark.String("stdev"), starlark.MakeInt64(l.StdDevUsec))

	rd := starlark.NewDict(2)
	_ = rd.SetKey(starlark.String("total"), starlark.MakeInt64(r.Total))
	_ = rd.SetKey(starlark.String("per_sec"), starlark.Float(r.PerSec))

	_, _, err := c.call("done", starlark.Tuple{ld, rd})
	return err
}

func truth(v starlark.Value) bool {
	return bool(v.Truth())
}

func valueToBytes(v starlark.Value) ([]byte, error) {
	switch s := v.(type) {
	case starlark.String:
		return []byte(s.GoString()), nil
	case starlark.Bytes:
		return []byte(s), nil
	default:
		return nil, fmt.Errorf("expected string or bytes, got %s", v.Type())
	}
}
