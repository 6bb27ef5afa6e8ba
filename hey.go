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

// Command wrk is a constant-throughput HTTP load generator in the style of
// wrk2: it holds a fixed request rate and reports latency corrected for
// coordinated omission, rather than simply reporting whatever latency an
// uncapped, best-effort request loop happens to produce.
package main

import (
	"crypto/tls"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wrk-go/wrk/internal/config"
	"github.com/wrk-go/wrk/internal/coordinator"
	"github.com/wrk-go/wrk/internal/report"
	"github.com/wrk-go/wrk/internal/script"
)

const version = "wrk-go/0.1.0"

var (
	connections = flag.Int("c", 10, "")
	threads     = flag.Int("t", 2, "")
	durationStr = flag.String("d", "10s", "")
	rateStr     = flag.String("R", "", "")
	timeoutStr  = flag.String("T", "", "")
	scriptPath  = flag.String("s", "", "")
	warmup      = flag.Bool("W", false, "")
	printL      = flag.Bool("L", false, "")
	printU      = flag.Bool("U", false, "")
	batchLat    = flag.Bool("B", false, "")
	printVer    = flag.Bool("v", false, "")
)

var usage = `Usage: wrk [options...] <url>

Options:
  -c, --connections <N>  Number of connections to keep open. Default 10.
  -t, --threads <N>      Number of worker threads to use. Default 2.
  -d, --duration <T>     Duration of the test, e.g. 30s, 2m. Default 10s.
  -R, --rate <N>         Work rate (requests/sec) across all connections.
                         Required; accepts k/M/G suffixes (e.g. 10k).
  -T, --timeout <T>      Socket/request timeout, e.g. 2s. Default: none.
  -s, --script <path>    Starlark script to drive request generation.
  -H, --header <H>       Add an HTTP header to each request; repeatable.
  -i, --local_ip <addr>  Local IP to bind connections to; repeatable.
  -W, --warmup           Warm up before measuring. Default false.
  -L, --latency          Print the corrected latency distribution.
  -U, --u_latency        Print the uncorrected latency distribution.
  -B, --batch_latency    Record only the last response of each pipelined
                         batch, instead of every response.
  -v, --version          Print version and exit.
  -h, --help             Print this help and exit.
`

func main() {
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }

	var headers headerSlice
	flag.Var(&headers, "H", "")
	var localIPs headerSlice
	flag.Var(&localIPs, "i", "")

	// Long forms share storage with the short flags above.
	flag.IntVar(connections, "connections", 10, "")
	flag.IntVar(threads, "threads", 2, "")
	flag.StringVar(durationStr, "duration", "10s", "")
	flag.StringVar(rateStr, "rate", "", "")
	flag.StringVar(timeoutStr, "timeout", "", "")
	flag.StringVar(scriptPath, "script", "", "")
	flag.BoolVar(warmup, "warmup", false, "")
	flag.BoolVar(printL, "latency", false, "")
	flag.BoolVar(printU, "u_latency", false, "")
	flag.BoolVar(batchLat, "batch_latency", false, "")
	flag.BoolVar(printVer, "version", false, "")
	flag.Var(&headers, "header", "")
	flag.Var(&localIPs, "local_ip", "")

	flag.Parse()

	if *printVer {
		fmt.Println(version)
		os.Exit(0)
	}

	if flag.NArg() < 1 {
		usageAndExit("missing target url")
	}
	if *rateStr == "" {
		usageAndExit("-R/--rate is required")
	}

	cfg, err := buildConfig(flag.Args()[0], headers, localIPs)
	if err != nil {
		errAndExit(err.Error())
	}

	// scriptCtx here is a probe Context, loaded once on the main goroutine
	// only to read the control-plane hooks (verify_request/is_static/
	// want_response) and to drive the end-of-run errors/summary/done
	// hooks. It is never passed to a worker: each worker loads its own
	// Context from cfg.ScriptPath so no Starlark thread crosses a worker
	// boundary (spec §3).
	var scriptCtx *script.Context
	if cfg.ScriptPath != "" {
		scriptCtx, err = script.Load(cfg.ScriptPath)
		if err != nil {
			errAndExit(fmt.Sprintf("loading script: %s", err))
		}
		if depth, err := scriptCtx.VerifyRequest(); err == nil {
			cfg.Pipeline = depth
		}
		if dyn, err := scriptCtx.IsStatic(); err == nil {
			cfg.DynamicRequest = !dyn
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	signal.Ignore(syscall.SIGPIPE)

	stop := make(chan struct{})
	go func() {
		<-sig
		close(stop)
	}()

	res, err := coordinator.Run(cfg, scriptCtx, stop)
	if err != nil {
		errAndExit(err.Error())
	}

	report.Write(os.Stdout, res, report.Options{
		PrintLatency:  cfg.PrintLatency,
		PrintULatency: cfg.PrintULatency,
		Connections:   cfg.Connections,
		Threads:       cfg.Threads,
	})
}

func buildConfig(url string, headers, localIPs []string) (*config.Config, error) {
	scheme, host, port, path, err := config.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing url: %w", err)
	}

	rate, err := config.ParseSIInt(*rateStr)
	if err != nil {
		return nil, fmt.Errorf("parsing -R: %w", err)
	}
	if rate <= 0 {
		return nil, fmt.Errorf("-R/--rate must be > 0")
	}

	duration, err := config.ParseSIDuration(*durationStr)
	if err != nil {
		return nil, fmt.Errorf("parsing -d: %w", err)
	}

	var timeout time.Duration
	if *timeoutStr != "" {
		timeout, err = config.ParseSIDuration(*timeoutStr)
		if err != nil {
			return nil, fmt.Errorf("parsing -T: %w", err)
		}
	}

	cfg := &config.Config{
		Scheme:             scheme,
		Host:               host,
		Port:               port,
		Path:               path,
		Connections:        *connections,
		Threads:            *threads,
		Duration:           duration,
		Timeout:            timeout,
		Rate:               rate,
		Pipeline:           1,
		RecordAllResponses: !*batchLat,
		Warmup:             *warmup,
		LocalBindAddrs:     localIPs,
		Headers:            headers,
		ScriptPath:         *scriptPath,
		PrintLatency:       *printL,
		PrintULatency:      *printU,
	}
	if scheme == "https" {
		// NextProtos pins ALPN to http/1.1; conn still double-checks the
		// negotiated protocol post-handshake in case a server ignores this.
		cfg.TLSConfig = &tls.Config{ServerName: host, NextProtos: []string{"http/1.1"}}
	}
	if cfg.Threads < 1 {
		cfg.Threads = 1
	}
	if cfg.Connections < cfg.Threads {
		cfg.Connections = cfg.Threads
	}
	return cfg, nil
}

func errAndExit(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}

func usageAndExit(msg string) {
	if msg != "" {
		fmt.Fprintf(os.Stderr, "%s\n\n", msg)
	}
	flag.Usage()
	os.Exit(1)
}

// headerSlice implements flag.Value, collecting a repeatable string flag
// (spec §6's -H/--header and -i/--local_ip) into a slice.
type headerSlice []string

func (h *headerSlice) String() string { return fmt.Sprintf("%v", []string(*h)) }

func (h *headerSlice) Set(value string) error {
	*h = append(*h, value)
	return nil
}
