package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/wudi/attachkit/bridge"
	"github.com/wudi/attachkit/observability"
)

type options struct {
	logPath string
	debug   bool
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "attachworker: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "attachworker: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var opts options
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: go run ./cmd/attachworker [flags]\n")
		flag.PrintDefaults()
	}
	logPath := flag.String("log", "", "Write structured logs to this file as well")
	debug := flag.Bool("debug", false, "Verbose logging")
	flag.Parse()

	if flag.NArg() != 0 {
		flag.Usage()
		return options{}, fmt.Errorf("unexpected arguments")
	}
	opts.logPath = *logPath
	opts.debug = *debug
	return opts, nil
}

// run serves embed requests over stdin/stdout until the parent closes the
// channel. Stdout carries only protocol frames; logs go to stderr or the
// log file.
func run(opts options) error {
	logger := observability.NewConsoleLogger(opts.debug)
	if opts.logPath != "" {
		logger = observability.NewZapLogger(opts.logPath, opts.debug)
	}
	logger.Info("worker ready", observability.Int("pid", os.Getpid()))
	return bridge.ServeEngine(bridge.StampEngine{}, os.Stdin, os.Stdout, bridge.WithLogger(logger))
}
