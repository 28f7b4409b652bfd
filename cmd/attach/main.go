package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/wudi/attachkit/bridge"
	"github.com/wudi/attachkit/events"
	"github.com/wudi/attachkit/manifest"
	"github.com/wudi/attachkit/observability"
	"github.com/wudi/attachkit/policy"
	"github.com/wudi/attachkit/session"
)

type options struct {
	pdfPath      string
	files        []string
	scope        string
	pageRange    string
	outPath      string
	policyPath   string
	workerCmd    string
	manifestPath string
	logPath      string
	debug        bool
	timeout      time.Duration
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "attach: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "attach: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var opts options
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: go run ./cmd/attach [flags] <pdf> <file>...\n")
		flag.PrintDefaults()
	}
	scope := flag.String("scope", "document", "Attachment scope: document or page")
	pageRange := flag.String("range", "", "Page range for page scope, e.g. 1-3,7")
	out := flag.String("out", "", "Path for the stitched output (default: attached-<pdf> next to the input)")
	policyPath := flag.String("policy", "", "JavaScript policy file that defines a review function")
	workerCmd := flag.String("worker", "", "Run the embed engine in a worker process, e.g. \"go run ./cmd/attachworker\"")
	manifestPath := flag.String("manifest", "", "Write a Markdown attachment report to this path")
	logPath := flag.String("log", "", "Write structured logs to this file as well")
	debug := flag.Bool("debug", false, "Verbose logging")
	timeout := flag.Duration("timeout", session.DefaultTimeout, "Worker deadline for one attach operation")
	flag.Parse()

	if flag.NArg() < 2 {
		flag.Usage()
		return options{}, fmt.Errorf("need a pdf path and at least one file to attach")
	}
	if *scope != "document" && *scope != "page" {
		return options{}, fmt.Errorf("unknown scope %q", *scope)
	}
	opts.pdfPath = flag.Arg(0)
	opts.files = flag.Args()[1:]
	opts.scope = *scope
	opts.pageRange = *pageRange
	opts.outPath = *out
	opts.policyPath = *policyPath
	opts.workerCmd = *workerCmd
	opts.manifestPath = *manifestPath
	opts.logPath = *logPath
	opts.debug = *debug
	opts.timeout = *timeout
	return opts, nil
}

func run(opts options) error {
	logger := observability.NewConsoleLogger(opts.debug)
	if opts.logPath != "" {
		logger = observability.NewZapLogger(opts.logPath, opts.debug)
	}

	b, stop, err := newBridge(opts, logger)
	if err != nil {
		return err
	}
	defer stop()
	defer b.Close()

	primary, err := statHandle(opts.pdfPath)
	if err != nil {
		return err
	}
	handles := make([]session.FileHandle, 0, len(opts.files))
	for _, path := range opts.files {
		h, err := statHandle(path)
		if err != nil {
			return err
		}
		handles = append(handles, h)
	}

	var reader session.FileReader = diskReader{}
	var rec *manifest.Recorder
	if opts.manifestPath != "" {
		rec = manifest.NewRecorder(reader)
		reader = rec
	}

	sessOpts := []session.Option{
		session.WithLogger(logger),
		session.WithTimeout(opts.timeout),
	}
	if opts.policyPath != "" {
		src, err := os.ReadFile(opts.policyPath)
		if err != nil {
			return fmt.Errorf("read policy: %w", err)
		}
		pol, err := policy.NewScript(string(src))
		if err != nil {
			return err
		}
		sessOpts = append(sessOpts, session.WithPolicy(pol))
	}

	bus := events.NewBus(events.WithLogger(logger))
	evts, err := bus.Subscribe(context.Background())
	if err != nil {
		return fmt.Errorf("subscribe session events: %w", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range evts {
			render(ev)
		}
	}()

	dl := &fileDownloader{path: opts.outPath, dir: filepath.Dir(opts.pdfPath), logger: logger}
	mgr := session.New(b, fixedSource{h: primary}, reader, events.NewNotifier(bus), dl, sessOpts...)
	mgr.SetScope(session.Scope(opts.scope), opts.pageRange)
	mgr.StageSelection(handles)
	// Execute clears scope and range on completion; keep the effective values
	// for the report.
	scope, pageRange := string(mgr.Scope()), mgr.PageRange()

	execErr := mgr.Execute(context.Background())
	bus.Close()
	<-done
	if execErr != nil {
		return execErr
	}
	if dl.err != nil {
		return fmt.Errorf("write output: %w", dl.err)
	}
	fmt.Printf("Output written to %s\n", dl.wrote)

	if rec != nil {
		if err := writeManifest(opts.manifestPath, rec, dl.wrote, scope, pageRange); err != nil {
			return err
		}
	}
	return nil
}

func newBridge(opts options, logger observability.Logger) (bridge.Bridge, func(), error) {
	if opts.workerCmd == "" {
		return bridge.New(bridge.StampEngine{}, bridge.WithLogger(logger)), func() {}, nil
	}
	parts := strings.Fields(opts.workerCmd)
	if len(parts) == 0 {
		return nil, nil, fmt.Errorf("empty worker command")
	}
	cmd := exec.Command(parts[0], parts[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("worker stdout: %w", err)
	}
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("start worker: %w", err)
	}
	logger.Info("worker started", observability.Int("pid", cmd.Process.Pid))
	stop := func() {
		if err := cmd.Wait(); err != nil {
			logger.Warn("worker exit", observability.Error("error", err))
		}
	}
	return bridge.NewStdio(stdout, stdin, bridge.WithLogger(logger)), stop, nil
}

func render(ev events.Event) {
	switch ev.Kind {
	case events.KindProgress:
		color.Cyan("%s", ev.Text)
	case events.KindStaged:
		color.Yellow("Staged: %s", strings.Join(ev.Names, ", "))
	case events.KindCleared:
		color.Yellow("Staging area cleared")
	case events.KindAlert:
		if ev.Title == "Success" {
			color.Green("%s", ev.Message)
		} else {
			color.Red("%s: %s", ev.Title, ev.Message)
		}
	}
	// progress-done has nothing to erase on a line-oriented terminal.
}

func writeManifest(path string, rec *manifest.Recorder, output, scope, pageRange string) error {
	records := rec.Take()
	if len(records) == 0 {
		return nil
	}
	op := manifest.Operation{
		Primary:     records[0].Name,
		Output:      output,
		Scope:       scope,
		PageRange:   pageRange,
		CompletedAt: time.Now().UTC(),
		Files:       records[1:],
	}
	rep, err := manifest.Build(op)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(rep.Markdown), 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	text, err := manifest.PlainText(rep.HTML)
	if err != nil {
		return err
	}
	fmt.Printf("\n%s\n", text)
	return nil
}

type diskHandle struct {
	path string
	size int64
}

func (h diskHandle) Name() string { return filepath.Base(h.path) }
func (h diskHandle) Size() int64  { return h.size }

func statHandle(path string) (diskHandle, error) {
	info, err := os.Stat(path)
	if err != nil {
		return diskHandle{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return diskHandle{}, fmt.Errorf("%s is a directory", path)
	}
	return diskHandle{path: path, size: info.Size()}, nil
}

type diskReader struct{}

func (diskReader) ReadToBytes(_ context.Context, h session.FileHandle) ([]byte, error) {
	dh, ok := h.(diskHandle)
	if !ok {
		return nil, fmt.Errorf("unexpected file handle %T", h)
	}
	return os.ReadFile(dh.path)
}

type fixedSource struct {
	h session.FileHandle
}

func (s fixedSource) Current() (session.FileHandle, bool) { return s.h, s.h != nil }

// fileDownloader writes the stitched document next to the input unless an
// explicit output path was given. Download reports nothing; the session
// treats delivery as fire-and-forget, so failures surface through err after
// the operation finishes.
type fileDownloader struct {
	path   string
	dir    string
	logger observability.Logger

	wrote string
	err   error
}

func (d *fileDownloader) Download(data []byte, suggestedName string) {
	path := d.path
	if path == "" {
		path = filepath.Join(d.dir, suggestedName)
	}
	d.wrote = path
	d.err = os.WriteFile(path, data, 0o644)
	if d.err != nil {
		d.logger.Error("write output", observability.Error("error", d.err))
	}
}
