package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"go.uber.org/zap/zapcore"
)

func TestNopTracer(t *testing.T) {
	tracer := NopTracer()
	ctx := context.Background()
	ctx2, span := tracer.StartSpan(ctx, "test")
	if ctx2 != ctx {
		t.Fatalf("nop tracer should return same context")
	}
	span.SetTag("key", "value")
	span.SetError(nil)
	span.Finish()
}

func TestFieldConstructors(t *testing.T) {
	readErr := errors.New("short read")
	cases := []struct {
		field Field
		key   string
		value interface{}
	}{
		{String("file", "a.txt"), "file", "a.txt"},
		{Int("index", 2), "index", 2},
		{Int64("bytes", int64(1024)), "bytes", int64(1024)},
		{Bool("busy", true), "busy", true},
		{Duration("elapsed", 3 * time.Second), "elapsed", 3 * time.Second},
		{Error("cause", readErr), "cause", readErr},
	}
	for _, c := range cases {
		if c.field.Key() != c.key {
			t.Fatalf("expected key %q, got %q", c.key, c.field.Key())
		}
		if c.field.Value() != c.value {
			t.Fatalf("expected value %v for %q, got %v", c.value, c.key, c.field.Value())
		}
	}
}

func TestZapLoggerFieldMapping(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	logger := WrapZap(zap.New(core))

	logger.Info("dispatching request",
		String("operation", "op-1"),
		Int("attachments", 2),
		Int64("payload", int64(512)),
		Bool("page_scope", false),
		Duration("read", 5*time.Millisecond),
		Error("cause", errors.New("boom")),
	)

	entries := observed.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["operation"] != "op-1" {
		t.Fatalf("expected operation field, got %v", fields["operation"])
	}
	if fields["attachments"] != int64(2) {
		t.Fatalf("expected attachments=2, got %v", fields["attachments"])
	}
	if fields["cause"] != "boom" {
		t.Fatalf("expected cause=boom, got %v", fields["cause"])
	}
}

func TestZapLoggerWith(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	logger := WrapZap(zap.New(core)).With(String("component", "session"))

	logger.Warn("clearing staged files")

	entries := observed.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	if entries[0].ContextMap()["component"] != "session" {
		t.Fatalf("expected inherited component field, got %v", entries[0].ContextMap())
	}
}
