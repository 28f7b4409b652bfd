package bridge

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestApplySuccess(t *testing.T) {
	var seen *Request
	eng := &FakeEngine{EmbedFunc: func(req *Request) ([]byte, error) {
		seen = req
		return append([]byte(nil), "stamped"...), nil
	}}
	b := New(eng)
	defer b.Close()

	req := &Request{
		PrimaryDocument: []byte("%PDF-1.7"),
		Attachments: []Attachment{
			{Name: "notes.txt", Data: []byte("hello")},
			{Name: "report.csv", Data: []byte("a,b")},
		},
		Scope:     "document",
		PageRange: "",
	}
	data, err := b.Apply(context.Background(), req)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if string(data) != "stamped" {
		t.Fatalf("expected stamped payload, got %q", data)
	}
	if seen == nil {
		t.Fatal("engine never saw the request")
	}
	if seen.ID == "" {
		t.Fatal("expected an operation ID to be assigned")
	}
	if len(seen.Attachments) != 2 || seen.Attachments[1].Name != "report.csv" {
		t.Fatalf("attachments not passed through: %+v", seen.Attachments)
	}

	req2 := &Request{ID: "op-7", PrimaryDocument: []byte("%PDF-1.7"), Attachments: req.Attachments}
	if _, err := b.Apply(context.Background(), req2); err != nil {
		t.Fatalf("second Apply failed: %v", err)
	}
	if seen.ID != "op-7" {
		t.Fatalf("expected caller-supplied ID to be preserved, got %q", seen.ID)
	}
}

func TestApplyEngineError(t *testing.T) {
	eng := &FakeEngine{EmbedFunc: func(*Request) ([]byte, error) {
		return nil, errors.New("corrupt attachment")
	}}
	b := New(eng)
	defer b.Close()

	_, err := b.Apply(context.Background(), &Request{PrimaryDocument: []byte("x")})
	if err == nil {
		t.Fatal("expected an error")
	}
	var engineErr *EngineError
	if !errors.As(err, &engineErr) {
		t.Fatalf("expected *EngineError, got %T: %v", err, err)
	}
	if engineErr.Message != "corrupt attachment" {
		t.Fatalf("expected engine message to survive, got %q", engineErr.Message)
	}
	if errors.Is(err, ErrChannelDown) {
		t.Fatal("engine error must not be reported as a channel failure")
	}
}

func TestApplyPanicBecomesChannelFault(t *testing.T) {
	calls := 0
	eng := &FakeEngine{EmbedFunc: func(*Request) ([]byte, error) {
		calls++
		if calls == 1 {
			panic("engine blew up")
		}
		return []byte("ok"), nil
	}}
	b := New(eng)
	defer b.Close()

	_, err := b.Apply(context.Background(), &Request{PrimaryDocument: []byte("x")})
	var fault *ChannelFault
	if !errors.As(err, &fault) {
		t.Fatalf("expected *ChannelFault, got %T: %v", err, err)
	}
	if !strings.Contains(fault.Detail, "engine blew up") {
		t.Fatalf("expected panic detail to survive, got %q", fault.Detail)
	}

	// The host outlives the panic.
	data, err := b.Apply(context.Background(), &Request{PrimaryDocument: []byte("x")})
	if err != nil {
		t.Fatalf("Apply after panic failed: %v", err)
	}
	if string(data) != "ok" {
		t.Fatalf("expected ok, got %q", data)
	}
}

func TestApplyAfterClose(t *testing.T) {
	b := New(&FakeEngine{})
	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	_, err := b.Apply(context.Background(), &Request{PrimaryDocument: []byte("x")})
	if !errors.Is(err, ErrChannelDown) {
		t.Fatalf("expected ErrChannelDown, got %v", err)
	}
}

func TestApplyHonorsContext(t *testing.T) {
	started := make(chan struct{})
	gate := make(chan struct{})
	eng := &FakeEngine{EmbedFunc: func(*Request) ([]byte, error) {
		close(started)
		<-gate
		return []byte("late"), nil
	}}
	b := New(eng)
	defer b.Close()
	defer close(gate)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-started
		cancel()
	}()

	_, err := b.Apply(ctx, &Request{PrimaryDocument: []byte("x")})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
