package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
)

// stdioPair wires a client bridge to a served engine over in-memory pipes,
// the way the worker command is wired over a child process's stdio.
func stdioPair(t *testing.T, engine Engine) (Bridge, <-chan error) {
	t.Helper()
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()

	serveErr := make(chan error, 1)
	go func() {
		err := ServeEngine(engine, reqR, respW)
		respW.Close()
		serveErr <- err
	}()
	return NewStdio(respR, reqW), serveErr
}

func TestStdioRoundTrip(t *testing.T) {
	b, serveErr := stdioPair(t, StampEngine{})
	defer b.Close()

	req := &Request{
		ID:              "round-1",
		PrimaryDocument: []byte("%PDF-1.7\n"),
		Attachments: []Attachment{
			{Name: "notes.txt", Data: []byte("hello")},
			{Name: "report.csv", Data: []byte("a,b\n1,2")},
		},
		Scope:     "page",
		PageRange: "2-5",
	}
	data, err := b.Apply(context.Background(), req)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	out := string(data)
	if !strings.HasPrefix(out, "%PDF-1.7\n") {
		t.Fatalf("primary document did not survive the trip: %q", out)
	}
	if !strings.Contains(out, "%%attach scope=page pages=2-5") {
		t.Fatalf("scope and page range did not survive the trip: %q", out)
	}
	if !strings.Contains(out, "%%attached notes.txt 5") ||
		!strings.Contains(out, "%%attached report.csv 7") {
		t.Fatalf("attachments did not survive the trip: %q", out)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := <-serveErr; err != nil {
		t.Fatalf("serve loop failed: %v", err)
	}
}

func TestStdioEngineError(t *testing.T) {
	b, _ := stdioPair(t, &FakeEngine{EmbedFunc: func(*Request) ([]byte, error) {
		return nil, errors.New("corrupt attachment")
	}})
	defer b.Close()

	_, err := b.Apply(context.Background(), &Request{
		PrimaryDocument: []byte("x"),
		Attachments:     []Attachment{{Name: "a", Data: []byte("b")}},
	})
	var engineErr *EngineError
	if !errors.As(err, &engineErr) {
		t.Fatalf("expected *EngineError, got %T: %v", err, err)
	}
	if engineErr.Message != "corrupt attachment" {
		t.Fatalf("expected engine message to survive, got %q", engineErr.Message)
	}
}

func TestStdioWorkerDeathFailsPendingCall(t *testing.T) {
	b, serveErr := stdioPair(t, &FakeEngine{EmbedFunc: func(*Request) ([]byte, error) {
		panic("worker dead")
	}})
	defer b.Close()

	_, err := b.Apply(context.Background(), &Request{
		PrimaryDocument: []byte("x"),
		Attachments:     []Attachment{{Name: "a", Data: []byte("b")}},
	})
	if !errors.Is(err, ErrChannelDown) {
		t.Fatalf("expected ErrChannelDown, got %v", err)
	}

	err = <-serveErr
	if err == nil || !strings.Contains(err.Error(), "engine fault") {
		t.Fatalf("expected the serve loop to report the fault, got %v", err)
	}
}

func TestStdioApplyAfterClose(t *testing.T) {
	b, serveErr := stdioPair(t, &FakeEngine{})
	if err := b.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	_, err := b.Apply(context.Background(), &Request{PrimaryDocument: []byte("x")})
	if !errors.Is(err, ErrChannelDown) {
		t.Fatalf("expected ErrChannelDown, got %v", err)
	}
	if err := <-serveErr; err != nil {
		t.Fatalf("serve loop failed: %v", err)
	}
}

func TestStdioToleratesGarbageFrames(t *testing.T) {
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()

	go func() {
		br := bufio.NewReader(reqR)
		line, err := br.ReadBytes('\n')
		if err != nil {
			return
		}
		var wire wireRequest
		if err := json.Unmarshal(line, &wire); err != nil {
			return
		}

		// Noise before the real response: unparseable bytes, then a
		// response nobody is waiting for.
		io.WriteString(respW, "not json at all\n")
		orphan, _ := json.Marshal(wireResponse{ID: "nobody", Status: statusSuccess})
		respW.Write(append(orphan, '\n'))

		resp, _ := json.Marshal(wireResponse{ID: wire.ID, Status: statusSuccess, Data: []byte("fine")})
		respW.Write(append(resp, '\n'))
	}()

	b := NewStdio(respR, reqW)
	defer b.Close()

	data, err := b.Apply(context.Background(), &Request{
		PrimaryDocument: []byte("x"),
		Attachments:     []Attachment{{Name: "a", Data: []byte("b")}},
	})
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if string(data) != "fine" {
		t.Fatalf("expected fine, got %q", data)
	}
}

func TestServeEngineRejectsUnknownCommand(t *testing.T) {
	in := strings.NewReader(`{"command":"bogus","id":"b1"}` + "\n")
	var out bytes.Buffer
	if err := ServeEngine(&FakeEngine{}, in, &out); err != nil {
		t.Fatalf("ServeEngine failed: %v", err)
	}

	var resp wireResponse
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &resp); err != nil {
		t.Fatalf("response not parseable: %v", err)
	}
	if resp.ID != "b1" || resp.Status != statusError {
		t.Fatalf("expected an error response for b1, got %+v", resp)
	}
	if !strings.Contains(resp.Message, "unsupported command") {
		t.Fatalf("expected the command to be named, got %q", resp.Message)
	}
}

func TestWireRequestShape(t *testing.T) {
	req := &Request{
		ID:              "wire-1",
		PrimaryDocument: []byte{1, 2},
		Attachments:     []Attachment{{Name: "a.txt", Data: []byte{3}}},
		Scope:           "document",
	}
	frame, err := json.Marshal(encodeRequest(req))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(frame, &m); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if m["command"] != "embedAttachments" {
		t.Fatalf("expected embedAttachments command, got %v", m["command"])
	}
	if m["primaryDocumentBuffer"] != "AQI=" {
		t.Fatalf("expected base64 document buffer, got %v", m["primaryDocumentBuffer"])
	}
	names, ok := m["attachmentNames"].([]any)
	if !ok || len(names) != 1 || names[0] != "a.txt" {
		t.Fatalf("expected parallel name array, got %v", m["attachmentNames"])
	}
	buffers, ok := m["attachmentBuffers"].([]any)
	if !ok || len(buffers) != 1 || buffers[0] != "Aw==" {
		t.Fatalf("expected parallel base64 buffer array, got %v", m["attachmentBuffers"])
	}
	if _, present := m["pageRange"]; !present {
		t.Fatal("expected an explicit pageRange field")
	}

	decoded := decodeRequest(&wireRequest{
		Command:           commandEmbed,
		ID:                "wire-2",
		PrimaryDocument:   []byte{9},
		AttachmentNames:   []string{"x", "y"},
		AttachmentBuffers: [][]byte{{1}, {2}},
		Scope:             "page",
		PageRange:         "3",
	})
	if len(decoded.Attachments) != 2 || decoded.Attachments[1].Name != "y" {
		t.Fatalf("expected names and buffers to pair up, got %+v", decoded.Attachments)
	}
}
