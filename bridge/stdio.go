package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/wudi/attachkit/observability"
)

// maxFrameBytes bounds a single JSON-lines frame. Base64 inflates binary
// payloads by a third, so this still leaves room for large documents.
const maxFrameBytes = 64 << 20

// stdioBridge speaks the JSON-lines contract to an engine behind an
// io.Reader/io.Writer pair, usually the stdio of a worker process. Responses
// are correlated to pending calls by request ID, so callers may overlap.
type stdioBridge struct {
	logger observability.Logger

	mu      sync.Mutex // guards writer, pending and down
	writer  *bufio.Writer
	pending map[string]chan *wireResponse
	down    bool

	closers []io.Closer
}

// NewStdio attaches a Bridge to an already-connected engine transport. The
// read loop runs until r is exhausted; when the stream ends or breaks, every
// pending and future call fails with ErrChannelDown. If r or w implement
// io.Closer they are closed by Close.
func NewStdio(r io.Reader, w io.Writer, opts ...Option) Bridge {
	o := buildOptions(opts)
	b := &stdioBridge{
		logger:  o.logger,
		writer:  bufio.NewWriter(w),
		pending: make(map[string]chan *wireResponse),
	}
	if c, ok := r.(io.Closer); ok {
		b.closers = append(b.closers, c)
	}
	if c, ok := w.(io.Closer); ok {
		b.closers = append(b.closers, c)
	}
	go b.readLoop(bufio.NewReader(r))
	return b
}

func (b *stdioBridge) readLoop(r *bufio.Reader) {
	for {
		line, err := r.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			b.deliver(line)
		}
		if err != nil {
			b.fail(err)
			return
		}
	}
}

func (b *stdioBridge) deliver(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) > maxFrameBytes {
		b.logger.Warn("discarding oversized worker frame",
			observability.Int("bytes", len(line)))
		return
	}
	var resp wireResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		b.logger.Warn("discarding unparseable worker frame",
			observability.Error("cause", err))
		return
	}

	b.mu.Lock()
	ch := b.pending[resp.ID]
	delete(b.pending, resp.ID)
	b.mu.Unlock()

	if ch == nil {
		b.logger.Debug("dropping response with no pending call",
			observability.String("operation", resp.ID))
		return
	}
	ch <- &resp
}

// fail marks the channel down and releases every pending caller. Pending
// response channels are closed, which Apply reports as ErrChannelDown.
func (b *stdioBridge) fail(cause error) {
	b.mu.Lock()
	if b.down {
		b.mu.Unlock()
		return
	}
	b.down = true
	pending := b.pending
	b.pending = nil
	b.mu.Unlock()

	if cause != nil && !errors.Is(cause, io.EOF) {
		b.logger.Error("worker channel failed", observability.Error("cause", cause))
	} else {
		b.logger.Info("worker channel closed",
			observability.Int("abandoned_calls", len(pending)))
	}
	for _, ch := range pending {
		close(ch)
	}
}

func (b *stdioBridge) Apply(ctx context.Context, req *Request) ([]byte, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	frame, err := json.Marshal(encodeRequest(req))
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	frame = append(frame, '\n')

	ch := make(chan *wireResponse, 1)
	b.mu.Lock()
	if b.down {
		b.mu.Unlock()
		return nil, ErrChannelDown
	}
	b.pending[req.ID] = ch
	_, werr := b.writer.Write(frame)
	if werr == nil {
		werr = b.writer.Flush()
	}
	if werr != nil {
		delete(b.pending, req.ID)
		b.mu.Unlock()
		b.fail(werr)
		return nil, ErrChannelDown
	}
	b.mu.Unlock()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrChannelDown
		}
		return mapResponse(resp)
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pending, req.ID)
		b.mu.Unlock()
		return nil, ctx.Err()
	}
}

func mapResponse(resp *wireResponse) ([]byte, error) {
	switch resp.Status {
	case statusSuccess:
		return resp.Data, nil
	case statusError:
		return nil, &EngineError{Message: resp.Message}
	default:
		return nil, &ChannelFault{Detail: fmt.Sprintf("unexpected response status %q", resp.Status)}
	}
}

func (b *stdioBridge) Close() error {
	b.fail(nil)
	var firstErr error
	for _, c := range b.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ServeEngine runs engine behind the JSON-lines contract until the input
// stream ends. Requests are processed one at a time in arrival order. An
// engine panic aborts serving with an error and no structured response, so
// the peer observes a channel failure rather than an engine-reported one.
func ServeEngine(engine Engine, r io.Reader, w io.Writer, opts ...Option) error {
	o := buildOptions(opts)
	reader := bufio.NewReader(r)
	writer := bufio.NewWriter(w)

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) && len(bytes.TrimSpace(line)) == 0 {
				return nil
			}
			if !errors.Is(err, io.EOF) {
				return fmt.Errorf("read request: %w", err)
			}
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if len(line) > maxFrameBytes {
			if werr := writeFrame(writer, &wireResponse{
				Status:  statusError,
				Message: "request exceeds frame limit",
			}); werr != nil {
				return werr
			}
			continue
		}

		var wire wireRequest
		if err := json.Unmarshal(line, &wire); err != nil {
			o.logger.Warn("discarding unparseable frame",
				observability.Error("cause", err))
			continue
		}
		if wire.Command != commandEmbed {
			if werr := writeFrame(writer, &wireResponse{
				ID:      wire.ID,
				Status:  statusError,
				Message: fmt.Sprintf("unsupported command %q", wire.Command),
			}); werr != nil {
				return werr
			}
			continue
		}

		req := decodeRequest(&wire)
		o.logger.Debug("serving embed request",
			observability.String("operation", req.ID),
			observability.Int("attachments", len(req.Attachments)))

		data, embedErr, fault := runEmbed(engine, req)
		if fault != nil {
			return fault
		}
		resp := wireResponse{ID: req.ID}
		if embedErr != nil {
			resp.Status = statusError
			resp.Message = embedErr.Error()
		} else {
			resp.Status = statusSuccess
			resp.Data = data
		}
		if werr := writeFrame(writer, &resp); werr != nil {
			return fmt.Errorf("write response: %w", werr)
		}
	}
}

func runEmbed(engine Engine, req *Request) (data []byte, embedErr error, fault error) {
	defer func() {
		if r := recover(); r != nil {
			data, embedErr = nil, nil
			fault = fmt.Errorf("engine fault: %v", r)
		}
	}()
	data, embedErr = engine.Embed(req)
	return data, embedErr, nil
}

func writeFrame(w *bufio.Writer, resp *wireResponse) error {
	frame, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	frame = append(frame, '\n')
	if _, err := w.Write(frame); err != nil {
		return err
	}
	return w.Flush()
}
