// Package bridge carries attach requests to the PDF mutation engine over a
// single long-lived channel and translates engine outcomes into Go errors.
//
// The engine is opaque: it receives one Request, processes it in isolation,
// and produces exactly one outcome. An outcome is either the modified
// document bytes, an *EngineError (the engine rejected the input through its
// normal contract), or a channel-level failure (ErrChannelDown, a
// *ChannelFault, or a context error) meaning no structured answer arrived.
//
// Two transports share the Bridge interface: New hosts an Engine on a
// dedicated goroutine inside the current process, and NewStdio speaks the
// JSON-lines contract to an engine living behind an io.Reader/io.Writer
// pair, typically another process.
package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/wudi/attachkit/observability"
)

// Engine is the mutation engine's in-process contract. Embed returns the
// modified primary document or an error that becomes an *EngineError for the
// caller. A panic inside Embed is a channel fault, not an error return.
type Engine interface {
	Embed(req *Request) ([]byte, error)
}

// Bridge is the channel abstraction the session manager dispatches through.
// One Bridge is constructed at application start and reused for every
// operation; it is safe for concurrent use, though requests are processed
// one at a time.
type Bridge interface {
	// Apply sends one request and blocks until its outcome arrives or ctx
	// expires. The returned bytes are the modified primary document.
	Apply(ctx context.Context, req *Request) ([]byte, error)
	// Close tears the channel down; subsequent and pending calls fail with
	// ErrChannelDown.
	Close() error
}

type options struct {
	logger observability.Logger
}

// Option configures a Bridge constructor.
type Option func(*options)

// WithLogger sets the diagnostic logger. Defaults to a no-op logger.
func WithLogger(logger observability.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: observability.NopLogger{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type call struct {
	req   *Request
	reply chan callResult
}

type callResult struct {
	data []byte
	err  error
}

// engineHost runs an Engine on one long-lived goroutine and serializes
// requests to it through an unbuffered channel.
type engineHost struct {
	logger observability.Logger

	calls chan *call

	closeOnce sync.Once
	closed    chan struct{}
}

// New hosts engine inside the current process. The host goroutine lives
// until Close; an engine panic fails only the request that triggered it.
func New(engine Engine, opts ...Option) Bridge {
	o := buildOptions(opts)
	h := &engineHost{
		logger: o.logger,
		calls:  make(chan *call),
		closed: make(chan struct{}),
	}
	go h.serve(engine)
	return h
}

func (h *engineHost) serve(engine Engine) {
	for {
		select {
		case <-h.closed:
			return
		case c := <-h.calls:
			data, err := invoke(engine, c.req)
			if err != nil {
				h.logger.Debug("engine returned failure",
					observability.String("operation", c.req.ID),
					observability.Error("cause", err))
			}
			// Buffered reply; never blocks even if the caller gave up.
			c.reply <- callResult{data: data, err: err}
		}
	}
}

// invoke runs one embed call, converting an error return into *EngineError
// and a panic into *ChannelFault.
func invoke(engine Engine, req *Request) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			data = nil
			err = &ChannelFault{Detail: fmt.Sprint(r)}
		}
	}()
	out, embedErr := engine.Embed(req)
	if embedErr != nil {
		return nil, &EngineError{Message: embedErr.Error()}
	}
	return out, nil
}

func (h *engineHost) Apply(ctx context.Context, req *Request) ([]byte, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	reply := make(chan callResult, 1)

	select {
	case h.calls <- &call{req: req, reply: reply}:
	case <-h.closed:
		return nil, ErrChannelDown
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-reply:
		return res.data, res.err
	case <-h.closed:
		return nil, ErrChannelDown
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *engineHost) Close() error {
	h.closeOnce.Do(func() { close(h.closed) })
	return nil
}
