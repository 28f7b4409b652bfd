// Package session orchestrates attach operations: it stages the user's file
// selection, validates readiness, acquires buffers in selection order,
// dispatches one request over the worker bridge and reconciles the outcome
// back into UI state. One operation runs at a time; every terminal outcome
// clears staged state.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wudi/attachkit/bridge"
	"github.com/wudi/attachkit/observability"
	"github.com/wudi/attachkit/policy"
)

// Scope states whether attachments apply to the whole document or to a page
// subset.
type Scope string

const (
	ScopeDocument Scope = "document"
	ScopePage     Scope = "page"
)

// DefaultTimeout bounds the bridge round trip per operation. A worker that
// has not answered by then is presumed hung.
const DefaultTimeout = 2 * time.Minute

const (
	alertTitleError   = "Error"
	alertTitleSuccess = "Success"

	msgNoPrimary     = "Main PDF is not loaded."
	msgNoneStaged    = "Please select at least one file to attach."
	msgMissingRange  = "Please enter a page range."
	msgBusy          = "Another attach operation is in progress."
	msgAttaching     = "Attaching files..."
	msgChannelFault  = "Worker error occurred."
	msgPrimaryFailed = "Failed to read the main PDF."
)

type options struct {
	logger  observability.Logger
	tracer  observability.Tracer
	policy  policy.Policy
	timeout time.Duration
}

type Option func(*options)

// WithLogger routes session diagnostics to l.
func WithLogger(l observability.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTracer traces each Execute as a span.
func WithTracer(t observability.Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithPolicy gates submissions before any buffer is read. A rejection is
// terminal, same as a failed page-range validation.
func WithPolicy(p policy.Policy) Option {
	return func(o *options) { o.policy = p }
}

// WithTimeout overrides DefaultTimeout. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// Manager owns the staged attachment set and runs the attach pipeline
// against an injected bridge. Collaborators are consumed through the
// capability interfaces in ports.go; all of them are required.
type Manager struct {
	bridge    bridge.Bridge
	source    DocumentSource
	reader    FileReader
	ui        UINotifier
	listing   ListingView // nil when ui has no listing upgrade
	downloads Downloader

	logger  observability.Logger
	tracer  observability.Tracer
	policy  policy.Policy
	timeout time.Duration

	mu        sync.Mutex
	busy      bool
	staged    []FileHandle
	scope     Scope
	pageRange string
}

// New wires a Manager to its collaborators. The bridge is created once at
// application start and shared; the Manager never tears it down.
func New(b bridge.Bridge, source DocumentSource, reader FileReader, ui UINotifier, downloads Downloader, opts ...Option) *Manager {
	o := options{
		logger:  observability.NopLogger{},
		tracer:  observability.NopTracer(),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}

	m := &Manager{
		bridge:    b,
		source:    source,
		reader:    reader,
		ui:        ui,
		downloads: downloads,
		logger:    o.logger,
		tracer:    o.tracer,
		policy:    o.policy,
		timeout:   o.timeout,
		scope:     ScopeDocument,
	}
	m.listing, _ = ui.(ListingView)
	return m
}

// StageSelection replaces the staged set with files, in order. An empty
// selection behaves as Clear. The slice is copied; callers may reuse theirs.
func (m *Manager) StageSelection(files []FileHandle) {
	if len(files) == 0 {
		m.Clear()
		return
	}
	staged := make([]FileHandle, len(files))
	copy(staged, files)

	m.mu.Lock()
	m.staged = staged
	m.mu.Unlock()

	m.logger.Info("attachments staged", observability.Int("count", len(staged)))
	if m.listing != nil {
		m.listing.ShowStaged(handleNames(staged))
	}
}

// SetScope records the attachment scope. The page range is kept verbatim for
// ScopePage and discarded otherwise; any scope other than ScopePage is
// treated as ScopeDocument.
func (m *Manager) SetScope(scope Scope, pageRange string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if scope == ScopePage {
		m.scope = ScopePage
		m.pageRange = pageRange
		return
	}
	m.scope = ScopeDocument
	m.pageRange = ""
}

// Staged returns the staged handles in selection order.
func (m *Manager) Staged() []FileHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]FileHandle, len(m.staged))
	copy(out, m.staged)
	return out
}

// Scope returns the current attachment scope.
func (m *Manager) Scope() Scope {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scope
}

// PageRange returns the recorded page range. Empty unless the scope is
// ScopePage.
func (m *Manager) PageRange() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pageRange
}

// Clear is idempotent: it empties the staged set, resets the scope to
// ScopeDocument, clears the page range and resets the listing surface.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.staged = nil
	m.scope = ScopeDocument
	m.pageRange = ""
	m.mu.Unlock()

	if m.listing != nil {
		m.listing.ResetStaged()
	}
}

// Execute runs one attach operation end to end. Every failure reaches the
// user through the alert collaborator; the returned error reports the same
// outcome for callers that inspect it, nil on success. Terminal outcomes
// clear staged state unconditionally; a busy rejection and a missing primary
// document leave it untouched.
func (m *Manager) Execute(ctx context.Context) error {
	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		m.logger.Warn("rejected overlapping execute")
		m.ui.ShowAlert(alertTitleError, msgBusy)
		return ErrBusy
	}
	m.busy = true
	staged := make([]FileHandle, len(m.staged))
	copy(staged, m.staged)
	scope, pageRange := m.scope, m.pageRange
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.busy = false
		m.mu.Unlock()
	}()

	op := uuid.NewString()
	logger := m.logger.With(observability.String("operation", op))
	start := time.Now()
	ctx, span := m.tracer.StartSpan(ctx, "attach.execute")
	defer func() {
		span.SetTag(observability.MetricExecuteTime, time.Since(start))
		span.Finish()
	}()

	primary, ok := m.source.Current()
	if !ok {
		logger.Warn("no primary document loaded")
		m.ui.ShowAlert(alertTitleError, msgNoPrimary)
		err := &PreconditionError{Reason: "no primary document"}
		span.SetError(err)
		return err
	}
	if len(staged) == 0 {
		logger.Warn("no files staged")
		m.ui.ShowAlert(alertTitleError, msgNoneStaged)
		m.Clear()
		err := &PreconditionError{Reason: "no files staged"}
		span.SetError(err)
		return err
	}
	if scope == ScopePage && strings.TrimSpace(pageRange) == "" {
		logger.Warn("page scope without a page range")
		m.ui.ShowAlert(alertTitleError, msgMissingRange)
		m.Clear()
		err := &ValidationError{Reason: "missing page range"}
		span.SetError(err)
		return err
	}
	if err := m.admit(ctx, logger, primary, staged, scope, pageRange); err != nil {
		span.SetError(err)
		return err
	}

	readStart := time.Now()
	primaryData, err := m.reader.ReadToBytes(ctx, primary)
	if err != nil {
		readErr := &ReadError{Name: primary.Name(), Err: err}
		logger.Error("primary document read failed", observability.Error("cause", err))
		m.ui.ShowAlert(alertTitleError, msgPrimaryFailed)
		m.Clear()
		span.SetError(readErr)
		return readErr
	}

	total := len(staged)
	attachments := make([]bridge.Attachment, 0, total)
	payload := len(primaryData)
	for i, f := range staged {
		m.ui.ShowProgress(fmt.Sprintf("Reading %s (%d/%d)...", f.Name(), i+1, total))
		data, err := m.reader.ReadToBytes(ctx, f)
		if err != nil {
			readErr := &ReadError{Name: f.Name(), Err: err}
			logger.Error("attachment read failed",
				observability.String("file", f.Name()),
				observability.Error("cause", err))
			m.ui.HideProgress()
			m.ui.ShowAlert(alertTitleError, fmt.Sprintf("Failed to read %s.", f.Name()))
			m.Clear()
			span.SetError(readErr)
			return readErr
		}
		payload += len(data)
		attachments = append(attachments, bridge.Attachment{Name: f.Name(), Data: data})
	}
	span.SetTag(observability.MetricReadTime, time.Since(readStart))
	span.SetTag(observability.MetricStagedCount, total)
	span.SetTag(observability.MetricAttachmentSize, payload)

	// Buffer ownership moves to the bridge with the request; nothing below
	// reads primaryData or the attachment buffers again.
	req := &bridge.Request{
		ID:              op,
		PrimaryDocument: primaryData,
		Attachments:     attachments,
		Scope:           string(scope),
		PageRange:       pageRange,
	}
	primaryName := primary.Name()

	m.ui.ShowProgress(msgAttaching)
	logger.Info("dispatching attach request",
		observability.Int("attachments", total),
		observability.Int("payload_bytes", payload),
		observability.String("scope", string(scope)))

	dispatchStart := time.Now()
	dctx, cancel := context.WithTimeout(ctx, m.timeout)
	result, err := m.bridge.Apply(dctx, req)
	cancel()
	span.SetTag(observability.MetricDispatchTime, time.Since(dispatchStart))

	m.ui.HideProgress()
	if err == nil {
		m.downloads.Download(result, "attached-"+primaryName)
		m.ui.ShowAlert(alertTitleSuccess, fmt.Sprintf("Successfully attached %d file(s).", total))
		logger.Info("attach operation succeeded",
			observability.Int("attachments", total),
			observability.Duration("elapsed", time.Since(start)))
		m.Clear()
		return nil
	}

	span.SetError(err)
	var engineErr *bridge.EngineError
	if errors.As(err, &engineErr) {
		logger.Warn("engine rejected the request", observability.Error("cause", err))
		m.ui.ShowAlert(alertTitleError, engineErr.Message)
		m.Clear()
		return err
	}
	logger.Error("worker channel failure", observability.Error("cause", err))
	m.ui.ShowAlert(alertTitleError, msgChannelFault)
	m.Clear()
	return err
}

// admit runs the configured admission policy. Policy errors reject the
// submission (fail closed).
func (m *Manager) admit(ctx context.Context, logger observability.Logger, primary FileHandle, staged []FileHandle, scope Scope, pageRange string) error {
	if m.policy == nil {
		return nil
	}
	sub := policy.Submission{
		PrimaryName: primary.Name(),
		Scope:       string(scope),
		PageRange:   pageRange,
		Files:       make([]policy.FileInfo, len(staged)),
	}
	for i, f := range staged {
		sub.Files[i] = policy.FileInfo{Name: f.Name(), Size: f.Size()}
	}

	decision, err := m.policy.Evaluate(ctx, sub)
	if err != nil {
		logger.Error("admission policy failed", observability.Error("cause", err))
		reason := "attachment policy: " + err.Error()
		m.ui.ShowAlert(alertTitleError, reason)
		m.Clear()
		return &ValidationError{Reason: reason}
	}
	if !decision.Allow {
		reason := decision.Reason
		if reason == "" {
			reason = "The submission was rejected by the attachment policy."
		}
		logger.Warn("admission policy rejected the submission",
			observability.String("reason", reason))
		m.ui.ShowAlert(alertTitleError, reason)
		m.Clear()
		return &ValidationError{Reason: reason}
	}
	return nil
}

func handleNames(files []FileHandle) []string {
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Name()
	}
	return names
}
