package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dop251/goja"
)

// Script is a goja-backed Policy. The source must define a
// review(submission) function, compiled once at construction and invoked per
// operation. Scripts fail closed: any script error rejects the submission.
type Script struct {
	mu     sync.Mutex // goja runtimes are not goroutine-safe
	vm     *goja.Runtime
	review goja.Callable
}

// NewScript compiles source and resolves its review function.
func NewScript(source string) (*Script, error) {
	vm := goja.New()
	if _, err := vm.RunString(source); err != nil {
		return nil, fmt.Errorf("compile policy script: %w", err)
	}
	review, ok := goja.AssertFunction(vm.Get("review"))
	if !ok {
		return nil, errors.New("policy script must define a review function")
	}
	return &Script{vm: vm, review: review}, nil
}

func (s *Script) Evaluate(ctx context.Context, sub Submission) (Decision, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	done := make(chan struct{})
	defer close(done)
	defer s.vm.ClearInterrupt()

	go func() {
		select {
		case <-ctx.Done():
			s.vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()

	val, err := s.review(goja.Undefined(), s.submissionValue(sub))
	if err != nil {
		if interruptedErr, ok := err.(*goja.InterruptedError); ok {
			if cause := interruptedErr.Unwrap(); cause != nil {
				return Decision{}, cause
			}
			return Decision{}, context.Canceled
		}
		return Decision{}, fmt.Errorf("policy script: %w", err)
	}
	return verdict(val)
}

func (s *Script) submissionValue(sub Submission) goja.Value {
	obj := s.vm.NewObject()
	obj.Set("primaryName", sub.PrimaryName)
	obj.Set("scope", sub.Scope)
	obj.Set("pageRange", sub.PageRange)

	files := make([]interface{}, len(sub.Files))
	for i, f := range sub.Files {
		fo := s.vm.NewObject()
		fo.Set("name", f.Name)
		fo.Set("size", f.Size)
		files[i] = fo
	}
	obj.Set("files", files)
	return obj
}

// verdict accepts a bare boolean or an {allow, reason} object. Anything else
// is an error, which the caller treats as a rejection.
func verdict(val goja.Value) (Decision, error) {
	switch v := val.Export().(type) {
	case bool:
		return Decision{Allow: v}, nil
	case map[string]interface{}:
		allow, ok := v["allow"].(bool)
		if !ok {
			return Decision{}, errors.New("policy verdict is missing a boolean allow")
		}
		d := Decision{Allow: allow}
		if reason, ok := v["reason"].(string); ok {
			d.Reason = reason
		}
		return d, nil
	default:
		return Decision{}, fmt.Errorf("policy verdict must be a boolean or an {allow, reason} object, got %T", v)
	}
}
