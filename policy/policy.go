// Package policy gates attach submissions before any file content is read.
package policy

import "context"

// FileInfo describes one staged file as submitted for review.
type FileInfo struct {
	Name string
	Size int64
}

// Submission is the attach operation as seen by an admission policy.
// Metadata only; file content is never exposed to policies.
type Submission struct {
	PrimaryName string
	Scope       string
	PageRange   string
	Files       []FileInfo
}

// Decision is a policy verdict. Reason is shown to the user when Allow is
// false.
type Decision struct {
	Allow  bool
	Reason string
}

// Policy reviews a submission before buffers are acquired.
type Policy interface {
	Evaluate(ctx context.Context, sub Submission) (Decision, error)
}

// Func adapts a plain function to Policy.
type Func func(ctx context.Context, sub Submission) (Decision, error)

func (f Func) Evaluate(ctx context.Context, sub Submission) (Decision, error) {
	return f(ctx, sub)
}
