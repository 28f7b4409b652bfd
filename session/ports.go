package session

import "context"

// FileHandle identifies a staged file. Content acquisition goes through the
// FileReader collaborator, never through the handle.
type FileHandle interface {
	Name() string
	Size() int64
}

// UINotifier is the UI surface the session reports through. HideProgress may
// be called without a preceding ShowProgress.
type UINotifier interface {
	ShowProgress(text string)
	HideProgress()
	ShowAlert(title, message string)
}

// ListingView is an optional upgrade of UINotifier for surfaces that render
// the pending selection. The session detects it with a type assertion at
// construction.
type ListingView interface {
	ShowStaged(names []string)
	ResetStaged()
}

// Downloader hands a finished document to the host environment for
// persistence.
type Downloader interface {
	Download(data []byte, suggestedName string)
}

// FileReader acquires the full content of a file. The returned buffer is
// owned by the caller.
type FileReader interface {
	ReadToBytes(ctx context.Context, handle FileHandle) ([]byte, error)
}

// DocumentSource reports the currently loaded primary document.
type DocumentSource interface {
	Current() (FileHandle, bool)
}
