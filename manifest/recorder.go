package manifest

import (
	"context"
	"sync"

	"github.com/wudi/attachkit/session"
)

// Recorder is a FileReader decorator that fingerprints every buffer it
// hands out. Buffer ownership moves to the caller, so the digest has to be
// taken here; the report is assembled from the records afterwards.
type Recorder struct {
	next session.FileReader

	mu    sync.Mutex
	files []File
}

var _ session.FileReader = (*Recorder)(nil)

// NewRecorder wraps next.
func NewRecorder(next session.FileReader) *Recorder {
	return &Recorder{next: next}
}

func (r *Recorder) ReadToBytes(ctx context.Context, h session.FileHandle) ([]byte, error) {
	data, err := r.next.ReadToBytes(ctx, h)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.files = append(r.files, File{Name: h.Name(), Size: int64(len(data)), Digest: Digest(data)})
	r.mu.Unlock()
	return data, nil
}

// Take returns the records in read order and resets the recorder. The first
// record of an attach operation is the primary document, the rest are the
// staged files.
func (r *Recorder) Take() []File {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.files
	r.files = nil
	return out
}
