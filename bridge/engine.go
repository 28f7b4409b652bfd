package bridge

import (
	"bytes"
	"fmt"
)

// StampEngine is a development Engine. Instead of producing a real embedded
// document it appends a trailer to the primary buffer recording the scope and
// each attachment. The worker command and the examples run on it; deployments
// swap in an engine that performs actual embedding.
type StampEngine struct{}

func (StampEngine) Embed(req *Request) ([]byte, error) {
	if len(req.PrimaryDocument) == 0 {
		return nil, fmt.Errorf("empty primary document")
	}
	if len(req.Attachments) == 0 {
		return nil, fmt.Errorf("no attachments")
	}

	var out bytes.Buffer
	out.Grow(len(req.PrimaryDocument) + 64*len(req.Attachments))
	out.Write(req.PrimaryDocument)
	if req.PrimaryDocument[len(req.PrimaryDocument)-1] != '\n' {
		out.WriteByte('\n')
	}
	fmt.Fprintf(&out, "%%%%attach scope=%s", req.Scope)
	if req.PageRange != "" {
		fmt.Fprintf(&out, " pages=%s", req.PageRange)
	}
	out.WriteByte('\n')
	for _, att := range req.Attachments {
		if len(att.Data) == 0 {
			return nil, fmt.Errorf("attachment %q is empty", att.Name)
		}
		fmt.Fprintf(&out, "%%%%attached %s %d\n", att.Name, len(att.Data))
	}
	return out.Bytes(), nil
}
