package bridge

// commandEmbed tags every request sent over the channel; the engine rejects
// anything else.
const commandEmbed = "embedAttachments"

// Attachment pairs a user-visible file name with the bytes to embed. Index
// order is load-bearing: the engine correlates names and buffers by position.
type Attachment struct {
	Name string
	Data []byte
}

// Request is the immutable message sent to the mutation engine, one per
// attach operation. Buffer ownership transfers with the request: the sender
// must not read PrimaryDocument or any Attachment data after dispatch.
type Request struct {
	// ID correlates the request with its response on transports that
	// interleave traffic. Assigned by the caller; Apply fills a fresh one
	// when left empty.
	ID string

	PrimaryDocument []byte
	Attachments     []Attachment

	// Scope is "document" or "page" on the wire.
	Scope string
	// PageRange is forwarded verbatim; the engine owns range-syntax
	// semantics. Empty unless Scope is "page".
	PageRange string
}

// wireRequest is the JSON-lines form of a Request. encoding/json carries
// []byte fields as base64 strings, which keeps binary payloads line-safe.
type wireRequest struct {
	Command           string   `json:"command"`
	ID                string   `json:"id"`
	PrimaryDocument   []byte   `json:"primaryDocumentBuffer"`
	AttachmentNames   []string `json:"attachmentNames"`
	AttachmentBuffers [][]byte `json:"attachmentBuffers"`
	Scope             string   `json:"scope"`
	PageRange         string   `json:"pageRange"`
}

const (
	statusSuccess = "success"
	statusError   = "error"
)

// wireResponse is the JSON-lines form of an engine outcome. Exactly one is
// produced per request; a worker that dies instead produces none, which the
// transport reports as a channel failure.
type wireResponse struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Data    []byte `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func encodeRequest(req *Request) wireRequest {
	names := make([]string, len(req.Attachments))
	buffers := make([][]byte, len(req.Attachments))
	for i, att := range req.Attachments {
		names[i] = att.Name
		buffers[i] = att.Data
	}
	return wireRequest{
		Command:           commandEmbed,
		ID:                req.ID,
		PrimaryDocument:   req.PrimaryDocument,
		AttachmentNames:   names,
		AttachmentBuffers: buffers,
		Scope:             req.Scope,
		PageRange:         req.PageRange,
	}
}

func decodeRequest(wire *wireRequest) *Request {
	attachments := make([]Attachment, len(wire.AttachmentBuffers))
	for i, data := range wire.AttachmentBuffers {
		name := ""
		if i < len(wire.AttachmentNames) {
			name = wire.AttachmentNames[i]
		}
		attachments[i] = Attachment{Name: name, Data: data}
	}
	return &Request{
		ID:              wire.ID,
		PrimaryDocument: wire.PrimaryDocument,
		Attachments:     attachments,
		Scope:           wire.Scope,
		PageRange:       wire.PageRange,
	}
}
