// Package manifest renders an audit report for one completed attach
// operation.
package manifest

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// File records one transferred buffer. The digest is taken at read time;
// after dispatch the buffer itself is gone.
type File struct {
	Name   string
	Size   int64
	Digest string
}

// Operation describes a finished attach operation.
type Operation struct {
	Primary     string
	Output      string
	Scope       string
	PageRange   string
	CompletedAt time.Time
	Files       []File
}

// Report carries the rendered forms of an Operation.
type Report struct {
	Markdown string
	HTML     string
}

// Digest returns the hex BLAKE2b-256 digest of data.
func Digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Build renders op as Markdown and converts it to HTML.
func Build(op Operation) (Report, error) {
	md := renderMarkdown(op)
	var buf bytes.Buffer
	if err := goldmark.New().Convert([]byte(md), &buf); err != nil {
		return Report{}, fmt.Errorf("render manifest: %w", err)
	}
	return Report{Markdown: md, HTML: buf.String()}, nil
}

func renderMarkdown(op Operation) string {
	var sb strings.Builder
	sb.WriteString("# Attachment report\n\n")
	fmt.Fprintf(&sb, "- Primary document: %s\n", op.Primary)
	fmt.Fprintf(&sb, "- Output: %s\n", op.Output)
	fmt.Fprintf(&sb, "- Scope: %s\n", op.Scope)
	if op.PageRange != "" {
		fmt.Fprintf(&sb, "- Page range: %s\n", op.PageRange)
	}
	fmt.Fprintf(&sb, "- Completed: %s\n", op.CompletedAt.Format(time.RFC3339))
	sb.WriteString("\n## Attached files\n\n")
	for i, f := range op.Files {
		fmt.Fprintf(&sb, "%d. `%s` (%d bytes, blake2b-256 `%s`)\n", i+1, f.Name, f.Size, f.Digest)
	}
	return sb.String()
}

// PlainText extracts the text content of rendered HTML for terminal
// display, one line per block element.
func PlainText(source string) (string, error) {
	doc, err := html.Parse(strings.NewReader(source))
	if err != nil {
		return "", fmt.Errorf("parse manifest html: %w", err)
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.P, atom.Li, atom.Ul, atom.Ol, atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
				sb.WriteString("\n")
			}
		}
	}
	walk(doc)
	return strings.TrimSpace(sb.String()), nil
}
