// Package page supplies the live host document to the change detector.
package page

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/pierrec/lz4/v4"
)

// ErrNoSnapshot is returned before a source has seen any document.
var ErrNoSnapshot = errors.New("no snapshot yet")

// maxDecodedSize bounds lz4 payloads after decompression.
const maxDecodedSize = 64 << 20

// Snapshot is one read of the host document.
type Snapshot struct {
	URL  string
	HTML string
}

// Document parses the snapshot HTML.
func (s Snapshot) Document() (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s.HTML))
	if err != nil {
		return nil, fmt.Errorf("parse document %s: %w", s.URL, err)
	}
	return doc, nil
}

// Source is a read-only view of the host document.
type Source interface {
	// URL returns the current document URL without reading the document.
	URL() string
	// Snapshot reads the current document.
	Snapshot(ctx context.Context) (Snapshot, error)
	// Mutations fires when the document structure may have changed. A nil
	// channel means the source cannot observe mutations.
	Mutations() <-chan struct{}
}

// DecodeHTML turns a wire payload into HTML. encoding is "" for plain text or
// "lz4" for a base64-encoded lz4 frame.
func DecodeHTML(payload, encoding string) (string, error) {
	switch encoding {
	case "", "identity":
		return payload, nil
	case "lz4":
		raw, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return "", fmt.Errorf("lz4 payload: %w", err)
		}
		return decompress(raw)
	}
	return "", fmt.Errorf("unsupported encoding %q", encoding)
}

// EncodeHTML is the inverse of DecodeHTML for encoding "lz4".
func EncodeHTML(html string) (string, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write([]byte(html)); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

func decompress(raw []byte) (string, error) {
	r := lz4.NewReader(bytes.NewReader(raw))
	data, err := io.ReadAll(io.LimitReader(r, maxDecodedSize+1))
	if err != nil {
		return "", fmt.Errorf("lz4 decompress: %w", err)
	}
	if len(data) > maxDecodedSize {
		return "", fmt.Errorf("lz4 decompress: document exceeds %d bytes", maxDecodedSize)
	}
	return string(data), nil
}
