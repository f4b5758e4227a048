// Package mimeparse turns raw RFC822 bytes into a tree of MIME parts:
// headers folded and merged into a case-insensitive map, body split from
// headers at the first blank line, multipart bodies recursively split on
// their boundary, and attachment filenames harvested per RFC2231/2047
// (spec.md section 4.2).
package mimeparse

import (
	"bufio"
	"bytes"
	"mime"
	"net/textproto"
	"strings"

	"github.com/thunderrag/core/internal/textnorm"
)

// Part is one node of the parsed MIME tree. Leaf parts (Parts == nil) carry
// RawBody; multipart parts carry Parts and an empty RawBody.
type Part struct {
	Headers  Headers
	RawBody  []byte
	Parts    []*Part
	MimeType string
}

// Headers is a case-insensitive header map merging duplicate names with
// ", " (spec.md section 4.2).
type Headers map[string]string

// Get returns the header value for name, case-insensitively, or "".
func (h Headers) Get(name string) string {
	return h[strings.ToLower(name)]
}

// Parse parses raw RFC822 bytes into the root Part, recursing into any
// multipart body.
func Parse(raw []byte) (*Part, error) {
	headers, body, err := splitHeaders(raw)
	if err != nil {
		return nil, err
	}
	return parsePart(headers, body)
}

func parsePart(headers Headers, body []byte) (*Part, error) {
	contentType := headers.Get("content-type")
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "text/plain"
		params = nil
	}
	if mediaType == "" {
		mediaType = "text/plain"
	}

	part := &Part{Headers: headers, MimeType: mediaType}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := decodeBoundary(params["boundary"])
		if boundary == "" {
			part.RawBody = body
			return part, nil
		}
		children, err := splitMultipart(body, boundary)
		if err != nil {
			part.RawBody = body
			return part, nil
		}
		for _, child := range children {
			childHeaders, childBody, err := splitHeaders(child)
			if err != nil {
				continue
			}
			childPart, err := parsePart(childHeaders, childBody)
			if err != nil {
				continue
			}
			part.Parts = append(part.Parts, childPart)
		}
		return part, nil
	}

	part.RawBody = decodeTransferEncoding(body, headers.Get("content-transfer-encoding"))
	return part, nil
}

// decodeBoundary applies RFC2231/2047 decoding to a boundary parameter
// value, per spec.md section 4.2.
func decodeBoundary(raw string) string {
	if raw == "" {
		return ""
	}
	return textnorm.DecodeRFC2047(textnorm.PercentDecode(raw))
}

func decodeTransferEncoding(body []byte, cte string) []byte {
	switch strings.ToLower(strings.TrimSpace(cte)) {
	case "quoted-printable":
		return []byte(textnorm.DecodeQuotedPrintable(string(body)))
	case "base64":
		decoded, err := textnorm.DecodeBase64Loose(string(body))
		if err != nil {
			return body
		}
		return decoded
	default:
		return body
	}
}

// splitHeaders parses header lines (handling folding) into a
// case-insensitive map, splitting from the body at the first blank line
// (spec.md section 4.2).
func splitHeaders(raw []byte) (Headers, []byte, error) {
	normalized := bytes.ReplaceAll(raw, []byte("\r\n"), []byte("\n"))
	idx := bytes.Index(normalized, []byte("\n\n"))
	var headerBlock, body []byte
	if idx == -1 {
		headerBlock = normalized
		body = nil
	} else {
		headerBlock = normalized[:idx]
		body = normalized[idx+2:]
	}

	reader := textproto.NewReader(bufio.NewReader(bytes.NewReader(append(headerBlock, '\n', '\n'))))
	mimeHeader, err := reader.ReadMIMEHeader()
	if err != nil && len(mimeHeader) == 0 {
		return Headers{}, body, nil
	}

	headers := make(Headers, len(mimeHeader))
	for name, values := range mimeHeader {
		headers[strings.ToLower(name)] = strings.Join(values, ", ")
	}
	return headers, body, nil
}

// splitMultipart splits body on "--boundary" delimiter lines, discarding
// the preamble and epilogue and stopping at the terminating
// "--boundary--" line (spec.md section 4.2).
func splitMultipart(body []byte, boundary string) ([][]byte, error) {
	delim := []byte("--" + boundary)
	var parts [][]byte
	rest := body
	for {
		idx := bytes.Index(rest, delim)
		if idx == -1 {
			break
		}
		rest = rest[idx+len(delim):]
		if bytes.HasPrefix(rest, []byte("--")) {
			break
		}
		rest = trimLeadingNewline(rest)

		next := bytes.Index(rest, delim)
		if next == -1 {
			parts = append(parts, rest)
			break
		}
		parts = append(parts, trimTrailingNewline(rest[:next]))
		rest = rest[next:]
	}
	return parts, nil
}

func trimLeadingNewline(b []byte) []byte {
	return bytes.TrimPrefix(b, []byte("\n"))
}

func trimTrailingNewline(b []byte) []byte {
	return bytes.TrimSuffix(b, []byte("\n"))
}

// Leaves returns every leaf part (RawBody-bearing) in depth-first order.
func (p *Part) Leaves() []*Part {
	if len(p.Parts) == 0 {
		return []*Part{p}
	}
	var out []*Part
	for _, child := range p.Parts {
		out = append(out, child.Leaves()...)
	}
	return out
}
