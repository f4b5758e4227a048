package mimeparse

import (
	"mime"
	"strings"

	"github.com/thunderrag/core/internal/textnorm"
)

// IsAttachment reports whether a leaf part is an attachment: explicit
// Content-Disposition: attachment, or a filename/name parameter on either
// Content-Disposition or Content-Type (spec.md section 4.2).
func (p *Part) IsAttachment() bool {
	disposition := p.Headers.Get("content-disposition")
	if disposition != "" {
		dtype, params, err := mime.ParseMediaType(disposition)
		if err == nil {
			if strings.EqualFold(dtype, "attachment") {
				return true
			}
			if hasFilenameParam(params) {
				return true
			}
		}
	}
	_, ctParams, err := mime.ParseMediaType(p.Headers.Get("content-type"))
	if err == nil && hasFilenameParam(ctParams) {
		return true
	}
	return false
}

func hasFilenameParam(params map[string]string) bool {
	for key := range params {
		lower := strings.ToLower(key)
		if lower == "filename" || strings.HasPrefix(lower, "filename*") || lower == "name" || strings.HasPrefix(lower, "name*") {
			return true
		}
	}
	return false
}

// Filename extracts the attachment filename, preferring in order:
// filename*, filename, name*, name — decoding RFC2231 charset-encoded
// extended parameter values (spec.md section 4.2).
func (p *Part) Filename() string {
	disposition := p.Headers.Get("content-disposition")
	if name := filenameFromHeader(disposition); name != "" {
		return name
	}
	contentType := p.Headers.Get("content-type")
	return filenameFromHeader(contentType)
}

func filenameFromHeader(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	for _, key := range []string{"filename*", "filename", "name*", "name"} {
		if v, ok := params[key]; ok && v != "" {
			return decodeFilename(v)
		}
	}
	return ""
}

// decodeFilename applies RFC2047 decoding, matching spec.md section 4.2's
// harvesting rule. It does no percent-decoding itself: mime.ParseMediaType already
// resolves RFC2231 continuation/charset encoding for *-suffixed
// parameters, so this only needs to catch RFC2047 encoded-word filenames
// some MUAs still emit on the bare filename/name parameters.
func decodeFilename(v string) string {
	return textnorm.DecodeRFC2047(v)
}
