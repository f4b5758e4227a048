// Package attachtext implements attachment text extraction by content
// type for the Ingestion Pipeline's attachment-summarisation step
// (spec.md section 4.7 step 5; SPEC_FULL.md section 12: "Attachment text
// extraction by content type"). A priority-ranked, MIME-type-matched
// registry, adapted from the teacher's internal/normalisers registry.
package attachtext

import (
	"sort"
	"strings"

	"github.com/thunderrag/core/internal/bodyextract"
)

// Extractor turns one attachment's raw bytes into extractable plain text,
// or reports that none is available.
type Extractor interface {
	Extract(content []byte, mimeType string) (text string, ok bool)
	SupportedTypes() []string
	Priority() int
}

// Registry selects the highest-priority matching Extractor for a MIME
// type. Safe for concurrent use only for reads after construction; it is
// built once at startup and never mutated afterward in this service, so
// no locking is needed (unlike the teacher's registry, which supports
// runtime registration).
type Registry struct {
	extractors []Extractor
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds an extractor.
func (r *Registry) Register(e Extractor) {
	r.extractors = append(r.extractors, e)
}

// Get returns the best-matching extractor for mimeType, or nil.
func (r *Registry) Get(mimeType string) Extractor {
	matches := r.getAll(mimeType)
	if len(matches) == 0 {
		return nil
	}
	return matches[0]
}

// ExtractText runs the best-matching extractor for mimeType against
// content, returning ("", false) if no extractor matches or the
// extractor found nothing extractable (spec.md section 4.7 step 5's
// "no extractable text" case, e.g. a PDF or image attachment).
func (r *Registry) ExtractText(content []byte, mimeType string) (string, bool) {
	e := r.Get(mimeType)
	if e == nil {
		return "", false
	}
	return e.Extract(content, mimeType)
}

func (r *Registry) getAll(mimeType string) []Extractor {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if idx := strings.Index(mimeType, ";"); idx != -1 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}

	var matches []Extractor
	for _, e := range r.extractors {
		if matchesMIMEType(e.SupportedTypes(), mimeType) {
			matches = append(matches, e)
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Priority() > matches[j].Priority()
	})
	return matches
}

func matchesMIMEType(supportedTypes []string, mimeType string) bool {
	for _, supported := range supportedTypes {
		supported = strings.ToLower(strings.TrimSpace(supported))
		if supported == mimeType {
			return true
		}
		if strings.HasSuffix(supported, "/*") {
			prefix := supported[:len(supported)-1]
			if strings.HasPrefix(mimeType, prefix) {
				return true
			}
		}
		if supported == "*/*" {
			return true
		}
	}
	return false
}

// DefaultRegistry pre-registers the plaintext, HTML, and Markdown
// extractors (SPEC_FULL.md section 12).
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(&plaintextExtractor{})
	r.Register(&markdownExtractor{})
	r.Register(&htmlExtractor{})
	return r
}

type plaintextExtractor struct{}

func (plaintextExtractor) Extract(content []byte, mimeType string) (string, bool) {
	text := strings.TrimSpace(string(content))
	if text == "" {
		return "", false
	}
	return text, true
}

func (plaintextExtractor) SupportedTypes() []string { return []string{"text/plain"} }
func (plaintextExtractor) Priority() int             { return 10 }

type markdownExtractor struct{}

func (markdownExtractor) Extract(content []byte, mimeType string) (string, bool) {
	text := strings.TrimSpace(string(content))
	if text == "" {
		return "", false
	}
	return text, true
}

func (markdownExtractor) SupportedTypes() []string {
	return []string{"text/markdown", "text/x-markdown"}
}
func (markdownExtractor) Priority() int { return 20 }

// htmlExtractor reuses bodyextract's HTML tokenizer-based text reader
// rather than duplicating tag-stripping logic (spec.md section 4.3's
// tokenizer is already MIME-agnostic plain-text extraction once quote
// splitting is set aside).
type htmlExtractor struct{}

func (htmlExtractor) Extract(content []byte, mimeType string) (string, bool) {
	text := bodyextract.PlainTextFromHTML(string(content))
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	return text, true
}

func (htmlExtractor) SupportedTypes() []string { return []string{"text/html"} }
func (htmlExtractor) Priority() int             { return 20 }
