// Package bodyextract implements the {new_text, quoted_text} split
// described in spec.md section 4.3: prefer text/plain, fall back to
// text/html with DOM-based tag stripping, then to everything after the
// header block; separate freshly written text from quoted/forwarded
// thread context.
package bodyextract

import (
	"regexp"
	"strings"

	"github.com/thunderrag/core/internal/mimeparse"
	"github.com/thunderrag/core/internal/textnorm"
)

// Result is the output of Extract.
type Result struct {
	NewText     string
	QuotedText  string
	Attachments []mimeparse.Part
}

var (
	originalMessageRE = regexp.MustCompile(`(?i)^-{3,}\s*original message\s*-{3,}\s*$`)
	forwardedRE       = regexp.MustCompile(`(?i)^begin forwarded message:\s*$`)
	onWroteRE         = regexp.MustCompile(`(?i)^on .+ wrote:\s*$`)
	fromLineRE        = regexp.MustCompile(`(?i)^from:.*@.*$`)
	attributionRE     = regexp.MustCompile(`:\s*$`)
)

// Extract parses raw RFC822 bytes and returns the new-vs-quoted text split
// plus collected attachment parts (spec.md section 4.3).
func Extract(raw []byte) (Result, error) {
	root, err := mimeparse.Parse(raw)
	if err != nil {
		return Result{}, err
	}

	leaves := root.Leaves()

	var plainText, htmlText string
	var attachments []mimeparse.Part
	for _, leaf := range leaves {
		if leaf.IsAttachment() {
			attachments = append(attachments, *leaf)
			continue
		}
		switch leaf.MimeType {
		case "text/plain":
			if plainText == "" {
				plainText = string(leaf.RawBody)
			}
		case "text/html":
			if htmlText == "" {
				htmlText = string(leaf.RawBody)
			}
		}
	}

	var newText, quotedText string
	switch {
	case plainText != "":
		newText, quotedText = splitPlainText(textnorm.Pipeline(plainText))
	case htmlText != "":
		newText, quotedText = htmlSplit(htmlText)
		newText = textnorm.Pipeline(newText)
		quotedText = textnorm.Pipeline(quotedText)
	default:
		newText = textnorm.Pipeline(everythingAfterHeaders(raw))
	}

	return Result{NewText: newText, QuotedText: quotedText, Attachments: attachments}, nil
}

func everythingAfterHeaders(raw []byte) string {
	normalized := strings.ReplaceAll(string(raw), "\r\n", "\n")
	if idx := strings.Index(normalized, "\n\n"); idx != -1 {
		return normalized[idx+2:]
	}
	return ""
}

// splitPlainText applies spec.md section 4.3's plain-text quote-detection
// heuristics: an explicit separator line switches every following line to
// quoted; absent one, trailing lines beginning with '>' are peeled off as
// quoted; an attribution line ending in ':' followed, past blank lines, by
// a '>'-quoted line also starts the quoted region.
func splitPlainText(text string) (newText, quotedText string) {
	lines := strings.Split(text, "\n")

	splitAt := -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if originalMessageRE.MatchString(trimmed) || forwardedRE.MatchString(trimmed) ||
			onWroteRE.MatchString(trimmed) || fromLineRE.MatchString(trimmed) {
			splitAt = i
			break
		}
	}

	if splitAt == -1 {
		splitAt = findAttributionSplit(lines)
	}

	if splitAt == -1 {
		return peelTrailingQuotes(lines)
	}

	newText = strings.TrimSpace(strings.Join(lines[:splitAt], "\n"))
	quotedText = strings.TrimSpace(strings.Join(lines[splitAt:], "\n"))
	return newText, quotedText
}

func findAttributionSplit(lines []string) int {
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || !attributionRE.MatchString(trimmed) {
			continue
		}
		j := i + 1
		for j < len(lines) && strings.TrimSpace(lines[j]) == "" {
			j++
		}
		if j < len(lines) && strings.HasPrefix(strings.TrimSpace(lines[j]), ">") {
			return i
		}
	}
	return -1
}

func peelTrailingQuotes(lines []string) (newText, quotedText string) {
	end := len(lines)
	for end > 0 && strings.HasPrefix(strings.TrimSpace(lines[end-1]), ">") {
		end--
	}
	newText = strings.TrimSpace(strings.Join(lines[:end], "\n"))
	quotedText = strings.TrimSpace(strings.Join(lines[end:], "\n"))
	return newText, quotedText
}
