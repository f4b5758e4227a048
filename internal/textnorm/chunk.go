package textnorm

import "strings"

// ChunkConfig configures ChunkText (spec.md section 4.7 step 6).
type ChunkConfig struct {
	// MaxChunkSize is the maximum characters per chunk.
	MaxChunkSize int

	// Overlap is the character overlap carried from the end of one chunk
	// into the start of the next.
	Overlap int
}

// DefaultChunkConfig mirrors spec.md's stated chunking defaults for
// text_for_index.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{MaxChunkSize: 1000, Overlap: 200}
}

// ChunkText splits text into overlapping chunks, preferring to break at a
// paragraph boundary, then a sentence boundary, then a word boundary,
// falling back to a hard cut only when none of those exist within the
// trailing search window (spec.md section 4.7 step 6).
func ChunkText(text string, cfg ChunkConfig) []string {
	if text == "" {
		return nil
	}
	if len(text) <= cfg.MaxChunkSize {
		if trimmed := strings.TrimSpace(text); trimmed != "" {
			return []string{trimmed}
		}
		return nil
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + cfg.MaxChunkSize
		if end > len(text) {
			end = len(text)
		}
		if end < len(text) {
			if bp := findBreakPoint(text, start, end); bp > start {
				end = bp
			}
		}

		if trimmed := strings.TrimSpace(text[start:end]); trimmed != "" {
			chunks = append(chunks, trimmed)
		}

		if end >= len(text) {
			break
		}

		next := end - cfg.Overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks
}

// findBreakPoint searches the trailing 100 characters of [start,maxEnd)
// for a paragraph, sentence, then word boundary to break on.
func findBreakPoint(text string, start, maxEnd int) int {
	searchStart := maxEnd - 100
	if searchStart < start {
		searchStart = start
	}
	window := text[searchStart:maxEnd]

	if idx := strings.LastIndex(window, "\n\n"); idx != -1 {
		return searchStart + idx + 2
	}

	enders := []string{". ", "! ", "? ", ".\n", "!\n", "?\n"}
	best := -1
	for _, e := range enders {
		if idx := strings.LastIndex(window, e); idx != -1 {
			if endPos := idx + len(e); endPos > best {
				best = endPos
			}
		}
	}
	if best > 0 {
		return searchStart + best
	}

	if idx := strings.LastIndex(window, " "); idx != -1 {
		return searchStart + idx + 1
	}

	return maxEnd
}
