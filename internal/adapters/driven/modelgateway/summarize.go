package modelgateway

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/thunderrag/core/internal/core/ports/driven"
)

// convergence band bounds (spec.md section 4.6).
const (
	minShrinkRatio = 0.50
	maxShrinkRatio = 0.75
)

var summarizePrompts = map[string]string{
	"new":        "Summarize the following newly-written email content, preserving names, dates, and action items:",
	"quoted":     "Summarize the following quoted/forwarded email thread context, preserving the key facts:",
	"attachment": "Summarize the following attachment text, preserving names, dates, and figures:",
	"evidence":   "Summarize the following email so it still answers likely follow-up questions, preserving names, dates, and figures:",
}

// SummarizeToFit recursively summarizes text until it fits within
// targetTokens (interpreted as target characters, matching spec.md
// section 4.6's target_chars), honoring the convergence band: a pass
// that shrinks by less than 25% is non-progressing and returns the
// current text; a pass that would shrink by more than 50% has its
// target raised to preserve information. Terminates within
// ceil(log2(|text|/target))+2 passes.
func (g *Gateway) SummarizeToFit(ctx context.Context, text string, targetTokens int) (string, error) {
	return g.SummarizeToFitKind(ctx, "evidence", text, targetTokens)
}

// SummarizeToFitKind exposes the kind-parameterised form spec.md section
// 4.6 and section 4.7 call with (kind=new, quoted, attachment, evidence),
// each selecting a different summarization prompt.
func (g *Gateway) SummarizeToFitKind(ctx context.Context, kind string, text string, targetChars int) (string, error) {
	if targetChars <= 0 || len(text) <= targetChars {
		return text, nil
	}

	maxPasses := maxPassesFor(len(text), targetChars)
	current := text

	for pass := 0; pass < maxPasses; pass++ {
		if len(current) <= targetChars {
			return current, nil
		}

		segments := splitSegments(current, g.segmentSize())
		candidate, err := g.summarizeSegments(ctx, kind, segments, 0)
		if err != nil {
			return "", err
		}

		ratio := 1.0
		if len(current) > 0 {
			ratio = float64(len(candidate)) / float64(len(current))
		}

		if ratio > g.maxShrinkRatio() {
			// Non-progressing pass: shrank by less than 25%. Return the
			// current text rather than looping without making progress.
			return current, nil
		}
		if ratio < g.minShrinkRatio() {
			// Shrank by more than 50%; the pass over-compressed. Raise the
			// target for this pass to the top of the convergence band and
			// re-summarize, so the result preserves more information than
			// the discarded candidate.
			raisedTarget := int(float64(len(current)) * g.maxShrinkRatio())
			retried, err := g.summarizeSegments(ctx, kind, segments, raisedTarget)
			if err != nil {
				return "", err
			}
			current = retried
			continue
		}

		current = candidate
	}

	return current, nil
}

func (g *Gateway) minShrinkRatio() float64 {
	if g.cfg.MinShrinkRatio > 0 {
		return g.cfg.MinShrinkRatio
	}
	return minShrinkRatio
}

func (g *Gateway) maxShrinkRatio() float64 {
	if g.cfg.MaxShrinkRatio > 0 {
		return g.cfg.MaxShrinkRatio
	}
	return maxShrinkRatio
}

func (g *Gateway) segmentSize() int {
	if g.cfg.SummarizeMaxInputChars > 0 {
		return g.cfg.SummarizeMaxInputChars
	}
	return 8000
}

// summarizeSegments summarizes each of segments independently and joins the
// results. A positive approxTargetChars instructs the model to aim for that
// length instead of compressing freely, used to re-run an over-compressing
// pass at a raised target (spec.md section 4.6).
func (g *Gateway) summarizeSegments(ctx context.Context, kind string, segments []string, approxTargetChars int) (string, error) {
	var summarized []string
	for _, seg := range segments {
		summary, err := g.summarizeSegment(ctx, kind, seg, approxTargetChars)
		if err != nil {
			return "", err
		}
		summarized = append(summarized, summary)
	}
	return strings.Join(summarized, "\n\n"), nil
}

func (g *Gateway) summarizeSegment(ctx context.Context, kind, segment string, approxTargetChars int) (string, error) {
	prompt, ok := summarizePrompts[kind]
	if !ok {
		prompt = summarizePrompts["evidence"]
	}
	if approxTargetChars > 0 {
		prompt = fmt.Sprintf("%s Aim for approximately %d characters; do not over-compress.", prompt, approxTargetChars)
	}
	messages := []driven.ChatMessage{
		{Role: "system", Content: prompt},
		{Role: "user", Content: segment},
	}
	summary, err := g.chat(ctx, "summary", messages)
	if err != nil {
		return "", err
	}
	if summary == "" {
		return "", fmt.Errorf("summarization provider returned empty output")
	}
	return summary, nil
}

// splitSegments splits text into chunks no larger than maxSize, per
// spec.md section 4.6's "split text into segments no larger than
// summarize_max_input_chars".
func splitSegments(text string, maxSize int) []string {
	if maxSize <= 0 || len(text) <= maxSize {
		return []string{text}
	}
	var segments []string
	for start := 0; start < len(text); start += maxSize {
		end := start + maxSize
		if end > len(text) {
			end = len(text)
		}
		segments = append(segments, text[start:end])
	}
	return segments
}

// maxPassesFor computes ceil(log2(len/target)) + 2, the termination
// bound spec.md section 4.6 and section 8's "Compression convergence"
// property guarantee.
func maxPassesFor(length, target int) int {
	if target <= 0 {
		target = 1
	}
	ratio := float64(length) / float64(target)
	if ratio <= 1 {
		return 1
	}
	return int(math.Ceil(math.Log2(ratio))) + 2
}
