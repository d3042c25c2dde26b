// Package ocr implements the two-tier text recognition engine. The primary
// engine is a vision model tuned for irregular and handwritten text; the
// fallback is Tesseract, which does better on clean printed documents. The
// tier manager owns the selection policy between them.
package ocr

import (
	"context"

	"github.com/mediscan/backend/internal/analysis"
	"github.com/mediscan/backend/internal/vision"
)

// Engine is one recognition backend. Implementations must be safe for
// sequential reuse; the tier manager serializes calls per instance.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, img *vision.Normalized) (*Result, error)
}

// Result is a single engine's raw output, before tier selection.
type Result struct {
	Text      string
	Fragments []analysis.TextFragment
}

// Confidence aggregates per-fragment confidences into one score: the mean
// across recognized fragments, or 0 when nothing was recognized.
func (r *Result) Confidence() float64 {
	if r == nil || len(r.Fragments) == 0 {
		return 0
	}
	var sum float64
	for _, f := range r.Fragments {
		sum += f.Confidence
	}
	return sum / float64(len(r.Fragments))
}
