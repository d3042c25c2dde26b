package ocr

import (
	"context"

	"go.uber.org/zap"

	"github.com/mediscan/backend/internal/analysis"
	"github.com/mediscan/backend/internal/vision"
	"github.com/mediscan/backend/pkg/logger"
)

// TierManager runs the primary engine first and falls back when it errors
// or comes back under the confidence threshold. The fallback result is
// accepted only when it strictly improves on the primary; ties keep the
// primary because it is tuned for handwriting.
type TierManager struct {
	primary   Engine
	fallback  Engine
	threshold float64
}

func NewTierManager(primary, fallback Engine, threshold float64) *TierManager {
	if threshold <= 0 {
		threshold = 0.60
	}
	return &TierManager{primary: primary, fallback: fallback, threshold: threshold}
}

// Recognize returns the accepted OCR result. Both engines failing is not an
// error: the caller gets empty text at zero confidence and decides for
// itself, the same way a low-confidence result is handled.
func (t *TierManager) Recognize(ctx context.Context, img *vision.Normalized) (*analysis.OcrResult, error) {
	primary, primaryErr := t.runEngine(ctx, t.primary, analysis.EnginePrimary, img)
	if primaryErr == nil && primary.Confidence() >= t.threshold {
		return accepted(primary, analysis.EnginePrimary), nil
	}

	if primaryErr != nil {
		logger.Warn("Primary OCR engine failed, falling back",
			zap.String("engine", t.primary.Name()),
			zap.Error(primaryErr),
		)
	} else {
		logger.Info("Primary OCR confidence below threshold, trying fallback",
			zap.Float64("confidence", primary.Confidence()),
			zap.Float64("threshold", t.threshold),
		)
	}

	fallback, fallbackErr := t.runEngine(ctx, t.fallback, analysis.EngineFallback, img)

	switch {
	case primaryErr != nil && fallbackErr != nil:
		logger.Error("Both OCR engines failed",
			zap.NamedError("primary_error", primaryErr),
			zap.NamedError("fallback_error", fallbackErr),
		)
		return &analysis.OcrResult{Engine: analysis.EngineFallback}, nil
	case primaryErr != nil:
		return accepted(fallback, analysis.EngineFallback), nil
	case fallbackErr != nil:
		return accepted(primary, analysis.EnginePrimary), nil
	}

	// Both produced output below acceptance; keep whichever scored higher,
	// with the primary winning ties.
	if fallback.Confidence() > primary.Confidence() {
		return accepted(fallback, analysis.EngineFallback), nil
	}
	return accepted(primary, analysis.EnginePrimary), nil
}

// runEngine isolates a single engine call so a panic inside one tier reads
// as that tier failing rather than taking down the request.
func (t *TierManager) runEngine(ctx context.Context, e Engine, tag analysis.EngineTag, img *vision.Normalized) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = analysis.NewError(analysis.KindEngineUnavailable, "%s OCR engine panicked: %v", tag, r)
		}
	}()
	return e.Recognize(ctx, img)
}

func accepted(r *Result, tag analysis.EngineTag) *analysis.OcrResult {
	return &analysis.OcrResult{
		Text:       r.Text,
		Fragments:  r.Fragments,
		Confidence: r.Confidence(),
		Engine:     tag,
	}
}
