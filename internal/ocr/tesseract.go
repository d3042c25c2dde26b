package ocr

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/otiai10/gosseract/v2"
	"go.uber.org/zap"

	"github.com/mediscan/backend/internal/analysis"
	"github.com/mediscan/backend/internal/vision"
	"github.com/mediscan/backend/pkg/logger"
)

// TesseractEngine is the fallback tier, tuned for regular printed text.
// It consumes the binarized form of the normalized image.
type TesseractEngine struct {
	language string
	timeout  time.Duration

	// Tesseract's C API is not safe for concurrent use from one process
	// context; calls are serialized per engine instance.
	mu sync.Mutex
}

func NewTesseractEngine(language string, timeout time.Duration) *TesseractEngine {
	if language == "" {
		language = "eng"
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &TesseractEngine{language: language, timeout: timeout}
}

func (e *TesseractEngine) Name() string { return "tesseract" }

func (e *TesseractEngine) Recognize(ctx context.Context, img *vision.Normalized) (*Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		result *Result
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		result, err := e.recognize(img)
		done <- outcome{result, err}
	}()

	select {
	case <-ctx.Done():
		// A stalled engine call counts as a failure of that call.
		return nil, analysis.WrapError(analysis.KindEngineUnavailable, ctx.Err(), "tesseract call timed out")
	case o := <-done:
		return o.result, o.err
	}
}

func (e *TesseractEngine) recognize(img *vision.Normalized) (*Result, error) {
	data, err := vision.EncodePNG(img.Binary)
	if err != nil {
		return nil, analysis.WrapError(analysis.KindEngineUnavailable, err, "failed to encode image for tesseract")
	}

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(e.language); err != nil {
		return nil, analysis.WrapError(analysis.KindEngineUnavailable, err, "failed to set tesseract language")
	}
	if err := client.SetImageFromBytes(data); err != nil {
		return nil, analysis.WrapError(analysis.KindEngineUnavailable, err, "failed to set tesseract image")
	}

	text, err := client.Text()
	if err != nil {
		return nil, analysis.WrapError(analysis.KindEngineUnavailable, err, "tesseract recognition failed")
	}

	result := &Result{Text: strings.TrimSpace(text)}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		// Word boxes are best-effort; full text alone still counts, but
		// without per-word confidences the aggregate stays 0 and the
		// tier manager treats the result as low-information.
		logger.Debug("Tesseract bounding boxes unavailable", zap.Error(err))
		return result, nil
	}

	for _, box := range boxes {
		if box.Word == "" {
			continue
		}
		result.Fragments = append(result.Fragments, analysis.TextFragment{
			Text:       box.Word,
			Confidence: float64(box.Confidence) / 100.0,
			Bounds: analysis.Bounds{
				X1: box.Box.Min.X,
				Y1: box.Box.Min.Y,
				X2: box.Box.Max.X,
				Y2: box.Box.Max.Y,
			},
		})
	}

	return result, nil
}
