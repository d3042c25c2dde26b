package ocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/mediscan/backend/internal/analysis"
	"github.com/mediscan/backend/internal/vision"
	"github.com/mediscan/backend/pkg/circuitbreaker"
	"github.com/mediscan/backend/pkg/logger"
	"github.com/mediscan/backend/pkg/retry"
)

// visionPrompt asks the model for structured output so the confidence can
// flow into tier selection instead of being guessed client-side.
const visionPrompt = `You are a medical document transcription system. Extract ALL text from this document image exactly as written, including handwritten text.

Rules:
- Preserve line breaks and reading order.
- Transcribe drug names, dosages and abbreviations verbatim; do not expand or correct them.
- If a word is illegible, transcribe it as [illegible].

Respond with a JSON object:
{"full_text": "<the complete transcription>", "confidence": <0.0-1.0, your overall confidence in the transcription>, "is_handwritten": <true|false>}`

type visionResponse struct {
	FullText      string  `json:"full_text"`
	Confidence    float64 `json:"confidence"`
	IsHandwritten bool    `json:"is_handwritten"`
}

// VisionEngine is the primary tier: a multimodal model that handles the
// irregular handwriting common on prescriptions.
type VisionEngine struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	breaker *circuitbreaker.CircuitBreaker
	retry   retry.Config
}

func NewVisionEngine(apiKey, model string, timeout time.Duration) (*VisionEngine, error) {
	if apiKey == "" {
		return nil, analysis.NewError(analysis.KindEngineUnavailable, "vision OCR API key not configured")
	}
	if model == "" {
		model = openai.GPT4o
	}
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.Logger = logger.GetLogger()

	return &VisionEngine{
		client:  openai.NewClient(apiKey),
		model:   model,
		timeout: timeout,
		breaker: circuitbreaker.New("vision-ocr", circuitbreaker.Config{
			Logger: logger.GetLogger(),
		}),
		retry: retryCfg,
	}, nil
}

func (e *VisionEngine) Name() string { return "vision" }

func (e *VisionEngine) Recognize(ctx context.Context, img *vision.Normalized) (*Result, error) {
	data, err := vision.EncodePNG(img.RGB)
	if err != nil {
		return nil, analysis.WrapError(analysis.KindEngineUnavailable, err, "failed to encode image for vision OCR")
	}
	dataURL := fmt.Sprintf("data:image/png;base64,%s", base64.StdEncoding.EncodeToString(data))

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var parsed visionResponse
	call := func() error {
		return e.breaker.Execute(ctx, func() error {
			resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
				Model: e.model,
				Messages: []openai.ChatCompletionMessage{
					{
						Role: openai.ChatMessageRoleUser,
						MultiContent: []openai.ChatMessagePart{
							{Type: openai.ChatMessagePartTypeText, Text: visionPrompt},
							{
								Type:     openai.ChatMessagePartTypeImageURL,
								ImageURL: &openai.ChatMessageImageURL{URL: dataURL, Detail: openai.ImageURLDetailHigh},
							},
						},
					},
				},
				ResponseFormat: &openai.ChatCompletionResponseFormat{
					Type: openai.ChatCompletionResponseFormatTypeJSONObject,
				},
				Temperature: 0.0,
			})
			if err != nil {
				return err
			}
			if len(resp.Choices) == 0 {
				return fmt.Errorf("vision model returned no choices")
			}
			content := resp.Choices[0].Message.Content
			if err := json.Unmarshal([]byte(content), &parsed); err != nil {
				// A malformed body will not improve on retry.
				return retry.Permanent(fmt.Errorf("unparseable vision response: %w", err))
			}
			return nil
		})
	}

	if err := retry.Do(ctx, e.retry, call); err != nil {
		return nil, analysis.WrapError(analysis.KindEngineUnavailable, err, "vision OCR request failed")
	}

	logger.Debug("Vision OCR completed",
		zap.Float64("confidence", parsed.Confidence),
		zap.Bool("is_handwritten", parsed.IsHandwritten),
	)

	return resultFromTranscript(parsed.FullText, clamp01(parsed.Confidence)), nil
}

// resultFromTranscript splits a transcript into line fragments, each carrying
// the model's overall confidence. The vision tier has no word geometry, so
// bounds stay zero.
func resultFromTranscript(text string, confidence float64) *Result {
	text = strings.TrimSpace(text)
	result := &Result{Text: text}
	if text == "" {
		return result
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		result.Fragments = append(result.Fragments, analysis.TextFragment{
			Text:       trimmed,
			Confidence: confidence,
		})
	}
	return result
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
