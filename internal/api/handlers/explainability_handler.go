package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/mediscan/backend/internal/analysis"
	"github.com/mediscan/backend/internal/pipeline"
	"github.com/mediscan/backend/pkg/logger"
)

type ExplainabilityHandler struct {
	pipeline *pipeline.Pipeline
}

func NewExplainabilityHandler(p *pipeline.Pipeline) *ExplainabilityHandler {
	return &ExplainabilityHandler{pipeline: p}
}

// Generate produces an explainability artifact on demand. Repeating the
// request regenerates and replaces the stored artifact.
func (h *ExplainabilityHandler) Generate(c *fiber.Ctx) error {
	var req struct {
		AnalysisID string `json:"analysis_id"`
		Method     string `json:"method"`
		UserID     string `json:"user_id"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.AnalysisID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "analysis_id is required",
		})
	}

	method, ok := analysis.ParseMethod(req.Method)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":      "Unknown explainability method",
			"error_kind": string(analysis.KindUnsupportedMethod),
		})
	}

	artifact, err := h.pipeline.GenerateExplainability(c.Context(), req.AnalysisID, req.UserID, method)
	if err != nil {
		logger.Error("Explainability generation failed",
			zap.String("analysis_id", req.AnalysisID),
			zap.String("method", req.Method),
			zap.Error(err),
		)
		return errorResponse(c, err)
	}

	return c.JSON(artifact)
}

// GetArtifact returns the stored artifact for one analysis and method.
func (h *ExplainabilityHandler) GetArtifact(c *fiber.Ctx) error {
	method, ok := analysis.ParseMethod(c.Params("method"))
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":      "Unknown explainability method",
			"error_kind": string(analysis.KindUnsupportedMethod),
		})
	}

	rec, err := h.pipeline.Get(c.Context(), c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}

	artifact, ok := rec.Artifact(method)
	if !ok {
		return errorResponse(c, analysis.NewError(analysis.KindNotFound,
			"no %s artifact for analysis %s", method, rec.ID))
	}
	return c.JSON(artifact)
}
