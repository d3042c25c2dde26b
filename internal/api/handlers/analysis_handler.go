package handlers

import (
	"io"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/mediscan/backend/internal/analysis"
	"github.com/mediscan/backend/internal/pipeline"
	"github.com/mediscan/backend/pkg/logger"
)

type AnalysisHandler struct {
	pipeline *pipeline.Pipeline
}

func NewAnalysisHandler(p *pipeline.Pipeline) *AnalysisHandler {
	return &AnalysisHandler{pipeline: p}
}

// ProcessDocument accepts one document as multipart form data and runs the
// full analysis pipeline on it.
func (h *AnalysisHandler) ProcessDocument(c *fiber.Ctx) error {
	req := analysis.Request{
		DocumentType: analysis.DocumentType(c.FormValue("document_type")),
		PatientID:    c.FormValue("patient_id"),
		UserID:       c.FormValue("user_id"),
	}

	data, filename, err := formFile(c, "file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "A document file is required",
		})
	}

	rec, err := h.pipeline.Process(c.Context(), req, data, filename)
	if err != nil {
		logger.Error("Document analysis failed",
			zap.String("document_type", string(req.DocumentType)),
			zap.Error(err),
		)
		return errorResponse(c, err)
	}

	return c.JSON(rec.UIView())
}

// ProcessBatch accepts several documents in one request. Form fields apply
// to every file; each file succeeds or fails on its own.
func (h *AnalysisHandler) ProcessBatch(c *fiber.Ctx) error {
	form, err := c.MultipartForm()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid multipart form",
		})
	}

	files := form.File["files"]
	if len(files) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "At least one file is required",
		})
	}

	req := analysis.Request{
		DocumentType: analysis.DocumentType(c.FormValue("document_type")),
		PatientID:    c.FormValue("patient_id"),
		UserID:       c.FormValue("user_id"),
	}

	items := make([]pipeline.BatchItem, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Failed to read uploaded file",
			})
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Failed to read uploaded file",
			})
		}
		items = append(items, pipeline.BatchItem{Request: req, Data: data, Filename: fh.Filename})
	}

	results := h.pipeline.ProcessBatch(c.Context(), items)

	out := make([]fiber.Map, len(results))
	for i, r := range results {
		entry := fiber.Map{"index": r.Index, "filename": files[i].Filename}
		if r.Err != nil {
			entry["status"] = "error"
			entry["error"] = r.Err.Error()
			entry["error_kind"] = string(analysis.KindOf(r.Err))
		} else {
			entry["status"] = "ok"
			entry["analysis"] = r.Record.UIView()
		}
		out[i] = entry
	}

	return c.JSON(fiber.Map{"results": out})
}

// GetAnalysis returns one stored analysis in dashboard form.
func (h *AnalysisHandler) GetAnalysis(c *fiber.Ctx) error {
	rec, err := h.pipeline.Get(c.Context(), c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(rec.UIView())
}

// GetPatientAnalyses lists a patient's history, newest first.
func (h *AnalysisHandler) GetPatientAnalyses(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)

	records, err := h.pipeline.ListByPatient(c.Context(), c.Params("id"), limit)
	if err != nil {
		return errorResponse(c, err)
	}

	out := make([]map[string]interface{}, len(records))
	for i, rec := range records {
		out[i] = rec.UIView()
	}
	return c.JSON(fiber.Map{
		"patient_id": c.Params("id"),
		"analyses":   out,
	})
}

func formFile(c *fiber.Ctx, field string) ([]byte, string, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return nil, "", err
	}
	f, err := fh.Open()
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", err
	}
	return data, fh.Filename, nil
}

// errorResponse maps the error taxonomy onto HTTP statuses.
func errorResponse(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch analysis.KindOf(err) {
	case analysis.KindInput, analysis.KindUnsupportedMethod:
		status = fiber.StatusBadRequest
	case analysis.KindNotFound:
		status = fiber.StatusNotFound
	case analysis.KindEngineUnavailable:
		status = fiber.StatusServiceUnavailable
	}

	body := fiber.Map{"error": err.Error()}
	if kind := analysis.KindOf(err); kind != "" {
		body["error_kind"] = string(kind)
	}
	return c.Status(status).JSON(body)
}
