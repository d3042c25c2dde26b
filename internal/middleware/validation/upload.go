// Package validation rejects malformed uploads before they reach the
// pipeline.
package validation

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/mediscan/backend/internal/analysis"
)

const maxUploadBytes = 20 << 20

// Upload checks the request shape for the processing endpoints: multipart
// encoding, a known document type, and a sane size. Image content itself
// is validated by the decoder downstream.
func Upload() fiber.Handler {
	return func(c *fiber.Ctx) error {
		contentType := string(c.Request().Header.ContentType())
		if !strings.HasPrefix(contentType, "multipart/form-data") {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":      "Expected multipart form data",
				"error_kind": string(analysis.KindInput),
			})
		}

		if len(c.Body()) > maxUploadBytes {
			return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
				"error":      "Upload exceeds size limit",
				"error_kind": string(analysis.KindInput),
			})
		}

		docType := analysis.DocumentType(c.FormValue("document_type"))
		if !docType.Valid() {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":      "document_type must be one of: prescription, lab_report, xray, mri, ct",
				"error_kind": string(analysis.KindInput),
			})
		}
		return c.Next()
	}
}
