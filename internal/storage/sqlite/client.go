package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/mediscan/backend/internal/analysis"
	"github.com/mediscan/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS analyses (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL,
		user_id TEXT,
		document_type TEXT NOT NULL,
		file_ref TEXT NOT NULL,
		ocr TEXT,
		entities TEXT,
		lab_results TEXT,
		classification TEXT,
		suggestions TEXT,
		imaging_advice TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_analyses_patient ON analyses(patient_id);
	CREATE INDEX IF NOT EXISTS idx_analyses_created ON analyses(created_at);

	CREATE TABLE IF NOT EXISTS explainability_artifacts (
		analysis_id TEXT NOT NULL,
		method TEXT NOT NULL,
		visualization_url TEXT NOT NULL,
		secondary_url TEXT,
		regional_importance TEXT,
		generated_at INTEGER NOT NULL,
		UNIQUE(analysis_id, method),
		FOREIGN KEY (analysis_id) REFERENCES analyses(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_artifacts_analysis ON explainability_artifacts(analysis_id);

	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		analysis_id TEXT,
		actor TEXT,
		action TEXT NOT NULL,
		detail TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_analysis ON audit_log(analysis_id);
	CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("Database schema initialized")
	return nil
}

// SaveAnalysis persists a completed record. Artifacts are stored through
// UpsertArtifact, not here.
func (c *Client) SaveAnalysis(ctx context.Context, rec *analysis.Record) error {
	ocrJSON, err := marshalNullable(rec.OCR)
	if err != nil {
		return fmt.Errorf("failed to marshal ocr result: %w", err)
	}
	entitiesJSON, err := json.Marshal(rec.Entities)
	if err != nil {
		return fmt.Errorf("failed to marshal entities: %w", err)
	}
	labsJSON, err := marshalNullable(rec.Labs)
	if err != nil {
		return fmt.Errorf("failed to marshal lab results: %w", err)
	}
	classJSON, err := marshalNullable(rec.Classification)
	if err != nil {
		return fmt.Errorf("failed to marshal classification: %w", err)
	}
	suggestionsJSON, err := marshalNullable(rec.Suggestions)
	if err != nil {
		return fmt.Errorf("failed to marshal suggestions: %w", err)
	}
	adviceJSON, err := marshalNullable(rec.ImagingAdvice)
	if err != nil {
		return fmt.Errorf("failed to marshal imaging advice: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO analyses (id, patient_id, user_id, document_type, file_ref, ocr, entities, lab_results, classification, suggestions, imaging_advice, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.PatientID, rec.UserID, string(rec.DocumentType), rec.FileRef,
		ocrJSON, string(entitiesJSON), labsJSON, classJSON, suggestionsJSON, adviceJSON, rec.Timestamp.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert analysis: %w", err)
	}
	return nil
}

// GetAnalysis loads one record with its artifacts attached.
func (c *Client) GetAnalysis(ctx context.Context, id string) (*analysis.Record, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, patient_id, user_id, document_type, file_ref, ocr, entities, lab_results, classification, suggestions, imaging_advice, created_at
		FROM analyses WHERE id = ?`, id)

	rec, err := scanAnalysis(row)
	if err == sql.ErrNoRows {
		return nil, analysis.NewError(analysis.KindNotFound, "analysis %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query analysis: %w", err)
	}

	artifacts, err := c.listArtifacts(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.Artifacts = artifacts
	return rec, nil
}

// ListByPatient returns a patient's analyses, newest first.
func (c *Client) ListByPatient(ctx context.Context, patientID string, limit int) ([]*analysis.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, patient_id, user_id, document_type, file_ref, ocr, entities, lab_results, classification, suggestions, imaging_advice, created_at
		FROM analyses WHERE patient_id = ? ORDER BY created_at DESC LIMIT ?`, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query patient analyses: %w", err)
	}
	defer rows.Close()

	var records []*analysis.Record
	for rows.Next() {
		rec, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, rec := range records {
		artifacts, err := c.listArtifacts(ctx, rec.ID)
		if err != nil {
			return nil, err
		}
		rec.Artifacts = artifacts
	}
	return records, nil
}

// UpsertArtifact inserts or replaces the artifact for its (analysis,
// method) key.
func (c *Client) UpsertArtifact(ctx context.Context, a analysis.ExplainabilityArtifact) error {
	importanceJSON, err := marshalNullable(a.RegionalImportance)
	if err != nil {
		return fmt.Errorf("failed to marshal regional importance: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO explainability_artifacts (analysis_id, method, visualization_url, secondary_url, regional_importance, generated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(analysis_id, method) DO UPDATE SET
			visualization_url = excluded.visualization_url,
			secondary_url = excluded.secondary_url,
			regional_importance = excluded.regional_importance,
			generated_at = excluded.generated_at`,
		a.AnalysisID, string(a.Method), a.VisualizationURL, a.SecondaryURL, importanceJSON, a.GeneratedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert artifact: %w", err)
	}
	return nil
}

// GetArtifact returns the stored artifact for one (analysis, method) key.
func (c *Client) GetArtifact(ctx context.Context, analysisID string, method analysis.Method) (analysis.ExplainabilityArtifact, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT analysis_id, method, visualization_url, secondary_url, regional_importance, generated_at
		FROM explainability_artifacts WHERE analysis_id = ? AND method = ?`, analysisID, string(method))

	a, err := scanArtifact(row)
	if err == sql.ErrNoRows {
		return analysis.ExplainabilityArtifact{}, analysis.NewError(analysis.KindNotFound,
			"artifact %s/%s not found", analysisID, method)
	}
	if err != nil {
		return analysis.ExplainabilityArtifact{}, fmt.Errorf("failed to query artifact: %w", err)
	}
	return a, nil
}

func (c *Client) listArtifacts(ctx context.Context, analysisID string) ([]analysis.ExplainabilityArtifact, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT analysis_id, method, visualization_url, secondary_url, regional_importance, generated_at
		FROM explainability_artifacts WHERE analysis_id = ? ORDER BY method`, analysisID)
	if err != nil {
		return nil, fmt.Errorf("failed to query artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []analysis.ExplainabilityArtifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

// AppendAudit records one processing event. Audit failures are logged and
// swallowed; the audit trail never fails a request.
func (c *Client) AppendAudit(ctx context.Context, analysisID, actor, action, detail string) {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO audit_log (analysis_id, actor, action, detail, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		analysisID, actor, action, detail, time.Now().Unix(),
	)
	if err != nil {
		logger.Error("Failed to append audit entry",
			zap.String("analysis_id", analysisID),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanAnalysis(row scannable) (*analysis.Record, error) {
	var rec analysis.Record
	var docType string
	var ocrJSON, entitiesJSON, labsJSON, classJSON, suggestionsJSON, adviceJSON sql.NullString
	var createdAt int64

	err := row.Scan(&rec.ID, &rec.PatientID, &rec.UserID, &docType, &rec.FileRef,
		&ocrJSON, &entitiesJSON, &labsJSON, &classJSON, &suggestionsJSON, &adviceJSON, &createdAt)
	if err != nil {
		return nil, err
	}

	rec.DocumentType = analysis.DocumentType(docType)
	rec.Timestamp = time.Unix(createdAt, 0).UTC()

	if ocrJSON.Valid {
		if err := json.Unmarshal([]byte(ocrJSON.String), &rec.OCR); err != nil {
			return nil, fmt.Errorf("corrupt ocr column: %w", err)
		}
	}
	if entitiesJSON.Valid {
		if err := json.Unmarshal([]byte(entitiesJSON.String), &rec.Entities); err != nil {
			return nil, fmt.Errorf("corrupt entities column: %w", err)
		}
	}
	if labsJSON.Valid {
		if err := json.Unmarshal([]byte(labsJSON.String), &rec.Labs); err != nil {
			return nil, fmt.Errorf("corrupt lab_results column: %w", err)
		}
	}
	if classJSON.Valid {
		if err := json.Unmarshal([]byte(classJSON.String), &rec.Classification); err != nil {
			return nil, fmt.Errorf("corrupt classification column: %w", err)
		}
	}
	if suggestionsJSON.Valid {
		if err := json.Unmarshal([]byte(suggestionsJSON.String), &rec.Suggestions); err != nil {
			return nil, fmt.Errorf("corrupt suggestions column: %w", err)
		}
	}
	if adviceJSON.Valid {
		if err := json.Unmarshal([]byte(adviceJSON.String), &rec.ImagingAdvice); err != nil {
			return nil, fmt.Errorf("corrupt imaging_advice column: %w", err)
		}
	}
	return &rec, nil
}

func scanArtifact(row scannable) (analysis.ExplainabilityArtifact, error) {
	var a analysis.ExplainabilityArtifact
	var method string
	var secondary, importance sql.NullString
	var generatedAt int64

	err := row.Scan(&a.AnalysisID, &method, &a.VisualizationURL, &secondary, &importance, &generatedAt)
	if err != nil {
		return a, err
	}

	a.Method = analysis.Method(method)
	a.SecondaryURL = secondary.String
	a.GeneratedAt = time.Unix(generatedAt, 0).UTC()
	if importance.Valid {
		if err := json.Unmarshal([]byte(importance.String), &a.RegionalImportance); err != nil {
			return a, fmt.Errorf("corrupt regional_importance column: %w", err)
		}
	}
	return a, nil
}

// marshalNullable renders nil pointers and empty collections as SQL NULL.
func marshalNullable(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case *analysis.OcrResult:
		if x == nil {
			return nil, nil
		}
	case *analysis.ClassificationResult:
		if x == nil {
			return nil, nil
		}
	case *analysis.DiagnosisSuggestion:
		if x == nil {
			return nil, nil
		}
	case *analysis.ImagingAdvice:
		if x == nil {
			return nil, nil
		}
	case []analysis.LabResult:
		if len(x) == 0 {
			return nil, nil
		}
	case map[string]float64:
		if len(x) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}
