// Package pipeline orchestrates document analysis end to end: store the
// upload, run the path the document type calls for, assemble the record,
// and persist it. Prescriptions and lab reports take the text path (OCR
// plus entity extraction); radiology images take the image path
// (classification plus an eager attention heatmap).
package pipeline

import (
	"context"
	"fmt"
	"image"
	"path"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mediscan/backend/internal/analysis"
	"github.com/mediscan/backend/internal/explain"
	"github.com/mediscan/backend/internal/metrics"
	"github.com/mediscan/backend/internal/nlp"
	"github.com/mediscan/backend/internal/realtime"
	"github.com/mediscan/backend/internal/suggest"
	"github.com/mediscan/backend/internal/vision"
	"github.com/mediscan/backend/pkg/logger"
	"github.com/mediscan/backend/pkg/utils"
)

// Recognizer is the OCR tier manager's surface the pipeline depends on.
type Recognizer interface {
	Recognize(ctx context.Context, img *vision.Normalized) (*analysis.OcrResult, error)
}

// ImageClassifier scores a radiology image.
type ImageClassifier interface {
	Classify(img image.Image) (*analysis.ClassificationResult, error)
}

// Store is the persistent record of analyses.
type Store interface {
	SaveAnalysis(ctx context.Context, rec *analysis.Record) error
	GetAnalysis(ctx context.Context, id string) (*analysis.Record, error)
	ListByPatient(ctx context.Context, patientID string, limit int) ([]*analysis.Record, error)
	AppendAudit(ctx context.Context, analysisID, actor, action, detail string)
}

// Cache is an optional read-through layer over Store.
type Cache interface {
	SetAnalysis(ctx context.Context, rec *analysis.Record) error
	GetAnalysis(ctx context.Context, id string) (*analysis.Record, bool, error)
	InvalidateAnalysis(ctx context.Context, id string) error
}

// Objects holds original documents so explainability can re-read them.
type Objects interface {
	PutDocument(ctx context.Context, name string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, name string) ([]byte, error)
}

type Pipeline struct {
	recognizer Recognizer
	extractor  *nlp.Extractor
	classifier ImageClassifier
	explainer  *explain.Service
	store      Store
	cache      Cache
	objects    Objects
	hub        *realtime.Hub

	batchWorkers int
}

type Options struct {
	Recognizer Recognizer
	Extractor  *nlp.Extractor
	Classifier ImageClassifier
	Explainer  *explain.Service
	Store      Store
	Cache      Cache
	Objects    Objects
	Hub        *realtime.Hub

	// BatchWorkers caps concurrent documents in a batch request.
	BatchWorkers int
}

func New(opts Options) *Pipeline {
	if opts.BatchWorkers <= 0 {
		opts.BatchWorkers = 4
	}
	return &Pipeline{
		recognizer:   opts.Recognizer,
		extractor:    opts.Extractor,
		classifier:   opts.Classifier,
		explainer:    opts.Explainer,
		store:        opts.Store,
		cache:        opts.Cache,
		objects:      opts.Objects,
		hub:          opts.Hub,
		batchWorkers: opts.BatchWorkers,
	}
}

// Process analyzes one document and returns the persisted record.
func (p *Pipeline) Process(ctx context.Context, req analysis.Request, data []byte, filename string) (*analysis.Record, error) {
	start := time.Now()

	if err := validate(req, data); err != nil {
		return nil, err
	}

	img, err := vision.Decode(data)
	if err != nil {
		return nil, err
	}

	rec := &analysis.Record{
		ID:           uuid.New().String(),
		PatientID:    req.PatientID,
		UserID:       req.UserID,
		DocumentType: req.DocumentType,
		Entities:     []analysis.MedicalEntity{},
		Timestamp:    time.Now().UTC(),
	}

	objectName := uploadObjectName(rec.ID, filename)
	if _, err := p.objects.PutDocument(ctx, objectName, data, contentTypeFor(filename)); err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}
	rec.FileRef = objectName

	p.stage(rec, "received")
	// The digest ties the audit entry to the exact bytes analyzed.
	p.store.AppendAudit(ctx, rec.ID, req.UserID, "analysis_started",
		fmt.Sprintf("type=%s digest=%s", req.DocumentType, utils.HashString(string(data))))

	switch {
	case req.DocumentType.HasTextPath():
		err = p.runTextPath(ctx, rec, img)
	case req.DocumentType.HasImagePath():
		err = p.runImagePath(ctx, rec, img)
	}
	if err != nil {
		metrics.AnalysisTotal.WithLabelValues(string(req.DocumentType), "error").Inc()
		p.store.AppendAudit(ctx, rec.ID, req.UserID, "analysis_failed", err.Error())
		if p.hub != nil {
			p.hub.Publish(realtime.Event{
				Type: realtime.EventError, AnalysisID: rec.ID, PatientID: rec.PatientID,
				Payload: err.Error(),
			})
		}
		return nil, err
	}

	// The record must exist before artifact rows can reference it.
	p.stage(rec, "persisting")
	if err := p.store.SaveAnalysis(ctx, rec); err != nil {
		metrics.AnalysisTotal.WithLabelValues(string(req.DocumentType), "error").Inc()
		return nil, fmt.Errorf("failed to persist analysis: %w", err)
	}

	if rec.DocumentType.HasImagePath() {
		p.eagerHeatmap(ctx, rec, img)
	}
	p.cacheSet(ctx, rec)
	p.store.AppendAudit(ctx, rec.ID, req.UserID, "analysis_completed", "")

	metrics.AnalysisTotal.WithLabelValues(string(req.DocumentType), "success").Inc()
	metrics.AnalysisDuration.WithLabelValues(string(req.DocumentType)).Observe(time.Since(start).Seconds())

	if p.hub != nil {
		p.hub.Publish(realtime.Event{
			Type: realtime.EventComplete, AnalysisID: rec.ID, PatientID: rec.PatientID,
			Payload: rec.UIView(),
		})
	}

	logger.Info("Analysis completed",
		zap.String("analysis_id", rec.ID),
		zap.String("document_type", string(rec.DocumentType)),
		zap.Duration("duration", time.Since(start)),
	)
	return rec, nil
}

func (p *Pipeline) runTextPath(ctx context.Context, rec *analysis.Record, img image.Image) error {
	p.stage(rec, "ocr")
	normalized := vision.Normalize(img)

	result, err := p.recognizer.Recognize(ctx, normalized)
	if err != nil {
		return err
	}
	rec.OCR = result

	metrics.OCREngineUsed.WithLabelValues(string(result.Engine)).Inc()
	metrics.OCRConfidence.Observe(result.Confidence)

	// Empty text is a degraded result, not a failure; downstream stages
	// simply have nothing to extract.
	if result.Text == "" {
		logger.Warn("OCR produced no text", zap.String("analysis_id", rec.ID))
		return nil
	}

	p.stage(rec, "entities")
	rec.Entities = p.extractor.Extract(result.Text)
	if rec.Entities == nil {
		rec.Entities = []analysis.MedicalEntity{}
	}
	metrics.EntitiesExtracted.Observe(float64(len(rec.Entities)))

	if rec.DocumentType == analysis.DocLabReport {
		rec.Labs = nlp.ParseLabs(result.Text)
	}

	if meds := medicineNames(rec.Entities); len(meds) > 0 {
		rec.Suggestions = suggest.Diagnosis(meds)
	}
	return nil
}

func medicineNames(entities []analysis.MedicalEntity) []string {
	var out []string
	for _, ent := range entities {
		if ent.Kind == analysis.EntityMedicine {
			out = append(out, ent.Text)
		}
	}
	return out
}

func (p *Pipeline) runImagePath(ctx context.Context, rec *analysis.Record, img image.Image) error {
	p.stage(rec, "classification")

	result, err := p.classifier.Classify(img)
	if err != nil {
		return err
	}
	rec.Classification = result
	rec.ImagingAdvice = suggest.Imaging(result.Label)
	metrics.ClassificationConfidence.WithLabelValues(result.Label).Observe(result.Confidence)
	return nil
}

// eagerHeatmap generates the attention heatmap immediately after a
// radiology analysis persists. It is cheap and every reader wants it;
// failure degrades the record instead of failing the analysis.
func (p *Pipeline) eagerHeatmap(ctx context.Context, rec *analysis.Record, img image.Image) {
	p.stage(rec, "explainability")
	artifact, err := p.explainer.Generate(ctx, explain.Job{
		AnalysisID:     rec.ID,
		Image:          img,
		Classification: rec.Classification,
	}, analysis.MethodGradCAM)
	if err != nil {
		logger.Error("Eager heatmap generation failed",
			zap.String("analysis_id", rec.ID),
			zap.Error(err),
		)
		metrics.ExplainabilityTotal.WithLabelValues(string(analysis.MethodGradCAM), "error").Inc()
		return
	}
	metrics.ExplainabilityTotal.WithLabelValues(string(analysis.MethodGradCAM), "success").Inc()
	rec.AttachArtifact(artifact)
}

// GenerateExplainability produces (or regenerates) an on-demand artifact
// for a stored analysis.
func (p *Pipeline) GenerateExplainability(ctx context.Context, analysisID, userID string, method analysis.Method) (analysis.ExplainabilityArtifact, error) {
	start := time.Now()

	rec, err := p.Get(ctx, analysisID)
	if err != nil {
		return analysis.ExplainabilityArtifact{}, err
	}
	if !rec.DocumentType.HasImagePath() {
		return analysis.ExplainabilityArtifact{}, analysis.NewError(analysis.KindInput,
			"document type %s has no image to explain", rec.DocumentType)
	}

	data, err := p.objects.Get(ctx, rec.FileRef)
	if err != nil {
		return analysis.ExplainabilityArtifact{}, fmt.Errorf("failed to load source image: %w", err)
	}
	img, err := vision.Decode(data)
	if err != nil {
		return analysis.ExplainabilityArtifact{}, err
	}

	artifact, err := p.explainer.Generate(ctx, explain.Job{
		AnalysisID:     analysisID,
		Image:          img,
		Classification: rec.Classification,
	}, method)
	if err != nil {
		metrics.ExplainabilityTotal.WithLabelValues(string(method), "error").Inc()
		return analysis.ExplainabilityArtifact{}, err
	}

	metrics.ExplainabilityTotal.WithLabelValues(string(method), "success").Inc()
	metrics.ExplainabilityDuration.WithLabelValues(string(method)).Observe(time.Since(start).Seconds())

	// The cached record no longer reflects what a read would return.
	if p.cache != nil {
		if err := p.cache.InvalidateAnalysis(ctx, analysisID); err != nil {
			logger.Warn("Failed to invalidate cached analysis", zap.Error(err))
		}
	}
	p.store.AppendAudit(ctx, analysisID, userID, "artifact_generated", string(method))

	if p.hub != nil {
		p.hub.Publish(realtime.Event{
			Type: realtime.EventArtifact, AnalysisID: analysisID, PatientID: rec.PatientID,
			Payload: artifact,
		})
	}
	return artifact, nil
}

// BatchItem is one document in a batch request.
type BatchItem struct {
	Request  analysis.Request
	Data     []byte
	Filename string
}

// BatchResult pairs each item with its outcome; one bad document never
// fails its batch.
type BatchResult struct {
	Index  int              `json:"index"`
	Record *analysis.Record `json:"record,omitempty"`
	Err    error            `json:"-"`
}

func (p *Pipeline) ProcessBatch(ctx context.Context, items []BatchItem) []BatchResult {
	results := make([]BatchResult, len(items))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.batchWorkers)

	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			rec, err := p.Process(ctx, item.Request, item.Data, item.Filename)
			results[i] = BatchResult{Index: i, Record: rec, Err: err}
			return nil
		})
	}
	g.Wait()
	return results
}

// Get returns an analysis by id, reading through the cache when one is
// configured.
func (p *Pipeline) Get(ctx context.Context, id string) (*analysis.Record, error) {
	if p.cache != nil {
		rec, found, err := p.cache.GetAnalysis(ctx, id)
		if err != nil {
			logger.Warn("Analysis cache read failed", zap.Error(err))
		} else if found {
			metrics.CacheHits.WithLabelValues("hit").Inc()
			return rec, nil
		}
		metrics.CacheHits.WithLabelValues("miss").Inc()
	}

	rec, err := p.store.GetAnalysis(ctx, id)
	if err != nil {
		return nil, err
	}
	p.cacheSet(ctx, rec)
	return rec, nil
}

// ListByPatient returns a patient's analysis history, newest first.
func (p *Pipeline) ListByPatient(ctx context.Context, patientID string, limit int) ([]*analysis.Record, error) {
	return p.store.ListByPatient(ctx, patientID, limit)
}

func (p *Pipeline) cacheSet(ctx context.Context, rec *analysis.Record) {
	if p.cache == nil {
		return
	}
	if err := p.cache.SetAnalysis(ctx, rec); err != nil {
		logger.Warn("Failed to cache analysis", zap.String("analysis_id", rec.ID), zap.Error(err))
	}
}

func (p *Pipeline) stage(rec *analysis.Record, stage string) {
	if p.hub != nil {
		p.hub.Stage(rec.ID, rec.PatientID, stage)
	}
}

func validate(req analysis.Request, data []byte) error {
	if !req.DocumentType.Valid() {
		return analysis.NewError(analysis.KindInput, "unknown document type %q", req.DocumentType)
	}
	if req.PatientID == "" {
		return analysis.NewError(analysis.KindInput, "patient_id is required")
	}
	if len(data) == 0 {
		return analysis.NewError(analysis.KindInput, "empty document")
	}
	return nil
}

func uploadObjectName(analysisID, filename string) string {
	ext := path.Ext(filename)
	if ext == "" {
		ext = ".png"
	}
	return fmt.Sprintf("uploads/%s%s", analysisID, ext)
}

func contentTypeFor(filename string) string {
	switch path.Ext(filename) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}
