package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/mediscan/backend/internal/analysis"
	"github.com/mediscan/backend/internal/explain"
	"github.com/mediscan/backend/internal/nlp"
	"github.com/mediscan/backend/internal/vision"
)

type auditEntry struct {
	actor  string
	action string
}

type memStore struct {
	mu      sync.Mutex
	records map[string]*analysis.Record
	audits  []auditEntry
}

func newMemStore() *memStore {
	return &memStore{records: map[string]*analysis.Record{}}
}

func (m *memStore) SaveAnalysis(ctx context.Context, rec *analysis.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec
	return nil
}

func (m *memStore) GetAnalysis(ctx context.Context, id string) (*analysis.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, analysis.NewError(analysis.KindNotFound, "analysis %s not found", id)
	}
	return rec, nil
}

func (m *memStore) ListByPatient(ctx context.Context, patientID string, limit int) ([]*analysis.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*analysis.Record
	for _, rec := range m.records {
		if rec.PatientID == patientID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memStore) AppendAudit(ctx context.Context, analysisID, actor, action, detail string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, auditEntry{actor: actor, action: action})
}

func (m *memStore) UpsertArtifact(ctx context.Context, a analysis.ExplainabilityArtifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[a.AnalysisID]; ok {
		rec.AttachArtifact(a)
	}
	return nil
}

type memObjects struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemObjects() *memObjects { return &memObjects{data: map[string][]byte{}} }

func (m *memObjects) PutDocument(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[name] = data
	return "mem://" + name, nil
}

func (m *memObjects) PutPNG(ctx context.Context, name string, data []byte) (string, error) {
	return m.PutDocument(ctx, name, data, "image/png")
}

func (m *memObjects) Get(ctx context.Context, name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[name]
	if !ok {
		return nil, errors.New("object not found")
	}
	return data, nil
}

type memCache struct {
	mu            sync.Mutex
	records       map[string]*analysis.Record
	invalidations int
}

func newMemCache() *memCache { return &memCache{records: map[string]*analysis.Record{}} }

func (m *memCache) SetAnalysis(ctx context.Context, rec *analysis.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec
	return nil
}

func (m *memCache) GetAnalysis(ctx context.Context, id string) (*analysis.Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	return rec, ok, nil
}

func (m *memCache) InvalidateAnalysis(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	m.invalidations++
	return nil
}

type stubRecognizer struct {
	result *analysis.OcrResult
	err    error
}

func (s *stubRecognizer) Recognize(ctx context.Context, img *vision.Normalized) (*analysis.OcrResult, error) {
	return s.result, s.err
}

type stubClassifier struct {
	result *analysis.ClassificationResult
	err    error
}

func (s *stubClassifier) Classify(img image.Image) (*analysis.ClassificationResult, error) {
	return s.result, s.err
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 96, 96))
	for y := 0; y < 96; y++ {
		for x := 0; x < 96; x++ {
			img.Pix[y*img.Stride+x] = uint8((x + y) % 256)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return buf.Bytes()
}

func newTestPipeline(t *testing.T, store *memStore, cache *memCache, rec *stubRecognizer, cls *stubClassifier) *Pipeline {
	t.Helper()
	objects := newMemObjects()
	svc := explain.NewService(objects, store, time.Minute, explain.NewGradCAM())

	var c Cache
	if cache != nil {
		c = cache
	}
	return New(Options{
		Recognizer: rec,
		Extractor:  nlp.NewExtractor(false),
		Classifier: cls,
		Explainer:  svc,
		Store:      store,
		Cache:      c,
		Objects:    objects,
	})
}

func TestProcessPrescriptionTextPath(t *testing.T) {
	store := newMemStore()
	recognizer := &stubRecognizer{result: &analysis.OcrResult{
		Text:       "Amoxicillin 500mg for 7 days",
		Confidence: 0.45,
		Engine:     analysis.EngineFallback,
	}}
	p := newTestPipeline(t, store, nil, recognizer, &stubClassifier{})

	rec, err := p.Process(context.Background(), analysis.Request{
		DocumentType: analysis.DocPrescription,
		PatientID:    "p1",
		UserID:       "u1",
	}, pngBytes(t), "rx.png")
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if rec.OCR == nil || rec.OCR.Engine != analysis.EngineFallback {
		t.Errorf("ocr engine not carried through: %+v", rec.OCR)
	}
	if len(rec.Entities) == 0 {
		t.Error("no entities extracted from OCR text")
	}
	if rec.Suggestions == nil || len(rec.Suggestions.PossibleConditions) == 0 {
		t.Errorf("no diagnosis suggestions for a prescription with medicines: %+v", rec.Suggestions)
	}
	if rec.Classification != nil {
		t.Error("text document must not carry a classification")
	}
	if _, ok := store.records[rec.ID]; !ok {
		t.Error("record not persisted")
	}

	view := rec.UIView()
	if _, ok := view["cnn_class"]; ok {
		t.Error("ui view leaks cnn fields for a text document")
	}
	if view["ocr_engine"] != "fallback" {
		t.Errorf("ui view ocr_engine = %v", view["ocr_engine"])
	}
	if _, ok := view["suggestions"]; !ok {
		t.Error("ui view missing suggestions for a prescription")
	}
}

func TestProcessEmptyOCRIsNotAnError(t *testing.T) {
	store := newMemStore()
	recognizer := &stubRecognizer{result: &analysis.OcrResult{Engine: analysis.EngineFallback}}
	p := newTestPipeline(t, store, nil, recognizer, &stubClassifier{})

	rec, err := p.Process(context.Background(), analysis.Request{
		DocumentType: analysis.DocPrescription,
		PatientID:    "p1",
	}, pngBytes(t), "blank.png")
	if err != nil {
		t.Fatalf("blank document must not fail: %v", err)
	}
	if rec.OCR.Confidence != 0 || rec.OCR.Text != "" {
		t.Errorf("expected empty zero-confidence ocr: %+v", rec.OCR)
	}
	if len(rec.Entities) != 0 {
		t.Errorf("entities from empty text: %+v", rec.Entities)
	}
	if rec.Suggestions != nil {
		t.Errorf("suggestions without medicines: %+v", rec.Suggestions)
	}
}

func TestProcessXRayImagePath(t *testing.T) {
	store := newMemStore()
	cls := &stubClassifier{result: &analysis.ClassificationResult{
		Label: "Pneumonia", Index: 1, Confidence: 0.81,
		Logits: []float64{0.1, 0.81, 0.05, 0.04},
	}}
	p := newTestPipeline(t, store, nil, &stubRecognizer{}, cls)

	rec, err := p.Process(context.Background(), analysis.Request{
		DocumentType: analysis.DocXRay,
		PatientID:    "p1",
	}, pngBytes(t), "scan.png")
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if rec.OCR != nil {
		t.Error("radiology document must not carry OCR output")
	}
	if rec.Classification == nil || rec.Classification.Label != "Pneumonia" {
		t.Errorf("classification missing: %+v", rec.Classification)
	}
	if _, ok := rec.Artifact(analysis.MethodGradCAM); !ok {
		t.Error("eager heatmap artifact not attached")
	}
	if rec.ImagingAdvice == nil || rec.ImagingAdvice.Specialist == "" {
		t.Errorf("no imaging advice for a classified scan: %+v", rec.ImagingAdvice)
	}

	view := rec.UIView()
	if view["heatmap_url"] == nil || view["heatmap_url"] == "" {
		t.Error("ui view missing heatmap_url")
	}
	if _, ok := view["ocr_text"]; ok {
		t.Error("ui view leaks ocr fields for a radiology document")
	}
	if _, ok := view["shap_visualization"]; ok {
		t.Error("ui view leaks shap fields before generation")
	}
}

func TestProcessValidation(t *testing.T) {
	p := newTestPipeline(t, newMemStore(), nil, &stubRecognizer{}, &stubClassifier{})

	tests := []struct {
		name string
		req  analysis.Request
		data []byte
	}{
		{"bad type", analysis.Request{DocumentType: "selfie", PatientID: "p1"}, pngBytes(t)},
		{"no patient", analysis.Request{DocumentType: analysis.DocXRay}, pngBytes(t)},
		{"empty data", analysis.Request{DocumentType: analysis.DocXRay, PatientID: "p1"}, nil},
		{"not an image", analysis.Request{DocumentType: analysis.DocXRay, PatientID: "p1"}, []byte("plain text")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Process(context.Background(), tt.req, tt.data, "f.png")
			if !analysis.IsKind(err, analysis.KindInput) {
				t.Errorf("error kind = %q, want input_error (err=%v)", analysis.KindOf(err), err)
			}
		})
	}
}

func TestProcessBatchIsolatesFailures(t *testing.T) {
	store := newMemStore()
	recognizer := &stubRecognizer{result: &analysis.OcrResult{
		Text: "Aspirin 75mg", Confidence: 0.9, Engine: analysis.EnginePrimary,
	}}
	p := newTestPipeline(t, store, nil, recognizer, &stubClassifier{})

	results := p.ProcessBatch(context.Background(), []BatchItem{
		{Request: analysis.Request{DocumentType: analysis.DocPrescription, PatientID: "p1"}, Data: pngBytes(t), Filename: "a.png"},
		{Request: analysis.Request{DocumentType: analysis.DocPrescription, PatientID: "p1"}, Data: nil, Filename: "b.png"},
		{Request: analysis.Request{DocumentType: analysis.DocPrescription, PatientID: "p2"}, Data: pngBytes(t), Filename: "c.png"},
	})

	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	if results[0].Err != nil || results[0].Record == nil {
		t.Errorf("item 0 should succeed: %v", results[0].Err)
	}
	if results[1].Err == nil {
		t.Error("item 1 should fail on empty data")
	}
	if results[2].Err != nil || results[2].Record == nil {
		t.Errorf("item 2 should succeed despite item 1 failing: %v", results[2].Err)
	}
}

func TestGenerateExplainabilityOnDemand(t *testing.T) {
	store := newMemStore()
	cache := newMemCache()
	cls := &stubClassifier{result: &analysis.ClassificationResult{
		Label: "Tumor", Index: 2, Confidence: 0.7,
		Logits: []float64{0.1, 0.1, 0.7, 0.1},
	}}
	p := newTestPipeline(t, store, cache, &stubRecognizer{}, cls)

	rec, err := p.Process(context.Background(), analysis.Request{
		DocumentType: analysis.DocMRI,
		PatientID:    "p1",
	}, pngBytes(t), "scan.png")
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	// GradCAM regenerated on demand for the same key replaces, not
	// duplicates, the eager artifact.
	artifact, err := p.GenerateExplainability(context.Background(), rec.ID, "u7", analysis.MethodGradCAM)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if artifact.Method != analysis.MethodGradCAM {
		t.Errorf("artifact method = %q", artifact.Method)
	}

	// The audit trail must name who requested the regeneration.
	found := false
	for _, a := range store.audits {
		if a.action == "artifact_generated" && a.actor == "u7" {
			found = true
		}
	}
	if !found {
		t.Errorf("artifact_generated audit entry missing actor: %+v", store.audits)
	}

	stored, _ := store.GetAnalysis(context.Background(), rec.ID)
	count := 0
	for _, a := range stored.Artifacts {
		if a.Method == analysis.MethodGradCAM {
			count++
		}
	}
	if count != 1 {
		t.Errorf("gradcam artifacts = %d, want exactly 1 after regeneration", count)
	}
	if cache.invalidations == 0 {
		t.Error("cached record not invalidated after regeneration")
	}
}

func TestGenerateExplainabilityRejectsTextDocuments(t *testing.T) {
	store := newMemStore()
	recognizer := &stubRecognizer{result: &analysis.OcrResult{Text: "x", Confidence: 0.9, Engine: analysis.EnginePrimary}}
	p := newTestPipeline(t, store, nil, recognizer, &stubClassifier{})

	rec, err := p.Process(context.Background(), analysis.Request{
		DocumentType: analysis.DocPrescription,
		PatientID:    "p1",
	}, pngBytes(t), "rx.png")
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	_, err = p.GenerateExplainability(context.Background(), rec.ID, "u1", analysis.MethodSHAP)
	if !analysis.IsKind(err, analysis.KindInput) {
		t.Errorf("error kind = %q, want input_error", analysis.KindOf(err))
	}
}

func TestGenerateExplainabilityUnknownAnalysis(t *testing.T) {
	p := newTestPipeline(t, newMemStore(), nil, &stubRecognizer{}, &stubClassifier{})

	_, err := p.GenerateExplainability(context.Background(), "nope", "u1", analysis.MethodGradCAM)
	if !analysis.IsKind(err, analysis.KindNotFound) {
		t.Errorf("error kind = %q, want not_found", analysis.KindOf(err))
	}
}
