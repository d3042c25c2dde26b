package analysis

import "time"

type DocumentType string

const (
	DocPrescription DocumentType = "prescription"
	DocLabReport    DocumentType = "lab_report"
	DocXRay         DocumentType = "xray"
	DocMRI          DocumentType = "mri"
	DocCT           DocumentType = "ct"
)

func (d DocumentType) Valid() bool {
	switch d {
	case DocPrescription, DocLabReport, DocXRay, DocMRI, DocCT:
		return true
	}
	return false
}

// HasTextPath reports whether the OCR/entity branch of the pipeline runs
// for this document type.
func (d DocumentType) HasTextPath() bool {
	return d == DocPrescription || d == DocLabReport
}

// HasImagePath reports whether the classification/explainability branch runs.
func (d DocumentType) HasImagePath() bool {
	return d == DocXRay || d == DocMRI || d == DocCT
}

type EngineTag string

const (
	EnginePrimary  EngineTag = "primary"
	EngineFallback EngineTag = "fallback"
)

// Bounds is a rectangular bounding box in pixel coordinates.
type Bounds struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// TextFragment is one recognized piece of text with its location.
type TextFragment struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Bounds     Bounds  `json:"bounds"`
}

// OcrResult is the accepted output of the OCR tier manager. Confidence
// always reflects the engine that produced the accepted text.
type OcrResult struct {
	Text       string         `json:"text"`
	Fragments  []TextFragment `json:"fragments,omitempty"`
	Confidence float64        `json:"confidence"`
	Engine     EngineTag      `json:"engine"`
}

type EntityKind string

const (
	EntityMedicine EntityKind = "Medicine"
	EntityDosage   EntityKind = "Dosage"
	EntityDuration EntityKind = "Duration"
)

// Span marks a half-open [Start, End) byte range in the OCR text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (s Span) Len() int { return s.End - s.Start }

func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

type MedicalEntity struct {
	Kind            EntityKind `json:"kind"`
	Text            string     `json:"text"`
	NormalizedValue string     `json:"normalized_value"`
	Span            Span       `json:"span"`
}

// LabResult is one parsed row of a lab report: test name, measured value,
// unit, and the reference range when the report prints one.
type LabResult struct {
	TestName   string  `json:"test_name"`
	Value      float64 `json:"value"`
	Unit       string  `json:"unit"`
	RefLow     float64 `json:"ref_low,omitempty"`
	RefHigh    float64 `json:"ref_high,omitempty"`
	HasRange   bool    `json:"has_range"`
	OutOfRange bool    `json:"out_of_range"`
}

type ClassificationResult struct {
	Label      string    `json:"label"`
	Index      int       `json:"index"`
	Confidence float64   `json:"confidence"`
	Logits     []float64 `json:"logits"`
	Findings   []string  `json:"findings,omitempty"`
}

// ConditionSuggestion ties one possible condition to the prescribed
// medicines that point at it.
type ConditionSuggestion struct {
	Condition           string   `json:"condition"`
	Confidence          string   `json:"confidence"`
	SupportingMedicines []string `json:"supporting_medicines"`
	MedicineCount       int      `json:"medicine_count"`
}

type SpecialistReferral struct {
	Specialist string `json:"specialist"`
	Reason     string `json:"reason"`
	Condition  string `json:"condition"`
}

// DiagnosisSuggestion is advisory output derived from the extracted
// medicines. It is reference material for a clinician, never a diagnosis,
// and always carries the disclaimer.
type DiagnosisSuggestion struct {
	PossibleConditions []ConditionSuggestion `json:"possible_conditions"`
	Confidence         string                `json:"confidence"`
	Specialists        []SpecialistReferral  `json:"specialists,omitempty"`
	Disclaimer         string                `json:"disclaimer"`
}

// ImagingAdvice is follow-up guidance keyed to an imaging classification.
type ImagingAdvice struct {
	Severity   string   `json:"severity"`
	Specialist string   `json:"specialist"`
	Urgency    string   `json:"urgency"`
	Meaning    string   `json:"meaning"`
	NextSteps  []string `json:"next_steps"`
}

type Method string

const (
	MethodGradCAM Method = "gradcam"
	MethodSHAP    Method = "shap"
	MethodLIME    Method = "lime"
)

func ParseMethod(s string) (Method, bool) {
	switch Method(s) {
	case MethodGradCAM, MethodSHAP, MethodLIME:
		return Method(s), true
	}
	return "", false
}

// ExplainabilityArtifact is uniquely keyed by (AnalysisID, Method);
// regeneration overwrites the previous artifact for the same key.
type ExplainabilityArtifact struct {
	AnalysisID string `json:"analysis_id"`
	Method     Method `json:"method"`

	// VisualizationURL points at the rendered overlay. For LIME this is the
	// positive-features view and SecondaryURL holds the all-features view.
	VisualizationURL string `json:"visualization_url"`
	SecondaryURL     string `json:"secondary_url,omitempty"`

	// RegionalImportance maps named image regions to percentage
	// contributions. Sampling noise means the values sum to roughly,
	// not exactly, 100.
	RegionalImportance map[string]float64 `json:"regional_importance,omitempty"`

	GeneratedAt time.Time `json:"generated_at"`
}

// Request identifies one document to analyze. Immutable once created.
type Request struct {
	FileRef      string       `json:"file_ref"`
	DocumentType DocumentType `json:"document_type"`
	PatientID    string       `json:"patient_id"`
	UserID       string       `json:"user_id"`
}

// Record aggregates everything the pipeline produced for one request.
// OCR and Classification may each be nil depending on document type;
// absent stages are never filled with placeholder values.
type Record struct {
	ID             string                   `json:"analysis_id"`
	PatientID      string                   `json:"patient_id"`
	UserID         string                   `json:"user_id"`
	DocumentType   DocumentType             `json:"document_type"`
	FileRef        string                   `json:"file_ref"`
	OCR            *OcrResult               `json:"ocr,omitempty"`
	Entities       []MedicalEntity          `json:"entities"`
	Labs           []LabResult              `json:"lab_results,omitempty"`
	Classification *ClassificationResult    `json:"classification,omitempty"`
	Suggestions    *DiagnosisSuggestion     `json:"suggestions,omitempty"`
	ImagingAdvice  *ImagingAdvice           `json:"imaging_advice,omitempty"`
	Artifacts      []ExplainabilityArtifact `json:"artifacts,omitempty"`
	Timestamp      time.Time                `json:"timestamp"`
}

// Artifact returns the stored artifact for a method, if one exists.
func (r *Record) Artifact(m Method) (ExplainabilityArtifact, bool) {
	for _, a := range r.Artifacts {
		if a.Method == m {
			return a, true
		}
	}
	return ExplainabilityArtifact{}, false
}

// AttachArtifact adds or replaces the artifact for its method, keeping the
// at-most-one-per-key invariant.
func (r *Record) AttachArtifact(a ExplainabilityArtifact) {
	for i := range r.Artifacts {
		if r.Artifacts[i].Method == a.Method {
			r.Artifacts[i] = a
			return
		}
	}
	r.Artifacts = append(r.Artifacts, a)
}

// UIView flattens a record into the field names the dashboard consumes.
func (r *Record) UIView() map[string]interface{} {
	view := map[string]interface{}{
		"analysis_id":   r.ID,
		"patient_id":    r.PatientID,
		"document_type": string(r.DocumentType),
		"entities":      r.Entities,
		"timestamp":     r.Timestamp,
	}
	if r.OCR != nil {
		view["ocr_text"] = r.OCR.Text
		view["ocr_confidence"] = r.OCR.Confidence
		view["ocr_engine"] = string(r.OCR.Engine)
	}
	if len(r.Labs) > 0 {
		view["lab_results"] = r.Labs
	}
	if r.Classification != nil {
		view["cnn_class"] = r.Classification.Label
		view["cnn_confidence"] = r.Classification.Confidence
		view["cnn_logits"] = r.Classification.Logits
		if len(r.Classification.Findings) > 0 {
			view["cnn_findings"] = r.Classification.Findings
		}
	}
	if r.Suggestions != nil {
		view["suggestions"] = r.Suggestions
	}
	if r.ImagingAdvice != nil {
		view["imaging_advice"] = r.ImagingAdvice
	}
	if a, ok := r.Artifact(MethodGradCAM); ok {
		view["heatmap_url"] = a.VisualizationURL
	}
	if a, ok := r.Artifact(MethodSHAP); ok {
		view["shap_visualization"] = a.VisualizationURL
		view["shap_importance"] = a.RegionalImportance
	}
	if a, ok := r.Artifact(MethodLIME); ok {
		view["lime_visualization_positive"] = a.VisualizationURL
		view["lime_visualization_both"] = a.SecondaryURL
	}
	return view
}
