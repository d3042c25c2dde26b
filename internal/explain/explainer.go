// Package explain generates visual explanations for classifier decisions.
// Grad-CAM runs eagerly during analysis; SHAP and LIME are sampling-based
// and generate on request. Artifacts are keyed by analysis and method, and
// concurrent requests for the same key share one computation.
package explain

import (
	"context"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mediscan/backend/internal/analysis"
	"github.com/mediscan/backend/pkg/logger"
)

// Job carries everything an explainer needs about one analysis.
type Job struct {
	AnalysisID string
	Image      image.Image
	// Classification fixes the target class; when nil the explainer
	// re-scores the image and explains its own prediction.
	Classification *analysis.ClassificationResult
}

// Rendering is an explainer's raw output before upload.
type Rendering struct {
	Primary            []byte
	Secondary          []byte
	RegionalImportance map[string]float64
}

type Explainer interface {
	Method() analysis.Method
	Render(ctx context.Context, job Job) (*Rendering, error)
}

// ObjectStore persists rendered overlays and returns a retrievable URL.
type ObjectStore interface {
	PutPNG(ctx context.Context, name string, data []byte) (string, error)
}

// ArtifactStore records artifact metadata, replacing any previous artifact
// for the same (analysis, method) key.
type ArtifactStore interface {
	UpsertArtifact(ctx context.Context, a analysis.ExplainabilityArtifact) error
}

type Service struct {
	explainers map[analysis.Method]Explainer
	objects    ObjectStore
	store      ArtifactStore
	timeout    time.Duration

	group singleflight.Group
}

func NewService(objects ObjectStore, store ArtifactStore, timeout time.Duration, explainers ...Explainer) *Service {
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	s := &Service{
		explainers: make(map[analysis.Method]Explainer, len(explainers)),
		objects:    objects,
		store:      store,
		timeout:    timeout,
	}
	for _, e := range explainers {
		s.explainers[e.Method()] = e
	}
	return s
}

// Methods lists the registered explainability methods.
func (s *Service) Methods() []analysis.Method {
	out := make([]analysis.Method, 0, len(s.explainers))
	for m := range s.explainers {
		out = append(out, m)
	}
	return out
}

// Generate produces the artifact for one (analysis, method) key. Requests
// arriving while the same key is already generating wait for and share
// that result instead of starting another computation.
func (s *Service) Generate(ctx context.Context, job Job, method analysis.Method) (analysis.ExplainabilityArtifact, error) {
	explainer, ok := s.explainers[method]
	if !ok {
		return analysis.ExplainabilityArtifact{}, analysis.NewError(analysis.KindUnsupportedMethod,
			"explainability method %q is not available", method)
	}

	key := job.AnalysisID + "|" + string(method)
	v, err, shared := s.group.Do(key, func() (interface{}, error) {
		return s.generate(ctx, explainer, job, method)
	})
	if err != nil {
		return analysis.ExplainabilityArtifact{}, err
	}
	if shared {
		logger.Debug("Explainability request coalesced",
			zap.String("analysis_id", job.AnalysisID),
			zap.String("method", string(method)),
		)
	}
	return v.(analysis.ExplainabilityArtifact), nil
}

func (s *Service) generate(ctx context.Context, explainer Explainer, job Job, method analysis.Method) (artifact analysis.ExplainabilityArtifact, err error) {
	// Coalesced callers share this computation, so it must outlive the
	// first caller's request; only the service timeout bounds it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = analysis.NewError(analysis.KindGenerationFailure,
				"%s generation panicked: %v", method, r)
		}
	}()

	rendering, err := explainer.Render(ctx, job)
	if err != nil {
		if analysis.KindOf(err) == "" {
			err = analysis.WrapError(analysis.KindGenerationFailure, err, "%s generation failed", method)
		}
		return analysis.ExplainabilityArtifact{}, err
	}

	primaryURL, err := s.objects.PutPNG(ctx, artifactObjectName(job.AnalysisID, method, "primary"), rendering.Primary)
	if err != nil {
		return analysis.ExplainabilityArtifact{}, analysis.WrapError(analysis.KindGenerationFailure, err,
			"failed to store %s visualization", method)
	}

	var secondaryURL string
	if len(rendering.Secondary) > 0 {
		secondaryURL, err = s.objects.PutPNG(ctx, artifactObjectName(job.AnalysisID, method, "secondary"), rendering.Secondary)
		if err != nil {
			return analysis.ExplainabilityArtifact{}, analysis.WrapError(analysis.KindGenerationFailure, err,
				"failed to store %s secondary visualization", method)
		}
	}

	artifact = analysis.ExplainabilityArtifact{
		AnalysisID:         job.AnalysisID,
		Method:             method,
		VisualizationURL:   primaryURL,
		SecondaryURL:       secondaryURL,
		RegionalImportance: rendering.RegionalImportance,
		GeneratedAt:        time.Now().UTC(),
	}

	if err := s.store.UpsertArtifact(ctx, artifact); err != nil {
		return analysis.ExplainabilityArtifact{}, analysis.WrapError(analysis.KindGenerationFailure, err,
			"failed to record %s artifact", method)
	}

	logger.Info("Explainability artifact generated",
		zap.String("analysis_id", job.AnalysisID),
		zap.String("method", string(method)),
		zap.Duration("duration", time.Since(start)),
	)
	return artifact, nil
}

func artifactObjectName(analysisID string, method analysis.Method, variant string) string {
	if variant == "primary" {
		return fmt.Sprintf("artifacts/%s/%s.png", analysisID, method)
	}
	return fmt.Sprintf("artifacts/%s/%s_%s.png", analysisID, method, variant)
}
