package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AnalysisDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediscan_analysis_duration_seconds",
			Help:    "Document analysis duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"document_type"},
	)

	AnalysisTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediscan_analysis_total",
			Help: "Total number of documents analyzed",
		},
		[]string{"document_type", "status"},
	)

	OCREngineUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediscan_ocr_engine_total",
			Help: "OCR results by accepted engine tier",
		},
		[]string{"engine"},
	)

	OCRConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mediscan_ocr_confidence",
			Help:    "Accepted OCR confidence scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	EntitiesExtracted = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mediscan_entities_extracted",
			Help:    "Number of medical entities extracted per document",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	ExplainabilityDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediscan_explainability_duration_seconds",
			Help:    "Explainability artifact generation duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"method"},
	)

	ExplainabilityTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediscan_explainability_total",
			Help: "Explainability generations by method and status",
		},
		[]string{"method", "status"},
	)

	ClassificationConfidence = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediscan_classification_confidence",
			Help:    "Classifier confidence scores",
			Buckets: []float64{0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
		[]string{"label"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediscan_cache_hits_total",
			Help: "Analysis cache hits and misses",
		},
		[]string{"result"},
	)
)

func Init() {
	prometheus.MustRegister(
		AnalysisDuration,
		AnalysisTotal,
		OCREngineUsed,
		OCRConfidence,
		EntitiesExtracted,
		ExplainabilityDuration,
		ExplainabilityTotal,
		ClassificationConfidence,
		CacheHits,
	)
}

func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
