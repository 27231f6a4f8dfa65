package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DocumentsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studybuddy_documents_processed_total",
			Help: "Documents that finished ingestion, by terminal status",
		},
		[]string{"status"},
	)

	PassagesEmbedded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "studybuddy_passages_embedded_total",
			Help: "Passages embedded and indexed",
		},
	)

	IngestionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "studybuddy_ingestion_duration_seconds",
			Help:    "End-to-end document ingestion duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
	)

	GenerationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "studybuddy_generation_duration_seconds",
			Help:    "Artifact generation duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"artifact"},
	)

	GenerationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studybuddy_generation_total",
			Help: "Generation attempts by artifact kind and outcome",
		},
		[]string{"artifact", "outcome"},
	)

	CitationsFiltered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "studybuddy_citations_filtered_total",
			Help: "Model citations rejected for referencing unretrieved passages",
		},
	)

	SearchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studybuddy_search_total",
			Help: "Search requests by outcome",
		},
		[]string{"status"},
	)

	ReviewsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studybuddy_reviews_recorded_total",
			Help: "Card reviews recorded, by rating",
		},
		[]string{"rating"},
	)

	DueQueueSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "studybuddy_due_queue_size",
			Help: "Cards due at the last queue fetch",
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studybuddy_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studybuddy_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studybuddy_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)
)

func Init() {
	prometheus.MustRegister(DocumentsProcessed)
	prometheus.MustRegister(PassagesEmbedded)
	prometheus.MustRegister(IngestionDuration)
	prometheus.MustRegister(GenerationDuration)
	prometheus.MustRegister(GenerationTotal)
	prometheus.MustRegister(CitationsFiltered)
	prometheus.MustRegister(SearchTotal)
	prometheus.MustRegister(ReviewsRecorded)
	prometheus.MustRegister(DueQueueSize)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(LLMTokensUsed)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
