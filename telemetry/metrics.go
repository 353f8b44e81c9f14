// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	TranslationOutcomes *prometheus.CounterVec // label: outcome (done|skipped|error|canceled)
	TranslationRequests *prometheus.CounterVec // label: result (ok|canceled|status|transport|decode)
	CacheHits           prometheus.Counter
	CacheMisses         prometheus.Counter
	MutationBatches     prometheus.Counter
	MessagesProcessed   prometheus.Counter
	ThreadResets        prometheus.Counter
	VoiceReplies        *prometheus.CounterVec // label: result (ok|fallback|error)

	// Histograms (seconds)
	TranslationDuration prometheus.Observer

	// Gauges
	InFlightGauge prometheus.Gauge
	PendingGauge  prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		TranslationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatlens_translation_outcomes_total", Help: "Per-message translation outcomes"}, []string{"outcome"})
		TranslationRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatlens_translation_requests_total", Help: "Translation network requests by result"}, []string{"result"})
		CacheHits = promauto.NewCounter(prometheus.CounterOpts{Name: "chatlens_translation_cache_hits_total", Help: "Translation cache hits"})
		CacheMisses = promauto.NewCounter(prometheus.CounterOpts{Name: "chatlens_translation_cache_misses_total", Help: "Translation cache misses"})
		MutationBatches = promauto.NewCounter(prometheus.CounterOpts{Name: "chatlens_mutation_batches_total", Help: "Mutation batches handled by the message observer"})
		MessagesProcessed = promauto.NewCounter(prometheus.CounterOpts{Name: "chatlens_messages_processed_total", Help: "Message elements passed through process"})
		ThreadResets = promauto.NewCounter(prometheus.CounterOpts{Name: "chatlens_thread_resets_total", Help: "Full resets after a thread switch or detached list"})
		VoiceReplies = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chatlens_voice_replies_total", Help: "Voice transcripts written to the reply input"}, []string{"result"})
		TranslationDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chatlens_translation_duration_seconds", Help: "Translation network request duration seconds", Buckets: prometheus.DefBuckets})
		InFlightGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chatlens_translations_in_flight", Help: "Translation network requests currently in flight"})
		PendingGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chatlens_pending_requests", Help: "Message elements with a registered in-flight request"})
	})
}

// RecordOutcome counts a per-message outcome.
func RecordOutcome(outcome string) {
	if TranslationOutcomes != nil {
		TranslationOutcomes.WithLabelValues(outcome).Inc()
	}
}

// ObserveRequest counts a network request and records its duration.
func ObserveRequest(result string, d time.Duration) {
	if TranslationRequests != nil {
		TranslationRequests.WithLabelValues(result).Inc()
	}
	if TranslationDuration != nil {
		TranslationDuration.Observe(d.Seconds())
	}
}

// CacheLookup counts a cache hit or miss.
func CacheLookup(hit bool) {
	if hit {
		if CacheHits != nil {
			CacheHits.Inc()
		}
		return
	}
	if CacheMisses != nil {
		CacheMisses.Inc()
	}
}

// AddInFlight moves the in-flight gauge by delta.
func AddInFlight(delta int) {
	if InFlightGauge != nil {
		InFlightGauge.Add(float64(delta))
	}
}

// SetPending records the registry size.
func SetPending(n int) {
	if PendingGauge != nil {
		PendingGauge.Set(float64(n))
	}
}

// IncMutationBatches counts one handled observer batch.
func IncMutationBatches() {
	if MutationBatches != nil {
		MutationBatches.Inc()
	}
}

// IncMessagesProcessed counts one process call.
func IncMessagesProcessed() {
	if MessagesProcessed != nil {
		MessagesProcessed.Inc()
	}
}

// IncThreadResets counts one full reset.
func IncThreadResets() {
	if ThreadResets != nil {
		ThreadResets.Inc()
	}
}

// RecordVoiceReply counts a voice reply by result.
func RecordVoiceReply(result string) {
	if VoiceReplies != nil {
		VoiceReplies.WithLabelValues(result).Inc()
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
