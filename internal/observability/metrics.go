// Package observability exposes prometheus metrics for the gateway's fetch
// pipeline and update checker.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors for the fetch pipeline and update checker.
type Metrics struct {
	strategyOutcomes *prometheus.CounterVec
	bundleLookups    *prometheus.CounterVec
	updateChecks     *prometheus.CounterVec
	cacheEntries     *prometheus.GaugeVec
}

// NewMetrics creates and registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		strategyOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "liferaft",
			Name:      "cache_strategy_total",
			Help:      "Fetches handled per route and outcome.",
		}, []string{"route", "outcome"}),
		bundleLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "liferaft",
			Name:      "bundle_lookups_total",
			Help:      "Bundle store lookups by result.",
		}, []string{"result"}),
		updateChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "liferaft",
			Name:      "update_checks_total",
			Help:      "Update checks by outcome.",
		}, []string{"outcome"}),
		cacheEntries: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "liferaft",
			Name:      "cache_bucket_entries",
			Help:      "Entries currently held per cache bucket.",
		}, []string{"bucket"}),
	}
	reg.MustRegister(m.strategyOutcomes, m.bundleLookups, m.updateChecks, m.cacheEntries)
	return m
}

// RecordStrategy counts one routed fetch. Implements cache.Metrics.
func (m *Metrics) RecordStrategy(route, outcome string) {
	m.strategyOutcomes.WithLabelValues(route, outcome).Inc()
}

// RecordBundleLookup counts one bundle store lookup ("hit" or "miss").
func (m *Metrics) RecordBundleLookup(result string) {
	m.bundleLookups.WithLabelValues(result).Inc()
}

// RecordUpdateCheck counts one update check outcome
// ("update", "no-update", "skipped", "failed").
func (m *Metrics) RecordUpdateCheck(outcome string) {
	m.updateChecks.WithLabelValues(outcome).Inc()
}

// SetCacheEntries records the current size of a bucket.
func (m *Metrics) SetCacheEntries(bucket string, n int) {
	m.cacheEntries.WithLabelValues(bucket).Set(float64(n))
}
