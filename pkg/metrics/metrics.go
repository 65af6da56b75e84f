// Package metrics exposes the process's Prometheus instrumentation:
// active-request gauges per credential, cooldown transitions, and OAuth
// refresh outcomes (SPEC_FULL.md §11 domain stack).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles the metric families the rest of the process records
// against, built over a caller-supplied prometheus.Registerer so tests can
// use a fresh, isolated registry per case.
type Registry struct {
	ActiveRequests   *prometheus.GaugeVec
	RequestsTotal    *prometheus.CounterVec
	CooldownEntered  *prometheus.CounterVec
	OAuthRefreshes   *prometheus.CounterVec
	CandidatesTried  prometheus.Histogram
}

// New registers and returns a Registry on reg.
func New(reg prometheus.Registerer) *Registry {
	r := &Registry{
		ActiveRequests: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "llmproxy_active_requests",
			Help: "In-flight requests per provider and credential.",
		}, []string{"provider", "stable_id"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llmproxy_requests_total",
			Help: "Completed requests per provider, credential, and outcome.",
		}, []string{"provider", "stable_id", "outcome"}),
		CooldownEntered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llmproxy_cooldown_entered_total",
			Help: "Times a credential entered a cooldown, by provider and reason.",
		}, []string{"provider", "reason"}),
		OAuthRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llmproxy_oauth_refresh_total",
			Help: "OAuth token refresh attempts, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		CandidatesTried: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "llmproxy_candidates_tried",
			Help:    "Number of candidate credentials tried before a request resolved.",
			Buckets: prometheus.LinearBuckets(1, 1, 8),
		}),
	}
	reg.MustRegister(r.ActiveRequests, r.RequestsTotal, r.CooldownEntered, r.OAuthRefreshes, r.CandidatesTried)
	return r
}

// RecordSuccess updates active-request and outcome counters for a
// completed request.
func (r *Registry) RecordSuccess(provider, stableID string) {
	r.RequestsTotal.WithLabelValues(provider, stableID, "success").Inc()
}

// RecordFailure records a failed attempt against a specific credential.
func (r *Registry) RecordFailure(provider, stableID, kind string) {
	r.RequestsTotal.WithLabelValues(provider, stableID, kind).Inc()
}

// RecordCooldown records a credential entering cooldown.
func (r *Registry) RecordCooldown(provider, reason string) {
	r.CooldownEntered.WithLabelValues(provider, reason).Inc()
}

// RecordOAuthRefresh records an OAuth refresh attempt's outcome
// ("success", "retry", "reauth_required").
func (r *Registry) RecordOAuthRefresh(provider, outcome string) {
	r.OAuthRefreshes.WithLabelValues(provider, outcome).Inc()
}
