// Package provider defines the plugin contract every backend
// implementation (OpenAI-compatible passthrough, Codex-style SSE, etc.)
// satisfies, and the tagged-union outcome classification the executor
// branches on.
package provider

import (
	"time"

	"github.com/keyrotor/llmproxy/pkg/usage"
)

// ClassificationKind discriminates the Classification union.
type ClassificationKind int

const (
	KindSuccess ClassificationKind = iota
	KindRateLimit
	KindQuotaExhausted
	KindAuthFailure
	KindInvalidRequest
	KindTransient
	KindFatal
)

func (k ClassificationKind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindRateLimit:
		return "rate_limit"
	case KindQuotaExhausted:
		return "quota_exhausted"
	case KindAuthFailure:
		return "auth_failure"
	case KindInvalidRequest:
		return "invalid_request"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// severityRank orders classifications for "most informative error wins"
// when the executor exhausts every candidate (spec §4.3 step 3): higher
// rank surfaces over lower rank.
var severityRank = map[ClassificationKind]int{
	KindFatal:          6,
	KindInvalidRequest: 5,
	KindQuotaExhausted: 4,
	KindRateLimit:      3,
	KindAuthFailure:    2,
	KindTransient:      1,
}

// MoreInformative reports whether a should replace b as the surfaced error.
func MoreInformative(a, b Classification) bool {
	return severityRank[a.Kind] > severityRank[b.Kind]
}

// Classification is the outcome of classify_error for one execute attempt.
// Exactly the fields relevant to Kind are populated; callers should switch
// on Kind rather than inspect fields directly.
type Classification struct {
	Kind ClassificationKind

	// KindSuccess
	Usage usage.Usage

	// KindRateLimit
	RetryAfter time.Duration
	Scope      string // model name, quota group, or "*"

	// KindQuotaExhausted
	Until *time.Time // nil means "use plugin's default quota window"

	// KindAuthFailure
	NeedsReauth bool

	// KindTransient
	Retryable bool

	// Error is the underlying error for any non-success kind, preserved so
	// the HTTP boundary can render provider-specific detail.
	Error error
}

// Success builds a KindSuccess classification.
func Success(u usage.Usage) Classification {
	return Classification{Kind: KindSuccess, Usage: u}
}

// RateLimit builds a KindRateLimit classification.
func RateLimit(retryAfter time.Duration, scope string, err error) Classification {
	return Classification{Kind: KindRateLimit, RetryAfter: retryAfter, Scope: scope, Error: err}
}

// QuotaExhausted builds a KindQuotaExhausted classification.
func QuotaExhausted(until *time.Time, scope string, err error) Classification {
	return Classification{Kind: KindQuotaExhausted, Until: until, Scope: scope, Error: err}
}

// AuthFailure builds a KindAuthFailure classification.
func AuthFailure(needsReauth bool, err error) Classification {
	return Classification{Kind: KindAuthFailure, NeedsReauth: needsReauth, Error: err}
}

// InvalidRequest builds a KindInvalidRequest classification.
func InvalidRequest(err error) Classification {
	return Classification{Kind: KindInvalidRequest, Error: err}
}

// Transient builds a KindTransient classification.
func Transient(retryable bool, err error) Classification {
	return Classification{Kind: KindTransient, Retryable: retryable, Error: err}
}

// Fatal builds a KindFatal classification.
func Fatal(err error) Classification {
	return Classification{Kind: KindFatal, Error: err}
}
