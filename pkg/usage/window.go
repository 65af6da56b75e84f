// Package usage implements the rolling-window usage accounting and
// persisted credential state behind the request executor: per-model and
// per-quota-group counters, lifetime totals, fair-cycle exhaustion
// tracking, and a debounced JSON snapshot writer.
package usage

import "time"

// Window is a rolling counter over a fixed duration. It rolls in place
// (counters reset, started_at advances) the first time it is observed at or
// past its reset_at; it never rolls proactively on a timer.
type Window struct {
	Name      string        `json:"-"`
	Duration  time.Duration `json:"duration_seconds"`
	StartedAt time.Time     `json:"started_at"`

	Requests  int64 `json:"requests"`
	Successes int64 `json:"successes"`
	Failures  int64 `json:"failures"`

	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	ThinkingTokens    int64  `json:"thinking_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	CacheReadTokens  int64   `json:"cache_read_tokens"`
	CacheWriteTokens int64   `json:"cache_write_tokens"`
	ApproxCostUSD    float64 `json:"approx_cost_usd"`

	FirstUsedAt time.Time `json:"first_used_at"`
	LastUsedAt  time.Time `json:"last_used_at"`

	// MaxRecordedRequests is a lifetime high-water mark of Requests seen in
	// any single window instance. It is NOT reset on rollover: the source
	// system tracks it as an all-time high, and that behaviour is kept
	// intentionally (spec Open Question 1) rather than "fixed".
	MaxRecordedRequests int64 `json:"max_recorded_requests"`

	Limit *int64 `json:"limit,omitempty"`
}

// ResetAt is the instant this window's counters next roll.
func (w *Window) ResetAt() time.Time {
	return w.StartedAt.Add(w.Duration)
}

// RollIfDue zeroes the per-window counters in place when now has reached
// reset_at. first_used_at and max_recorded_requests survive the roll.
func (w *Window) RollIfDue(now time.Time) {
	if w.StartedAt.IsZero() {
		w.StartedAt = now
		return
	}
	if now.Before(w.ResetAt()) {
		return
	}
	w.StartedAt = now
	w.Requests = 0
	w.Successes = 0
	w.Failures = 0
	w.PromptTokens = 0
	w.CompletionTokens = 0
	w.ThinkingTokens = 0
	w.TotalTokens = 0
	w.CacheReadTokens = 0
	w.CacheWriteTokens = 0
	w.ApproxCostUSD = 0
}

// RecordSuccess folds one successful call's usage into the window.
func (w *Window) RecordSuccess(now time.Time, u Usage, costUSD float64) {
	w.RollIfDue(now)
	w.Requests++
	w.Successes++
	w.PromptTokens += u.PromptTokens
	w.CompletionTokens += u.CompletionTokens
	w.ThinkingTokens += u.ThinkingTokens
	w.TotalTokens += u.TotalTokens
	w.CacheReadTokens += u.CacheReadTokens
	w.CacheWriteTokens += u.CacheWriteTokens
	w.ApproxCostUSD += costUSD
	if w.Requests > w.MaxRecordedRequests {
		w.MaxRecordedRequests = w.Requests
	}
	if w.FirstUsedAt.IsZero() {
		w.FirstUsedAt = now
	}
	w.LastUsedAt = now
}

// RecordFailure folds one failed call into the window's request/failure
// counters only; no token or cost accounting.
func (w *Window) RecordFailure(now time.Time) {
	w.RollIfDue(now)
	w.Requests++
	w.Failures++
	if w.Requests > w.MaxRecordedRequests {
		w.MaxRecordedRequests = w.Requests
	}
	if w.FirstUsedAt.IsZero() {
		w.FirstUsedAt = now
	}
	w.LastUsedAt = now
}

// Usage is the best-effort token accounting reported by a provider plugin
// for one successful call.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	ThinkingTokens   int64
	TotalTokens      int64
	CacheReadTokens  int64
	CacheWriteTokens int64
}

// PrimaryWindow is the window name the selector compares when ordering
// candidates and the name usage_reset_configs without an explicit name
// default to.
const PrimaryWindow = "primary"

// DefaultWindowDuration is used for the primary window when no plugin
// usage_reset_configs declare one.
const DefaultWindowDuration = time.Hour
