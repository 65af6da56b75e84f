// Package executor implements the per-request select -> execute ->
// classify -> record -> cooldown/retry loop (spec §4.3, Component C7).
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/keyrotor/llmproxy/pkg/cooldown"
	"github.com/keyrotor/llmproxy/pkg/credential"
	"github.com/keyrotor/llmproxy/pkg/oauthqueue"
	"github.com/keyrotor/llmproxy/pkg/provider"
	"github.com/keyrotor/llmproxy/pkg/selector"
	"github.com/keyrotor/llmproxy/pkg/types"
	"github.com/keyrotor/llmproxy/pkg/usage"
)

// ErrNoAvailableCredentials is surfaced when the candidate sequence is
// empty at the start of selection and stays empty through the deadline.
var ErrNoAvailableCredentials = errors.New("executor: no available credentials")

const (
	defaultGlobalTimeout   = 30 * time.Second
	defaultMaxRetries      = 8
	cooldownPollCap        = 5 * time.Second
	transientBackoffBase   = time.Second
	transientBackoffCap    = 60 * time.Second
)

// Config holds per-process executor tuning.
type Config struct {
	GlobalTimeout   time.Duration
	MaxRetries      int
	ProviderTimeout map[string]time.Duration // provider -> per-attempt cap
}

// DefaultConfig returns the documented defaults (spec §5).
func DefaultConfig() Config {
	return Config{GlobalTimeout: defaultGlobalTimeout, MaxRetries: defaultMaxRetries, ProviderTimeout: map[string]time.Duration{}}
}

// RequestContext is one request's execution parameters (spec §3, "Request
// Context").
type RequestContext struct {
	Provider             string
	Model                string
	Body                 types.StandardRequest
	Streaming            bool
	Deadline             time.Time
	Priority             selector.RequestPriority
	PreRequestCallback   func(ctx context.Context) error
	AbortOnCallbackError bool
}

// Executor wires the selector, usage manager, cooldown manager, OAuth
// orchestrators, and provider plugins into the retry loop.
type Executor struct {
	sel       *selector.Selector
	usageMgr  *usage.Manager
	cooldowns *cooldown.Manager
	plugins   map[string]provider.Plugin
	oauth     map[string]*oauthqueue.Orchestrator
	cfg       Config
	log       *zap.Logger
}

// New builds an Executor over the given collaborators.
func New(sel *selector.Selector, usageMgr *usage.Manager, cooldowns *cooldown.Manager, plugins map[string]provider.Plugin, oauth map[string]*oauthqueue.Orchestrator, cfg Config, log *zap.Logger) *Executor {
	return &Executor{sel: sel, usageMgr: usageMgr, cooldowns: cooldowns, plugins: plugins, oauth: oauth, cfg: cfg, log: log}
}

// attemptError ranks a classification's error against the best one seen so
// far in a request, keeping the most informative (spec §4.3 step 3).
type attemptError struct {
	class provider.Classification
	set   bool
}

func (a *attemptError) consider(c provider.Classification) {
	if !a.set || provider.MoreInformative(c, a.class) {
		a.class = c
		a.set = true
	}
}

func (a *attemptError) asError() error {
	if !a.set {
		return ErrNoAvailableCredentials
	}
	return &ClassifiedError{Kind: a.class.Kind, Err: a.class.Error}
}

// ClassifiedError wraps a terminal failure with the classification kind
// that produced it, so callers (the HTTP layer, per spec §7's status-code
// table) can map it precisely instead of pattern-matching error text.
type ClassifiedError struct {
	Kind provider.ClassificationKind
	Err  error
}

func (e *ClassifiedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("executor: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("executor: %s", e.Kind)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// ExecuteCompletion runs the selection/execution/retry loop for one
// request. Exactly one of resp/stream is non-nil on success.
func (e *Executor) ExecuteCompletion(ctx context.Context, rc RequestContext) (resp *types.StandardResponse, stream provider.Stream, err error) {
	deadline := rc.Deadline
	if deadline.IsZero() {
		deadline = time.Now().Add(e.cfg.GlobalTimeout)
	}
	maxRetries := e.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	plugin := e.plugins[rc.Provider]
	if plugin == nil {
		return nil, nil, fmt.Errorf("executor: unknown provider %q", rc.Provider)
	}

	attempted := map[string]bool{}
	attempts := 0
	best := &attemptError{}
	calledCallback := false

	for time.Now().Before(deadline) {
		candidate := e.nextCandidate(rc.Provider, rc.Model, rc.Priority, attempted)
		if candidate == nil {
			waited := e.waitForEarliestCooldown(ctx, rc.Provider, attempted, deadline)
			if !waited {
				break
			}
			continue
		}
		attempted[candidate.StableID] = true

		cap := e.sel.EffectiveMaxConcurrent(rc.Provider, candidate, rc.Priority)
		slot, startErr := e.usageMgr.StartRequest(rc.Provider, candidate.StableID, string(candidate.Accessor), candidate.Tier, candidate.Priority, cap)
		if startErr != nil {
			continue // concurrency cap hit since filtering; try another candidate
		}

		if attempts == 0 && rc.PreRequestCallback != nil && !calledCallback {
			calledCallback = true
			if cbErr := rc.PreRequestCallback(ctx); cbErr != nil && rc.AbortOnCallbackError {
				e.usageMgr.EndRequest(slot)
				return nil, nil, fmt.Errorf("executor: pre-request callback aborted request: %w", cbErr)
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, e.attemptTimeout(rc.Provider, deadline))
		resp, stream, outcome, execErr := plugin.Execute(attemptCtx, candidate, rc.Body, rc.Streaming)
		cancel()
		if execErr != nil {
			outcome.Err = execErr
		}

		classification := plugin.ClassifyError(outcome)
		scope, scopeIsGroup := provider.QuotaScope(plugin, rc.Model)

		switch classification.Kind {
		case provider.KindSuccess:
			if rc.Streaming && stream != nil {
				// Token accounting for a stream is driven by the terminal
				// chunk's usage totals, not this pre-stream classification:
				// recording success here too would double-count if the
				// stream later fails mid-transmission (trackingStream
				// records exactly one terminal outcome, in stream.go).
				e.usageMgr.EndRequest(slot)
				return nil, newTrackingStream(stream, e, rc, candidate, scope), nil
			}
			e.usageMgr.RecordSuccess(rc.Provider, candidate.StableID, string(candidate.Accessor), candidate.Tier, candidate.Priority, rc.Model, scope, classification.Usage, time.Now())
			e.usageMgr.EndRequest(slot)
			return resp, nil, nil

		case provider.KindRateLimit:
			cdScope := cooldownScope(classification.Scope, scope, scopeIsGroup)
			e.cooldowns.Set(candidate.StableID, cdScope, time.Now().Add(classification.RetryAfter))
			e.usageMgr.RecordFailure(rc.Provider, candidate.StableID, string(candidate.Accessor), candidate.Tier, candidate.Priority, rc.Model, scope, time.Now())
			e.usageMgr.EndRequest(slot)
			best.consider(classification)

		case provider.KindQuotaExhausted:
			until := time.Now().Add(defaultQuotaWindow)
			if classification.Until != nil {
				until = *classification.Until
			}
			cdScope := cooldownScope(classification.Scope, scope, scopeIsGroup)
			e.cooldowns.Set(candidate.StableID, cdScope, until)
			e.usageMgr.SetExhausted(rc.Provider, candidate.StableID, scope, "quota_exceeded", time.Now())
			e.usageMgr.RecordFailure(rc.Provider, candidate.StableID, string(candidate.Accessor), candidate.Tier, candidate.Priority, rc.Model, scope, time.Now())
			e.usageMgr.EndRequest(slot)
			best.consider(classification)

		case provider.KindAuthFailure:
			// The refresh worker itself escalates to the re-auth queue on
			// invalid_grant/401/403 (oauthqueue.processRefresh); the
			// executor only needs to ensure a refresh attempt is queued.
			if orch := e.oauth[rc.Provider]; orch != nil {
				orch.EnqueueRefresh(candidate, true)
			}
			e.usageMgr.RecordFailure(rc.Provider, candidate.StableID, string(candidate.Accessor), candidate.Tier, candidate.Priority, rc.Model, scope, time.Now())
			e.usageMgr.EndRequest(slot)
			best.consider(classification)

		case provider.KindInvalidRequest, provider.KindFatal:
			e.usageMgr.RecordFailure(rc.Provider, candidate.StableID, string(candidate.Accessor), candidate.Tier, candidate.Priority, rc.Model, scope, time.Now())
			e.usageMgr.EndRequest(slot)
			return nil, nil, &ClassifiedError{Kind: classification.Kind, Err: orDefaultErr(classification.Error)}

		case provider.KindTransient:
			backoff := time.Duration(1<<uint(boundedBackoffCount(attempts))) * transientBackoffBase
			if backoff > transientBackoffCap {
				backoff = transientBackoffCap
			}
			e.cooldowns.Set(candidate.StableID, cooldown.All, time.Now().Add(backoff))
			e.usageMgr.RecordFailure(rc.Provider, candidate.StableID, string(candidate.Accessor), candidate.Tier, candidate.Priority, rc.Model, scope, time.Now())
			e.usageMgr.EndRequest(slot)
			best.consider(classification)
			if !classification.Retryable {
				return nil, nil, &ClassifiedError{Kind: provider.KindTransient, Err: orDefaultErr(classification.Error)}
			}
		}

		attempts++
		if attempts >= maxRetries {
			break
		}
	}

	return nil, nil, best.asError()
}

func orDefaultErr(err error) error {
	if err != nil {
		return err
	}
	return errors.New("no detail")
}

func boundedBackoffCount(attempts int) int {
	if attempts > 6 {
		return 6
	}
	return attempts
}

const defaultQuotaWindow = time.Hour

// cooldownScope maps a classification's reported scope (or, if empty, the
// request's resolved quota scope) onto a cooldown.Scope of the right kind.
// fallbackIsGroup says whether fallback names a quota group rather than a
// model (spec §4.5/§9: a quota-group-scoped cooldown must be keyed as
// cooldown.QuotaGroup, not cooldown.Model, or sibling credentials sharing
// that group are never suppressed).
func cooldownScope(scope, fallback string, fallbackIsGroup bool) cooldown.Scope {
	s := scope
	isGroup := false
	if s == "" {
		s = fallback
		isGroup = fallbackIsGroup
	} else if s == fallback {
		isGroup = fallbackIsGroup
	}
	if s == "*" || s == "" {
		return cooldown.All
	}
	if isGroup {
		return cooldown.QuotaGroup(s)
	}
	return cooldown.Model(s)
}

func (e *Executor) nextCandidate(providerName, model string, priority selector.RequestPriority, attempted map[string]bool) *credential.Credential {
	candidates := e.sel.Candidates(providerName, model, priority, time.Now())
	for _, c := range candidates {
		if !attempted[c.StableID] {
			return c
		}
	}
	return nil
}

// waitForEarliestCooldown sleeps until the soonest cooldown affecting an
// already-attempted credential ends (capped at cooldownPollCap), so the
// next selection pass has a chance to find a newly-eligible candidate. It
// returns false when nothing will become available before the deadline.
func (e *Executor) waitForEarliestCooldown(ctx context.Context, providerName string, attempted map[string]bool, deadline time.Time) bool {
	var earliest time.Time
	found := false
	now := time.Now()
	for id := range attempted {
		if end, ok := e.cooldowns.EarliestEnd(id, now); ok {
			if !found || end.Before(earliest) {
				earliest = end
				found = true
			}
		}
	}
	if !found || !earliest.Before(deadline) {
		return false
	}

	wait := time.Until(earliest)
	if wait > cooldownPollCap {
		wait = cooldownPollCap
	}
	if wait <= 0 {
		return true
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
