// Package oauthqueue drives OAuth token refresh and interactive
// re-authentication through bounded, serial, per-provider background
// queues, with a process-wide coordinator ensuring only one interactive
// re-auth flow runs at a time across every provider.
package oauthqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/keyrotor/llmproxy/pkg/credential"
)

// ErrorKind classifies a failed refresh attempt so the orchestrator knows
// whether to requeue, back off, or escalate to interactive re-auth.
type ErrorKind int

const (
	ErrKindUnknown ErrorKind = iota
	ErrKindInvalidGrant
	ErrKindUnauthorized // 401/403
	ErrKindRateLimited  // 429
	ErrKindServer       // 5xx
	ErrKindNetwork
)

// RefreshError carries the classification a RefreshFunc returns on failure.
type RefreshError struct {
	Kind       ErrorKind
	RetryAfter time.Duration // honoured for ErrKindRateLimited
	Err        error
}

func (e *RefreshError) Error() string { return e.Err.Error() }
func (e *RefreshError) Unwrap() error { return e.Err }

// RefreshFunc performs one non-interactive refresh_token exchange and, on
// success, updates cred's token material in place (disk persisted before
// the in-memory cache, per spec §4.6 — the caller is expected to persist
// inside this function before returning).
type RefreshFunc func(ctx context.Context, cred *credential.Credential) error

// ReauthFunc drives one interactive PKCE re-auth flow to completion.
type ReauthFunc func(ctx context.Context, cred *credential.Credential) error

const (
	refreshAttemptTimeout = 20 * time.Second
	maxRefreshRetries     = 3
	reauthUnavailableTTL  = 360 * time.Second
	maxRefreshBackoff     = 5 * time.Minute
	workerIdleTimeout     = 30 * time.Second
)

// ErrNeedsReauth is surfaced to callers when a refresh attempt determines a
// credential can only be recovered through an interactive flow.
var ErrNeedsReauth = errors.New("oauthqueue: credential needs interactive re-authentication")

type refreshJob struct {
	cred  *credential.Credential
	force bool
}

// Orchestrator owns the refresh and re-auth queues for one provider.
type Orchestrator struct {
	provider string
	refresh  RefreshFunc
	reauth   ReauthFunc
	coord    *ReauthCoordinator
	sf       singleflight.Group
	log      *zap.Logger

	mu               sync.Mutex
	unavailableUntil map[string]time.Time
	nextRefreshAfter map[string]time.Time
	reauthQueued     map[string]bool
	retryCount       map[string]int

	refreshCh     chan refreshJob
	refreshActive int32
}

// NewOrchestrator returns an orchestrator for one provider, sharing coord
// with every other provider's orchestrator so interactive flows serialize
// globally.
func NewOrchestrator(provider string, refresh RefreshFunc, reauth ReauthFunc, coord *ReauthCoordinator, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		provider:         provider,
		refresh:          refresh,
		reauth:           reauth,
		coord:            coord,
		log:              log,
		unavailableUntil: make(map[string]time.Time),
		nextRefreshAfter: make(map[string]time.Time),
		reauthQueued:     make(map[string]bool),
		retryCount:       make(map[string]int),
		refreshCh:        make(chan refreshJob, 64),
	}
}

// IsAvailable implements the availability predicate from spec §4.6: not
// queued for re-auth, not inside an unavailable_until window, and not past
// true expiry.
func (o *Orchestrator) IsAvailable(cred *credential.Credential, now time.Time) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.reauthQueued[cred.StableID] {
		return false
	}
	if until, ok := o.unavailableUntil[cred.StableID]; ok && now.Before(until) {
		return false
	}
	return !cred.TrueExpiry(now)
}

// EnqueueRefresh submits a refresh job, starting the worker goroutine if it
// is not already running (idempotent "ensure running" via CAS, spec §9).
func (o *Orchestrator) EnqueueRefresh(cred *credential.Credential, force bool) {
	o.ensureRefreshWorker()
	select {
	case o.refreshCh <- refreshJob{cred: cred, force: force}:
	default:
		if o.log != nil {
			o.log.Warn("refresh queue full, dropping job", zap.String("provider", o.provider), zap.String("stable_id", cred.StableID))
		}
	}
}

func (o *Orchestrator) ensureRefreshWorker() {
	if !atomic.CompareAndSwapInt32(&o.refreshActive, 0, 1) {
		return
	}
	go o.runRefreshWorker()
}

// runRefreshWorker drains the refresh queue serially, one job at a time,
// and exits after workerIdleTimeout with nothing to do. EnqueueRefresh
// restarts it lazily on the next submission.
func (o *Orchestrator) runRefreshWorker() {
	defer atomic.StoreInt32(&o.refreshActive, 0)
	timer := time.NewTimer(workerIdleTimeout)
	defer timer.Stop()
	for {
		select {
		case job := <-o.refreshCh:
			if !timer.Stop() {
				<-timer.C
			}
			o.processRefresh(job)
			timer.Reset(workerIdleTimeout)
		case <-timer.C:
			return
		}
	}
}

func (o *Orchestrator) processRefresh(job refreshJob) {
	cred := job.cred
	now := time.Now()

	if !job.force && !cred.NeedsProactiveRefresh(now) && !cred.TrueExpiry(now) {
		return
	}

	o.mu.Lock()
	if next, ok := o.nextRefreshAfter[cred.StableID]; ok && now.Before(next) {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	_, err, _ := o.sf.Do(cred.StableID, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), refreshAttemptTimeout)
		defer cancel()
		return nil, o.refresh(ctx, cred)
	})
	if err == nil {
		o.mu.Lock()
		delete(o.nextRefreshAfter, cred.StableID)
		delete(o.unavailableUntil, cred.StableID)
		o.mu.Unlock()
		if o.log != nil {
			o.log.Info("oauth refresh succeeded", zap.String("provider", o.provider), zap.String("stable_id", cred.StableID))
		}
		return
	}

	var rerr *RefreshError
	kind := ErrKindUnknown
	var retryAfter time.Duration
	if errors.As(err, &rerr) {
		kind = rerr.Kind
		retryAfter = rerr.RetryAfter
	}

	switch kind {
	case ErrKindInvalidGrant, ErrKindUnauthorized:
		o.queueReauth(cred, now)
	case ErrKindRateLimited:
		o.mu.Lock()
		o.nextRefreshAfter[cred.StableID] = now.Add(retryAfter)
		o.mu.Unlock()
		time.AfterFunc(retryAfter, func() { o.EnqueueRefresh(cred, true) })
	default: // server/network
		o.backoffAndRequeue(cred, now)
	}
}

func (o *Orchestrator) backoffAndRequeue(cred *credential.Credential, now time.Time) {
	o.mu.Lock()
	attempt := o.retryCount[cred.StableID]
	o.retryCount[cred.StableID] = attempt + 1
	o.mu.Unlock()

	if attempt+1 >= maxRefreshRetries {
		o.mu.Lock()
		o.unavailableUntil[cred.StableID] = now.Add(reauthUnavailableTTL)
		delete(o.retryCount, cred.StableID)
		o.mu.Unlock()
		if o.log != nil {
			o.log.Warn("oauth refresh exhausted retries, marking unavailable", zap.String("provider", o.provider), zap.String("stable_id", cred.StableID))
		}
		return
	}

	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > maxRefreshBackoff {
		backoff = maxRefreshBackoff
	}
	o.mu.Lock()
	o.nextRefreshAfter[cred.StableID] = now.Add(backoff)
	o.mu.Unlock()
	time.AfterFunc(backoff, func() { o.EnqueueRefresh(cred, true) })
}

func (o *Orchestrator) queueReauth(cred *credential.Credential, now time.Time) {
	o.mu.Lock()
	o.unavailableUntil[cred.StableID] = now.Add(reauthUnavailableTTL)
	o.reauthQueued[cred.StableID] = true
	o.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), reauthCallbackTimeout)
		defer cancel()
		err := o.coord.Run(ctx, o.provider, cred, o.reauth)

		o.mu.Lock()
		delete(o.reauthQueued, cred.StableID)
		if err == nil {
			delete(o.unavailableUntil, cred.StableID)
		}
		o.mu.Unlock()

		if o.log != nil {
			if err != nil {
				o.log.Warn("interactive re-auth failed", zap.String("provider", o.provider), zap.String("stable_id", cred.StableID), zap.Error(err))
			} else {
				o.log.Info("interactive re-auth succeeded", zap.String("provider", o.provider), zap.String("stable_id", cred.StableID))
			}
		}
	}()
}
