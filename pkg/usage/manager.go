package usage

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrConcurrencyExceeded is returned by StartRequest when a credential is
// already at its effective concurrency cap.
var ErrConcurrencyExceeded = fmt.Errorf("usage: effective max concurrent requests reached")

type credEntry struct {
	mu    sync.RWMutex
	state *CredentialState
}

// Manager owns every CredentialState, sharded by a per-credential RWMutex
// so concurrent requests against different credentials never contend
// (spec §5, "shard mutexes by stable_id"). Fair-cycle resets need a view
// across every credential for a (provider, scope) pair; that path takes a
// per-provider fairCycleMu before acquiring the individual credential locks
// in stable_id order, matching the lock-ordering rule in spec §9.
type Manager struct {
	mu          sync.RWMutex // guards the providers/credEntry map itself
	providers   map[string]map[string]*credEntry
	fairCycleMu map[string]*sync.Mutex
	windowDefs  map[string][]WindowDef
	prices      *PriceTable
	log         *zap.Logger
}

// NewManager returns an empty usage manager. windowDefs maps provider name
// to the rolling windows a plugin declared via usage_reset_configs; a
// provider absent from the map gets only the default primary window.
func NewManager(windowDefs map[string][]WindowDef, prices *PriceTable, log *zap.Logger) *Manager {
	if prices == nil {
		prices = DefaultPriceTable()
	}
	return &Manager{
		providers:   make(map[string]map[string]*credEntry),
		fairCycleMu: make(map[string]*sync.Mutex),
		windowDefs:  windowDefs,
		prices:      prices,
		log:         log,
	}
}

func (m *Manager) entry(provider, stableID, accessor, tier string, priority int) *credEntry {
	m.mu.RLock()
	byCred, ok := m.providers[provider]
	if ok {
		if e, ok := byCred[stableID]; ok {
			m.mu.RUnlock()
			return e
		}
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	byCred, ok = m.providers[provider]
	if !ok {
		byCred = make(map[string]*credEntry)
		m.providers[provider] = byCred
		m.fairCycleMu[provider] = &sync.Mutex{}
	}
	if e, ok := byCred[stableID]; ok {
		return e
	}
	e := &credEntry{state: newCredentialState(provider, accessor, tier, priority)}
	byCred[stableID] = e
	return e
}

func (m *Manager) windowDefsFor(provider string) []WindowDef {
	return m.windowDefs[provider]
}

// SlotHandle identifies one in-flight request's concurrency reservation.
// EndRequest is idempotent against repeated calls on the same handle.
type SlotHandle struct {
	provider string
	stableID string
	ended    int32
}

// StartRequest atomically checks and increments active_requests for a
// credential, rejecting with ErrConcurrencyExceeded if it would exceed
// effectiveMaxConcurrent.
func (m *Manager) StartRequest(provider, stableID, accessor, tier string, priority, effectiveMaxConcurrent int) (*SlotHandle, error) {
	e := m.entry(provider, stableID, accessor, tier, priority)
	e.mu.Lock()
	defer e.mu.Unlock()
	if effectiveMaxConcurrent > 0 && e.state.ActiveRequests >= int64(effectiveMaxConcurrent) {
		return nil, ErrConcurrencyExceeded
	}
	e.state.ActiveRequests++
	return &SlotHandle{provider: provider, stableID: stableID}, nil
}

// EndRequest decrements the active_requests counter reserved by
// StartRequest. Calling it twice on the same handle is a no-op.
func (m *Manager) EndRequest(h *SlotHandle) {
	if h == nil || !atomic.CompareAndSwapInt32(&h.ended, 0, 1) {
		return
	}
	m.mu.RLock()
	e, ok := m.providers[h.provider][h.stableID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	e.mu.Lock()
	if e.state.ActiveRequests > 0 {
		e.state.ActiveRequests--
	}
	e.mu.Unlock()
}

// RecordSuccess folds a successful call's usage into the model (and, if
// quotaGroup is non-empty, group) stats and the credential's lifetime
// totals.
func (m *Manager) RecordSuccess(provider, stableID, accessor, tier string, priority int, model, quotaGroup string, u Usage, now time.Time) {
	e := m.entry(provider, stableID, accessor, tier, priority)
	cost := m.prices.Cost(model, u)

	e.mu.Lock()
	defer e.mu.Unlock()
	ms := e.state.statsFor(e.state.ModelUsage, model, m.windowDefsFor(provider))
	ms.recordSuccess(now, u, cost)
	if quotaGroup != "" {
		gs := e.state.statsFor(e.state.GroupUsage, quotaGroup, m.windowDefsFor(provider))
		gs.recordSuccess(now, u, cost)
	}
	e.state.Totals.RecordSuccess(now, u, cost)
	if e.state.FirstSeenAt.IsZero() {
		e.state.FirstSeenAt = now
	}
	e.state.LastSeenAt = now
}

// RecordFailure increments the failure counter on the model/group stats and
// the credential's lifetime totals. No token or cost accounting.
func (m *Manager) RecordFailure(provider, stableID, accessor, tier string, priority int, model, quotaGroup string, now time.Time) {
	e := m.entry(provider, stableID, accessor, tier, priority)

	e.mu.Lock()
	defer e.mu.Unlock()
	ms := e.state.statsFor(e.state.ModelUsage, model, m.windowDefsFor(provider))
	ms.recordFailure(now)
	if quotaGroup != "" {
		gs := e.state.statsFor(e.state.GroupUsage, quotaGroup, m.windowDefsFor(provider))
		gs.recordFailure(now)
	}
	e.state.Totals.RecordFailure(now)
	if e.state.FirstSeenAt.IsZero() {
		e.state.FirstSeenAt = now
	}
	e.state.LastSeenAt = now
}

// SetExhausted marks a credential exhausted for a (model-or-group) scope,
// then checks whether every credential currently known for that provider is
// now exhausted on the same scope; if so it atomically clears every
// exhausted flag for (provider, scope) — the fair-cycle reset (spec §4.3).
func (m *Manager) SetExhausted(provider, stableID, scope, reason string, now time.Time) {
	m.mu.RLock()
	byCred := m.providers[provider]
	fcMu := m.fairCycleMu[provider]
	m.mu.RUnlock()
	if byCred == nil {
		return
	}

	fcMu.Lock()
	defer fcMu.Unlock()

	ids := make([]string, 0, len(byCred))
	for id := range byCred {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if e, ok := byCred[stableID]; ok {
		e.mu.Lock()
		fc := e.state.fairCycle(scope)
		fc.Exhausted = true
		fc.ExhaustedAt = now
		fc.ExhaustedReason = reason
		fc.CycleRequestCount++
		e.mu.Unlock()
	}

	allExhausted := len(ids) > 0
	for _, id := range ids {
		e := byCred[id]
		e.mu.RLock()
		fc, ok := e.state.FairCycle[scope]
		exhausted := ok && fc.Exhausted
		e.mu.RUnlock()
		if !exhausted {
			allExhausted = false
			break
		}
	}
	if !allExhausted {
		return
	}
	for _, id := range ids {
		e := byCred[id]
		e.mu.Lock()
		if fc, ok := e.state.FairCycle[scope]; ok {
			fc.Exhausted = false
			fc.ExhaustedAt = time.Time{}
			fc.ExhaustedReason = ""
		}
		e.mu.Unlock()
	}
	if m.log != nil {
		m.log.Info("fair-cycle reset", zap.String("provider", provider), zap.String("scope", scope))
	}
}

// OrderingKey returns the selector's sort key for a candidate: the priority
// bucket (ascending, smaller first) and an in-bucket key derived from the
// primary window's request count, for balanced rotation.
type OrderingKey struct {
	Bucket         int
	RequestCount   int64
	LastUsedAt     time.Time
	ActiveRequests int64
}

// GetCandidateOrderingKey reads the current ordering key for a credential
// under scope (a model or quota-group name).
func (m *Manager) GetCandidateOrderingKey(provider, stableID, scope string) OrderingKey {
	m.mu.RLock()
	e, ok := m.providers[provider][stableID]
	m.mu.RUnlock()
	if !ok {
		return OrderingKey{}
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	key := OrderingKey{Bucket: e.state.Priority, ActiveRequests: e.state.ActiveRequests}
	if s, ok := e.state.ModelUsage[scope]; ok {
		if w, ok := s.Windows[PrimaryWindow]; ok {
			key.RequestCount = w.Requests
			key.LastUsedAt = w.LastUsedAt
		}
	}
	if s, ok := e.state.GroupUsage[scope]; ok {
		if w, ok := s.Windows[PrimaryWindow]; ok {
			key.RequestCount += w.Requests
			if w.LastUsedAt.After(key.LastUsedAt) {
				key.LastUsedAt = w.LastUsedAt
			}
		}
	}
	return key
}

// IsExhausted reports whether stableID is currently marked exhausted for
// scope.
func (m *Manager) IsExhausted(provider, stableID, scope string) bool {
	m.mu.RLock()
	e, ok := m.providers[provider][stableID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	fc, ok := e.state.FairCycle[scope]
	return ok && fc.Exhausted
}

// Snapshot is the read-only view returned by GetStats.
type Snapshot struct {
	Providers map[string]map[string]CredentialState
}

// GetStats returns a deep copy of the live state for admin endpoints. If
// provider is empty, every provider is included.
func (m *Manager) GetStats(provider string) Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := Snapshot{Providers: make(map[string]map[string]CredentialState)}
	for p, byCred := range m.providers {
		if provider != "" && p != provider {
			continue
		}
		creds := make(map[string]CredentialState, len(byCred))
		for id, e := range byCred {
			e.mu.RLock()
			creds[id] = *cloneCredentialState(e.state)
			e.mu.RUnlock()
		}
		out.Providers[p] = creds
	}
	return out
}

func cloneCredentialState(cs *CredentialState) *CredentialState {
	clone := *cs
	clone.ModelUsage = make(map[string]*Stats, len(cs.ModelUsage))
	for k, v := range cs.ModelUsage {
		clone.ModelUsage[k] = cloneStats(v)
	}
	clone.GroupUsage = make(map[string]*Stats, len(cs.GroupUsage))
	for k, v := range cs.GroupUsage {
		clone.GroupUsage[k] = cloneStats(v)
	}
	clone.FairCycle = make(map[string]*FairCycleState, len(cs.FairCycle))
	for k, v := range cs.FairCycle {
		fc := *v
		clone.FairCycle[k] = &fc
	}
	return &clone
}

func cloneStats(s *Stats) *Stats {
	clone := &Stats{Totals: s.Totals, Windows: make(map[string]*Window, len(s.Windows))}
	for k, v := range s.Windows {
		w := *v
		clone.Windows[k] = &w
	}
	return clone
}
