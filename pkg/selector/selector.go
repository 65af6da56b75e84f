// Package selector implements the credential filter and ordering rules
// (spec §4.2): given a provider/model/request, produce a finite, ordered
// sequence of candidate credentials the executor tries in turn.
package selector

import (
	"math"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/keyrotor/llmproxy/pkg/catalog"
	"github.com/keyrotor/llmproxy/pkg/cooldown"
	"github.com/keyrotor/llmproxy/pkg/credential"
	"github.com/keyrotor/llmproxy/pkg/oauthqueue"
	"github.com/keyrotor/llmproxy/pkg/provider"
	"github.com/keyrotor/llmproxy/pkg/usage"
)

// Config holds the env-tunable knobs from spec §6's recognised keys that
// shape filtering and ordering.
type Config struct {
	// RotationTolerance is the ratio within which two candidates' primary
	// window request counts are treated as equal for round-robin purposes.
	RotationTolerance float64

	RotationMode                 map[string]provider.RotationMode // keyed by provider
	BaseMaxConcurrent            map[string]int                    // keyed by provider
	PriorityMultipliers          map[string]map[int]float64        // provider -> priority -> multiplier
	SequentialFallbackMultiplier map[string]float64                // keyed by provider
}

// DefaultConfig returns the documented defaults (spec §6, §4.2).
func DefaultConfig() Config {
	return Config{
		RotationTolerance:            0.1,
		RotationMode:                 map[string]provider.RotationMode{},
		BaseMaxConcurrent:            map[string]int{},
		PriorityMultipliers:          map[string]map[int]float64{},
		SequentialFallbackMultiplier: map[string]float64{},
	}
}

// Selector implements the candidate filter + ordering pipeline.
type Selector struct {
	catalog   *catalog.Catalog
	cooldowns *cooldown.Manager
	usageMgr  *usage.Manager
	oauth     map[string]*oauthqueue.Orchestrator
	plugins   map[string]provider.Plugin
	cfg       Config

	limitersMu sync.Mutex
	limiters   map[string]*rate.Limiter // keyed by stable_id
}

// New builds a Selector over the given collaborators. plugins and oauth are
// keyed by provider name; a provider without an oauthqueue.Orchestrator is
// assumed to be API-key-only (filter rule 2 is skipped for it).
func New(cat *catalog.Catalog, cooldowns *cooldown.Manager, usageMgr *usage.Manager, oauth map[string]*oauthqueue.Orchestrator, plugins map[string]provider.Plugin, cfg Config) *Selector {
	return &Selector{
		catalog:   cat,
		cooldowns: cooldowns,
		usageMgr:  usageMgr,
		oauth:     oauth,
		plugins:   plugins,
		cfg:       cfg,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// RequestPriority is the caller-declared priority class used to look up a
// concurrency multiplier; 0 is the default/unspecified priority.
type RequestPriority int

// Candidates returns the ordered, deduplicated candidate sequence for one
// request (spec §4.2). The caller consumes it in order and may stop early.
func (s *Selector) Candidates(providerName, model string, reqPriority RequestPriority, now time.Time) []*credential.Credential {
	plugin := s.plugins[providerName]
	if plugin == nil {
		return nil
	}
	scope := provider.QuotaGroupOrModel(plugin, model)
	oauthOrch := s.oauth[providerName]

	all := s.catalog.Credentials(providerName)
	seen := make(map[string]bool, len(all))
	filtered := make([]*credential.Credential, 0, len(all))

	for _, c := range all {
		if seen[c.StableID] { // rule: dedup by stable_id (spec §8)
			continue
		}
		seen[c.StableID] = true

		if c.Kind == credential.KindOAuth && oauthOrch != nil && !oauthOrch.IsAvailable(c, now) {
			continue
		}
		if s.cooldowns.IsActiveNow(c.StableID, model, scope, now) {
			continue
		}
		if !plugin.TierAllowed(c.Tier, model) {
			continue
		}
		if !s.hasCapacity(providerName, c, reqPriority) {
			continue
		}
		filtered = append(filtered, c)
	}

	mode := plugin.DefaultRotationMode()
	if m, ok := s.cfg.RotationMode[providerName]; ok {
		mode = m
	}

	switch mode {
	case provider.RotationSequential:
		s.orderSequential(providerName, filtered)
	default:
		s.orderBalanced(providerName, scope, filtered, now)
	}
	return filtered
}

func (s *Selector) hasCapacity(providerName string, c *credential.Credential, reqPriority RequestPriority) bool {
	key := s.usageMgr.GetCandidateOrderingKey(providerName, c.StableID, "")
	cap := s.effectiveMaxConcurrent(providerName, c, reqPriority)
	if cap > 0 && key.ActiveRequests >= int64(cap) {
		return false
	}
	return s.limiterFor(c.StableID, cap).Allow()
}

// limiterFor returns the per-credential token-bucket limiter backing the
// effective-max-concurrency semaphore: burst equals the concurrency cap and
// the bucket refills at the same rate per second, so a candidate that is
// under its concurrency cap can still be paced rather than admitted in an
// instantaneous burst.
func (s *Selector) limiterFor(stableID string, cap int) *rate.Limiter {
	if cap <= 0 {
		cap = 1
	}
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()
	lim, ok := s.limiters[stableID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(cap), cap)
		s.limiters[stableID] = lim
	}
	return lim
}

// EffectiveMaxConcurrent exposes the cap computation for the executor's
// start_request call, which needs the same number the filter used.
func (s *Selector) EffectiveMaxConcurrent(providerName string, c *credential.Credential, reqPriority RequestPriority) int {
	return s.effectiveMaxConcurrent(providerName, c, reqPriority)
}

func (s *Selector) effectiveMaxConcurrent(providerName string, c *credential.Credential, reqPriority RequestPriority) int {
	base := c.MaxConcurrent
	if base <= 0 {
		base = s.cfg.BaseMaxConcurrent[providerName]
	}
	if base <= 0 {
		base = 1
	}

	mult := 1.0
	if perProvider, ok := s.cfg.PriorityMultipliers[providerName]; ok {
		if m, ok := perProvider[int(reqPriority)]; ok {
			mult = m
		} else if plugin := s.plugins[providerName]; plugin != nil {
			if m, ok := plugin.DefaultPriorityMultipliers()[int(reqPriority)]; ok {
				mult = m
			}
		}
	} else if plugin := s.plugins[providerName]; plugin != nil {
		if m, ok := plugin.DefaultPriorityMultipliers()[int(reqPriority)]; ok {
			mult = m
		}
	}

	return int(math.Max(1, math.Floor(float64(base)*mult)))
}

func (s *Selector) orderSequential(providerName string, creds []*credential.Credential) {
	index := make(map[string]int, len(creds))
	for i, c := range s.catalog.Credentials(providerName) {
		index[c.StableID] = i
	}
	sort.SliceStable(creds, func(i, j int) bool {
		pi, pj := creds[i].Priority, creds[j].Priority
		if pi != pj {
			return pi < pj
		}
		ii, ij := index[creds[i].StableID], index[creds[j].StableID]
		if ii != ij {
			return ii < ij
		}
		return creds[i].StableID < creds[j].StableID // spec §9: stable_id tie-break
	})
}

func (s *Selector) orderBalanced(providerName, scope string, creds []*credential.Credential, now time.Time) {
	type ranked struct {
		cred *credential.Credential
		key  usage.OrderingKey
	}
	rs := make([]ranked, len(creds))
	for i, c := range creds {
		rs[i] = ranked{cred: c, key: s.usageMgr.GetCandidateOrderingKey(providerName, c.StableID, scope)}
	}

	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if a.key.Bucket != b.key.Bucket {
			return a.key.Bucket < b.key.Bucket
		}
		if !withinTolerance(a.key.RequestCount, b.key.RequestCount, s.cfg.RotationTolerance) {
			return a.key.RequestCount < b.key.RequestCount
		}
		if !a.key.LastUsedAt.Equal(b.key.LastUsedAt) {
			return a.key.LastUsedAt.Before(b.key.LastUsedAt)
		}
		return a.cred.StableID < b.cred.StableID
	})

	for i, r := range rs {
		creds[i] = r.cred
	}
}

// withinTolerance reports whether two request counts are close enough to
// be treated as equal (so a round-robin, not strict-ascending, order
// emerges across near-equal candidates).
func withinTolerance(a, b int64, tolerance float64) bool {
	if a == b {
		return true
	}
	hi, lo := a, b
	if hi < lo {
		hi, lo = lo, hi
	}
	if lo == 0 {
		return false
	}
	return float64(hi-lo)/float64(lo) <= tolerance
}
