package usage

import "time"

// Stats is the shape shared by ModelStats and GroupStats: a set of named
// rolling windows plus lifetime totals that never roll.
type Stats struct {
	Windows map[string]*Window `json:"windows"`
	Totals  Window             `json:"totals"`
}

func newStats(windowDefs []WindowDef) *Stats {
	s := &Stats{Windows: make(map[string]*Window, len(windowDefs))}
	for _, d := range windowDefs {
		s.Windows[d.Name] = &Window{Name: d.Name, Duration: d.Duration}
	}
	if _, ok := s.Windows[PrimaryWindow]; !ok {
		s.Windows[PrimaryWindow] = &Window{Name: PrimaryWindow, Duration: DefaultWindowDuration}
	}
	return s
}

// WindowDef names one rolling window a plugin wants tracked, e.g. a
// provider-declared daily reset window (spec §4.4, "Provider-driven resets").
type WindowDef struct {
	Name     string
	Duration time.Duration
	// AppliesTo is "credential" or "model": a credential-scoped window is
	// tracked once per credential rather than once per (credential, model).
	AppliesTo string
}

func (s *Stats) recordSuccess(now time.Time, u Usage, costUSD float64) {
	for _, w := range s.Windows {
		w.RecordSuccess(now, u, costUSD)
	}
	s.Totals.RecordSuccess(now, u, costUSD)
}

func (s *Stats) recordFailure(now time.Time) {
	for _, w := range s.Windows {
		w.RecordFailure(now)
	}
	s.Totals.RecordFailure(now)
}

// FairCycleState tracks whether a credential has been marked exhausted for
// a given (model-or-group) scope, so the selector can detect when every
// credential in a provider has been exhausted and reset the cohort
// (spec §4.3, "fair-cycle reset").
type FairCycleState struct {
	Exhausted         bool      `json:"exhausted"`
	ExhaustedAt       time.Time `json:"exhausted_at,omitempty"`
	ExhaustedReason   string    `json:"exhausted_reason,omitempty"`
	CycleRequestCount int64     `json:"cycle_request_count"`
}

// CredentialState aggregates everything the usage manager tracks for one
// credential: its per-model and per-group stats, lifetime totals, and
// fair-cycle bookkeeping. ActiveRequests is live, in-memory-only state and
// is never persisted (spec §3: "not persisted").
type CredentialState struct {
	Provider  string `json:"provider"`
	Accessor  string `json:"accessor"`
	Tier      string `json:"tier"`
	Priority  int    `json:"priority"`

	ModelUsage map[string]*Stats `json:"model_usage"`
	GroupUsage map[string]*Stats `json:"group_usage"`
	Totals     Window            `json:"totals"`

	FairCycle map[string]*FairCycleState `json:"fair_cycle"`

	MaxConcurrent int `json:"max_concurrent,omitempty"`

	ActiveRequests int64 `json:"-"`

	FirstSeenAt time.Time `json:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

func newCredentialState(provider, accessor, tier string, priority int) *CredentialState {
	return &CredentialState{
		Provider:   provider,
		Accessor:   accessor,
		Tier:       tier,
		Priority:   priority,
		ModelUsage: make(map[string]*Stats),
		GroupUsage: make(map[string]*Stats),
		FairCycle:  make(map[string]*FairCycleState),
	}
}

func (cs *CredentialState) statsFor(m map[string]*Stats, name string, windowDefs []WindowDef) *Stats {
	s, ok := m[name]
	if !ok {
		s = newStats(windowDefs)
		m[name] = s
	}
	return s
}

func (cs *CredentialState) fairCycle(scope string) *FairCycleState {
	fc, ok := cs.FairCycle[scope]
	if !ok {
		fc = &FairCycleState{}
		cs.FairCycle[scope] = fc
	}
	return fc
}
