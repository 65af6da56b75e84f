package usage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const schemaVersion = 2

// fileSnapshot is the on-disk shape for one provider's usage file (spec §6,
// "Wire format of persisted usage").
type fileSnapshot struct {
	SchemaVersion   int                          `json:"schema_version"`
	UpdatedAt       time.Time                     `json:"updated_at"`
	Credentials     map[string]*CredentialState   `json:"credentials"`
	AccessorIndex   map[string]string             `json:"accessor_index"`
	FairCycleGlobal map[string]*FairCycleState    `json:"fair_cycle_global"`
}

// v1Snapshot is the legacy shape, keyed by accessor instead of stable_id.
type v1Snapshot struct {
	Credentials map[string]*CredentialState `json:"credentials"`
}

// Store persists one Manager's state to one JSON file per provider under
// dir, debounced by a cron job and flushed on Close.
type Store struct {
	dir string
	mgr *Manager
	log *zap.Logger

	mu    sync.Mutex
	dirty map[string]bool

	cronSched *cron.Cron
	entryID   cron.EntryID
	closed    int32
}

// NewStore returns a Store writing provider snapshots under dir. Call
// StartBackgroundWriter to begin the debounced flush loop.
func NewStore(dir string, mgr *Manager, log *zap.Logger) *Store {
	return &Store{dir: dir, mgr: mgr, log: log, dirty: make(map[string]bool)}
}

// MarkDirty flags a provider's state as needing a flush on the next tick.
func (s *Store) MarkDirty(provider string) {
	s.mu.Lock()
	s.dirty[provider] = true
	s.mu.Unlock()
}

// StartBackgroundWriter schedules a flush every interval (default 5s when
// interval is 0) for providers marked dirty since the last tick.
func (s *Store) StartBackgroundWriter(interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	s.cronSched = cron.New()
	id, err := s.cronSched.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		if err := s.FlushDirty(); err != nil && s.log != nil {
			s.log.Warn("usage store background flush failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	s.entryID = id
	s.cronSched.Start()
	return nil
}

// FlushDirty writes every provider currently marked dirty and clears the
// flag for each one written.
func (s *Store) FlushDirty() error {
	s.mu.Lock()
	providers := make([]string, 0, len(s.dirty))
	for p, d := range s.dirty {
		if d {
			providers = append(providers, p)
		}
	}
	s.mu.Unlock()

	var firstErr error
	for _, p := range providers {
		if err := s.Flush(p); err != nil && firstErr == nil {
			firstErr = err
		} else {
			s.mu.Lock()
			delete(s.dirty, p)
			s.mu.Unlock()
		}
	}
	return firstErr
}

// Flush writes one provider's current state to disk atomically: write to a
// temp file in the same directory, fsync, then rename over the target.
func (s *Store) Flush(provider string) error {
	snap := s.mgr.GetStats(provider)
	creds := snap.Providers[provider]
	if creds == nil {
		creds = map[string]CredentialState{}
	}

	out := fileSnapshot{
		SchemaVersion:   schemaVersion,
		UpdatedAt:       time.Now(),
		Credentials:     make(map[string]*CredentialState, len(creds)),
		AccessorIndex:   make(map[string]string, len(creds)),
		FairCycleGlobal: map[string]*FairCycleState{},
	}
	for id, cs := range creds {
		cs := cs
		cs.ActiveRequests = 0
		out.Credentials[id] = &cs
		if cs.Accessor != "" {
			out.AccessorIndex[cs.Accessor] = id
		}
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("usage store: mkdir: %w", err)
	}
	path := filepath.Join(s.dir, provider+".json")
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("usage store: open temp: %w", err)
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		_ = f.Close()
		return fmt.Errorf("usage store: encode: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("usage store: fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("usage store: close: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("usage store: rename: %w", err)
	}
	return nil
}

// Load reads a provider's snapshot from disk, migrating a legacy v1 file
// (keyed by accessor) in place by treating the accessor as the stable_id.
// active_requests is always reset to 0, and every window is rolled against
// now before being merged, per spec §8 ("Round-trip/idempotence").
func Load(dir, provider string, now time.Time) (map[string]*CredentialState, error) {
	path := filepath.Join(dir, provider+".json")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*CredentialState{}, nil
		}
		return nil, fmt.Errorf("usage store: read %s: %w", path, err)
	}

	var probe struct {
		SchemaVersion int `json:"schema_version"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("usage store: probe schema: %w", err)
	}

	var creds map[string]*CredentialState
	if probe.SchemaVersion >= 2 {
		var snap fileSnapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			return nil, fmt.Errorf("usage store: decode v2: %w", err)
		}
		creds = snap.Credentials
	} else {
		creds = migrateV1(raw)
	}

	for _, cs := range creds {
		cs.ActiveRequests = 0
		rollAll(cs, now)
	}
	return creds, nil
}

// migrateV1 decodes a legacy snapshot keyed by accessor and re-keys it by
// a synthetic stable_id derived from the accessor itself, the simplest
// faithful migration when no identity fingerprint is recoverable from the
// old file alone.
func migrateV1(raw []byte) map[string]*CredentialState {
	var v1 v1Snapshot
	if err := json.Unmarshal(raw, &v1); err != nil {
		return map[string]*CredentialState{}
	}
	out := make(map[string]*CredentialState, len(v1.Credentials))
	for accessor, cs := range v1.Credentials {
		if cs.Accessor == "" {
			cs.Accessor = accessor
		}
		out[accessor] = cs
	}
	return out
}

func rollAll(cs *CredentialState, now time.Time) {
	for _, s := range cs.ModelUsage {
		for _, w := range s.Windows {
			w.RollIfDue(now)
		}
	}
	for _, s := range cs.GroupUsage {
		for _, w := range s.Windows {
			w.RollIfDue(now)
		}
	}
	cs.Totals.RollIfDue(now)
}

// Close stops the background writer and flushes every dirty provider once
// more.
func (s *Store) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}
	if s.cronSched != nil {
		ctx := s.cronSched.Stop()
		<-ctx.Done()
	}
	return s.FlushDirty()
}
