package catalog

import (
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/keyrotor/llmproxy/pkg/credential"
)

// Catalog is the read-only-during-runtime provider -> credentials map
// (spec §3, ProviderCatalog). It is rebuilt wholesale on reload rather than
// mutated in place, so readers holding an old snapshot never observe a
// half-updated provider list.
type Catalog struct {
	mu        sync.RWMutex
	byProvider map[string][]*credential.Credential
	byStableID map[string]*credential.Credential
	dataDir   string
	watcher   *fsnotify.Watcher
	log       *zap.Logger
}

// New builds a catalog from on-disk oauth credential files plus environment
// variables for each provider name passed in.
func New(dataDir string, providers []string, log *zap.Logger) (*Catalog, error) {
	c := &Catalog{dataDir: dataDir, log: log}
	if err := c.Reload(providers); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-runs discovery and atomically swaps the catalog contents.
// Duplicate credential entries reached via two accessors are deduplicated
// by stable_id (spec §8, "Boundary behaviour").
func (c *Catalog) Reload(providers []string) error {
	byProvider := make(map[string][]*credential.Credential)
	byStableID := make(map[string]*credential.Credential)

	for _, p := range providers {
		seen := map[string]bool{}
		var creds []*credential.Credential

		fileCreds, err := DiscoverOAuthFiles(c.dataDir)
		if err != nil {
			return err
		}
		for _, cred := range fileCreds {
			if cred.Provider != p || seen[cred.StableID] {
				continue
			}
			seen[cred.StableID] = true
			creds = append(creds, cred)
			byStableID[cred.StableID] = cred
		}

		for _, cred := range DiscoverEnvCredentials(p, os.Environ()) {
			if seen[cred.StableID] {
				continue
			}
			seen[cred.StableID] = true
			creds = append(creds, cred)
			byStableID[cred.StableID] = cred
		}

		byProvider[p] = creds
	}

	c.mu.Lock()
	c.byProvider = byProvider
	c.byStableID = byStableID
	c.mu.Unlock()
	return nil
}

// Credentials returns the ordered (by catalog insertion, i.e. discovery
// order) credential list for a provider.
func (c *Catalog) Credentials(provider string) []*credential.Credential {
	c.mu.RLock()
	defer c.mu.RUnlock()
	src := c.byProvider[provider]
	out := make([]*credential.Credential, len(src))
	copy(out, src)
	return out
}

// ByStableID looks up a single credential by its identity fingerprint.
func (c *Catalog) ByStableID(id string) (*credential.Credential, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cred, ok := c.byStableID[id]
	return cred, ok
}

// SeedForTests directly installs a credential list for a provider,
// bypassing file/env discovery. It exists for package-external tests
// (executor, engine) that need a populated catalog without touching disk.
func SeedForTests(c *Catalog, provider string, creds []*credential.Credential) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.byProvider == nil {
		c.byProvider = make(map[string][]*credential.Credential)
	}
	if c.byStableID == nil {
		c.byStableID = make(map[string]*credential.Credential)
	}
	c.byProvider[provider] = creds
	for _, cr := range creds {
		c.byStableID[cr.StableID] = cr
	}
}

// Providers lists every provider name the catalog currently knows about.
func (c *Catalog) Providers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.byProvider))
	for p := range c.byProvider {
		out = append(out, p)
	}
	return out
}

// WatchOAuthDir starts an fsnotify watch on <data_dir>/oauth_creds so that
// credential files dropped in or rewritten externally (e.g. by a
// credential_tool-equivalent) are picked up without a process restart. The
// returned stop function closes the watcher; it is safe to call once.
func (c *Catalog) WatchOAuthDir(providers []string) (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := c.dataDir + "/oauth_creds"
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}
	c.watcher = w

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				if err := c.Reload(providers); err != nil && c.log != nil {
					c.log.Warn("catalog reload after fs event failed", zap.Error(err))
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				if c.log != nil {
					c.log.Warn("oauth_creds watch error", zap.Error(err))
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		_ = w.Close()
	}, nil
}
