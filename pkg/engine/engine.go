// Package engine wires C1-C8 into the external interface surface consumed
// by HTTP routes (spec §6): execute_completion, get_stats, force_refresh,
// list_models, plus the supplemented read-only credential inspection
// surface (SPEC_FULL.md §12).
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/keyrotor/llmproxy/pkg/catalog"
	"github.com/keyrotor/llmproxy/pkg/cooldown"
	"github.com/keyrotor/llmproxy/pkg/credential"
	"github.com/keyrotor/llmproxy/pkg/executor"
	"github.com/keyrotor/llmproxy/pkg/oauthqueue"
	"github.com/keyrotor/llmproxy/pkg/provider"
	"github.com/keyrotor/llmproxy/pkg/types"
	"github.com/keyrotor/llmproxy/pkg/usage"
)

// DefaultModelCacheTTL is list_models' default cache lifetime (spec §6).
const DefaultModelCacheTTL = 300 * time.Second

// Engine is the process-wide facade the HTTP layer drives.
type Engine struct {
	exec      *executor.Executor
	catalog   *catalog.Catalog
	usageMgr  *usage.Manager
	cooldowns *cooldown.Manager
	plugins   map[string]provider.Plugin
	oauth     map[string]*oauthqueue.Orchestrator
	log       *zap.Logger

	modelCacheTTL time.Duration
	modelCacheMu  sync.Mutex
	modelCache    map[string]modelCacheEntry
}

type modelCacheEntry struct {
	models    []types.Model
	fetchedAt time.Time
}

// New builds an Engine over the already-constructed component graph.
func New(exec *executor.Executor, cat *catalog.Catalog, usageMgr *usage.Manager, cooldowns *cooldown.Manager, plugins map[string]provider.Plugin, oauth map[string]*oauthqueue.Orchestrator, log *zap.Logger) *Engine {
	return &Engine{
		exec:          exec,
		catalog:       cat,
		usageMgr:      usageMgr,
		cooldowns:     cooldowns,
		plugins:       plugins,
		oauth:         oauth,
		log:           log,
		modelCacheTTL: DefaultModelCacheTTL,
		modelCache:    make(map[string]modelCacheEntry),
	}
}

// ExecuteCompletion is the executor entry point HTTP routes drive.
func (e *Engine) ExecuteCompletion(ctx context.Context, rc executor.RequestContext) (*types.StandardResponse, provider.Stream, error) {
	return e.exec.ExecuteCompletion(ctx, rc)
}

// ProviderStats is one provider's slice of get_stats.
type ProviderStats struct {
	Provider            string
	Credentials         usage.Snapshot
	ActiveCredentials   int
	ExhaustedCredentials int
}

// GetStats returns the aggregated windows/counters/exhaustion counts for
// one provider, or every known provider when providerName is empty.
func (e *Engine) GetStats(providerName string) map[string]ProviderStats {
	out := make(map[string]ProviderStats)
	providers := []string{providerName}
	if providerName == "" {
		providers = e.catalog.Providers()
	}
	for _, p := range providers {
		snap := e.usageMgr.GetStats(p)
		active, exhausted := 0, 0
		for stableID, cs := range snap.Providers[p] {
			active++
			for _, fc := range cs.FairCycle {
				if fc.Exhausted {
					exhausted++
					break
				}
			}
			_ = stableID
		}
		out[p] = ProviderStats{Provider: p, Credentials: snap, ActiveCredentials: active, ExhaustedCredentials: exhausted}
	}
	return out
}

// RefreshReport is force_refresh's return value.
type RefreshReport struct {
	Provider    string
	Attempted   []string
	ClearedCooldowns int
	ReloadedCatalog  bool
}

// ForceRefresh invokes a plugin-specific baseline refetch (proactive OAuth
// refresh) for the given provider/credential, plus a catalog reload from
// disk (spec §6: "plugin-specific baseline refetch ... plus a
// reload-from-disk").
func (e *Engine) ForceRefresh(providerName, stableID string) (RefreshReport, error) {
	report := RefreshReport{Provider: providerName}

	providers := []string{providerName}
	if providerName == "" {
		providers = e.catalog.Providers()
	}

	for _, p := range providers {
		if err := e.catalog.Reload([]string{p}); err == nil {
			report.ReloadedCatalog = true
		}
		orch := e.oauth[p]
		for _, c := range e.catalog.Credentials(p) {
			if stableID != "" && c.StableID != stableID {
				continue
			}
			if c.Kind != credential.KindOAuth || orch == nil {
				continue
			}
			orch.EnqueueRefresh(c, true)
			report.Attempted = append(report.Attempted, c.StableID)
			e.cooldowns.Clear(c.StableID)
			report.ClearedCooldowns++
		}
	}
	return report, nil
}

// ListModels returns the provider's model list, refetching from the
// plugin when the cache entry is absent or older than the cache TTL.
func (e *Engine) ListModels(ctx context.Context, providerName string) ([]types.Model, error) {
	e.modelCacheMu.Lock()
	entry, ok := e.modelCache[providerName]
	e.modelCacheMu.Unlock()
	if ok && time.Since(entry.fetchedAt) < e.modelCacheTTL {
		return entry.models, nil
	}

	plugin := e.plugins[providerName]
	if plugin == nil {
		return nil, fmt.Errorf("engine: unknown provider %q", providerName)
	}
	creds := e.catalog.Credentials(providerName)
	if len(creds) == 0 {
		return nil, fmt.Errorf("engine: no credentials for provider %q", providerName)
	}
	models, err := plugin.ListModels(ctx, creds[0])
	if err != nil {
		return nil, err
	}

	e.modelCacheMu.Lock()
	e.modelCache[providerName] = modelCacheEntry{models: models, fetchedAt: time.Now()}
	e.modelCacheMu.Unlock()
	return models, nil
}

// WarmModelCache fans out list_models across every known provider
// concurrently, e.g. at startup, tolerating individual provider failures.
func (e *Engine) WarmModelCache(ctx context.Context) error {
	providers := e.catalog.Providers()
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range providers {
		p := p
		g.Go(func() error {
			if _, err := e.ListModels(gctx, p); err != nil && e.log != nil {
				e.log.Warn("model cache warmup failed", zap.String("provider", p), zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}

// CredentialView is the read-only projection returned by ListCredentials
// (SPEC_FULL.md §12, the credential_tool-equivalent inspection surface).
type CredentialView struct {
	StableID      string
	Provider      string
	Kind          credential.Kind
	Accessor      string
	Tier          string
	Priority      int
	Available     bool
	CooldownUntil *time.Time
}

// ListCredentials returns a read-only inspection view of every known
// credential for a provider, sorted by stable_id for stable admin output.
func (e *Engine) ListCredentials(providerName string, now time.Time) []CredentialView {
	creds := e.catalog.Credentials(providerName)
	orch := e.oauth[providerName]
	views := make([]CredentialView, 0, len(creds))
	for _, c := range creds {
		available := true
		if c.Kind == credential.KindOAuth && orch != nil {
			available = orch.IsAvailable(c, now)
		}
		var cooldownUntil *time.Time
		if end, ok := e.cooldowns.EarliestEnd(c.StableID, now); ok {
			cooldownUntil = &end
			available = false
		}
		views = append(views, CredentialView{
			StableID:      c.StableID,
			Provider:      c.Provider,
			Kind:          c.Kind,
			Accessor:      string(c.Accessor),
			Tier:          c.Tier,
			Priority:      c.Priority,
			Available:     available,
			CooldownUntil: cooldownUntil,
		})
	}
	sort.Slice(views, func(i, j int) bool { return views[i].StableID < views[j].StableID })
	return views
}
