package provider

import (
	"context"

	"github.com/keyrotor/llmproxy/pkg/credential"
	"github.com/keyrotor/llmproxy/pkg/types"
)

// RotationMode picks how the selector orders same-priority candidates.
type RotationMode string

const (
	RotationBalanced   RotationMode = "balanced"
	RotationSequential RotationMode = "sequential"
)

// QuotaErrorInfo is what parse_quota_error extracts from a provider error
// body, used to set a precise cooldown instead of a provider-default one.
type QuotaErrorInfo struct {
	RetryAfter      *int64  // seconds, if the provider reported one
	Reason          string
	ResetTimestamp  *int64 // epoch seconds, if the provider reported an absolute reset
}

// UsageResetConfig describes one provider-declared rolling window that
// replaces the default primary window at initialization (spec §4.4,
// "Provider-driven resets").
type UsageResetConfig struct {
	Name            string
	WindowSeconds   int64
	AppliesTo       string // "credential" or "model"
	Description     string
}

// Stream is the lazily-pulled sequence of chunks a streaming Execute call
// returns. Next returns io.EOF-equivalent via ok=false once the stream is
// exhausted; Close releases the underlying connection early.
type Stream interface {
	Next(ctx context.Context) (chunk *types.StandardStreamChunk, ok bool, err error)
	Close() error
}

// Outcome is the raw wire-level result of one execute attempt, handed to
// ClassifyError. Exactly one of Response/Stream/Err is meaningful.
type Outcome struct {
	Response   *types.StandardResponse
	StatusCode int
	Headers    map[string][]string
	Body       []byte
	Err        error
}

// Plugin is the capability set every backend implementation provides
// (spec §4.1). OAuth-specific methods live on OAuthCapable, implemented
// only by plugins backing OAuth-authenticated providers.
type Plugin interface {
	Name() string

	// ListModels may cache upstream responses; callers apply their own TTL.
	ListModels(ctx context.Context, cred *credential.Credential) ([]types.Model, error)

	// Execute performs the wire call. For a streaming request the returned
	// Stream is non-nil and resp is nil; otherwise resp is non-nil and
	// stream is nil.
	Execute(ctx context.Context, cred *credential.Credential, req types.StandardRequest, streaming bool) (resp *types.StandardResponse, stream Stream, outcome Outcome, err error)

	ClassifyError(outcome Outcome) Classification

	ParseQuotaError(outcome Outcome) *QuotaErrorInfo

	DefaultRotationMode() RotationMode
	ModelQuotaGroups() map[string]string
	TierPriorities() map[string]int
	UsageResetConfigs() []UsageResetConfig
	DefaultPriorityMultipliers() map[int]float64
	DefaultSequentialFallbackMultiplier() float64

	// TierAllowed reports whether a credential of the given tier (empty
	// string means "no tier declared") may serve the given model.
	TierAllowed(tier, model string) bool
}

// OAuthCapable is implemented by plugins backing OAuth-authenticated
// providers, adding the refresh and interactive re-auth capabilities.
type OAuthCapable interface {
	RefreshToken(ctx context.Context, cred *credential.Credential) error
	InteractiveReauth(ctx context.Context, cred *credential.Credential) error
}

// QuotaGroupOrModel resolves the usage-comparison scope for a model: its
// quota group if the plugin declares one, else the model name itself
// (spec §4.2, "The scope for usage comparison").
func QuotaGroupOrModel(p Plugin, model string) string {
	scope, _ := QuotaScope(p, model)
	return scope
}

// QuotaScope is QuotaGroupOrModel plus whether the returned scope is a
// quota-group name rather than the model name itself, so callers that key
// cooldowns by scope (spec §4.5) can pick the matching cooldown.Scope kind.
func QuotaScope(p Plugin, model string) (scope string, isGroup bool) {
	if groups := p.ModelQuotaGroups(); groups != nil {
		if g, ok := groups[model]; ok {
			return g, true
		}
	}
	return model, false
}
