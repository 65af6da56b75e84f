// Package credential defines the catalog's unit of identity: a static API
// key or an OAuth token pair, located by an accessor and tracked under a
// stable identifier that survives the credential moving between accessors.
package credential

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Kind distinguishes how a Credential authenticates.
type Kind string

const (
	KindAPIKey Kind = "api_key"
	KindOAuth  Kind = "oauth"
)

// Accessor tells the runtime where a credential's bytes came from: either a
// file path or a virtual env:// URI of the form env://<provider>/<index>.
type Accessor string

// EnvAccessor builds the virtual accessor used for numbered env-var
// credentials (spec §6, "Numbered form is exposed as the virtual accessor
// env://<provider>/<N>").
func EnvAccessor(provider string, index int) Accessor {
	return Accessor(fmt.Sprintf("env://%s/%d", strings.ToLower(provider), index))
}

// Credential is one unit of access to a provider: identity, priority/tier
// metadata, and (for OAuth) the live token pair. Discovered at startup;
// priority/tier may change across a reauth; never deleted at runtime.
type Credential struct {
	StableID string
	Provider string
	Accessor Accessor
	Kind     Kind

	Email         string
	AccountID     string
	Priority      int // smaller = preferred
	Tier          string
	MaxConcurrent int // 0 means "use provider/global default"

	// OAuth-only fields, guarded by mu.
	mu           sync.RWMutex
	APIKey       string
	AccessToken  string
	RefreshToken string
	IDToken      string
	ExpiresAt    time.Time
	TokenURI     string
}

// NewStableID derives the identity fingerprint used to key persisted state.
// It survives the credential moving between accessor paths, so it is built
// from provider + a stable identity fact (email/account id for OAuth, a
// hash of the key material for static keys) rather than from the accessor.
func NewStableID(provider, identityFingerprint string) string {
	h := sha256.Sum256([]byte(strings.ToLower(provider) + "|" + identityFingerprint))
	return strings.ToLower(provider) + "_" + hex.EncodeToString(h[:])[:16]
}

// Snapshot is a read-only copy of the live token fields, safe to pass
// across goroutines without holding the credential's lock.
type Snapshot struct {
	APIKey       string
	AccessToken  string
	RefreshToken string
	IDToken      string
	ExpiresAt    time.Time
	TokenURI     string
}

// Load returns a point-in-time copy of the credential's token material.
func (c *Credential) Load() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		APIKey:       c.APIKey,
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		IDToken:      c.IDToken,
		ExpiresAt:    c.ExpiresAt,
		TokenURI:     c.TokenURI,
	}
}

// UpdateTokens atomically replaces the OAuth token material, e.g. after a
// successful refresh or re-auth exchange.
func (c *Credential) UpdateTokens(access, refresh, idToken string, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.AccessToken = access
	if refresh != "" {
		c.RefreshToken = refresh
	}
	if idToken != "" {
		c.IDToken = idToken
	}
	c.ExpiresAt = expiresAt
}

// TrueExpiry reports whether the access token has actually expired, ignoring
// the proactive refresh buffer (spec §4.6: "true expiry ignores the
// 5-minute proactive buffer used to trigger preemptive refresh").
func (c *Credential) TrueExpiry(now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.ExpiresAt.IsZero() {
		return false
	}
	return now.After(c.ExpiresAt)
}

// ProactiveRefreshBuffer is how far ahead of true expiry a preemptive
// refresh is triggered.
const ProactiveRefreshBuffer = 5 * time.Minute

// NeedsProactiveRefresh reports whether the token is within the buffer of
// expiring, even though it is not yet truly expired.
func (c *Credential) NeedsProactiveRefresh(now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.ExpiresAt.IsZero() {
		return false
	}
	return now.After(c.ExpiresAt.Add(-ProactiveRefreshBuffer))
}
