package credential

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// fileFormat mirrors the on-disk OAuth credential file shape (spec §6): the
// live token pair plus the proxy-managed metadata block.
type fileFormat struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	ExpiryDate   int64  `json:"expiry_date"` // epoch ms
	TokenURI     string `json:"token_uri"`
	ProxyMeta    struct {
		Email              string  `json:"email"`
		AccountID          string  `json:"account_id"`
		Tier               string  `json:"tier"`
		Priority           *int    `json:"priority"`
		LastCheckTimestamp float64 `json:"last_check_timestamp"`
	} `json:"_proxy_metadata"`
}

// isFileAccessor reports whether a is a real path on disk rather than a
// virtual env://<provider>/<index> accessor (env-backed credentials have
// nothing to write back to).
func isFileAccessor(a Accessor) bool {
	return a != "" && !strings.HasPrefix(string(a), "env://")
}

// writeFile atomically persists one token snapshot to path: write to a temp
// file in the same directory, fsync, then rename over the target (same
// pattern as pkg/usage's Store.Flush).
func (c *Credential) writeFile(path, access, refresh, idToken string, expiresAt int64, tokenURI string) error {
	var f fileFormat
	f.AccessToken = access
	f.RefreshToken = refresh
	f.IDToken = idToken
	f.ExpiryDate = expiresAt
	f.TokenURI = tokenURI
	f.ProxyMeta.Email = c.Email
	f.ProxyMeta.AccountID = c.AccountID
	f.ProxyMeta.Tier = c.Tier
	if c.Priority != 0 {
		p := c.Priority
		f.ProxyMeta.Priority = &p
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("credential: mkdir %s: %w", dir, err)
	}
	tmp := path + ".tmp"
	fh, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("credential: open temp: %w", err)
	}
	enc := json.NewEncoder(fh)
	enc.SetIndent("", "  ")
	if err := enc.Encode(f); err != nil {
		_ = fh.Close()
		return fmt.Errorf("credential: encode: %w", err)
	}
	if err := fh.Sync(); err != nil {
		_ = fh.Close()
		return fmt.Errorf("credential: fsync: %w", err)
	}
	if err := fh.Close(); err != nil {
		return fmt.Errorf("credential: close: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("credential: rename: %w", err)
	}
	return nil
}

// UpdateTokensAndPersist replaces the OAuth token material the same way
// UpdateTokens does, but for file-backed credentials writes the new tokens
// to disk first and only applies the in-memory mutation once that write has
// landed (spec §4.6: "disk write must succeed before updating in-memory
// cache — rotating refresh tokens mean an inconsistent cache would
// permanently break auth"). Env-backed credentials have no file to write
// to, so the call degrades to an in-memory update, same as UpdateTokens.
func (c *Credential) UpdateTokensAndPersist(access, refresh, idToken string, expiresAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	newRefresh := c.RefreshToken
	if refresh != "" {
		newRefresh = refresh
	}
	newIDToken := c.IDToken
	if idToken != "" {
		newIDToken = idToken
	}

	if isFileAccessor(c.Accessor) {
		var expiryMs int64
		if !expiresAt.IsZero() {
			expiryMs = expiresAt.UnixMilli()
		}
		if err := c.writeFile(string(c.Accessor), access, newRefresh, newIDToken, expiryMs, c.TokenURI); err != nil {
			return fmt.Errorf("credential: persist tokens for %s: %w", c.StableID, err)
		}
	}

	c.AccessToken = access
	c.RefreshToken = newRefresh
	c.IDToken = newIDToken
	c.ExpiresAt = expiresAt
	return nil
}
