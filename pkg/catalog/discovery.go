// Package catalog builds the read-only ProviderCatalog from credential
// files and environment variables at startup (spec §6, "Credential
// discovery") and keeps it current with fsnotify when oauth credential
// files change on disk.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/keyrotor/llmproxy/pkg/credential"
)

// oauthFile mirrors the wire format of one OAuth credential file (spec §6).
type oauthFile struct {
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
		LoadedFromEnv      bool    `json:"loaded_from_env"`
		EnvCredentialIndex *int    `json:"env_credential_index"`
	} `json:"_proxy_metadata"`
}

var oauthFileRE = regexp.MustCompile(`^([a-zA-Z0-9]+)_oauth_.*\.json$`)

// DiscoverOAuthFiles scans <dataDir>/oauth_creds for <provider>_oauth_*.json
// files and returns one Credential per file.
func DiscoverOAuthFiles(dataDir string) ([]*credential.Credential, error) {
	dir := filepath.Join(dataDir, "oauth_creds")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read oauth_creds dir: %w", err)
	}

	var out []*credential.Credential
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := oauthFileRE.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		provider := strings.ToLower(m[1])
		path := filepath.Join(dir, e.Name())
		cred, err := loadOAuthFile(provider, path)
		if err != nil {
			continue // malformed credential file: skip, do not crash startup
		}
		out = append(out, cred)
	}
	return out, nil
}

func loadOAuthFile(provider, path string) (*credential.Credential, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f oauthFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}

	fingerprint := f.ProxyMeta.Email
	if fingerprint == "" {
		fingerprint = f.ProxyMeta.AccountID
	}
	if fingerprint == "" {
		fingerprint = path
	}

	cred := &credential.Credential{
		StableID:  credential.NewStableID(provider, fingerprint),
		Provider:  provider,
		Accessor:  credential.Accessor(path),
		Kind:      credential.KindOAuth,
		Email:     f.ProxyMeta.Email,
		AccountID: f.ProxyMeta.AccountID,
		Tier:      f.ProxyMeta.Tier,
	}
	if f.ProxyMeta.Priority != nil {
		cred.Priority = *f.ProxyMeta.Priority
	}
	expiresAt := time.Time{}
	if f.ExpiryDate > 0 {
		expiresAt = time.UnixMilli(f.ExpiryDate)
	}
	cred.UpdateTokens(f.AccessToken, f.RefreshToken, f.IDToken, expiresAt)
	cred.TokenURI = f.TokenURI
	return cred, nil
}

// DiscoverEnvCredentials parses <PROVIDER>_API_KEY / <PROVIDER>_ACCESS_TOKEN
// style environment variables for one provider. Numbered form
// (<PROVIDER>_<N>_...) takes precedence over legacy unnumbered form when
// both are present (spec §6).
func DiscoverEnvCredentials(provider string, environ []string) []*credential.Credential {
	env := map[string]string{}
	for _, kv := range environ {
		if i := strings.IndexByte(kv, '='); i >= 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}
	upper := strings.ToUpper(provider)

	if numbered := discoverNumbered(provider, upper, env); len(numbered) > 0 {
		return numbered
	}
	return discoverLegacy(provider, upper, env)
}

func discoverNumbered(provider, upper string, env map[string]string) []*credential.Credential {
	indices := map[int]bool{}
	prefix := upper + "_"
	for key := range env {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := strings.TrimPrefix(key, prefix)
		parts := strings.SplitN(rest, "_", 2)
		if len(parts) != 2 {
			continue
		}
		n, err := strconv.Atoi(parts[0])
		if err != nil || n < 1 {
			continue
		}
		switch parts[1] {
		case "API_KEY", "ACCESS_TOKEN", "REFRESH_TOKEN":
			indices[n] = true
		}
	}
	if len(indices) == 0 {
		return nil
	}
	sorted := make([]int, 0, len(indices))
	for n := range indices {
		sorted = append(sorted, n)
	}
	sort.Ints(sorted)

	var out []*credential.Credential
	for _, n := range sorted {
		p := fmt.Sprintf("%s_%d_", upper, n)
		apiKey := env[p+"API_KEY"]
		accessToken := env[p+"ACCESS_TOKEN"]
		refreshToken := env[p+"REFRESH_TOKEN"]

		accessor := credential.EnvAccessor(provider, n)
		switch {
		case accessToken != "" || refreshToken != "":
			cred := &credential.Credential{
				StableID: credential.NewStableID(provider, fmt.Sprintf("env-%d", n)),
				Provider: provider,
				Accessor: accessor,
				Kind:     credential.KindOAuth,
				Email:    env[p+"EMAIL"],
			}
			cred.AccountID = env[p+"ACCOUNT_ID"]
			expiresAt := parseEpochMillis(env[p+"EXPIRY_DATE"])
			cred.UpdateTokens(accessToken, refreshToken, env[p+"ID_TOKEN"], expiresAt)
			out = append(out, cred)
		case apiKey != "":
			cred := &credential.Credential{
				StableID: credential.NewStableID(provider, fmt.Sprintf("env-%d", n)),
				Provider: provider,
				Accessor: accessor,
				Kind:     credential.KindAPIKey,
			}
			cred.UpdateTokens("", "", "", time.Time{})
			cred.APIKey = apiKey
			out = append(out, cred)
		}
	}
	return out
}

func discoverLegacy(provider, upper string, env map[string]string) []*credential.Credential {
	accessToken := env[upper+"_ACCESS_TOKEN"]
	refreshToken := env[upper+"_REFRESH_TOKEN"]
	apiKey := env[upper+"_API_KEY"]

	var out []*credential.Credential
	switch {
	case accessToken != "" || refreshToken != "":
		cred := &credential.Credential{
			StableID:  credential.NewStableID(provider, "env-legacy"),
			Provider:  provider,
			Accessor:  credential.EnvAccessor(provider, 0),
			Kind:      credential.KindOAuth,
			Email:     env[upper+"_EMAIL"],
			AccountID: env[upper+"_ACCOUNT_ID"],
		}
		expiresAt := parseEpochMillis(env[upper+"_EXPIRY_DATE"])
		cred.UpdateTokens(accessToken, refreshToken, env[upper+"_ID_TOKEN"], expiresAt)
		out = append(out, cred)
	case apiKey != "":
		cred := &credential.Credential{
			StableID: credential.NewStableID(provider, "env-legacy"),
			Provider: provider,
			Accessor: credential.EnvAccessor(provider, 0),
			Kind:     credential.KindAPIKey,
		}
		cred.APIKey = apiKey
		out = append(out, cred)
	}
	return out
}

func parseEpochMillis(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
