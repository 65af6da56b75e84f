// Package config loads process configuration from a YAML provider catalog
// plus the environment-variable overrides spec §6 recognises.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/keyrotor/llmproxy/pkg/provider"
	"github.com/keyrotor/llmproxy/pkg/selector"
)

// ProviderConfig is one provider's static YAML configuration.
type ProviderConfig struct {
	Type    string `yaml:"type"`
	BaseURL string `yaml:"base_url,omitempty"`
	DataDir string `yaml:"data_dir,omitempty"`
}

// File is the top-level config.yaml shape.
type File struct {
	DataDir   string                     `yaml:"data_dir"`
	Providers map[string]ProviderConfig  `yaml:"providers"`
}

// Load reads and parses a YAML config file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if f.DataDir == "" {
		f.DataDir = "."
	}
	return &f, nil
}

// Runtime is the fully-resolved runtime configuration: the YAML file
// overlaid with the env vars spec §6 recognises.
type Runtime struct {
	DataDir           string
	Providers         []string
	GlobalTimeoutSecs int
	MaxRetries        int
	Selector          selector.Config
	SkipOAuthInit     bool
	IgnoreModels      map[string]map[string]bool
	WhitelistModels   map[string]map[string]bool
	APIBaseOverrides  map[string]string
}

// FromEnv resolves a Runtime from a loaded File plus the process
// environment, applying the env-var overrides named in spec §6.
func FromEnv(f *File, environ []string) *Runtime {
	env := splitEnviron(environ)

	providers := make([]string, 0, len(f.Providers))
	for name := range f.Providers {
		providers = append(providers, name)
	}

	rt := &Runtime{
		DataDir:           f.DataDir,
		Providers:         providers,
		GlobalTimeoutSecs: intEnv(env, "PROXY_GLOBAL_TIMEOUT", 120),
		MaxRetries:        intEnv(env, "PROXY_MAX_RETRIES", 5),
		Selector:          selector.DefaultConfig(),
		SkipOAuthInit:     boolEnv(env, "SKIP_OAUTH_INIT_CHECK", false),
		IgnoreModels:      make(map[string]map[string]bool),
		WhitelistModels:   make(map[string]map[string]bool),
		APIBaseOverrides:  make(map[string]string),
	}
	if v, ok := env["PROXY_ROTATION_TOLERANCE"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			rt.Selector.RotationTolerance = f
		}
	}

	for _, name := range providers {
		upper := strings.ToUpper(name)

		if v, ok := env["MAX_CONCURRENT_REQUESTS_PER_KEY_"+upper]; ok {
			if n, err := strconv.Atoi(v); err == nil {
				rt.Selector.BaseMaxConcurrent[name] = n
			}
		}
		if v, ok := env["ROTATION_MODE_"+upper]; ok {
			switch v {
			case "sequential":
				rt.Selector.RotationMode[name] = provider.RotationSequential
			case "balanced":
				rt.Selector.RotationMode[name] = provider.RotationBalanced
			}
		}
		rt.Selector.PriorityMultipliers[name] = concurrencyMultipliers(env, upper)

		if v, ok := env[upper+"_API_BASE"]; ok {
			rt.APIBaseOverrides[name] = v
		}
		if v, ok := env["IGNORE_MODELS_"+upper]; ok {
			rt.IgnoreModels[name] = toSet(v)
		}
		if v, ok := env["WHITELIST_MODELS_"+upper]; ok {
			rt.WhitelistModels[name] = toSet(v)
		}
	}

	return rt
}

// concurrencyMultipliers scans CONCURRENCY_MULTIPLIER_<PROVIDER>_PRIORITY_<N>
// for every N present in the environment.
func concurrencyMultipliers(env map[string]string, upperProvider string) map[int]float64 {
	prefix := "CONCURRENCY_MULTIPLIER_" + upperProvider + "_PRIORITY_"
	out := make(map[int]float64)
	for k, v := range env {
		suffix, ok := strings.CutPrefix(k, prefix)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(suffix)
		if err != nil {
			continue
		}
		m, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		out[n] = m
	}
	return out
}

func splitEnviron(environ []string) map[string]string {
	out := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			out[k] = v
		}
	}
	return out
}

func intEnv(env map[string]string, key string, def int) int {
	if v, ok := env[key]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func boolEnv(env map[string]string, key string, def bool) bool {
	if v, ok := env[key]; ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func toSet(commaSeparated string) map[string]bool {
	out := make(map[string]bool)
	for _, m := range strings.Split(commaSeparated, ",") {
		m = strings.TrimSpace(m)
		if m != "" {
			out[m] = true
		}
	}
	return out
}
