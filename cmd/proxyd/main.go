// Command proxyd runs the credential-rotating completion proxy: it loads a
// provider catalog, wires one plugin and OAuth orchestrator per configured
// provider, and serves the OpenAI-/Codex-compatible HTTP surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/keyrotor/llmproxy/internal/httpapi"
	"github.com/keyrotor/llmproxy/pkg/backend/middleware"
	"github.com/keyrotor/llmproxy/pkg/catalog"
	"github.com/keyrotor/llmproxy/pkg/config"
	"github.com/keyrotor/llmproxy/pkg/cooldown"
	"github.com/keyrotor/llmproxy/pkg/engine"
	"github.com/keyrotor/llmproxy/pkg/executor"
	"github.com/keyrotor/llmproxy/pkg/logging"
	"github.com/keyrotor/llmproxy/pkg/metrics"
	"github.com/keyrotor/llmproxy/pkg/oauthqueue"
	"github.com/keyrotor/llmproxy/pkg/provider"
	"github.com/keyrotor/llmproxy/pkg/provider/codex"
	"github.com/keyrotor/llmproxy/pkg/provider/openai"
	"github.com/keyrotor/llmproxy/pkg/selector"
	"github.com/keyrotor/llmproxy/pkg/usage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to provider catalog config file")
	addr := flag.String("addr", ":8080", "Address to listen on")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	jsonLogs := flag.Bool("json-logs", true, "Emit structured JSON logs")
	flag.Parse()

	log := logging.Must(*logLevel, *jsonLogs)
	defer log.Sync()

	if err := run(*configPath, *addr, log); err != nil {
		log.Error("proxyd exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(configPath, addr string, log *zap.Logger) error {
	f, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("proxyd: load config: %w", err)
	}
	rt := config.FromEnv(f, os.Environ())

	cat, err := catalog.New(rt.DataDir, rt.Providers, log)
	if err != nil {
		return fmt.Errorf("proxyd: build catalog: %w", err)
	}
	stopWatch, err := cat.WatchOAuthDir(rt.Providers)
	if err != nil {
		log.Warn("oauth directory watch disabled", zap.Error(err))
	} else {
		defer stopWatch()
	}

	usageMgr := usage.NewManager(nil, nil, log)
	store := usage.NewStore(rt.DataDir, usageMgr, log)
	if err := store.StartBackgroundWriter(5 * time.Second); err != nil {
		log.Warn("usage persistence background writer disabled", zap.Error(err))
	}
	defer store.Close()

	cooldowns := cooldown.New()

	plugins := make(map[string]provider.Plugin, len(rt.Providers))
	oauthOrch := make(map[string]*oauthqueue.Orchestrator, len(rt.Providers))

	for _, name := range rt.Providers {
		pc := f.Providers[name]
		baseURL := pc.BaseURL
		if override, ok := rt.APIBaseOverrides[name]; ok {
			baseURL = override
		}

		switch strings.ToLower(pc.Type) {
		case "codex":
			plugin := codex.New(name, baseURL, codexOAuthClientFromEnv(name), nil, log)
			plugins[name] = plugin
			coord := oauthqueue.NewReauthCoordinator()
			orch := oauthqueue.NewOrchestrator(name, plugin.RefreshToken, plugin.InteractiveReauth, coord, log)
			oauthOrch[name] = orch
		case "openai":
			plugins[name] = openai.New(name, baseURL)
		default:
			log.Warn("skipping provider with unrecognised type", zap.String("provider", name), zap.String("type", pc.Type))
		}
	}

	sel := selector.New(cat, cooldowns, usageMgr, oauthOrch, plugins, rt.Selector)
	execCfg := executor.DefaultConfig()
	execCfg.MaxRetries = rt.MaxRetries
	exec := executor.New(sel, usageMgr, cooldowns, plugins, oauthOrch, execCfg, log)
	eng := engine.New(exec, cat, usageMgr, cooldowns, plugins, oauthOrch, log)

	reg := prometheus.NewRegistry()
	metrics.New(reg)

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !rt.SkipOAuthInit {
		warmCtx, warmCancel := context.WithTimeout(rootCtx, 30*time.Second)
		if err := eng.WarmModelCache(warmCtx); err != nil {
			log.Warn("model cache warmup failed", zap.Error(err))
		}
		warmCancel()
	}

	router := httpapi.NewRouter(eng, reg, httpapi.Config{
		CORS: middleware.CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
		},
		Auth: middleware.AuthConfig{
			Enabled:     os.Getenv("PROXY_API_PASSWORD") != "",
			APIPassword: os.Getenv("PROXY_API_PASSWORD"),
		},
	}, log)

	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("proxyd listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("proxyd: serve: %w", err)
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// codexOAuthClientFromEnv resolves a Codex-style provider's OAuth client
// identity from environment variables named after the provider, e.g.
// CODEX_CLIENT_ID for a provider named "codex".
func codexOAuthClientFromEnv(providerName string) codex.OAuthClient {
	upper := strings.ToUpper(providerName)
	return codex.OAuthClient{
		ClientID:     os.Getenv(upper + "_CLIENT_ID"),
		AuthURL:      os.Getenv(upper + "_AUTH_URL"),
		TokenURL:     os.Getenv(upper + "_TOKEN_URL"),
		RedirectPort: 1455,
		CallbackPath: "/auth/callback",
		Scopes:       []string{"openid", "profile", "email"},
	}
}
