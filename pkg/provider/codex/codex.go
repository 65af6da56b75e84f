// Package codex implements the C1 Provider Plugin contract for Codex-style
// backends: OAuth-authenticated, SSE streamed in a `response.*` event
// taxonomy rather than native OpenAI chunks (spec §4.7, §4.6).
package codex

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	httpclient "github.com/keyrotor/llmproxy/internal/http"
	"github.com/keyrotor/llmproxy/pkg/codexstream"
	"github.com/keyrotor/llmproxy/pkg/credential"
	"github.com/keyrotor/llmproxy/pkg/oauthqueue"
	"github.com/keyrotor/llmproxy/pkg/provider"
	"github.com/keyrotor/llmproxy/pkg/types"
	"github.com/keyrotor/llmproxy/pkg/usage"
)

// OAuthClient describes the endpoints and client identity a deployment's
// Codex account uses; populated from configuration.
type OAuthClient struct {
	ClientID     string
	AuthURL      string
	TokenURL     string
	RedirectPort int
	CallbackPath string
	Scopes       []string
}

// Plugin is the Codex-style provider. It owns one shared HTTP client and
// translates its native SSE event stream through codexstream.
type Plugin struct {
	name       string
	baseURL    string
	httpClient *httpclient.HTTPClient
	oauth      OAuthClient
	openBrowser func(url string) error
	log        *zap.Logger
}

// New returns a Codex-style plugin. openBrowser may be nil, in which case
// the URL is only logged (headless-safe default).
func New(name, baseURL string, oauthClient OAuthClient, openBrowser func(string) error, log *zap.Logger) *Plugin {
	if openBrowser == nil {
		openBrowser = func(url string) error {
			fmt.Println("open this URL to continue authentication:", url)
			return nil
		}
	}
	return &Plugin{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: httpclient.NewHTTPClientBuilder().
			WithTimeout(120 * time.Second).
			WithUserAgent("keyrotor-llmproxy/1.0").
			Build(),
		oauth:       oauthClient,
		openBrowser: openBrowser,
		log:         log,
	}
}

func (p *Plugin) Name() string { return p.name }

func (p *Plugin) oauth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID: p.oauth.ClientID,
		Endpoint: oauth2.Endpoint{AuthURL: p.oauth.AuthURL, TokenURL: p.oauth.TokenURL},
		Scopes:   p.oauth.Scopes,
	}
}

func (p *Plugin) ListModels(ctx context.Context, cred *credential.Credential) ([]types.Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+cred.Load().AccessToken)
	resp, err := p.httpClient.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("codex: list_models failed (%d): %s", resp.StatusCode, body)
	}
	var decoded struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, err
	}
	models := make([]types.Model, 0, len(decoded.Data))
	for _, m := range decoded.Data {
		models = append(models, types.Model{ID: m.ID, Name: m.ID, SupportsStreaming: true})
	}
	return models, nil
}

type responsesRequest struct {
	Model    string              `json:"model"`
	Input    []types.ChatMessage `json:"input"`
	Stream   bool                `json:"stream"`
	MaxOut   int                 `json:"max_output_tokens,omitempty"`
	Tools    []types.Tool        `json:"tools,omitempty"`
}

func (p *Plugin) Execute(ctx context.Context, cred *credential.Credential, req types.StandardRequest, streaming bool) (*types.StandardResponse, provider.Stream, provider.Outcome, error) {
	body := responsesRequest{
		Model:  req.Model,
		Input:  req.Messages,
		Stream: streaming,
		MaxOut: req.MaxTokens,
		Tools:  req.Tools,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, nil, provider.Outcome{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/responses", bytes.NewReader(payload))
	if err != nil {
		return nil, nil, provider.Outcome{}, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+cred.Load().AccessToken)
	httpReq.Header.Set("Content-Type", "application/json")
	if streaming {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := p.httpClient.Do(ctx, httpReq)
	if err != nil {
		return nil, nil, provider.Outcome{Err: err}, nil
	}

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, nil, provider.Outcome{StatusCode: resp.StatusCode, Headers: resp.Header, Body: respBody}, nil
	}

	if streaming {
		return nil, newCodexStream(resp, req.Model), provider.Outcome{StatusCode: resp.StatusCode}, nil
	}
	defer resp.Body.Close()

	// Non-streaming: the upstream still returns a response.completed-shaped
	// envelope; drive it through the same translator for one terminal chunk
	// and fold that into a StandardResponse.
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, provider.Outcome{Err: err}, nil
	}
	translator := codexstream.New(req.Model)
	chunks, terr := translator.Translate(codexstream.Event{Type: "response.completed", Payload: raw})
	if terr != nil {
		return nil, nil, provider.Outcome{StatusCode: resp.StatusCode, Body: raw}, nil
	}
	out := &types.StandardResponse{Model: req.Model, Object: "chat.completion"}
	if len(chunks) > 0 {
		c := chunks[0]
		out.ID = c.ID
		out.Created = c.Created
		if c.Usage != nil {
			out.Usage = *c.Usage
		}
		out.Choices = []types.StandardChoice{{Index: 0, Message: c.Choices[0].Delta, FinishReason: c.Choices[0].FinishReason}}
	}
	return out, nil, provider.Outcome{StatusCode: resp.StatusCode, Response: out}, nil
}

// codexStream parses `event: <type>` / `data: <payload>` SSE frames and
// feeds each complete frame through a codexstream.Translator, buffering
// emitted chunks until Next is called again.
type codexStream struct {
	resp       *http.Response
	scanner    *bufio.Scanner
	translator *codexstream.Translator
	pending    []*types.StandardStreamChunk
	curType    string
}

func newCodexStream(resp *http.Response, model string) *codexStream {
	return &codexStream{resp: resp, scanner: bufio.NewScanner(resp.Body), translator: codexstream.New(model)}
}

func (s *codexStream) Next(ctx context.Context) (*types.StandardStreamChunk, bool, error) {
	for len(s.pending) == 0 {
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return nil, false, err
			}
			return nil, false, nil
		}
		line := s.scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			s.curType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" {
				continue
			}
			chunks, err := s.translator.Translate(codexstream.Event{Type: s.curType, Payload: []byte(data)})
			if err != nil {
				return nil, false, err
			}
			s.pending = append(s.pending, chunks...)
		}
	}
	chunk := s.pending[0]
	s.pending = s.pending[1:]
	return chunk, true, nil
}

func (s *codexStream) Close() error { return s.resp.Body.Close() }

func (p *Plugin) ClassifyError(outcome provider.Outcome) provider.Classification {
	if outcome.Err != nil {
		return provider.Transient(true, outcome.Err)
	}
	streamErr := error(&codexstream.StreamError{StatusCode: outcome.StatusCode, Body: string(outcome.Body)})
	switch {
	case outcome.StatusCode == 0 || outcome.StatusCode < 400:
		return provider.Success(usageFromResponse(outcome.Response))
	case outcome.StatusCode == http.StatusTooManyRequests:
		return provider.RateLimit(parseRetryAfter(outcome.Headers), "*", streamErr)
	case outcome.StatusCode == http.StatusUnauthorized || outcome.StatusCode == http.StatusForbidden:
		return provider.AuthFailure(true, streamErr)
	case outcome.StatusCode == http.StatusBadRequest:
		return provider.InvalidRequest(streamErr)
	case outcome.StatusCode >= 500:
		return provider.Transient(true, streamErr)
	case outcome.StatusCode >= 400:
		return provider.InvalidRequest(streamErr)
	default:
		return provider.Success(usageFromResponse(outcome.Response))
	}
}

func usageFromResponse(resp *types.StandardResponse) usage.Usage {
	if resp == nil {
		return usage.Usage{}
	}
	return usage.Usage{
		PromptTokens:     int64(resp.Usage.PromptTokens),
		CompletionTokens: int64(resp.Usage.CompletionTokens),
		TotalTokens:      int64(resp.Usage.TotalTokens),
	}
}

func parseRetryAfter(headers map[string][]string) time.Duration {
	if headers == nil {
		return 30 * time.Second
	}
	vals := headers["Retry-After"]
	if len(vals) == 0 {
		return 30 * time.Second
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(vals[0])); err == nil {
		return time.Duration(secs) * time.Second
	}
	return 30 * time.Second
}

func (p *Plugin) ParseQuotaError(outcome provider.Outcome) *provider.QuotaErrorInfo {
	if outcome.StatusCode != http.StatusTooManyRequests {
		return nil
	}
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(outcome.Body, &body); err != nil {
		return nil
	}
	if body.Error.Type != "usage_limit_reached" {
		return nil
	}
	return &provider.QuotaErrorInfo{Reason: body.Error.Message}
}

func (p *Plugin) DefaultRotationMode() provider.RotationMode     { return provider.RotationSequential }
func (p *Plugin) ModelQuotaGroups() map[string]string            { return nil }
func (p *Plugin) TierPriorities() map[string]int                 { return nil }
func (p *Plugin) UsageResetConfigs() []provider.UsageResetConfig { return nil }
func (p *Plugin) DefaultPriorityMultipliers() map[int]float64    { return nil }
func (p *Plugin) DefaultSequentialFallbackMultiplier() float64   { return 1 }
func (p *Plugin) TierAllowed(tier, model string) bool            { return true }

// RefreshToken performs a non-interactive refresh_token exchange, wired as
// an oauthqueue.RefreshFunc by the engine during startup.
func (p *Plugin) RefreshToken(ctx context.Context, cred *credential.Credential) error {
	snap := cred.Load()
	if snap.RefreshToken == "" {
		return &oauthqueue.RefreshError{Kind: oauthqueue.ErrKindInvalidGrant, Err: fmt.Errorf("codex: no refresh token on file")}
	}
	cfg := p.oauth2Config()
	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: snap.RefreshToken}).Token()
	if err != nil {
		return classifyOAuthErr(err)
	}
	idToken, _ := tok.Extra("id_token").(string)
	if err := cred.UpdateTokensAndPersist(tok.AccessToken, tok.RefreshToken, idToken, tok.Expiry); err != nil {
		return err
	}
	return nil
}

// InteractiveReauth drives one PKCE authorization-code exchange through a
// loopback callback server, wired as an oauthqueue.ReauthFunc.
func (p *Plugin) InteractiveReauth(ctx context.Context, cred *credential.Credential) error {
	flow, err := oauthqueue.NewPKCEFlow(p.oauth.RedirectPort, p.oauth.CallbackPath)
	if err != nil {
		return err
	}
	cfg := p.oauth2Config()
	cfg.RedirectURL = fmt.Sprintf("http://127.0.0.1:%d%s", p.oauth.RedirectPort, p.oauth.CallbackPath)

	authURL := cfg.AuthCodeURL(flow.State,
		oauth2.SetAuthURLParam("code_challenge", flow.Challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
	if err := p.openBrowser(authURL); err != nil && p.log != nil {
		p.log.Warn("failed to open browser for re-auth", zap.Error(err))
	}

	code, err := flow.AwaitCallback(ctx)
	if err != nil {
		return err
	}

	tok, err := cfg.Exchange(ctx, code, oauth2.SetAuthURLParam("code_verifier", flow.Verifier))
	if err != nil {
		return classifyOAuthErr(err)
	}
	idToken, _ := tok.Extra("id_token").(string)
	if err := cred.UpdateTokensAndPersist(tok.AccessToken, tok.RefreshToken, idToken, tok.Expiry); err != nil {
		return err
	}
	return nil
}

func classifyOAuthErr(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "invalid_grant"):
		return &oauthqueue.RefreshError{Kind: oauthqueue.ErrKindInvalidGrant, Err: err}
	case strings.Contains(msg, "401") || strings.Contains(msg, "403"):
		return &oauthqueue.RefreshError{Kind: oauthqueue.ErrKindUnauthorized, Err: err}
	case strings.Contains(msg, "429"):
		return &oauthqueue.RefreshError{Kind: oauthqueue.ErrKindRateLimited, RetryAfter: 30 * time.Second, Err: err}
	default:
		return &oauthqueue.RefreshError{Kind: oauthqueue.ErrKindServer, Err: err}
	}
}
