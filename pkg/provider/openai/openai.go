// Package openai implements the C1 Provider Plugin contract for backends
// that already speak the OpenAI chat-completions wire format: requests and
// responses are forwarded with minimal transformation (spec §4.1, "For
// providers that natively speak OpenAI chat-completion, this is a thin
// forward").
package openai

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

	httpclient "github.com/keyrotor/llmproxy/internal/http"
	"github.com/keyrotor/llmproxy/pkg/credential"
	"github.com/keyrotor/llmproxy/pkg/provider"
	"github.com/keyrotor/llmproxy/pkg/providers/common/retry"
	"github.com/keyrotor/llmproxy/pkg/ratelimit"
	"github.com/keyrotor/llmproxy/pkg/types"
	"github.com/keyrotor/llmproxy/pkg/usage"
)

// Plugin is the OpenAI-compatible passthrough provider. One instance is
// shared for the lifetime of the process (spec §5, "one shared async HTTP
// client ... per provider plugin instance").
type Plugin struct {
	name        string
	baseURL     string
	httpClient  *httpclient.HTTPClient
	retryPolicy *retry.RetryPolicy
	rlParser    ratelimit.Parser
}

// New returns a plugin forwarding to baseURL (e.g. https://api.openai.com/v1).
func New(name, baseURL string) *Plugin {
	policy := retry.DefaultRetryPolicy()
	return &Plugin{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: httpclient.NewHTTPClientBuilder().
			WithTimeout(60 * time.Second).
			WithUserAgent("keyrotor-llmproxy/1.0").
			WithRetry(policy.MaxRetries, policy.InitialDelay).
			Build(),
		retryPolicy: policy,
		rlParser:    ratelimit.NewOpenAIParser(),
	}
}

func (p *Plugin) Name() string { return p.name }

func (p *Plugin) ListModels(ctx context.Context, cred *credential.Credential) ([]types.Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	p.authenticate(req, cred)

	resp, err := p.httpClient.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("openai: list_models failed (%d): %s", resp.StatusCode, body)
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

func (p *Plugin) authenticate(req *http.Request, cred *credential.Credential) {
	snap := cred.Load()
	token := snap.APIKey
	if token == "" {
		token = snap.AccessToken
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
}

// wireRequest mirrors the subset of the OpenAI chat-completions request
// body this passthrough forwards.
type wireRequest struct {
	Model       string            `json:"model"`
	Messages    []types.ChatMessage `json:"messages"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature float64           `json:"temperature,omitempty"`
	Stop        []string          `json:"stop,omitempty"`
	Stream      bool              `json:"stream"`
	Tools       []types.Tool      `json:"tools,omitempty"`
}

func (p *Plugin) Execute(ctx context.Context, cred *credential.Credential, req types.StandardRequest, streaming bool) (*types.StandardResponse, provider.Stream, provider.Outcome, error) {
	body := wireRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stop:        req.Stop,
		Tools:       req.Tools,
		Stream:      streaming,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, nil, provider.Outcome{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, nil, provider.Outcome{}, err
	}
	p.authenticate(httpReq, cred)

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
		return nil, newSSEStream(resp), provider.Outcome{StatusCode: resp.StatusCode}, nil
	}
	defer resp.Body.Close()
	var out types.StandardResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, nil, provider.Outcome{Err: err}, nil
	}
	return &out, nil, provider.Outcome{StatusCode: resp.StatusCode, Response: &out}, nil
}

// sseStream reads native OpenAI-shaped `data: {...}` lines and decodes
// each directly into a StandardStreamChunk, since this plugin's upstream
// already speaks the target wire shape.
type sseStream struct {
	resp    *http.Response
	scanner *bufio.Scanner
}

func newSSEStream(resp *http.Response) *sseStream {
	return &sseStream{resp: resp, scanner: bufio.NewScanner(resp.Body)}
}

func (s *sseStream) Next(ctx context.Context) (*types.StandardStreamChunk, bool, error) {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			return nil, false, nil
		}
		var chunk types.StandardStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		return &chunk, true, nil
	}
	if err := s.scanner.Err(); err != nil {
		return nil, false, err
	}
	return nil, false, nil
}

func (s *sseStream) Close() error { return s.resp.Body.Close() }

func (p *Plugin) ClassifyError(outcome provider.Outcome) provider.Classification {
	if outcome.Err != nil {
		return provider.Transient(true, outcome.Err)
	}
	switch {
	case outcome.StatusCode == 0 || outcome.StatusCode < 400:
		return provider.Success(usageFromResponse(outcome.Response))
	case outcome.StatusCode == http.StatusTooManyRequests:
		retryAfter := p.retryAfterFromHeaders(outcome.Headers)
		return provider.RateLimit(retryAfter, "*", fmt.Errorf("openai: rate limited: %s", outcome.Body))
	case outcome.StatusCode == http.StatusUnauthorized || outcome.StatusCode == http.StatusForbidden:
		return provider.AuthFailure(true, fmt.Errorf("openai: auth failed: %s", outcome.Body))
	case outcome.StatusCode == http.StatusBadRequest:
		return provider.InvalidRequest(fmt.Errorf("openai: invalid request: %s", outcome.Body))
	case outcome.StatusCode >= 500:
		return provider.Transient(true, fmt.Errorf("openai: server error %d: %s", outcome.StatusCode, outcome.Body))
	case outcome.StatusCode >= 400:
		return provider.InvalidRequest(fmt.Errorf("openai: client error %d: %s", outcome.StatusCode, outcome.Body))
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

const defaultRateLimitRetry = 30 * time.Second

// retryAfterFromHeaders prefers the provider's own rate-limit header parser
// (the teacher's pkg/ratelimit.OpenAIParser) over the bare Retry-After
// header, since the x-ratelimit-reset-requests duration is usually more
// precise than a generic retry-after.
func (p *Plugin) retryAfterFromHeaders(headers map[string][]string) time.Duration {
	if headers == nil {
		return defaultRateLimitRetry
	}
	h := http.Header(headers)
	if p.rlParser != nil {
		if info, err := p.rlParser.Parse(h, ""); err == nil {
			if info.RetryAfter > 0 {
				return info.RetryAfter
			}
			if !info.RequestsReset.IsZero() {
				if d := time.Until(info.RequestsReset); d > 0 {
					return d
				}
			}
		}
	}
	if vals := h.Values("Retry-After"); len(vals) > 0 {
		if secs, err := strconv.Atoi(strings.TrimSpace(vals[0])); err == nil {
			return time.Duration(secs) * time.Second
		}
		if when, err := http.ParseTime(vals[0]); err == nil {
			return time.Until(when)
		}
	}
	return defaultRateLimitRetry
}

func (p *Plugin) ParseQuotaError(outcome provider.Outcome) *provider.QuotaErrorInfo {
	if outcome.StatusCode != http.StatusTooManyRequests {
		return nil
	}
	var body struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(outcome.Body, &body); err != nil {
		return nil
	}
	if body.Error.Code != "insufficient_quota" {
		return nil
	}
	return &provider.QuotaErrorInfo{Reason: body.Error.Message}
}

func (p *Plugin) DefaultRotationMode() provider.RotationMode        { return provider.RotationBalanced }
func (p *Plugin) ModelQuotaGroups() map[string]string               { return nil }
func (p *Plugin) TierPriorities() map[string]int                    { return nil }
func (p *Plugin) UsageResetConfigs() []provider.UsageResetConfig    { return nil }
func (p *Plugin) DefaultPriorityMultipliers() map[int]float64       { return nil }
func (p *Plugin) DefaultSequentialFallbackMultiplier() float64      { return 1 }
func (p *Plugin) TierAllowed(tier, model string) bool                { return true }
