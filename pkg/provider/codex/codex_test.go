package codex

import (
	"bufio"
	"bytes"
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyrotor/llmproxy/pkg/provider"
)

func TestClassifyErrorMapsStatusCodes(t *testing.T) {
	p := New("codex", "https://chatgpt.com/backend-api/codex", OAuthClient{}, nil, nil)

	cases := []struct {
		name     string
		status   int
		wantKind provider.ClassificationKind
	}{
		{"success", http.StatusOK, provider.KindSuccess},
		{"rate_limit", http.StatusTooManyRequests, provider.KindRateLimit},
		{"unauthorized", http.StatusUnauthorized, provider.KindAuthFailure},
		{"bad_request", http.StatusBadRequest, provider.KindInvalidRequest},
		{"server_error", http.StatusInternalServerError, provider.KindTransient},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := p.ClassifyError(provider.Outcome{StatusCode: tc.status, Body: []byte("{}")})
			assert.Equal(t, tc.wantKind, got.Kind)
		})
	}
}

func TestCodexStreamParsesEventDataFrames(t *testing.T) {
	raw := "event: response.output_text.delta\n" +
		"data: {\"delta\":\"hel\"}\n\n" +
		"event: response.output_text.delta\n" +
		"data: {\"delta\":\"lo\"}\n\n" +
		"event: response.completed\n" +
		"data: {\"response\":{\"usage\":{\"input_tokens\":1,\"output_tokens\":2,\"total_tokens\":3}}}\n\n"

	resp := &http.Response{Body: &readCloser{bufio.NewReader(bytes.NewBufferString(raw))}}
	s := newCodexStream(resp, "codex-model")

	var deltas []string
	for {
		chunk, ok, err := s.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		if chunk.Choices[0].Delta.Content != "" {
			deltas = append(deltas, chunk.Choices[0].Delta.Content)
		}
		if chunk.Done {
			require.NotNil(t, chunk.Usage)
			assert.EqualValues(t, 3, chunk.Usage.TotalTokens)
			break
		}
	}
	assert.Equal(t, []string{"hel", "lo"}, deltas)
}

type readCloser struct{ r *bufio.Reader }

func (rc *readCloser) Read(p []byte) (int, error) { return rc.r.Read(p) }
func (rc *readCloser) Close() error                { return nil }
