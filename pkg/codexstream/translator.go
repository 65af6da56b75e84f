// Package codexstream translates a Codex-style response.* SSE event
// taxonomy into OpenAI chat-completion stream chunks (spec §4.7). It is
// used by provider plugins whose native wire format is not already
// OpenAI-compatible.
package codexstream

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/keyrotor/llmproxy/pkg/types"
)

// Event is one decoded SSE event from the upstream Codex-style stream.
type Event struct {
	Type    string
	Payload json.RawMessage
}

// StreamError is raised by Translate for an `error` or `response.failed`
// event; the executor converts it into a terminal error chunk.
type StreamError struct {
	StatusCode int
	Body       string
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("codexstream: upstream error (status %d): %s", e.StatusCode, e.Body)
}

type toolCallState struct {
	index int
	name  string
}

// Translator holds the running state needed to map a sequence of Codex
// events onto OpenAI chunks: the response identity and the tool-call
// index/name bookkeeping the incremental arguments deltas need.
type Translator struct {
	responseID    string
	created       int64
	model         string
	toolCalls     map[string]*toolCallState
	nextToolIndex int
	sawToolCall   bool
}

// New returns a translator for one response stream.
func New(model string) *Translator {
	return &Translator{
		model:     model,
		toolCalls: make(map[string]*toolCallState),
	}
}

type responseEnvelope struct {
	Response struct {
		ID        string `json:"id"`
		CreatedAt int64  `json:"created_at"`
	} `json:"response"`
}

type outputTextDelta struct {
	Delta string `json:"delta"`
}

type outputItemAdded struct {
	Item struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Name string `json:"name"`
	} `json:"item"`
}

type functionCallArgsDelta struct {
	ItemID string `json:"item_id"`
	Delta  string `json:"delta"`
}

type responseCompleted struct {
	Response struct {
		Usage struct {
			InputTokens  int64 `json:"input_tokens"`
			OutputTokens int64 `json:"output_tokens"`
			TotalTokens  int64 `json:"total_tokens"`
		} `json:"usage"`
	} `json:"response"`
}

type responseIncomplete struct {
	Response struct {
		IncompleteDetails struct {
			Reason string `json:"reason"`
		} `json:"incomplete_details"`
	} `json:"response"`
}

// Translate consumes one upstream event and returns zero-or-more outbound
// OpenAI chunks. A returned *StreamError means the caller should stop
// pulling further events and surface a terminal error chunk.
func (t *Translator) Translate(ev Event) ([]*types.StandardStreamChunk, error) {
	switch ev.Type {
	case "response.created", "response.in_progress":
		var env responseEnvelope
		if err := json.Unmarshal(ev.Payload, &env); err == nil {
			if t.responseID == "" {
				t.responseID = env.Response.ID
			}
			if t.created == 0 {
				t.created = env.Response.CreatedAt
				if t.created == 0 {
					t.created = time.Now().Unix()
				}
			}
		}
		return nil, nil

	case "response.output_text.delta", "response.content_part.delta":
		var d outputTextDelta
		if err := json.Unmarshal(ev.Payload, &d); err != nil {
			return nil, nil
		}
		return []*types.StandardStreamChunk{t.chunk(types.ChatMessage{Role: "assistant", Content: d.Delta}, "")}, nil

	case "response.output_item.added":
		var a outputItemAdded
		if err := json.Unmarshal(ev.Payload, &a); err != nil {
			return nil, nil
		}
		if a.Item.Type != "function_call" {
			return nil, nil
		}
		t.sawToolCall = true
		idx := t.nextToolIndex
		t.nextToolIndex++
		t.toolCalls[a.Item.ID] = &toolCallState{index: idx, name: a.Item.Name}

		tc := types.ToolCall{
			ID:       a.Item.ID,
			Type:     "function",
			Function: types.ToolCallFunction{Name: a.Item.Name, Arguments: ""},
		}
		return []*types.StandardStreamChunk{t.chunk(types.ChatMessage{Role: "assistant", ToolCalls: []types.ToolCall{tc}}, "")}, nil

	case "response.function_call_arguments.delta":
		var d functionCallArgsDelta
		if err := json.Unmarshal(ev.Payload, &d); err != nil {
			return nil, nil
		}
		st, ok := t.toolCalls[d.ItemID]
		if !ok {
			return nil, nil
		}
		tc := types.ToolCall{
			ID:       d.ItemID,
			Type:     "function",
			Function: types.ToolCallFunction{Name: st.name, Arguments: d.Delta},
		}
		return []*types.StandardStreamChunk{t.chunk(types.ChatMessage{Role: "assistant", ToolCalls: []types.ToolCall{tc}}, "")}, nil

	case "response.function_call_arguments.done":
		return nil, nil

	case "response.completed":
		var c responseCompleted
		_ = json.Unmarshal(ev.Payload, &c)
		finish := "stop"
		if t.sawToolCall {
			finish = "tool_calls" // overrides any other terminal reason, spec §4.7
		}
		chunk := t.chunk(types.ChatMessage{}, finish)
		chunk.Usage = &types.Usage{
			PromptTokens:     int(c.Response.Usage.InputTokens),
			CompletionTokens: int(c.Response.Usage.OutputTokens),
			TotalTokens:      int(c.Response.Usage.TotalTokens),
		}
		chunk.Done = true
		return []*types.StandardStreamChunk{chunk}, nil

	case "response.incomplete":
		var inc responseIncomplete
		_ = json.Unmarshal(ev.Payload, &inc)
		finish := mapIncompleteReason(inc.Response.IncompleteDetails.Reason)
		if t.sawToolCall {
			finish = "tool_calls"
		}
		chunk := t.chunk(types.ChatMessage{}, finish)
		chunk.Done = true
		return []*types.StandardStreamChunk{chunk}, nil

	case "error", "response.failed":
		return nil, &StreamError{StatusCode: 502, Body: string(ev.Payload)}

	default:
		return nil, nil
	}
}

func mapIncompleteReason(reason string) string {
	switch reason {
	case "max_output_tokens":
		return "length"
	case "tool_calls":
		return "tool_calls"
	case "content_filter":
		return "content_filter"
	default:
		return "length"
	}
}

func (t *Translator) chunk(delta types.ChatMessage, finishReason string) *types.StandardStreamChunk {
	return &types.StandardStreamChunk{
		ID:      t.responseID,
		Model:   t.model,
		Object:  "chat.completion.chunk",
		Created: t.created,
		Choices: []types.StandardStreamChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: finishReason,
		}},
	}
}
