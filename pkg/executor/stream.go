package executor

import (
	"context"
	"time"

	"github.com/keyrotor/llmproxy/pkg/credential"
	"github.com/keyrotor/llmproxy/pkg/provider"
	"github.com/keyrotor/llmproxy/pkg/types"
	"github.com/keyrotor/llmproxy/pkg/usage"
)

func (e *Executor) attemptTimeout(providerName string, deadline time.Time) time.Duration {
	remaining := time.Until(deadline)
	if pt, ok := e.cfg.ProviderTimeout[providerName]; ok && pt < remaining {
		return pt
	}
	return remaining
}

// trackingStream wraps a plugin's Stream to implement the streaming
// specifics of spec §4.3: once the first chunk has been yielded, the
// stream is "committed" and any further failure is converted into a
// terminal synthetic error chunk followed by Done, never retried or
// raised to the caller. Exactly one terminal accounting event is recorded
// per request, at the stream's actual end — not at the pre-stream
// classification that produced the stream, which hasn't read any SSE
// bytes yet and can't know whether the stream will ultimately succeed.
type trackingStream struct {
	inner      provider.Stream
	exec       *Executor
	rc         RequestContext
	candidate  *credential.Credential
	scope      string
	committed  bool
	done       bool
	pendingErr *types.StandardStreamChunk
	recorded   bool
}

func newTrackingStream(inner provider.Stream, exec *Executor, rc RequestContext, candidate *credential.Credential, scope string) *trackingStream {
	return &trackingStream{inner: inner, exec: exec, rc: rc, candidate: candidate, scope: scope}
}

func (s *trackingStream) Next(ctx context.Context) (*types.StandardStreamChunk, bool, error) {
	if s.done {
		return nil, false, nil
	}
	if s.pendingErr != nil {
		chunk := s.pendingErr
		s.pendingErr = nil
		s.done = true
		s.recordTerminal(false, nil)
		return chunk, true, nil
	}

	chunk, ok, err := s.inner.Next(ctx)
	if err != nil {
		if !s.committed {
			// Nothing has reached the client yet: a genuine error is still
			// surfaceable as a normal error, letting the caller fall back.
			return nil, false, err
		}
		s.done = true
		s.recordTerminal(false, nil)
		return errorChunk(err), true, nil
	}
	if !ok {
		s.done = true
		s.recordTerminal(true, nil)
		return nil, false, nil
	}

	s.committed = true
	if chunk != nil && chunk.Done {
		s.done = true
		s.recordTerminal(true, chunk.Usage)
	}
	return chunk, true, nil
}

func (s *trackingStream) Close() error {
	return s.inner.Close()
}

// recordTerminal records exactly one of RecordSuccess/RecordFailure for the
// request this stream serves, using the terminal chunk's usage totals (set
// by the translator's end-of-stream event, e.g. codexstream's
// response.completed) rather than anything known before the first byte was
// read.
func (s *trackingStream) recordTerminal(success bool, u *types.Usage) {
	if s.recorded {
		return
	}
	s.recorded = true
	now := timeNow()
	accessor := string(s.candidate.Accessor)
	if success {
		var usg usage.Usage
		if u != nil {
			usg = usage.Usage{
				PromptTokens:     int64(u.PromptTokens),
				CompletionTokens: int64(u.CompletionTokens),
				TotalTokens:      int64(u.TotalTokens),
			}
		}
		s.exec.usageMgr.RecordSuccess(s.rc.Provider, s.candidate.StableID, accessor, s.candidate.Tier, s.candidate.Priority, s.rc.Model, s.scope, usg, now)
		return
	}
	s.exec.usageMgr.RecordFailure(s.rc.Provider, s.candidate.StableID, accessor, s.candidate.Tier, s.candidate.Priority, s.rc.Model, s.scope, now)
}

func timeNow() time.Time { return time.Now() }

func errorChunk(err error) *types.StandardStreamChunk {
	return &types.StandardStreamChunk{
		Object: "chat.completion.chunk",
		Choices: []types.StandardStreamChoice{{
			Index:        0,
			Delta:        types.ChatMessage{Role: "assistant", Content: ""},
			FinishReason: "error",
		}},
		Done:             true,
		ProviderMetadata: map[string]interface{}{"error": err.Error()},
	}
}
