package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/keyrotor/llmproxy/pkg/provider"
)

// writeSSEStream drains a provider.Stream onto the response as
// `data: {...}` frames terminated by `data: [DONE]`, matching the
// OpenAI-compatible streaming wire format.
func writeSSEStream(w http.ResponseWriter, r *http.Request, stream provider.Stream, log *zap.Logger) {
	defer stream.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)

	for {
		chunk, more, err := stream.Next(r.Context())
		if err != nil {
			if log != nil {
				log.Warn("stream terminated with error", zap.Error(err))
			}
			fmt.Fprintf(w, "data: %s\n\n", mustJSON(map[string]string{"error": err.Error()}))
			flusher.Flush()
			return
		}
		if !more {
			break
		}
		fmt.Fprintf(w, "data: %s\n\n", mustJSON(chunk))
		flusher.Flush()
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(`{}`)
	}
	return b
}
