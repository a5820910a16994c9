// Package ollama implements agent.Runtime against a local Ollama server for
// development without Bedrock. Replies stream as NDJSON from /api/generate.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nadzzz/voicedesk/internal/agent"
	"github.com/nadzzz/voicedesk/internal/config"
)

const systemPrompt = `You are the receptionist for a medical clinic, answering phone calls.
Each caller message starts with a tag like "[DID: 1001]" naming the clinic that was dialed.
Answer as that clinic, in one or two short spoken sentences, with no markdown.
If the caller asks for a person or you cannot help, say you will transfer them to a human receptionist.`

// Runtime streams generations from Ollama.
type Runtime struct {
	endpoint string
	model    string
	client   *http.Client
}

var _ agent.Runtime = (*Runtime)(nil)

// New creates an Ollama runtime. The endpoint may be the server root or the
// full /api/generate URL.
func New(cfg config.OllamaConfig) *Runtime {
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if !strings.HasSuffix(endpoint, "/api/generate") {
		endpoint += "/api/generate"
	}
	return &Runtime{
		endpoint: endpoint,
		model:    cfg.Model,
		client:   &http.Client{},
	}
}

// Invoke starts a streaming generation.
func (r *Runtime) Invoke(ctx context.Context, inv agent.Invocation) (agent.Stream, error) {
	bodyBytes, err := json.Marshal(map[string]any{
		"model":  r.model,
		"system": systemPrompt,
		"prompt": inv.InputText,
		"stream": true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshalling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("ollama failed (status %d): %s", resp.StatusCode, respBody)
	}

	slog.Debug("ollama generation started", "session_id", inv.SessionID, "model", r.model)
	return &stream{body: resp.Body, dec: json.NewDecoder(resp.Body)}, nil
}

// generateChunk is one NDJSON line of an /api/generate stream.
type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

type stream struct {
	body io.ReadCloser
	dec  *json.Decoder
	done bool
}

func (s *stream) Next(ctx context.Context) (agent.Fragment, error) {
	if s.done {
		return agent.Fragment{}, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return agent.Fragment{}, err
	}

	var chunk generateChunk
	if err := s.dec.Decode(&chunk); err != nil {
		if errors.Is(err, io.EOF) {
			return agent.Fragment{}, fmt.Errorf("ollama stream ended before done")
		}
		return agent.Fragment{}, fmt.Errorf("decoding ollama stream: %w", err)
	}
	if chunk.Error != "" {
		return agent.Fragment{}, fmt.Errorf("ollama: %s", chunk.Error)
	}
	s.done = chunk.Done
	return agent.Fragment{Text: chunk.Response}, nil
}

func (s *stream) Close() error {
	return s.body.Close()
}
