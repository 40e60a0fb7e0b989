package engineadapter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/modelgateway/inference-gateway/pkg/gwtypes"
	"github.com/modelgateway/inference-gateway/pkg/logging"
	"github.com/modelgateway/inference-gateway/pkg/streammux"
)

// Monolithic drives an engine process that starts with a single fixed
// model baked in and exposes no load/unload API at all — Load and Unload
// never call the engine (Load only checks that the requested model is the
// fixed one), per §4.A and the DynamicallyLoadable() == false contract in
// gwtypes.ModelDescriptor.
type Monolithic struct {
	log        logging.Logger
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewMonolithic creates an adapter bound to a single fixed model served at
// baseURL.
func NewMonolithic(log logging.Logger, baseURL, model string, httpClient *http.Client) *Monolithic {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Monolithic{log: log, baseURL: baseURL, model: model, httpClient: httpClient}
}

// Name implements Adapter.
func (a *Monolithic) Name() string { return string(gwtypes.BackendMonolithic) }

// Generate streams a chat completion using the same OpenAI-compatible SSE
// wire format most monolithic single-model servers expose, parsed in the
// style of the teacher's ProcessSSEStream.
func (a *Monolithic) Generate(ctx context.Context, model string, params GenerateParams) (<-chan StreamItem, error) {
	messages := make([]localMessage, 0, len(params.Messages))
	for _, m := range params.Messages {
		messages = append(messages, localMessage{Role: m.Role, Content: m.Content})
	}

	reqBody := map[string]any{
		"model":       a.model,
		"messages":    messages,
		"stream":      true,
		"temperature": params.Temperature,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, &gwtypes.EngineError{Kind: gwtypes.EngineErrorUnreachable, Err: err}
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, &gwtypes.EngineError{Kind: gwtypes.EngineErrorHTTP, StatusCode: resp.StatusCode, Err: fmt.Errorf("monolithic engine returned status %d", resp.StatusCode)}
	}

	out := make(chan StreamItem, 16)
	go a.consumeSSE(resp, out)
	return out, nil
}

type monolithicStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage,omitempty"`
}

// consumeSSE scans data:-prefixed lines, mirroring the buffering idiom of
// the teacher's ProcessSSEStream, and terminates on the "[DONE]" sentinel.
func (a *Monolithic) consumeSSE(resp *http.Response, out chan<- StreamItem) {
	defer close(out)
	defer resp.Body.Close()

	start := time.Now()
	var inputTokens, outputTokens int
	reader := bufio.NewReader(resp.Body)

	for {
		line, err := reader.ReadString('\n')
		trimmed := bytes.TrimSpace([]byte(line))

		if len(trimmed) > 0 {
			if data, ok := bytes.CutPrefix(trimmed, []byte("data:")); ok {
				data = bytes.TrimSpace(data)
				if bytes.Equal(data, []byte("[DONE]")) {
					out <- StreamItem{Usage: &Usage{InputTokens: inputTokens, OutputTokens: outputTokens, GenerationTime: time.Since(start)}}
					return
				}
				var chunk monolithicStreamChunk
				if jerr := json.Unmarshal(data, &chunk); jerr != nil {
					out <- StreamItem{Err: &gwtypes.EngineError{Kind: gwtypes.EngineErrorProtocol, Err: fmt.Errorf("decode sse chunk: %w", jerr)}}
					return
				}
				if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
					out <- StreamItem{Delta: &streammux.Delta{Kind: streammux.DeltaText, Content: chunk.Choices[0].Delta.Content}}
				}
				if chunk.Usage != nil {
					inputTokens = chunk.Usage.PromptTokens
					outputTokens = chunk.Usage.CompletionTokens
				}
			}
		}

		if err != nil {
			if err.Error() == "EOF" {
				out <- StreamItem{Usage: &Usage{InputTokens: inputTokens, OutputTokens: outputTokens, GenerationTime: time.Since(start)}}
				return
			}
			out <- StreamItem{Err: &gwtypes.EngineError{Kind: gwtypes.EngineErrorUnreachable, Err: err}}
			return
		}
	}
}

// Load is a no-op: the fixed model is always resident once the process is
// up. Any other model name is not servable by this adapter.
func (a *Monolithic) Load(ctx context.Context, model string, params LoadParams) error {
	if model != a.model {
		return fmt.Errorf("%w: %s (monolithic adapter serves only %s)", gwtypes.ErrUnknownModel, model, a.model)
	}
	return nil
}

// Unload is a no-op: there is nothing to release.
func (a *Monolithic) Unload(ctx context.Context, model string) error { return nil }

// ListLoaded always reports the single fixed model as resident.
func (a *Monolithic) ListLoaded(ctx context.Context) (map[string]struct{}, error) {
	return map[string]struct{}{a.model: {}}, nil
}

// Cleanup is a no-op for this backend kind.
func (a *Monolithic) Cleanup(ctx context.Context) error { return nil }
