package engineadapter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/modelgateway/inference-gateway/pkg/gwtypes"
	"github.com/modelgateway/inference-gateway/pkg/logging"
	"github.com/modelgateway/inference-gateway/pkg/streammux"
)

// localChatRequest mirrors the wire shape of an Ollama-style /api/chat
// request, including keep_alive's overload as the unload signal
// ("0s" unloads immediately) per §4.A.
type localChatRequest struct {
	Model     string         `json:"model"`
	Messages  []localMessage `json:"messages"`
	Stream    bool           `json:"stream"`
	KeepAlive string         `json:"keep_alive,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
}

type localMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// localChatChunk is one line of the newline-delimited JSON stream /api/chat
// emits.
type localChatChunk struct {
	Model     string       `json:"model"`
	Message   localMessage `json:"message"`
	Done      bool         `json:"done"`
	// Fields only present on the terminal chunk.
	PromptEvalCount int   `json:"prompt_eval_count,omitempty"`
	EvalCount       int   `json:"eval_count,omitempty"`
	TotalDuration   int64 `json:"total_duration,omitempty"` // nanoseconds
}

// localPSModel mirrors a single entry of /api/ps.
type localPSModel struct {
	Name string `json:"name"`
}

type localPSResponse struct {
	Models []localPSModel `json:"models"`
}

// LocalNative drives engines with their own native ndjson protocol and
// explicit load/unload via the keep_alive convention (e.g. an Ollama-style
// server), per §4.A / §9.
type LocalNative struct {
	log        logging.Logger
	baseURL    string
	httpClient *http.Client
}

// NewLocalNative creates an adapter targeting baseURL (e.g.
// "http://127.0.0.1:11434").
func NewLocalNative(log logging.Logger, baseURL string, httpClient *http.Client) *LocalNative {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &LocalNative{log: log, baseURL: baseURL, httpClient: httpClient}
}

// Name implements Adapter.
func (a *LocalNative) Name() string { return string(gwtypes.BackendLocalNative) }

// Generate implements Adapter by POSTing a streaming chat request and
// parsing the ndjson response line by line.
func (a *LocalNative) Generate(ctx context.Context, model string, params GenerateParams) (<-chan StreamItem, error) {
	messages := make([]localMessage, 0, len(params.Messages))
	for _, m := range params.Messages {
		messages = append(messages, localMessage{Role: m.Role, Content: m.Content})
	}

	reqBody := localChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
		Options: map[string]any{
			"temperature": params.Temperature,
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, &gwtypes.EngineError{Kind: gwtypes.EngineErrorUnreachable, Err: err}
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, &gwtypes.EngineError{
			Kind:       gwtypes.EngineErrorHTTP,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("local engine returned status %d", resp.StatusCode),
		}
	}

	out := make(chan StreamItem, 16)
	go a.consumeStream(resp, out)
	return out, nil
}

// consumeStream reads newline-delimited JSON chunks, forwarding a
// StreamItem per line, and closes out exactly once, per the generate()
// stream contract in §4.A.
func (a *LocalNative) consumeStream(resp *http.Response, out chan<- StreamItem) {
	defer close(out)
	defer resp.Body.Close()

	start := time.Now()
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk localChatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			out <- StreamItem{Err: &gwtypes.EngineError{Kind: gwtypes.EngineErrorProtocol, Err: fmt.Errorf("decode chunk: %w", err)}}
			return
		}

		if chunk.Message.Content != "" {
			out <- StreamItem{Delta: &streammux.Delta{Kind: streammux.DeltaText, Content: chunk.Message.Content}}
		}

		if chunk.Done {
			out <- StreamItem{Usage: &Usage{
				InputTokens:    chunk.PromptEvalCount,
				OutputTokens:   chunk.EvalCount,
				GenerationTime: time.Since(start),
			}}
			return
		}
	}

	if err := scanner.Err(); err != nil {
		out <- StreamItem{Err: &gwtypes.EngineError{Kind: gwtypes.EngineErrorUnreachable, Err: err}}
		return
	}
	out <- StreamItem{Err: &gwtypes.EngineError{Kind: gwtypes.EngineErrorProtocol, Err: fmt.Errorf("stream ended before the final chunk")}}
}

// Load issues a zero-content chat request with a long keep_alive to force
// the engine to page the model in and hold it resident, mirroring how
// Ollama-style servers treat keep_alive as the residency control.
// params.AdditionalArgs, each formatted as "key=value" (e.g.
// "num_ctx=8192"), is forwarded into the request's options map so an admin
// /internal/vram/load caller can tune engine-specific runtime options.
func (a *LocalNative) Load(ctx context.Context, model string, params LoadParams) error {
	return a.setKeepAlive(ctx, model, "30m", additionalArgsToOptions(params.AdditionalArgs))
}

// Unload sets keep_alive to "0s", the engine's documented convention for
// immediate unload (§4.A).
func (a *LocalNative) Unload(ctx context.Context, model string) error {
	return a.setKeepAlive(ctx, model, "0s", nil)
}

// additionalArgsToOptions turns "key=value" flag strings into an options
// map; an entry with no "=" is ignored rather than rejected, since admin
// callers may pass bare flags that this ndjson protocol has no slot for.
func additionalArgsToOptions(args []string) map[string]any {
	if len(args) == 0 {
		return nil
	}
	opts := make(map[string]any, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if !ok {
			continue
		}
		opts[key] = value
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}

func (a *LocalNative) setKeepAlive(ctx context.Context, model, keepAlive string, options map[string]any) error {
	reqBody := localChatRequest{
		Model:     model,
		Messages:  nil,
		Stream:    false,
		KeepAlive: keepAlive,
		Options:   options,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal keep-alive request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build keep-alive request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return &gwtypes.EngineError{Kind: gwtypes.EngineErrorUnreachable, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return &gwtypes.EngineError{Kind: gwtypes.EngineErrorHTTP, StatusCode: resp.StatusCode, Err: fmt.Errorf("keep-alive request failed with status %d", resp.StatusCode)}
	}
	return nil
}

// ListLoaded queries /api/ps for engine ground truth, per §4.E's
// reconciliation step.
func (a *LocalNative) ListLoaded(ctx context.Context) (map[string]struct{}, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/ps", nil)
	if err != nil {
		return nil, fmt.Errorf("build ps request: %w", err)
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, &gwtypes.EngineError{Kind: gwtypes.EngineErrorUnreachable, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, &gwtypes.EngineError{Kind: gwtypes.EngineErrorHTTP, StatusCode: resp.StatusCode, Err: fmt.Errorf("ps request failed with status %d", resp.StatusCode)}
	}

	var parsed localPSResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &gwtypes.EngineError{Kind: gwtypes.EngineErrorProtocol, Err: fmt.Errorf("decode ps response: %w", err)}
	}

	out := make(map[string]struct{}, len(parsed.Models))
	for _, m := range parsed.Models {
		out[m.Name] = struct{}{}
	}
	return out, nil
}

// Cleanup is a no-op: this backend kind reclaims memory itself once a
// model's keep_alive expires.
func (a *LocalNative) Cleanup(ctx context.Context) error { return nil }
