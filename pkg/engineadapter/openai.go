package engineadapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/modelgateway/inference-gateway/pkg/gwtypes"
	"github.com/modelgateway/inference-gateway/pkg/logging"
	"github.com/modelgateway/inference-gateway/pkg/streammux"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAICompatible drives engines that speak the OpenAI chat completions
// wire format over SSE (vLLM, and any hosted OpenAI-compatible endpoint),
// per §6's "OpenAI-compatible engines: /v1/chat/completions with
// stream=true, SSE framing".
type OpenAICompatible struct {
	log    logging.Logger
	client openai.Client
	// loaded tracks models this adapter has issued an explicit load
	// intent for; engines behind this adapter generally load lazily on
	// first request, so Load mostly just records intent (§4.A).
	loaded map[string]bool
}

// NewOpenAICompatible creates an adapter targeting endpoint, using
// httpClient for the underlying transport so callers can inject timeouts,
// proxies, or test doubles.
func NewOpenAICompatible(log logging.Logger, endpoint, apiKey string, httpClient *http.Client) *OpenAICompatible {
	opts := []option.RequestOption{option.WithBaseURL(endpoint)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &OpenAICompatible{
		log:    log,
		client: openai.NewClient(opts...),
		loaded: make(map[string]bool),
	}
}

// Name implements Adapter.
func (a *OpenAICompatible) Name() string { return string(gwtypes.BackendOpenAICompatible) }

// Generate implements Adapter by opening a streaming chat completion and
// translating each chunk into a StreamItem.
func (a *OpenAICompatible) Generate(ctx context.Context, model string, params GenerateParams) (<-chan StreamItem, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(params.Messages))
	for _, m := range params.Messages {
		switch m.Role {
		case "user":
			messages = append(messages, openai.UserMessage(m.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		case "system":
			messages = append(messages, openai.SystemMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	streamParams := openai.ChatCompletionNewParams{
		Model:       model,
		Messages:    messages,
		Temperature: openai.Float(params.Temperature),
	}

	stream := a.client.Chat.Completions.NewStreaming(ctx, streamParams)
	out := make(chan StreamItem, 16)

	go func() {
		defer close(out)
		start := time.Now()
		var inputTokens, outputTokens int

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			content := chunk.Choices[0].Delta.Content
			if content != "" {
				out <- StreamItem{Delta: &streammux.Delta{Kind: streammux.DeltaText, Content: content}}
			}
			for _, tc := range chunk.Choices[0].Delta.ToolCalls {
				out <- StreamItem{Delta: &streammux.Delta{
					Kind:     streammux.DeltaToolStart,
					ToolName: tc.Function.Name,
					ToolArgs: tc.Function.Arguments,
				}}
			}
			if chunk.Usage.TotalTokens > 0 {
				inputTokens = int(chunk.Usage.PromptTokens)
				outputTokens = int(chunk.Usage.CompletionTokens)
			}
		}

		if err := stream.Err(); err != nil {
			out <- StreamItem{Err: classifyHTTPErr(err)}
			return
		}

		out <- StreamItem{Usage: &Usage{
			InputTokens:    inputTokens,
			OutputTokens:   outputTokens,
			GenerationTime: time.Since(start),
		}}
	}()

	return out, nil
}

// Load records intent to keep model warm in the adapter's own bookkeeping.
// Most OpenAI-compatible engines load lazily on first request; this adapter
// sends no request to the engine, so the model is paged in by the first
// generation.
func (a *OpenAICompatible) Load(ctx context.Context, model string, params LoadParams) error {
	a.loaded[model] = true
	return nil
}

// Unload is a no-op: most OpenAI-compatible servers have no unload API;
// VRAM reclamation for these backends happens at the process level, which
// is out of scope for this adapter (§4.A: "no-op for engines without
// dynamic unload").
func (a *OpenAICompatible) Unload(ctx context.Context, model string) error {
	delete(a.loaded, model)
	return nil
}

// ListLoaded returns the adapter's own bookkeeping, since most
// OpenAI-compatible engines expose no list-loaded endpoint; reconciliation
// against this adapter is therefore a no-op in practice.
func (a *OpenAICompatible) ListLoaded(ctx context.Context) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(a.loaded))
	for name := range a.loaded {
		out[name] = struct{}{}
	}
	return out, nil
}

// Cleanup is a no-op for this backend kind.
func (a *OpenAICompatible) Cleanup(ctx context.Context) error { return nil }

// classifyHTTPErr maps an openai-go client error into the gwtypes.EngineError
// taxonomy (§7).
func classifyHTTPErr(err error) *gwtypes.EngineError {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &gwtypes.EngineError{Kind: gwtypes.EngineErrorTimeout, Err: err}
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &gwtypes.EngineError{
			Kind:       gwtypes.EngineErrorHTTP,
			StatusCode: apiErr.StatusCode,
			Err:        fmt.Errorf("engine-error-%d: %w", apiErr.StatusCode, err),
		}
	}

	return &gwtypes.EngineError{Kind: gwtypes.EngineErrorUnreachable, Err: err}
}
