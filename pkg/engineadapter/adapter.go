// Package engineadapter defines the uniform Engine Adapter contract (spec
// §4.A) and its concrete implementations for the three backend kinds named
// in §9: OpenAI-compatible, local-native, and monolithic-no-unload.
package engineadapter

import (
	"context"
	"time"

	"github.com/modelgateway/inference-gateway/pkg/gwtypes"
	"github.com/modelgateway/inference-gateway/pkg/streammux"
)

// GenerateParams carries the resolved generation parameters for a single
// call: messages, sampling controls, and tool allow-list.
type GenerateParams struct {
	Messages      []ChatMessage
	Temperature   float64
	Thinking      bool
	ToolAllowList []string
}

// ChatMessage is a single role/content pair sent to an engine.
type ChatMessage struct {
	Role    string
	Content string
}

// Usage is the terminal usage report an engine yields at the end of a
// successful generation.
type Usage struct {
	InputTokens    int
	OutputTokens   int
	GenerationTime time.Duration
}

// StreamItem is a single item from a generate() stream: exactly one of
// Delta, Usage, or Err is meaningful, mirroring "a sequence of deltas ...
// a terminal usage report ... failures surface as a single error item and
// close" from §4.A.
type StreamItem struct {
	Delta *streammux.Delta
	Usage *Usage
	Err   error
}

// LoadParams carries optional load-time parameters (e.g. context size)
// forwarded from /internal/vram/load's additional_args.
type LoadParams struct {
	Temperature    *float64
	AdditionalArgs []string
}

// Adapter is the capability set exposed uniformly across engine kinds.
// Implementations need not be safe for concurrent invocation of Load/Unload
// for the *same* model, but their underlying engines must support
// concurrent generate() calls across different models/requests.
type Adapter interface {
	// Name returns the adapter's backend kind name.
	Name() string
	// Generate streams token deltas for a single request. The returned
	// channel is closed exactly once the stream ends, deterministically,
	// either after a StreamItem carrying Usage or one carrying Err.
	Generate(ctx context.Context, model string, params GenerateParams) (<-chan StreamItem, error)
	// Load preloads model into the engine. For engines without dynamic
	// load (monolithic), this is a no-op that records intent.
	Load(ctx context.Context, model string, params LoadParams) error
	// Unload releases model's VRAM. No-op for engines without dynamic
	// unload.
	Unload(ctx context.Context, model string) error
	// ListLoaded returns the set of model names the engine itself
	// believes are resident — ground truth for reconciliation.
	ListLoaded(ctx context.Context) (map[string]struct{}, error)
	// Cleanup hints the engine to drop auxiliary caches after a large
	// unload.
	Cleanup(ctx context.Context) error
}
