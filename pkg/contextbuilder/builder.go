// Package contextbuilder implements the Context Builder (spec §4.L): it
// loads a conversation's recent message history, decides whether it needs
// summarising, and produces the final message list sent to an engine.
package contextbuilder

import (
	"context"

	"github.com/modelgateway/inference-gateway/pkg/engineadapter"
	"github.com/modelgateway/inference-gateway/pkg/gwtypes"
	"github.com/modelgateway/inference-gateway/pkg/logging"
)

// DefaultHistoryWindow is the number of most recent messages loaded per
// conversation before threshold evaluation.
const DefaultHistoryWindow = 50

// DefaultVerbatimTail is the number of most recent messages preserved
// verbatim when a summary replaces the rest of the window.
const DefaultVerbatimTail = 6

// History is the narrow repository dependency this package needs: loading
// the last K messages of a conversation.
type History interface {
	LoadRecent(ctx context.Context, conversationID string, limit int) ([]gwtypes.Message, error)
}

// Summarizer delegates to the router's designated small model to compact the
// older messages of a conversation into a single summary, per SPEC_FULL.md §C.
type Summarizer interface {
	Summarize(ctx context.Context, messages []gwtypes.Message) (string, error)
}

// Builder loads and, when necessary, compacts conversation context.
type Builder struct {
	log            logging.Logger
	history        History
	summarizer     Summarizer
	historyWindow  int
	verbatimTail   int
	tokenThreshold int
}

// Option configures a Builder.
type Option func(*Builder)

// WithHistoryWindow overrides DefaultHistoryWindow.
func WithHistoryWindow(n int) Option {
	return func(b *Builder) { b.historyWindow = n }
}

// WithVerbatimTail overrides DefaultVerbatimTail.
func WithVerbatimTail(n int) Option {
	return func(b *Builder) { b.verbatimTail = n }
}

// New creates a Builder. tokenThreshold is the per-user token total above
// which inline, blocking summarisation is triggered (§9's Open Question
// resolution).
func New(log logging.Logger, history History, summarizer Summarizer, tokenThreshold int, opts ...Option) *Builder {
	b := &Builder{
		log:            log,
		history:        history,
		summarizer:     summarizer,
		historyWindow:  DefaultHistoryWindow,
		verbatimTail:   DefaultVerbatimTail,
		tokenThreshold: tokenThreshold,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Result is the outcome of Load: the final message list plus whether
// summarisation ran, so the worker can emit an opt-in notification frame.
type Result struct {
	Messages      []engineadapter.ChatMessage
	Summarized    bool
	// NotifyOptedIn echoes the caller's notifyOptedIn argument when
	// summarisation ran (it is false otherwise), so the worker's decision to
	// send a summarisation notice only needs to inspect this Result, not
	// re-thread the user's preference itself.
	NotifyOptedIn   bool
	EstimatedTokens int
}

// estimateTokens is a coarse, fast approximation (chars/4) used only to
// decide whether the threshold is crossed; the authoritative count comes
// from the engine's terminal usage report.
func estimateTokens(messages []gwtypes.Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content) / 4
	}
	return total
}

// Load loads the last K messages for req's conversation, summarising all
// but the last verbatimTail messages inline when the running token total
// exceeds the per-user threshold; those last messages are kept untouched.
func (b *Builder) Load(ctx context.Context, req gwtypes.Request, notifyOptedIn bool) (Result, error) {
	messages, err := b.history.LoadRecent(ctx, req.ConversationID, b.historyWindow)
	if err != nil {
		return Result{}, err
	}

	estimated := estimateTokens(messages)
	if estimated <= b.tokenThreshold || len(messages) <= b.verbatimTail || b.summarizer == nil {
		return Result{Messages: toChatMessages(messages), EstimatedTokens: estimated}, nil
	}

	tail := messages[len(messages)-b.verbatimTail:]
	head := messages[:len(messages)-b.verbatimTail]

	summary, err := b.summarizer.Summarize(ctx, head)
	if err != nil {
		if b.log != nil {
			b.log.WithError(err).Warnf("summarisation failed for conversation %s, falling back to raw history", req.ConversationID)
		}
		return Result{Messages: toChatMessages(messages), EstimatedTokens: estimated}, nil
	}

	out := make([]engineadapter.ChatMessage, 0, len(tail)+1)
	out = append(out, engineadapter.ChatMessage{Role: "system", Content: "Conversation summary: " + summary})
	out = append(out, toChatMessages(tail)...)

	return Result{Messages: out, Summarized: true, NotifyOptedIn: notifyOptedIn, EstimatedTokens: estimated}, nil
}

func toChatMessages(messages []gwtypes.Message) []engineadapter.ChatMessage {
	out := make([]engineadapter.ChatMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, engineadapter.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}
