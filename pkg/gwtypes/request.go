package gwtypes

import "time"

// Tier is the origin tier of a request, used by admission policy watermarks.
type Tier int

const (
	TierNormal Tier = iota
	TierPriority
	TierAdmin
)

// ArtifactRef is an opaque reference to a pre-uploaded file artifact. File
// extraction itself is an out-of-scope external collaborator; the gateway
// only threads the reference through.
type ArtifactRef struct {
	ID       string `json:"id"`
	Filename string `json:"filename,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// Overrides carries user-supplied per-request overrides that participate in
// preference resolution alongside user_state and the router's route.
type Overrides struct {
	Temperature *float64 `json:"temperature,omitempty"`
	Thinking    *bool    `json:"thinking,omitempty"`
}

// Request is a single chat inference request as it flows through the
// control plane: created by a front-end adapter, mutated only by the queue
// (state transitions) and the worker (started-at, retry increment).
type Request struct {
	ID             string
	Tier           Tier
	ClientHandle   string
	ConversationID string
	UserID         string
	Text           string
	Artifacts      []ArtifactRef
	RequestedModel string
	Overrides      Overrides
	EstimatedInputTokens int

	// ClassificationHint is set by preprocessing (e.g. "has_image") and
	// consulted by the router.
	ClassificationHint string

	EnqueuedAt time.Time
	StartedAt  time.Time
	RetryCount int
}

// State is the lifecycle state of a request within the admission queue.
// A request is in exactly one of these at any time (§3 invariant).
type State int

const (
	StateEnqueued State = iota
	StateInFlight
	StateTerminal
)
