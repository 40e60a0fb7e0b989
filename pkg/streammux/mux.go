// Package streammux implements the Stream Multiplexer (spec §4.K): it maps
// a client handle to a live connection and fans outgoing frames to it,
// preserving per-handle ordering and applying back-pressure.
package streammux

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/modelgateway/inference-gateway/pkg/gwtypes"
	"github.com/modelgateway/inference-gateway/pkg/logging"
	"golang.org/x/time/rate"
)

// FrameKind is the closed set of outgoing frame kinds.
type FrameKind string

const (
	FrameQueued     FrameKind = "queued"
	FrameProcessing FrameKind = "processing"
	FrameToken      FrameKind = "token"
	FrameToolStart  FrameKind = "tool-start"
	FrameToolEnd    FrameKind = "tool-end"
	FrameDone       FrameKind = "done"
	FrameError      FrameKind = "error"
	FrameHistory    FrameKind = "history"
	FramePong       FrameKind = "pong"
	FrameSummarized FrameKind = "summarized"
)

// Frame is a single outgoing wire frame.
type Frame struct {
	Kind    FrameKind   `json:"kind"`
	Payload interface{} `json:"payload,omitempty"`
}

// Conn is the narrow interface a transport (websocket, SSE, in-process
// test double) must satisfy to receive multiplexed frames. The
// multiplexer owns the connection for its registered lifetime and may
// close it; callers elsewhere only ever hold the opaque handle, never the
// Conn itself (per §9's "weakly referenced client connections" note).
type Conn interface {
	WriteFrame(data []byte) error
	Close() error
}

type registration struct {
	conn    Conn
	mu      sync.Mutex // per-handle write serialisation
	limiter *rate.Limiter
	closed  bool
}

// Mux is the stream multiplexer. Safe for concurrent use.
type Mux struct {
	log logging.Logger

	mu    sync.RWMutex
	conns map[string]*registration

	// sendTimeout bounds how long a single WriteFrame may block (e.g. a
	// saturated websocket write buffer) before the connection is closed
	// and the handle invalidated, per §4.K's back-pressure policy.
	sendTimeout time.Duration
}

// Option configures a Mux.
type Option func(*Mux)

// WithSendTimeout overrides the default back-pressure timeout (5s).
func WithSendTimeout(d time.Duration) Option {
	return func(m *Mux) { m.sendTimeout = d }
}

// New creates an empty Mux.
func New(log logging.Logger, opts ...Option) *Mux {
	m := &Mux{
		log:         log,
		conns:       make(map[string]*registration),
		sendTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register associates handle with conn. A rate limiter of 50 frames/sec
// with a burst of 100 guards against a single runaway stream starving
// others on a shared writer goroutine pool.
func (m *Mux) Register(handle string, conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conns[handle] = &registration{
		conn:    conn,
		limiter: rate.NewLimiter(rate.Limit(50), 100),
	}
}

// Unregister best-effort closes the connection and removes handle. Further
// sends to handle drop silently, restoring the mux to its pre-registration
// state for that handle (the round-trip property in §8).
func (m *Mux) Unregister(handle string) {
	m.mu.Lock()
	reg, ok := m.conns[handle]
	delete(m.conns, handle)
	m.mu.Unlock()

	if ok {
		reg.mu.Lock()
		reg.closed = true
		reg.mu.Unlock()
		_ = reg.conn.Close()
	}
}

// IsConnected reports whether handle currently has a registered, open
// connection.
func (m *Mux) IsConnected(handle string) bool {
	m.mu.RLock()
	reg, ok := m.conns[handle]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return !reg.closed
}

// send delivers a frame to handle's connection, serialised per-handle.
// Unknown or closed handles are a silent no-op, per §4.K.
func (m *Mux) send(handle string, frame Frame) {
	m.mu.RLock()
	reg, ok := m.conns[handle]
	m.mu.RUnlock()
	if !ok {
		return
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.closed {
		return
	}

	if !reg.limiter.Allow() {
		if m.log != nil {
			m.log.WithField("handle", handle).Warnf("frame dropped: rate limit exceeded")
		}
		return
	}

	data, err := json.Marshal(frame)
	if err != nil {
		if m.log != nil {
			m.log.WithError(err).Errorf("failed to marshal frame for %s", handle)
		}
		return
	}

	errCh := make(chan error, 1)
	go func() { errCh <- reg.conn.WriteFrame(data) }()

	select {
	case err := <-errCh:
		if err != nil {
			m.closeLocked(handle, reg)
		}
	case <-time.After(m.sendTimeout):
		if m.log != nil {
			m.log.WithField("handle", handle).Warnf("send buffer saturated past %s; closing connection", m.sendTimeout)
		}
		m.closeLocked(handle, reg)
	}
}

// closeLocked closes reg's connection and invalidates handle. Caller must
// hold reg.mu.
func (m *Mux) closeLocked(handle string, reg *registration) {
	reg.closed = true
	_ = reg.conn.Close()

	m.mu.Lock()
	if m.conns[handle] == reg {
		delete(m.conns, handle)
	}
	m.mu.Unlock()
}

// SendQueued delivers the "queued" frame.
func (m *Mux) SendQueued(handle, requestID string, position int) {
	m.send(handle, Frame{Kind: FrameQueued, Payload: map[string]interface{}{
		"request_id":     requestID,
		"queue_position": position,
	}})
}

// SendProcessing delivers the "processing" frame.
func (m *Mux) SendProcessing(handle, requestID string) {
	m.send(handle, Frame{Kind: FrameProcessing, Payload: map[string]interface{}{
		"request_id": requestID,
	}})
}

// SendDelta delivers a single token/tool-call delta.
func (m *Mux) SendDelta(handle string, delta Delta) {
	switch delta.Kind {
	case DeltaToolStart:
		m.send(handle, Frame{Kind: FrameToolStart, Payload: delta})
	case DeltaToolEnd:
		m.send(handle, Frame{Kind: FrameToolEnd, Payload: delta})
	default:
		m.send(handle, Frame{Kind: FrameToken, Payload: map[string]interface{}{"content": delta.Content}})
	}
}

// Usage is the terminal usage report carried by the "done" frame.
type Usage struct {
	MessageID      string        `json:"message_id"`
	TokensUsed     int           `json:"tokens_used"`
	GenerationTime time.Duration `json:"generation_time"`
	Model          string        `json:"model"`
	Artifacts      []gwtypes.ArtifactRef `json:"artifacts,omitempty"`
}

// SendDone delivers the terminal success frame. No error may follow (§8).
func (m *Mux) SendDone(handle string, usage Usage) {
	m.send(handle, Frame{Kind: FrameDone, Payload: usage})
}

// SendError delivers the terminal failure frame. No done may follow (§8).
func (m *Mux) SendError(handle string, reason error) {
	m.send(handle, Frame{Kind: FrameError, Payload: map[string]string{"error": reason.Error()}})
}

// SendHistory replies to a "history" incoming frame.
func (m *Mux) SendHistory(handle string, messages []gwtypes.Message) {
	m.send(handle, Frame{Kind: FrameHistory, Payload: map[string]interface{}{"messages": messages}})
}

// SendPong replies to a "ping" incoming frame.
func (m *Mux) SendPong(handle string) {
	m.send(handle, Frame{Kind: FramePong})
}

// SendSummarized notifies a user who has opted in that their conversation
// history was compacted before this turn, per the context builder's inline
// summarisation fallback.
func (m *Mux) SendSummarized(handle, conversationID string) {
	m.send(handle, Frame{Kind: FrameSummarized, Payload: map[string]interface{}{
		"conversation_id": conversationID,
	}})
}
