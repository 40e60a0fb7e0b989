package workerpool

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/modelgateway/inference-gateway/pkg/accountant"
	"github.com/modelgateway/inference-gateway/pkg/config"
	"github.com/modelgateway/inference-gateway/pkg/contextbuilder"
	"github.com/modelgateway/inference-gateway/pkg/crashtracker"
	"github.com/modelgateway/inference-gateway/pkg/engineadapter"
	"github.com/modelgateway/inference-gateway/pkg/gwtypes"
	"github.com/modelgateway/inference-gateway/pkg/orchestrator"
	"github.com/modelgateway/inference-gateway/pkg/preferences"
	"github.com/modelgateway/inference-gateway/pkg/queue"
	"github.com/modelgateway/inference-gateway/pkg/registry"
	"github.com/modelgateway/inference-gateway/pkg/router"
	"github.com/modelgateway/inference-gateway/pkg/streammux"
	"github.com/modelgateway/inference-gateway/pkg/vramprobe"
)

// recordingConn captures every frame written to it, in order, mirroring
// streammux's own test fake.
type recordingConn struct {
	mu     sync.Mutex
	frames [][]byte
}

func (c *recordingConn) WriteFrame(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, append([]byte(nil), data...))
	return nil
}

func (c *recordingConn) Close() error { return nil }

func (c *recordingConn) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.frames))
	for i, f := range c.frames {
		out[i] = string(f)
	}
	return out
}

// fakeUserStore is both an accountant.Store and a repository.UserRepository
// backed by an in-memory map, keyed by user id.
type fakeUserStore struct {
	mu    sync.Mutex
	users map[string]gwtypes.UserState
}

func newFakeUserStore(users ...gwtypes.UserState) *fakeUserStore {
	s := &fakeUserStore{users: make(map[string]gwtypes.UserState)}
	for _, u := range users {
		s.users[u.UserID] = u
	}
	return s
}

func (s *fakeUserStore) LoadUser(ctx context.Context, userID string) (gwtypes.UserState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return gwtypes.UserState{UserID: userID}, nil
	}
	return u, nil
}

func (s *fakeUserStore) SaveUser(ctx context.Context, user gwtypes.UserState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.UserID] = user
	return nil
}

func (s *fakeUserStore) ListUserIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	return ids, nil
}

// fakeConversations is a repository.ConversationRepository and
// contextbuilder.History that records persisted messages.
type fakeConversations struct {
	mu        sync.Mutex
	persisted []gwtypes.Message
}

func (c *fakeConversations) Persist(ctx context.Context, m gwtypes.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.persisted = append(c.persisted, m)
	return nil
}

func (c *fakeConversations) LoadRecent(ctx context.Context, conversationID string, limit int) ([]gwtypes.Message, error) {
	return nil, nil
}

func (c *fakeConversations) DeleteConversation(ctx context.Context, conversationID string) error {
	return nil
}

// scriptedAdapter streams a fixed delta/usage pair on Generate, or returns a
// fixed error. Load/Unload/ListLoaded/Cleanup are no-ops.
type scriptedAdapter struct {
	genErr error
}

func (a *scriptedAdapter) Name() string { return "scripted" }

func (a *scriptedAdapter) Generate(ctx context.Context, model string, params engineadapter.GenerateParams) (<-chan engineadapter.StreamItem, error) {
	out := make(chan engineadapter.StreamItem, 4)
	if a.genErr != nil {
		out <- engineadapter.StreamItem{Err: a.genErr}
		close(out)
		return out, nil
	}
	out <- engineadapter.StreamItem{Delta: &streammux.Delta{Kind: streammux.DeltaText, Content: "hi"}}
	out <- engineadapter.StreamItem{Usage: &engineadapter.Usage{InputTokens: 3, OutputTokens: 2}}
	close(out)
	return out, nil
}

func (a *scriptedAdapter) Load(ctx context.Context, model string, params engineadapter.LoadParams) error {
	return nil
}
func (a *scriptedAdapter) Unload(ctx context.Context, model string) error { return nil }
func (a *scriptedAdapter) ListLoaded(ctx context.Context) (map[string]struct{}, error) {
	return nil, nil
}
func (a *scriptedAdapter) Cleanup(ctx context.Context) error { return nil }

const poolTestProfileYAML = `
name: test
router_model: router-model
models:
  - name: router-model
    backend: openai-compatible
    vram_gb: 1
    priority: NORMAL
  - name: big-model
    backend: openai-compatible
    vram_gb: 2
    priority: NORMAL
`

func loadTestProfile(t *testing.T) *config.Profile {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(poolTestProfileYAML), 0o600))
	prof, err := config.LoadProfile(path)
	require.NoError(t, err)
	return prof
}

// newTestPool wires a Pool whose only swappable behavior is the engine
// adapter's Generate outcome, against a two-model profile and a 40/48GB
// VRAM budget comfortably large enough that load never evicts.
func newTestPool(t *testing.T, adapter engineadapter.Adapter, users *fakeUserStore, convos *fakeConversations) (*Pool, *queue.Queue, *streammux.Mux) {
	t.Helper()

	prof := loadTestProfile(t)
	adapters := map[gwtypes.BackendKind]engineadapter.Adapter{
		gwtypes.BackendOpenAICompatible: adapter,
	}
	probe := &vramprobe.Fake{Reading: vramprobe.Reading{UsedGB: 0, TotalGB: 48}}
	orc := orchestrator.New(nil, prof, registry.New(), crashtracker.New(nil, nil), probe, adapters, 40, 44)

	q := queue.New(8)
	mux := streammux.New(nil)
	builder := contextbuilder.New(nil, convos, nil, 1_000_000)
	rtr := router.New(nil, prof.RouterModel, nil, prof)
	acct := accountant.New(nil, users, accountant.WithDefaultWeeklyBudget(1000))

	deps := Dependencies{
		Queue:          q,
		Mux:            mux,
		ContextBuilder: builder,
		Router:         rtr,
		Orchestrator:   orc,
		Profile:        prof,
		Adapters:       adapters,
		Accountant:     acct,
		Users:          users,
		Conversations:  convos,
		Defaults:       preferences.Defaults{Temperature: 0.7},
	}
	return New(nil, deps, 1), q, mux
}

func newTestRequest(model string) *gwtypes.Request {
	return &gwtypes.Request{
		ID:                   "req-1",
		ClientHandle:         "h1",
		ConversationID:       "c1",
		UserID:               "u1",
		Text:                 "hello",
		RequestedModel:       model,
		ClassificationHint:   "has_image", // bypasses the router's adapter call
		EstimatedInputTokens: 3,
	}
}

func TestProcessHappyPathStreamsDeltaAndDone(t *testing.T) {
	users := newFakeUserStore(gwtypes.UserState{UserID: "u1", WeeklyTokenBudget: 1000})
	convos := &fakeConversations{}
	pool, _, mux := newTestPool(t, &scriptedAdapter{}, users, convos)

	conn := &recordingConn{}
	mux.Register("h1", conn)

	req := newTestRequest("big-model")
	pool.process(context.Background(), req)

	frames := conn.snapshot()
	require.Len(t, frames, 2)
	require.Contains(t, frames[0], `"token"`)
	require.Contains(t, frames[1], `"done"`)

	require.Len(t, convos.persisted, 1)
	require.Equal(t, "hi", convos.persisted[0].Content)
	require.Equal(t, 3, convos.persisted[0].InputTokens)
	require.Equal(t, 2, convos.persisted[0].OutputTokens)

	saved, err := users.LoadUser(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, int64(5), saved.ConsumedThisWeek)
}

func TestProcessFailsWhenBudgetExceeded(t *testing.T) {
	users := newFakeUserStore(gwtypes.UserState{UserID: "u1", WeeklyTokenBudget: 1, ConsumedThisWeek: 1})
	convos := &fakeConversations{}
	pool, _, mux := newTestPool(t, &scriptedAdapter{}, users, convos)

	conn := &recordingConn{}
	mux.Register("h1", conn)

	req := newTestRequest("big-model")
	pool.process(context.Background(), req)

	frames := conn.snapshot()
	require.Len(t, frames, 1)
	require.Contains(t, frames[0], `"error"`)
	require.Empty(t, convos.persisted)
}

func TestProcessRequeuesOnEngineCrash(t *testing.T) {
	users := newFakeUserStore(gwtypes.UserState{UserID: "u1", WeeklyTokenBudget: 1000})
	convos := &fakeConversations{}
	adapter := &scriptedAdapter{genErr: &gwtypes.EngineError{Kind: gwtypes.EngineErrorUnreachable, Err: gwtypes.ErrEngineUnreachable}}
	pool, q, mux := newTestPool(t, adapter, users, convos)

	conn := &recordingConn{}
	mux.Register("h1", conn)

	// Drive process against a request the queue actually tracks as
	// in-flight, so RequeueForRetry has an entry to act on.
	_, enqueueErr := q.Enqueue(newTestRequest("big-model"))
	require.NoError(t, enqueueErr)
	inFlight, derr := q.Dequeue(context.Background())
	require.NoError(t, derr)

	pool.process(context.Background(), inFlight)

	require.Equal(t, 1, q.Size(), "failed generation should be requeued for retry, not dropped")
	require.Empty(t, conn.snapshot(), "a retried request emits no terminal frame")
}

// stubSummarizer always succeeds, forcing contextbuilder.Load's
// summarisation path so TestProcessNotifiesOptedInUserOnSummarization can
// exercise the worker pool's notification wiring.
type stubSummarizer struct{}

func (stubSummarizer) Summarize(ctx context.Context, messages []gwtypes.Message) (string, error) {
	return "summary", nil
}

func TestProcessNotifiesOptedInUserOnSummarization(t *testing.T) {
	users := newFakeUserStore(gwtypes.UserState{UserID: "u1", WeeklyTokenBudget: 1000, SummarizationOptIn: true})
	convos := &fakeConversations{}
	history := &longHistory{}
	pool, _, mux := newTestPool(t, &scriptedAdapter{}, users, convos)
	// Swap in a builder whose history and summarizer force summarisation.
	pool.deps.ContextBuilder = contextbuilder.New(nil, history, stubSummarizer{}, 10, contextbuilder.WithVerbatimTail(2))

	conn := &recordingConn{}
	mux.Register("h1", conn)

	req := newTestRequest("big-model")
	pool.process(context.Background(), req)

	frames := conn.snapshot()
	require.Contains(t, frames[0], `"summarized"`)
}

// longHistory returns enough long messages to cross a small token threshold,
// forcing the context builder's summarisation path.
type longHistory struct{}

func (longHistory) LoadRecent(ctx context.Context, conversationID string, limit int) ([]gwtypes.Message, error) {
	messages := make([]gwtypes.Message, 0, 20)
	for i := 0; i < 20; i++ {
		messages = append(messages, gwtypes.Message{Role: gwtypes.RoleUser, Content: "xxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxx"})
	}
	return messages, nil
}

func TestProcessFailsTerminallyOnNonCrashEngineError(t *testing.T) {
	users := newFakeUserStore(gwtypes.UserState{UserID: "u1", WeeklyTokenBudget: 1000})
	convos := &fakeConversations{}
	adapter := &scriptedAdapter{genErr: &gwtypes.EngineError{Kind: gwtypes.EngineErrorHTTP, StatusCode: 400, Err: errors.New("bad request")}}
	pool, q, mux := newTestPool(t, adapter, users, convos)

	conn := &recordingConn{}
	mux.Register("h1", conn)

	_, enqueueErr := q.Enqueue(newTestRequest("big-model"))
	require.NoError(t, enqueueErr)
	inFlight, derr := q.Dequeue(context.Background())
	require.NoError(t, derr)

	pool.process(context.Background(), inFlight)

	require.Equal(t, 0, q.Size(), "a 4xx engine error must not be requeued")
	frames := conn.snapshot()
	require.Len(t, frames, 1)
	require.Contains(t, frames[0], `"error"`)
}
