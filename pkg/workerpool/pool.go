// Package workerpool implements the Worker Pool (spec §4.J): a fixed-size
// set of workers that each dequeue a request, run it through
// classification, preference resolution, admission, generation, and
// persistence, and handle crashes and client disconnects along the way.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelgateway/inference-gateway/pkg/accountant"
	"github.com/modelgateway/inference-gateway/pkg/contextbuilder"
	"github.com/modelgateway/inference-gateway/pkg/engineadapter"
	"github.com/modelgateway/inference-gateway/pkg/gwtypes"
	"github.com/modelgateway/inference-gateway/pkg/logging"
	"github.com/modelgateway/inference-gateway/pkg/orchestrator"
	"github.com/modelgateway/inference-gateway/pkg/preferences"
	"github.com/modelgateway/inference-gateway/pkg/queue"
	"github.com/modelgateway/inference-gateway/pkg/repository"
	"github.com/modelgateway/inference-gateway/pkg/router"
	"github.com/modelgateway/inference-gateway/pkg/streammux"
	"golang.org/x/sync/errgroup"
)

// DefaultTextDeadline and DefaultImageDeadline bound a single request's
// total processing time, per §5's per-request deadline policy.
const (
	DefaultTextDeadline  = 300 * time.Second
	DefaultImageDeadline = 900 * time.Second
)

// Dependencies bundles everything a worker needs. Supplying these as a
// struct keeps New's signature stable as the pool's needs grow.
type Dependencies struct {
	Queue          *queue.Queue
	Mux            *streammux.Mux
	ContextBuilder *contextbuilder.Builder
	Router         *router.Router
	Orchestrator   *orchestrator.Orchestrator
	Profile        orchestrator.ProfileResolver
	Adapters       map[gwtypes.BackendKind]engineadapter.Adapter
	Accountant     *accountant.Accountant
	Users          repository.UserRepository
	Conversations  repository.ConversationRepository
	Defaults       preferences.Defaults
}

// Pool runs WorkerCount goroutines against the shared queue.
type Pool struct {
	log        logging.Logger
	deps       Dependencies
	workerCount int
}

// New creates a Pool with workerCount workers.
func New(log logging.Logger, deps Dependencies, workerCount int) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Pool{log: log, deps: deps, workerCount: workerCount}
}

// Run starts workerCount workers and blocks until ctx is cancelled or a
// worker returns a non-shutdown error, mirroring the teacher's
// errgroup.WithContext supervision pattern.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workerCount; i++ {
		workerID := i
		g.Go(func() error {
			return p.runWorker(ctx, workerID)
		})
	}
	return g.Wait()
}

func (p *Pool) runWorker(ctx context.Context, workerID int) error {
	for {
		req, err := p.deps.Queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, gwtypes.ErrShuttingDown) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		p.deps.Mux.SendQueued(req.ClientHandle, req.ID, p.deps.Queue.Position(req.ID))
		p.deps.Mux.SendProcessing(req.ClientHandle, req.ID)
		p.process(ctx, req)
	}
}

func (p *Pool) deadlineFor(route gwtypes.RouteKind) time.Duration {
	if route.IsImageRoute() {
		return DefaultImageDeadline
	}
	return DefaultTextDeadline
}

func (p *Pool) process(parentCtx context.Context, req *gwtypes.Request) {
	user, err := p.deps.Users.LoadUser(parentCtx, req.UserID)
	if err != nil {
		p.fail(req, fmt.Errorf("%w: load user: %v", gwtypes.ErrPersistenceFailure, err))
		return
	}

	if err := p.deps.Accountant.Check(parentCtx, req.UserID, int64(req.EstimatedInputTokens)); err != nil {
		p.fail(req, err)
		return
	}

	ctxResult, err := p.deps.ContextBuilder.Load(parentCtx, *req, user.SummarizationOptIn)
	if err != nil {
		p.fail(req, fmt.Errorf("%w: context load: %v", gwtypes.ErrPersistenceFailure, err))
		return
	}
	if ctxResult.Summarized && ctxResult.NotifyOptedIn {
		p.deps.Mux.SendSummarized(req.ClientHandle, req.ConversationID)
	}

	route, err := p.deps.Router.Classify(parentCtx, *req)
	if err != nil {
		p.fail(req, err)
		return
	}

	resolved := preferences.Resolve(*req, user, route, p.deps.Defaults)

	ctx, cancel := context.WithTimeout(parentCtx, p.deadlineFor(route.Route))
	defer cancel()

	loadParams := orchestrator.LoadParams{Temperature: &resolved.Temperature}
	if err := p.deps.Orchestrator.RequestLoad(ctx, resolved.Model, loadParams); err != nil {
		p.fail(req, err)
		return
	}
	p.deps.Orchestrator.MarkAccessed(resolved.Model)

	descriptor, ok := p.deps.Profile.Resolve(resolved.Model)
	if !ok {
		p.fail(req, fmt.Errorf("%w: %s", gwtypes.ErrUnknownModel, resolved.Model))
		return
	}
	adapter, ok := p.deps.Adapters[descriptor.Backend]
	if !ok {
		p.fail(req, fmt.Errorf("no adapter registered for backend %q", descriptor.Backend))
		return
	}

	stream, err := adapter.Generate(ctx, resolved.Model, engineadapter.GenerateParams{
		Messages:      ctxResult.Messages,
		Temperature:   resolved.Temperature,
		Thinking:      resolved.Thinking,
		ToolAllowList: resolved.ToolAllowList,
	})
	if err != nil {
		p.handleGenerateFailure(req, resolved.Model, err)
		return
	}

	p.consume(ctx, req, resolved.Model, user, stream)
}

// consume drains stream, forwarding deltas to the multiplexer, persisting
// the assistant turn on success, and handling engine crashes and client
// disconnects.
func (p *Pool) consume(ctx context.Context, req *gwtypes.Request, model string, user gwtypes.UserState, stream <-chan engineadapter.StreamItem) {
	var response string
	start := time.Now()

	for item := range stream {
		if !p.deps.Mux.IsConnected(req.ClientHandle) {
			// Client went away: tear down the stream, mark accessed (not
			// crashed), and move on — no retry, per §4.J's cancellation
			// handling.
			p.deps.Orchestrator.MarkAccessed(model)
			p.deps.Queue.Ack(req.ID)
			return
		}

		if item.Err != nil {
			p.handleGenerateFailure(req, model, item.Err)
			return
		}

		if item.Delta != nil {
			response += item.Delta.Content
			p.deps.Mux.SendDelta(req.ClientHandle, *item.Delta)
		}

		if item.Usage != nil {
			p.finish(ctx, req, model, user, response, *item.Usage, start)
			return
		}
	}
}

func (p *Pool) finish(ctx context.Context, req *gwtypes.Request, model string, user gwtypes.UserState, response string, usage engineadapter.Usage, start time.Time) {
	if err := p.deps.Accountant.Add(ctx, req.UserID, int64(usage.InputTokens+usage.OutputTokens)); err != nil && p.log != nil {
		p.log.WithError(err).Warnf("accountant.add failed for user %s", req.UserID)
	}

	if p.deps.Conversations != nil {
		message := gwtypes.Message{
			ConversationID: req.ConversationID,
			MessageID:      req.ID,
			Role:           gwtypes.RoleAssistant,
			Content:        response,
			InputTokens:    usage.InputTokens,
			OutputTokens:   usage.OutputTokens,
			Model:          model,
			GenerationTime: usage.GenerationTime,
		}
		if err := p.deps.Conversations.Persist(ctx, message); err != nil && p.log != nil {
			p.log.WithError(err).Warnf("%s: persist failed for conversation %s", gwtypes.ErrPersistenceFailure, req.ConversationID)
		}
	}

	p.deps.Queue.Ack(req.ID)
	p.deps.Mux.SendDone(req.ClientHandle, streammux.Usage{
		MessageID:      req.ID,
		TokensUsed:     usage.InputTokens + usage.OutputTokens,
		GenerationTime: time.Since(start),
		Model:          model,
	})
}

// handleGenerateFailure implements the worker pool's crash catch path. A
// crash (engine unreachable, timeout, protocol break, or 5xx) marks the
// model unloaded and is requeued while the queue's retry cap allows (two
// retries by default); a non-crash error (4xx: bad request,
// content policy, model-not-found) is final per §7's policy table and is
// never requeued.
func (p *Pool) handleGenerateFailure(req *gwtypes.Request, model string, err error) {
	log := p.log
	if log != nil {
		log = log.WithRequest(req.ID, req.UserID)
	}

	var engErr *gwtypes.EngineError
	isCrash := errors.As(err, &engErr) && engErr.IsCrash()
	if log != nil && engErr != nil {
		log = log.WithEngineError(engErr)
	}

	if !isCrash {
		if log != nil {
			log.Warnf("generation failed terminally (non-crash): %v", err)
		}
		p.fail(req, err)
		return
	}

	p.deps.Orchestrator.MarkUnloaded(model, true, err.Error())

	if p.deps.Queue.RequeueForRetry(req.ID) {
		if log != nil {
			log.Warnf("generation failed, requeued: %v", err)
		}
		return
	}
	p.fail(req, err)
}

// fail marks req terminally failed and emits the error frame.
func (p *Pool) fail(req *gwtypes.Request, err error) {
	p.deps.Queue.MarkFailed(req.ID, err)
	p.deps.Mux.SendError(req.ClientHandle, err)
}
