// Package gateway wires every control-plane component into a single
// runnable process: the admission queue, stream multiplexer, model
// registry, crash tracker, VRAM probe, orchestrator, router, preference
// resolver, context builder, token accountant, repository, worker pool,
// metrics, and the two HTTP surfaces. Run mirrors the teacher's
// Scheduler.Run errgroup supervision pattern.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/modelgateway/inference-gateway/pkg/accountant"
	"github.com/modelgateway/inference-gateway/pkg/config"
	"github.com/modelgateway/inference-gateway/pkg/contextbuilder"
	"github.com/modelgateway/inference-gateway/pkg/crashtracker"
	"github.com/modelgateway/inference-gateway/pkg/engineadapter"
	"github.com/modelgateway/inference-gateway/pkg/gwtypes"
	"github.com/modelgateway/inference-gateway/pkg/httpapi"
	"github.com/modelgateway/inference-gateway/pkg/logging"
	"github.com/modelgateway/inference-gateway/pkg/metrics"
	"github.com/modelgateway/inference-gateway/pkg/orchestrator"
	"github.com/modelgateway/inference-gateway/pkg/preferences"
	"github.com/modelgateway/inference-gateway/pkg/queue"
	"github.com/modelgateway/inference-gateway/pkg/registry"
	"github.com/modelgateway/inference-gateway/pkg/repository"
	"github.com/modelgateway/inference-gateway/pkg/router"
	"github.com/modelgateway/inference-gateway/pkg/streammux"
	"github.com/modelgateway/inference-gateway/pkg/vramprobe"
	"github.com/modelgateway/inference-gateway/pkg/workerpool"
)

// crashCounter bumps the crashes_total counter on every threshold crossing,
// implementing crashtracker.Observer alongside the orchestrator.
type crashCounter struct {
	counter *prometheus.CounterVec
}

func (c *crashCounter) OnCrashThresholdCrossed(evt crashtracker.Event) {
	c.counter.WithLabelValues(evt.Model).Inc()
}

// Summarizer adapts an engine adapter into contextbuilder.Summarizer by
// issuing a fixed summarisation prompt against a designated small model,
// per SPEC_FULL.md's supplemented Summarisation client.
type Summarizer struct {
	model   string
	adapter engineadapter.Adapter
}

// Summarize implements contextbuilder.Summarizer.
func (s *Summarizer) Summarize(ctx context.Context, messages []gwtypes.Message) (string, error) {
	var transcript string
	for _, m := range messages {
		transcript += string(m.Role) + ": " + m.Content + "\n"
	}

	stream, err := s.adapter.Generate(ctx, s.model, engineadapter.GenerateParams{
		Messages: []engineadapter.ChatMessage{
			{Role: "user", Content: "Summarise the following conversation in a few sentences, preserving facts a future turn may need:\n\n" + transcript},
		},
	})
	if err != nil {
		return "", err
	}

	var summary string
	for item := range stream {
		if item.Err != nil {
			return "", item.Err
		}
		if item.Delta != nil {
			summary += item.Delta.Content
		}
	}
	return summary, nil
}

// Gateway bundles every wired component and supervises their lifetimes.
type Gateway struct {
	log  logging.Logger
	cfg  *config.Config
	prof *config.Profile

	queue         *queue.Queue
	mux           *streammux.Mux
	orchestrator  *orchestrator.Orchestrator
	monitor       *queue.Monitor
	pool          *workerpool.Pool
	accountant    *accountant.Accountant
	metricsStore  *metrics.Store
	sampler       *metrics.Sampler
	promMetrics   *metrics.PromMetrics
	conversations repository.ConversationRepository
	users         repository.UserRepository

	internalHandler *httpapi.InternalHandler
	chatHandler     *httpapi.ChatHandler
	promRegistry    *prometheus.Registry

	redisClient *redis.Client
}

// New wires every component described in SPEC_FULL.md from cfg and prof.
func New(log logging.Logger, cfg *config.Config, prof *config.Profile) (*Gateway, error) {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	repo := repository.NewRedisRepo(redisClient)

	promReg := prometheus.NewRegistry()
	promMetrics := metrics.NewPromMetrics(promReg)

	adapters := make(map[gwtypes.BackendKind]engineadapter.Adapter)
	httpClient := &http.Client{Timeout: 120 * time.Second}
	for _, d := range prof.Models {
		if _, ok := adapters[d.Backend]; ok {
			continue
		}
		switch d.Backend {
		case gwtypes.BackendOpenAICompatible:
			adapters[d.Backend] = engineadapter.NewOpenAICompatible(log, d.Endpoint, "", httpClient)
		case gwtypes.BackendLocalNative:
			adapters[d.Backend] = engineadapter.NewLocalNative(log, d.Endpoint, httpClient)
		case gwtypes.BackendMonolithic:
			adapters[d.Backend] = engineadapter.NewMonolithic(log, d.Endpoint, d.Name, httpClient)
		}
	}

	crashes := crashtracker.New(log, nil,
		crashtracker.WithFailureThreshold(cfg.CrashTracker.FailureThreshold),
		crashtracker.WithWindow(time.Duration(cfg.CrashTracker.WindowSeconds)*time.Second))

	modelRegistry := registry.New()
	probe := vramprobe.New()
	orc := orchestrator.New(log, prof, modelRegistry, crashes, probe, adapters,
		cfg.Orchestrator.SoftLimitGB, cfg.Orchestrator.HardLimitGB,
		orchestrator.WithSafetyMargin(cfg.Orchestrator.SafetyMarginGB),
		orchestrator.WithLargeModelThreshold(cfg.Orchestrator.LargeModelThresholdGB),
		orchestrator.WithAlternateResolver(prof),
		orchestrator.WithReconcileDriftCounter(promMetrics.ReconcileDriftTotal))
	crashes.AddObserver(orc)
	crashes.AddObserver(&crashCounter{counter: promMetrics.CrashesTotal})

	routerAdapter, ok := adapters[resolveBackend(prof, prof.RouterModel)]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for router model %q", prof.RouterModel)
	}
	rtr := router.New(log, prof.RouterModel, routerAdapter, prof)

	summaryAdapter, ok := adapters[resolveBackend(prof, prof.RouterModel)]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for summarisation model %q", prof.RouterModel)
	}
	summarizer := &Summarizer{model: prof.RouterModel, adapter: summaryAdapter}

	builder := contextbuilder.New(log, repo, summarizer, cfg.Accountant.SummarisationTokenThreshold)

	act := accountant.New(log, repo, accountant.WithDefaultWeeklyBudget(cfg.Accountant.DefaultWeeklyTokenBudget))
	if err := act.StartWeeklySweep(repo.ListUserIDs); err != nil {
		return nil, fmt.Errorf("start weekly sweep: %w", err)
	}

	q := queue.New(cfg.Queue.Capacity,
		queue.WithMaxRetries(cfg.Queue.MaxRetries),
		queue.WithLowTierWatermark(cfg.Queue.LowTierWatermark))
	mux := streammux.New(log)

	monitor := queue.NewMonitor(log, q, nil, crashes, time.Duration(cfg.Visibility.CheckIntervalSeconds)*time.Second)

	pool := workerpool.New(log, workerpool.Dependencies{
		Queue:          q,
		Mux:            mux,
		ContextBuilder: builder,
		Router:         rtr,
		Orchestrator:   orc,
		Profile:        prof,
		Adapters:       adapters,
		Accountant:     act,
		Users:          repo,
		Conversations:  repo,
		Defaults:       preferences.Defaults{Temperature: 0.7, Thinking: false},
	}, cfg.Worker.Count)

	metricsStore := metrics.NewStore()
	sampler := metrics.NewSampler(metricsStore, map[string]func() float64{
		"queue_depth": func() float64 {
			depth := float64(q.Size())
			promMetrics.QueueDepth.Set(depth)
			return depth
		},
		"vram_used_gb": func() float64 {
			status, err := orc.GetStatus(context.Background())
			if err != nil {
				return 0
			}
			promMetrics.VRAMUsedGB.Set(status.Probe.UsedGB)
			promMetrics.LoadedModels.Set(float64(len(status.Models)))
			return status.Probe.UsedGB
		},
	})

	internalHandler := httpapi.NewInternalHandler(log, orc, prof, q, cfg.Security.InternalAPIKey)
	chatHandler := httpapi.NewChatHandler(log, q, mux, repo)

	return &Gateway{
		log:             log,
		cfg:             cfg,
		prof:            prof,
		queue:           q,
		mux:             mux,
		orchestrator:    orc,
		monitor:         monitor,
		pool:            pool,
		accountant:      act,
		metricsStore:    metricsStore,
		sampler:         sampler,
		promMetrics:     promMetrics,
		conversations:   repo,
		users:           repo,
		internalHandler: internalHandler,
		chatHandler:     chatHandler,
		promRegistry:    promReg,
		redisClient:     redisClient,
	}, nil
}

func resolveBackend(prof *config.Profile, model string) gwtypes.BackendKind {
	if d, ok := prof.Resolve(model); ok {
		return d.Backend
	}
	return gwtypes.BackendOpenAICompatible
}

// httpServer returns the combined external mux: the chat WebSocket
// endpoint, the internal admin API, and the Prometheus scrape endpoint.
func (g *Gateway) httpServer() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/ws/chat", g.chatHandler)
	mux.Handle("/internal/vram/", g.internalHandler)
	mux.Handle("/internal/queue/", g.internalHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(g.promRegistry, promhttp.HandlerOpts{}))

	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", g.cfg.Server.Host, g.cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Run starts every background component and the HTTP listener, blocking
// until ctx is cancelled or a component fails. On cancellation the workers
// stop dequeuing, the queue is shut down, and the HTTP server gets up to 15
// seconds to close; requests still waiting in the queue are not processed.
func (g *Gateway) Run(ctx context.Context) error {
	defer g.redisClient.Close()
	defer g.accountant.Stop()

	srv := g.httpServer()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return g.pool.Run(groupCtx)
	})
	group.Go(func() error {
		g.monitor.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		return g.orchestrator.RunReconciler(groupCtx, time.Duration(g.cfg.Orchestrator.ReconcileInterval)*time.Second)
	})
	group.Go(func() error {
		return g.sampler.Run(groupCtx)
	})
	group.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		g.queue.Shutdown()
		return srv.Shutdown(shutdownCtx)
	})

	return group.Wait()
}
