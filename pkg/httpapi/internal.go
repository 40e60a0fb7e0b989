// Package httpapi implements the gateway's two external surfaces: the
// internal VRAM admin API (spec §6) and the chat WebSocket ingress. Both
// wrap their respective core components without coupling scheduling logic
// to HTTP concerns, mirroring the teacher's HTTPHandler pattern.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/modelgateway/inference-gateway/pkg/config"
	"github.com/modelgateway/inference-gateway/pkg/gwtypes"
	"github.com/modelgateway/inference-gateway/pkg/logging"
	"github.com/modelgateway/inference-gateway/pkg/orchestrator"
	"github.com/modelgateway/inference-gateway/pkg/queue"
)

// InternalHandler serves the /internal/vram/* and /internal/queue/* admin
// surfaces, gated by a shared API key header.
type InternalHandler struct {
	log          logging.Logger
	orchestrator *orchestrator.Orchestrator
	profile      *config.Profile
	queue        *queue.Queue
	apiKey       string
	router       *http.ServeMux
}

// NewInternalHandler builds the admin HTTP handler.
func NewInternalHandler(log logging.Logger, o *orchestrator.Orchestrator, profile *config.Profile, q *queue.Queue, apiKey string) *InternalHandler {
	h := &InternalHandler{log: log, orchestrator: o, profile: profile, queue: q, apiKey: apiKey, router: http.NewServeMux()}

	h.router.HandleFunc("GET /internal/vram/status", h.withAuth(h.handleStatus))
	h.router.HandleFunc("GET /internal/vram/models", h.withAuth(h.handleModels))
	h.router.HandleFunc("POST /internal/vram/load", h.withAuth(h.handleLoad))
	h.router.HandleFunc("POST /internal/vram/unload", h.withAuth(h.handleUnload))
	h.router.HandleFunc("POST /internal/vram/evict", h.withAuth(h.handleEvict))
	h.router.HandleFunc("GET /internal/vram/available-models", h.withAuth(h.handleAvailableModels))
	h.router.HandleFunc("GET /internal/queue/stats", h.withAuth(h.handleQueueStats))
	h.router.HandleFunc("POST /internal/queue/purge", h.withAuth(h.handleQueuePurge))

	return h
}

// ServeHTTP implements http.Handler.
func (h *InternalHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *InternalHandler) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.apiKey == "" || r.Header.Get("X-Internal-API-Key") != h.apiKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type memoryStatus struct {
	TotalGB     float64      `json:"total_gb"`
	UsedGB      float64      `json:"used_gb"`
	AvailableGB float64      `json:"available_gb"`
	UsagePct    float64      `json:"usage_pct"`
	PSI         psiStatus    `json:"psi"`
}

type psiStatus struct {
	CPU    float64 `json:"cpu"`
	Memory float64 `json:"memory"`
	IO     float64 `json:"io"`
}

type loadedModel struct {
	ModelID      string    `json:"model_id"`
	Backend      string    `json:"backend"`
	VRAMSizeGB   float64   `json:"vram_size_gb"`
	Priority     string    `json:"priority"`
	LastAccessed time.Time `json:"last_accessed"`
	IsExternal   bool      `json:"is_external"`
}

type statusResponse struct {
	Memory       memoryStatus  `json:"memory"`
	LoadedModels []loadedModel `json:"loaded_models"`
	Healthy      bool          `json:"healthy"`
}

func (h *InternalHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.orchestrator.GetStatus(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	models := make([]loadedModel, 0, len(status.Models))
	for _, e := range status.Models {
		models = append(models, loadedModel{
			ModelID:      e.Name,
			Backend:      string(e.Descriptor.Backend),
			VRAMSizeGB:   e.Descriptor.VRAMGB,
			Priority:     e.Descriptor.Priority.String(),
			LastAccessed: e.LastAccessed,
			IsExternal:   e.Descriptor.IsExternal,
		})
	}

	resp := statusResponse{
		Memory: memoryStatus{
			TotalGB:     status.Probe.TotalGB,
			UsedGB:      status.Probe.UsedGB,
			AvailableGB: status.Probe.AvailableGB,
			UsagePct:    status.Probe.UsagePct,
			PSI: psiStatus{
				CPU:    status.Probe.PSI.CPU,
				Memory: status.Probe.PSI.Memory,
				IO:     status.Probe.PSI.IO,
			},
		},
		LoadedModels: models,
		Healthy:      status.Probe.UsagePct < 95,
	}
	writeJSON(w, http.StatusOK, resp)
}

type modelsResponse struct {
	Models []loadedModel `json:"models"`
}

func (h *InternalHandler) handleModels(w http.ResponseWriter, r *http.Request) {
	status, err := h.orchestrator.GetStatus(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	models := make([]loadedModel, 0, len(status.Models))
	for _, e := range status.Models {
		models = append(models, loadedModel{
			ModelID:      e.Name,
			Backend:      string(e.Descriptor.Backend),
			VRAMSizeGB:   e.Descriptor.VRAMGB,
			Priority:     e.Descriptor.Priority.String(),
			LastAccessed: e.LastAccessed,
			IsExternal:   e.Descriptor.IsExternal,
		})
	}
	writeJSON(w, http.StatusOK, modelsResponse{Models: models})
}

type loadRequest struct {
	ModelID        string   `json:"model_id"`
	Temperature    *float64 `json:"temperature,omitempty"`
	AdditionalArgs []string `json:"additional_args,omitempty"`
	// RawAdditionalArgs is a convenience alternative to AdditionalArgs for
	// callers that have a single shell-quoted flag string rather than an
	// already-tokenized array, mirroring the teacher's RawRuntimeFlags.
	RawAdditionalArgs string `json:"raw_additional_args,omitempty"`
}

type loadResponse struct {
	Status  string `json:"status"`
	ModelID string `json:"model_id"`
	Message string `json:"message,omitempty"`
}

func (h *InternalHandler) handleLoad(w http.ResponseWriter, r *http.Request) {
	var req loadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ModelID == "" {
		writeJSON(w, http.StatusBadRequest, loadResponse{Status: "error", Message: "model_id is required"})
		return
	}

	if len(req.AdditionalArgs) == 0 && req.RawAdditionalArgs != "" {
		parsed, perr := shellwords.Parse(req.RawAdditionalArgs)
		if perr != nil {
			writeJSON(w, http.StatusBadRequest, loadResponse{Status: "error", Message: fmt.Sprintf("invalid raw_additional_args: %v", perr)})
			return
		}
		req.AdditionalArgs = parsed
	}

	err := h.orchestrator.RequestLoad(r.Context(), req.ModelID, orchestrator.LoadParams{
		Temperature:    req.Temperature,
		AdditionalArgs: req.AdditionalArgs,
	})
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, gwtypes.ErrUnknownModel):
			status = http.StatusBadRequest
		case errors.Is(err, gwtypes.ErrInsufficientVRAM):
			status = http.StatusConflict
		case errors.Is(err, gwtypes.ErrCircuitOpen):
			status = http.StatusConflict
		}
		writeJSON(w, status, loadResponse{Status: "error", ModelID: req.ModelID, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, loadResponse{Status: "loaded", ModelID: req.ModelID})
}

type unloadRequest struct {
	ModelID string `json:"model_id"`
	Crashed bool   `json:"crashed,omitempty"`
}

type unloadResponse struct {
	Status string `json:"status"`
}

func (h *InternalHandler) handleUnload(w http.ResponseWriter, r *http.Request) {
	var req unloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ModelID == "" {
		writeJSON(w, http.StatusBadRequest, unloadResponse{Status: "error"})
		return
	}
	h.orchestrator.MarkUnloaded(req.ModelID, req.Crashed, "admin-requested unload")
	writeJSON(w, http.StatusOK, unloadResponse{Status: "unloaded"})
}

type evictRequest struct {
	Priority string `json:"priority"`
}

type evictResponse struct {
	Evicted bool   `json:"evicted"`
	ModelID string `json:"model_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func (h *InternalHandler) handleEvict(w http.ResponseWriter, r *http.Request) {
	var req evictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Priority == "" {
		writeJSON(w, http.StatusBadRequest, evictResponse{Evicted: false, Reason: "priority is required"})
		return
	}
	priority := gwtypes.ParsePriority(req.Priority)

	status, err := h.orchestrator.GetStatus(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, evictResponse{Evicted: false, Reason: err.Error()})
		return
	}

	// Mirrors RequestLoad's own eviction candidate search (registry.LRUByPriority):
	// least-recently-accessed entry with strictly lower priority.
	var victim string
	var victimLastAccessed time.Time
	for _, e := range status.Models {
		if e.Descriptor.Priority >= priority {
			continue
		}
		if victim == "" || e.LastAccessed.Before(victimLastAccessed) {
			victim = e.Name
			victimLastAccessed = e.LastAccessed
		}
	}
	if victim == "" {
		writeJSON(w, http.StatusOK, evictResponse{Evicted: false, Reason: "no strictly-lower-priority model resident"})
		return
	}

	if err := h.orchestrator.Evict(r.Context(), victim, "admin-requested evict"); err != nil {
		writeJSON(w, http.StatusInternalServerError, evictResponse{Evicted: false, Reason: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, evictResponse{Evicted: true, ModelID: victim})
}

type availableModel struct {
	ModelID      string   `json:"model_id"`
	Backend      string   `json:"backend"`
	VRAMSizeGB   float64  `json:"vram_size_gb"`
	Priority     string   `json:"priority"`
	IsExternal   bool     `json:"is_external"`
	Capabilities gwtypes.Capabilities `json:"capabilities"`
}

type availableModelsResponse struct {
	Models []availableModel `json:"models"`
}

type queueStatsResponse struct {
	Depth      int `json:"depth"`
	InFlight   int `json:"in_flight"`
	Capacity   int `json:"capacity"`
	MaxRetries int `json:"max_retries"`
}

// handleQueueStats reports the admission queue's current shape, grounded on
// the original fastapi-service's GET /queue/stats.
func (h *InternalHandler) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats := h.queue.Stats()
	writeJSON(w, http.StatusOK, queueStatsResponse{
		Depth:      stats.Depth,
		InFlight:   stats.InFlight,
		Capacity:   stats.Capacity,
		MaxRetries: stats.MaxRetries,
	})
}

type queuePurgeResponse struct {
	Purged int `json:"purged"`
}

// handleQueuePurge drops every request still waiting in the admission FIFO,
// grounded on the original fastapi-service's POST /queue/purge. In-flight
// requests already handed to a worker are unaffected.
func (h *InternalHandler) handleQueuePurge(w http.ResponseWriter, r *http.Request) {
	n := h.queue.Purge(errors.New("admin-requested queue purge"))
	writeJSON(w, http.StatusOK, queuePurgeResponse{Purged: n})
}

func (h *InternalHandler) handleAvailableModels(w http.ResponseWriter, r *http.Request) {
	out := make([]availableModel, 0, len(h.profile.AvailableModels()))
	for _, d := range h.profile.AvailableModels() {
		out = append(out, availableModel{
			ModelID:      d.Name,
			Backend:      string(d.Backend),
			VRAMSizeGB:   d.VRAMGB,
			Priority:     d.Priority.String(),
			IsExternal:   d.IsExternal,
			Capabilities: d.Capabilities,
		})
	}
	writeJSON(w, http.StatusOK, availableModelsResponse{Models: out})
}
