// Package router implements the Router (spec §4.F): it classifies a
// request into a route by making a light call into a designated small
// model and deterministically parsing its free-text label against the
// closed RouteKind enum.
package router

import (
	"context"
	"strings"

	"github.com/modelgateway/inference-gateway/pkg/engineadapter"
	"github.com/modelgateway/inference-gateway/pkg/gwtypes"
	"github.com/modelgateway/inference-gateway/pkg/logging"
)

// ProfileBinding resolves a route kind to its concrete model name,
// temperature, thinking default, and tool allow-list, as declared by the
// active profile.
type ProfileBinding interface {
	ModelForRoute(route gwtypes.RouteKind) (model string, temperature float64, thinking bool, toolAllowList []string)
}

// routerPrompt is the fixed instruction prefix sent to the designated
// router model. It asks for exactly one of the enum labels.
const routerPrompt = "Classify the following request into exactly one label: " +
	"SELF_HANDLE, SIMPLE_CODE, REASONING, RESEARCH, MATH, IMAGE, VISION, EMBEDDING. " +
	"Respond with only the label.\n\nRequest:\n"

// Router classifies requests into routes. Safe for concurrent use;
// classify is idempotent and makes a single generation call.
type Router struct {
	log           logging.Logger
	routerModel   string
	routerAdapter engineadapter.Adapter
	profile       ProfileBinding
}

// New creates a Router that issues its classification calls against
// routerAdapter using routerModel.
func New(log logging.Logger, routerModel string, routerAdapter engineadapter.Adapter, profile ProfileBinding) *Router {
	return &Router{log: log, routerModel: routerModel, routerAdapter: routerAdapter, profile: profile}
}

// Classify implements the Router contract: classify(request) → route-decision.
func (r *Router) Classify(ctx context.Context, req gwtypes.Request) (gwtypes.RouteDecision, error) {
	route := r.classifyRoute(ctx, req)
	model, temperature, thinking, tools := r.profile.ModelForRoute(route)
	return gwtypes.RouteDecision{
		Route:         route,
		Model:         model,
		Temperature:   temperature,
		Thinking:      thinking,
		ToolAllowList: tools,
	}, nil
}

func (r *Router) classifyRoute(ctx context.Context, req gwtypes.Request) gwtypes.RouteKind {
	if req.ClassificationHint == "has_image" {
		return gwtypes.RouteVision
	}

	stream, err := r.routerAdapter.Generate(ctx, r.routerModel, engineadapter.GenerateParams{
		Messages: []engineadapter.ChatMessage{{Role: "user", Content: routerPrompt + req.Text}},
	})
	if err != nil {
		if r.log != nil {
			r.log.WithError(err).Warnf("router classification call failed, defaulting to REASONING")
		}
		return gwtypes.RouteReasoning
	}

	var label strings.Builder
	for item := range stream {
		if item.Err != nil {
			if r.log != nil {
				r.log.WithError(item.Err).Warnf("router classification stream errored, defaulting to REASONING")
			}
			return gwtypes.RouteReasoning
		}
		if item.Delta != nil {
			label.WriteString(item.Delta.Content)
		}
	}

	return parseRouteLabel(label.String())
}

// parseRouteLabel finds the first enum label occurring anywhere in text and
// falls back to REASONING on no match, per §4.F's deterministic-parse
// contract.
func parseRouteLabel(text string) gwtypes.RouteKind {
	upper := strings.ToUpper(text)
	for _, kind := range []gwtypes.RouteKind{
		gwtypes.RouteSelfHandle, gwtypes.RouteSimpleCode, gwtypes.RouteReasoning,
		gwtypes.RouteResearch, gwtypes.RouteMath, gwtypes.RouteImage,
		gwtypes.RouteVision, gwtypes.RouteEmbedding,
	} {
		if strings.Contains(upper, string(kind)) {
			return kind
		}
	}
	return gwtypes.RouteReasoning
}
