package preferences

import (
	"testing"

	"github.com/modelgateway/inference-gateway/pkg/gwtypes"
	"github.com/stretchr/testify/require"
)

func TestResolvePriorityOrderForModel(t *testing.T) {
	defaults := Defaults{Temperature: 0.5, Thinking: false}
	route := gwtypes.RouteDecision{Model: "route-model", Temperature: 0.9, Thinking: true}

	// Request wins over everything.
	r := Resolve(gwtypes.Request{RequestedModel: "req-model"}, gwtypes.UserState{PreferredModel: "user-model"}, route, defaults)
	require.Equal(t, "req-model", r.Model)

	// No request override: user preference wins over route.
	r = Resolve(gwtypes.Request{}, gwtypes.UserState{PreferredModel: "user-model"}, route, defaults)
	require.Equal(t, "user-model", r.Model)

	// User preference is the sentinel: falls through to route.
	r = Resolve(gwtypes.Request{}, gwtypes.UserState{PreferredModel: gwtypes.PreferredModelSentinel}, route, defaults)
	require.Equal(t, "route-model", r.Model)
}

func TestResolveTemperatureAndThinkingPriority(t *testing.T) {
	defaults := Defaults{Temperature: 0.5, Thinking: false}
	route := gwtypes.RouteDecision{Model: "m", Temperature: 0.9, Thinking: true}

	reqTemp := 0.1
	r := Resolve(gwtypes.Request{Overrides: gwtypes.Overrides{Temperature: &reqTemp}}, gwtypes.UserState{}, route, defaults)
	require.Equal(t, 0.1, r.Temperature)

	userTemp := 0.3
	r = Resolve(gwtypes.Request{}, gwtypes.UserState{TemperatureOverride: &userTemp}, route, defaults)
	require.Equal(t, 0.3, r.Temperature)

	r = Resolve(gwtypes.Request{}, gwtypes.UserState{}, route, defaults)
	require.Equal(t, 0.9, r.Temperature)
	require.True(t, r.Thinking)
}
