// Package preferences implements the Preference Resolver (spec §4.G): it
// merges request overrides, user state, and the router's route decision
// into the final model/temperature/thinking triple used for generation.
package preferences

import "github.com/modelgateway/inference-gateway/pkg/gwtypes"

// Defaults carries the system-wide fallback values consulted when neither
// the request, the user, nor the route express a preference.
type Defaults struct {
	Temperature float64
	Thinking    bool
}

// Resolved is the outcome of preference resolution.
type Resolved struct {
	Model         string
	Temperature   float64
	Thinking      bool
	ToolAllowList []string
}

// Resolve merges (request.model, user_state.preferred_model, route.model)
// in that priority order, and applies the same priority to temperature and
// thinking. Temperature falls back to the system default when the route's
// temperature is zero; thinking falls back to the route's value, which is
// always set, so Defaults.Thinking is never used. The sentinel value meaning
// "use router" in user preferences is treated as null.
func Resolve(req gwtypes.Request, user gwtypes.UserState, route gwtypes.RouteDecision, defaults Defaults) Resolved {
	model := req.RequestedModel
	if model == "" {
		model = user.EffectivePreferredModel()
	}
	if model == "" {
		model = route.Model
	}

	temperature := defaults.Temperature
	switch {
	case req.Overrides.Temperature != nil:
		temperature = *req.Overrides.Temperature
	case user.TemperatureOverride != nil:
		temperature = *user.TemperatureOverride
	case route.Temperature != 0:
		temperature = route.Temperature
	}

	thinking := defaults.Thinking
	switch {
	case req.Overrides.Thinking != nil:
		thinking = *req.Overrides.Thinking
	case user.ThinkingOverride != nil:
		thinking = *user.ThinkingOverride
	default:
		thinking = route.Thinking
	}

	return Resolved{
		Model:         model,
		Temperature:   temperature,
		Thinking:      thinking,
		ToolAllowList: route.ToolAllowList,
	}
}
