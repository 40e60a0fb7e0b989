package gwtypes

// RouteKind is the closed set of route categories a request can be
// classified into.
type RouteKind string

const (
	RouteSelfHandle RouteKind = "SELF_HANDLE"
	RouteSimpleCode RouteKind = "SIMPLE_CODE"
	RouteReasoning  RouteKind = "REASONING"
	RouteResearch   RouteKind = "RESEARCH"
	RouteMath       RouteKind = "MATH"
	RouteImage      RouteKind = "IMAGE"
	RouteVision     RouteKind = "VISION"
	RouteEmbedding  RouteKind = "EMBEDDING"
)

// allRouteKinds is the closed enum used for deterministic parsing of the
// router model's free-text response.
var allRouteKinds = []RouteKind{
	RouteSelfHandle, RouteSimpleCode, RouteReasoning, RouteResearch,
	RouteMath, RouteImage, RouteVision, RouteEmbedding,
}

// IsImageRoute reports whether r is one of the routes that get the longer
// visibility timeout.
func (r RouteKind) IsImageRoute() bool {
	return r == RouteImage || r == RouteVision
}

// RouteDecision is the output of the Router, before preference resolution.
type RouteDecision struct {
	Route            RouteKind
	Model            string
	Temperature      float64
	Thinking         bool
	ToolAllowList    []string
}
