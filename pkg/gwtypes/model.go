package gwtypes

// Priority is a model's eviction priority. Higher values are evicted later.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// String implements fmt.Stringer.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityNormal:
		return "NORMAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ParsePriority converts a string to a Priority, defaulting to PriorityNormal
// for unrecognised input.
func ParsePriority(s string) Priority {
	switch s {
	case "LOW":
		return PriorityLow
	case "HIGH":
		return PriorityHigh
	case "CRITICAL":
		return PriorityCritical
	default:
		return PriorityNormal
	}
}

// BackendKind is the closed set of engine backend kinds an adapter may
// implement.
type BackendKind string

const (
	// BackendOpenAICompatible targets engines that speak the OpenAI chat
	// completions wire format over SSE (e.g. vLLM, most hosted APIs).
	BackendOpenAICompatible BackendKind = "openai-compatible"
	// BackendLocalNative targets engines with their own native protocol
	// that supports dynamic load/unload (e.g. an Ollama-style server).
	BackendLocalNative BackendKind = "local-native"
	// BackendMonolithic targets engines that start with a single fixed
	// model baked in and expose no load/unload API.
	BackendMonolithic BackendKind = "monolithic"
)

// ThinkingFormat describes how a model's "thinking" / reasoning controls are
// expressed on the wire.
type ThinkingFormat string

const (
	ThinkingFormatNone    ThinkingFormat = ""
	ThinkingFormatBoolean ThinkingFormat = "boolean"
	ThinkingFormatLevel   ThinkingFormat = "level"
)

// Capabilities are the capability flags a model descriptor may declare.
type Capabilities struct {
	ToolUse   bool `yaml:"tool_use" json:"tool_use"`
	Vision    bool `yaml:"vision" json:"vision"`
	Thinking  bool `yaml:"thinking" json:"thinking"`
	Streaming bool `yaml:"streaming" json:"streaming"`
}

// ModelDescriptor is the read-only, profile-loaded description of a model.
// Descriptors are immutable after start-up; the orchestrator never mutates
// one, only the registry entries that reference them.
type ModelDescriptor struct {
	Name           string         `yaml:"name" json:"name"`
	Backend        BackendKind    `yaml:"backend" json:"backend"`
	Endpoint       string         `yaml:"endpoint" json:"endpoint"`
	VRAMGB         float64        `yaml:"vram_gb" json:"vram_gb"`
	Priority       Priority       `yaml:"-" json:"-"`
	PriorityName   string         `yaml:"priority" json:"priority"`
	Capabilities   Capabilities   `yaml:"capabilities" json:"capabilities"`
	ThinkingFormat ThinkingFormat `yaml:"thinking_format" json:"thinking_format"`
	// IsExternal marks a model as loaded/managed outside the orchestrator
	// (surfaced via GET /available-models' is_external flag).
	IsExternal bool `yaml:"is_external" json:"is_external"`
}

// Normalize fills in derived fields (Priority from PriorityName) after YAML
// decode.
func (d *ModelDescriptor) Normalize() {
	d.Priority = ParsePriority(d.PriorityName)
	if d.PriorityName == "" {
		d.PriorityName = d.Priority.String()
	}
}

// DynamicallyLoadable reports whether the engine kind supports explicit
// load/unload, per §4.E step 2.
func (d *ModelDescriptor) DynamicallyLoadable() bool {
	return d.Backend != BackendMonolithic
}
