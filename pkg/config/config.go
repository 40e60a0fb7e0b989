// Package config implements the gateway's configuration layer: a YAML
// profile file overlaid with environment variables, following the
// teacher's file-then-env precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/modelgateway/inference-gateway/pkg/gwtypes"
)

// ServerConfig controls the gateway's HTTP/WebSocket listener.
type ServerConfig struct {
	Host string `yaml:"host" env:"GATEWAY_HOST"`
	Port int    `yaml:"port" env:"GATEWAY_PORT"`
}

// QueueConfig controls the admission queue's shape.
type QueueConfig struct {
	Capacity         int     `yaml:"capacity" env:"QUEUE_CAPACITY"`
	MaxRetries       int     `yaml:"max_retries" env:"QUEUE_MAX_RETRIES"`
	LowTierWatermark float64 `yaml:"low_tier_watermark" env:"QUEUE_LOW_TIER_WATERMARK"`
}

// OrchestratorConfig controls VRAM admission thresholds.
type OrchestratorConfig struct {
	SoftLimitGB           float64 `yaml:"soft_limit_gb" env:"ORCHESTRATOR_SOFT_LIMIT_GB"`
	HardLimitGB           float64 `yaml:"hard_limit_gb" env:"ORCHESTRATOR_HARD_LIMIT_GB"`
	SafetyMarginGB        float64 `yaml:"safety_margin_gb" env:"ORCHESTRATOR_SAFETY_MARGIN_GB"`
	LargeModelThresholdGB float64 `yaml:"large_model_threshold_gb" env:"ORCHESTRATOR_LARGE_MODEL_THRESHOLD_GB"`
	ReconcileInterval     int     `yaml:"reconcile_interval_seconds" env:"ORCHESTRATOR_RECONCILE_INTERVAL_SECONDS"`
}

// CrashTrackerConfig controls the circuit breaker.
type CrashTrackerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" env:"CRASH_FAILURE_THRESHOLD"`
	WindowSeconds    int `yaml:"window_seconds" env:"CRASH_WINDOW_SECONDS"`
}

// VisibilityConfig controls the visibility monitor.
type VisibilityConfig struct {
	CheckIntervalSeconds int `yaml:"check_interval_seconds" env:"VISIBILITY_CHECK_INTERVAL_SECONDS"`
	DefaultTimeoutSeconds int `yaml:"default_timeout_seconds" env:"VISIBILITY_DEFAULT_TIMEOUT_SECONDS"`
	ImageTimeoutSeconds  int `yaml:"image_timeout_seconds" env:"VISIBILITY_IMAGE_TIMEOUT_SECONDS"`
}

// WorkerConfig controls the worker pool.
type WorkerConfig struct {
	Count int `yaml:"count" env:"WORKER_COUNT"`
}

// AccountantConfig controls default token budgets for new users.
type AccountantConfig struct {
	DefaultWeeklyTokenBudget int64 `yaml:"default_weekly_token_budget" env:"ACCOUNTANT_DEFAULT_WEEKLY_TOKEN_BUDGET"`
	SummarisationTokenThreshold int `yaml:"summarisation_token_threshold" env:"ACCOUNTANT_SUMMARISATION_TOKEN_THRESHOLD"`
}

// LoggingConfig controls application logging, mirrored from the teacher's
// pkg/logging conventions.
type LoggingConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL"`
	JSON  bool   `yaml:"json" env:"LOG_JSON"`
}

// RedisConfig controls the default repository backing store.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

// SecurityConfig controls the internal admin API.
type SecurityConfig struct {
	InternalAPIKey string `yaml:"internal_api_key" env:"INTERNAL_API_KEY"`
}

// Config is the top-level gateway configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Queue        QueueConfig        `yaml:"queue"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	CrashTracker CrashTrackerConfig `yaml:"crash_tracker"`
	Visibility   VisibilityConfig   `yaml:"visibility"`
	Worker       WorkerConfig       `yaml:"worker"`
	Accountant   AccountantConfig   `yaml:"accountant"`
	Logging      LoggingConfig      `yaml:"logging"`
	Redis        RedisConfig        `yaml:"redis"`
	Security     SecurityConfig     `yaml:"security"`

	// Profile is the selected model catalogue / route bindings, loaded
	// from a separate file named by ProfilePath (§6: "a profile is
	// selected ... that fixes: model catalogue ... Profile is read-only
	// at runtime").
	ProfilePath string `yaml:"profile_path" env:"GATEWAY_PROFILE_PATH"`
}

// New returns a Config populated with defaults suitable for a single-GPU
// development host.
func New() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Queue: QueueConfig{
			Capacity:         256,
			MaxRetries:       2,
			LowTierWatermark: 0.9,
		},
		Orchestrator: OrchestratorConfig{
			SoftLimitGB:           40,
			HardLimitGB:           44,
			SafetyMarginGB:        0.5,
			LargeModelThresholdGB: 20,
			ReconcileInterval:     30,
		},
		CrashTracker: CrashTrackerConfig{
			FailureThreshold: 2,
			WindowSeconds:    300,
		},
		Visibility: VisibilityConfig{
			CheckIntervalSeconds:  5,
			DefaultTimeoutSeconds: 300,
			ImageTimeoutSeconds:   900,
		},
		Worker: WorkerConfig{Count: 1},
		Accountant: AccountantConfig{
			DefaultWeeklyTokenBudget:    2_000_000,
			SummarisationTokenThreshold: 6000,
		},
		Logging:     LoggingConfig{Level: "info", JSON: false},
		Redis:       RedisConfig{Addr: "127.0.0.1:6379"},
		ProfilePath: "configs/profiles/balanced.yaml",
	}
}

// Load loads configuration from CONFIG_FILE (or configs/config.yaml if
// unset), then overlays environment variables, mirroring the teacher's
// file-then-env precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()
	path := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	if path == "" {
		path = "configs/config.yaml"
	}
	if err := LoadFile(path, cfg); err != nil {
		return nil, err
	}

	if err := envdecode.Decode(cfg); err != nil {
		if !strings.Contains(err.Error(), "no target field") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}
	return cfg, nil
}

// LoadFile unmarshals the YAML file at path into cfg, leaving cfg untouched
// if the file does not exist. Exposed so callers (e.g. a --config flag) can
// overlay an explicit path after Load has applied defaults and env vars.
func LoadFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// Profile is the immutable runtime bundle selected at startup: model
// catalogue, route bindings, and the router's designated model (§6, §9's
// Profile Manager supplement).
type Profile struct {
	Name          string                              `yaml:"name"`
	RouterModel   string                              `yaml:"router_model"`
	Models        []gwtypes.ModelDescriptor           `yaml:"models"`
	RouteBindings map[gwtypes.RouteKind]RouteBinding   `yaml:"route_bindings"`
	Alternates    map[string]string                    `yaml:"alternates"`

	byName map[string]gwtypes.ModelDescriptor
}

// RouteBinding is a route's bound model plus its suggested generation
// parameters.
type RouteBinding struct {
	Model         string   `yaml:"model"`
	Temperature   float64  `yaml:"temperature"`
	Thinking      bool     `yaml:"thinking"`
	ToolAllowList []string `yaml:"tool_allow_list"`
}

// LoadProfile reads and normalises a profile file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile %s: %w", path, err)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile %s: %w", path, err)
	}
	p.normalize()
	return &p, nil
}

func (p *Profile) normalize() {
	p.byName = make(map[string]gwtypes.ModelDescriptor, len(p.Models))
	for i := range p.Models {
		p.Models[i].Normalize()
		p.byName[p.Models[i].Name] = p.Models[i]
	}
}

// Resolve implements orchestrator.ProfileResolver and router.ProfileBinding's
// underlying model lookup.
func (p *Profile) Resolve(model string) (gwtypes.ModelDescriptor, bool) {
	d, ok := p.byName[model]
	return d, ok
}

// ModelForRoute implements router.ProfileBinding.
func (p *Profile) ModelForRoute(route gwtypes.RouteKind) (string, float64, bool, []string) {
	binding, ok := p.RouteBindings[route]
	if !ok {
		return p.RouterModel, 0.7, false, nil
	}
	return binding.Model, binding.Temperature, binding.Thinking, binding.ToolAllowList
}

// ResolveAlternate implements orchestrator.AlternateResolver.
func (p *Profile) ResolveAlternate(model string) (string, bool) {
	alt, ok := p.Alternates[model]
	return alt, ok
}

// AvailableModels returns every descriptor in the profile, for the
// GET /available-models admin endpoint.
func (p *Profile) AvailableModels() []gwtypes.ModelDescriptor {
	return p.Models
}
