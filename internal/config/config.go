package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSystemPrompt is used when no custom prompt is configured.
const DefaultSystemPrompt = "You are a Pokémon Showdown battle assistant. Return only the best move name."

// Config captures all tunable settings for the BattleNERD server.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Browser BrowserConfig `yaml:"browser"`
	Advisor AdvisorConfig `yaml:"advisor"`
	Facts   FactsConfig   `yaml:"facts"`
	MCP     MCPConfig     `yaml:"mcp"`
}

type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	LogFile string `yaml:"log_file"`
	// TraceDir holds rotating advisor flight-recorder traces (default: data/traces).
	TraceDir string `yaml:"trace_dir"`
}

// BrowserConfig configures how we attach to or launch Chrome for Rod.
type BrowserConfig struct {
	// Control endpoint for Rod (e.g., ws://localhost:9222). Required when launch is empty.
	DebuggerURL string `yaml:"debugger_url"`
	// Optional launch command to start Chrome in detached mode (e.g., ["chrome", "--remote-debugging-port=9222"]).
	Launch []string `yaml:"launch"`
	// AutoStart controls whether the server launches/attaches to Chrome at startup.
	AutoStart bool `yaml:"auto_start"`
	// Headless controls whether Chrome runs in headless mode (default: true).
	Headless *bool `yaml:"headless"`
	// ShowdownURL is the client entry page used when watch-battle gets a bare room name.
	ShowdownURL string `yaml:"showdown_url"`
	// Default navigation timeout (e.g., "15s").
	DefaultNavigationTimeout string `yaml:"default_navigation_timeout"`
	// Settling window: mutation bursts within this window collapse into one extraction pass.
	SettleWindow string `yaml:"settle_window"`
	// How often the watcher samples the in-page mutation counter.
	PollInterval string `yaml:"poll_interval"`
}

// AdvisorConfig configures the decision-request pipeline.
type AdvisorConfig struct {
	// OpenAI-compatible API key. Requests fail fast with an auth error when empty.
	APIKey string `yaml:"api_key"`
	// Model identifier (default: gpt-4o).
	Model string `yaml:"model"`
	// Sampling temperature (default: 1).
	Temperature *float64 `yaml:"temperature"`
	// System prompt prepended to every request; never stored in history.
	SystemPrompt string `yaml:"system_prompt"`
	// Enabled gates the whole observer -> orchestrator pipeline (default: true).
	Enabled *bool `yaml:"enabled"`
	// Optional endpoint override for OpenAI-compatible providers.
	BaseURL string `yaml:"base_url"`
	// Completion budget per request.
	MaxTokens int `yaml:"max_tokens"`
	// Nucleus sampling cutoff.
	TopP float64 `yaml:"top_p"`
	// Repetition controls forwarded verbatim to the provider.
	PresencePenalty  float64 `yaml:"presence_penalty"`
	FrequencyPenalty float64 `yaml:"frequency_penalty"`
	// Conversation cap; oldest turns are dropped beyond this (default: 40).
	HistoryLimit int `yaml:"history_limit"`
	// Per-request timeout for the external decision call (e.g., "30s").
	RequestTimeout string `yaml:"request_timeout"`
}

// FactsConfig controls the embedded deductive fact journal.
type FactsConfig struct {
	Enable          bool   `yaml:"enable"`
	SchemaPath      string `yaml:"schema_path"`
	FactBufferLimit int    `yaml:"fact_buffer_limit"`
}

type MCPConfig struct {
	// When set, starts an SSE server on this port instead of stdio-only.
	SSEPort int `yaml:"sse_port"`
}

// DefaultConfig provides reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Name:    "battlenerd-mcp",
			Version: "0.1.0",
			LogFile: "battlenerd-mcp.log",
		},
		Browser: BrowserConfig{
			AutoStart:                true,
			ShowdownURL:              "https://play.pokemonshowdown.com",
			DefaultNavigationTimeout: "15s",
			SettleWindow:             "300ms",
			PollInterval:             "100ms",
		},
		Advisor: AdvisorConfig{
			Model:          "gpt-4o",
			SystemPrompt:   DefaultSystemPrompt,
			MaxTokens:      256,
			TopP:           1,
			HistoryLimit:   40,
			RequestTimeout: "30s",
		},
		Facts: FactsConfig{
			Enable:          true,
			SchemaPath:      "schemas/battle.mg",
			FactBufferLimit: 2048,
		},
		MCP: MCPConfig{
			SSEPort: 0,
		},
	}
}

// Load reads YAML config from disk and overlays defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, errors.New("config path is required")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}

	return cfg, cfg.Validate()
}

// Validate ensures required fields exist so the server can start deterministically.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return errors.New("server.name is required")
	}
	if c.Browser.AutoStart {
		if c.Browser.DebuggerURL == "" && len(c.Browser.Launch) == 0 {
			return errors.New("browser.debugger_url or browser.launch must be provided")
		}
	}
	return nil
}

// NavigationTimeout returns the parsed navigation timeout with a sane default.
func (b BrowserConfig) NavigationTimeout() time.Duration {
	return parseDuration(b.DefaultNavigationTimeout, 15*time.Second)
}

// SettleWindowDuration returns the parsed settling window with a sane default.
func (b BrowserConfig) SettleWindowDuration() time.Duration {
	return parseDuration(b.SettleWindow, 300*time.Millisecond)
}

// PollIntervalDuration returns the parsed mutation poll interval with a sane default.
func (b BrowserConfig) PollIntervalDuration() time.Duration {
	return parseDuration(b.PollInterval, 100*time.Millisecond)
}

// IsHeadless returns whether Chrome should run in headless mode (default: true).
func (b BrowserConfig) IsHeadless() bool {
	if b.Headless == nil {
		return true
	}
	return *b.Headless
}

// RequestTimeoutDuration returns the parsed decision-call timeout with a sane default.
func (a AdvisorConfig) RequestTimeoutDuration() time.Duration {
	return parseDuration(a.RequestTimeout, 30*time.Second)
}

// Settings materializes the advisor section into the immutable per-request snapshot,
// filling in defaults for anything left empty.
func (a AdvisorConfig) Settings() Settings {
	s := Settings{
		APIKey:           a.APIKey,
		Model:            a.Model,
		Temperature:      1,
		SystemPrompt:     a.SystemPrompt,
		Enabled:          true,
		BaseURL:          a.BaseURL,
		MaxTokens:        a.MaxTokens,
		TopP:             a.TopP,
		PresencePenalty:  a.PresencePenalty,
		FrequencyPenalty: a.FrequencyPenalty,
		HistoryLimit:     a.HistoryLimit,
		RequestTimeout:   a.RequestTimeoutDuration(),
	}
	if s.Model == "" {
		s.Model = "gpt-4o"
	}
	if a.Temperature != nil {
		s.Temperature = *a.Temperature
	}
	if s.SystemPrompt == "" {
		s.SystemPrompt = DefaultSystemPrompt
	}
	if a.Enabled != nil {
		s.Enabled = *a.Enabled
	}
	if s.HistoryLimit <= 0 {
		s.HistoryLimit = 40
	}
	return s
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
