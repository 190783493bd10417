package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

type Config struct {
	LLM     LLMConfig     `toml:"llm"`
	HTTP    HTTPConfig    `toml:"http"`
	Tools   ToolsConfig   `toml:"tools"`
	Store   StoreConfig   `toml:"store"`
	Tracing TracingConfig `toml:"tracing"`
	Loop    LoopConfig    `toml:"loop"`
	Sandbox SandboxConfig `toml:"sandbox"`
}

// LLMConfig selects and authenticates the model backend the agent loop
// drives through a Provider.
type LLMConfig struct {
	Provider string `toml:"provider"` // "gemini" | "openaicompat"
	Model    string `toml:"model"`
	APIKey   string `toml:"api_key"`
	BaseURL  string `toml:"base_url"` // openaicompat only
}

// HTTPConfig is the External Interface's bind address.
type HTTPConfig struct {
	Addr string `toml:"addr"`
}

// ToolsConfig selects which built-in tool trees get mounted at startup,
// and the workspace root the file.* tree is confined to.
type ToolsConfig struct {
	EnableFile bool   `toml:"enable_file"`
	EnableWeb  bool   `toml:"enable_web"`
	EnableDocs bool   `toml:"enable_docs"`
	Workspace  string `toml:"workspace"`
}

// StoreConfig configures the optional TaskStore audit mirror. An empty
// Driver disables persistence; tasks then live only in memory for the
// process lifetime.
type StoreConfig struct {
	Driver string `toml:"driver"` // "" | "sqlite" | "postgres"
	Path   string `toml:"path"`   // sqlite only
	DSN    string `toml:"dsn"`    // postgres only
}

// TracingConfig configures the observer package's OTLP span exporter and
// per-model cost accounting.
type TracingConfig struct {
	Enabled      bool                      `toml:"enabled"`
	OTLPEndpoint string                    `toml:"otlp_endpoint"`
	ServiceName  string                    `toml:"service_name"`
	Pricing      map[string]TracingPricing `toml:"pricing"`
}

type TracingPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

// LoopConfig tunes the agent loop's round budget and resilience wrappers.
type LoopConfig struct {
	MaxRounds     int `toml:"max_rounds"`
	RetryAttempts int `toml:"retry_attempts"`
	RPM           int `toml:"rpm"`
}

// SandboxConfig selects the out-of-process CodeRunner backend run_code
// dispatches to. An empty Driver keeps the default in-process goja Runner.
type SandboxConfig struct {
	Driver    string `toml:"driver"`     // "" | "http" | "subprocess"
	URL       string `toml:"url"`        // http only: the sandbox's base URL
	PythonBin string `toml:"python_bin"` // subprocess only: interpreter path
}

// Default returns a Config with every field set to a workable default.
func Default() Config {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "/tmp"
	}
	return Config{
		LLM:  LLMConfig{Provider: "gemini", Model: "gemini-2.5-flash"},
		HTTP: HTTPConfig{Addr: ":8080"},
		Tools: ToolsConfig{
			EnableFile: true,
			EnableWeb:  true,
			EnableDocs: true,
			Workspace:  filepath.Join(home, "taskweave-workspace"),
		},
		Store:   StoreConfig{Path: "taskweave.db"},
		Tracing: TracingConfig{ServiceName: "taskweave"},
		Loop:    LoopConfig{MaxRounds: 20, RetryAttempts: 3, RPM: 60},
		Sandbox: SandboxConfig{PythonBin: "python3"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "taskweave.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("TASKWEAVE_LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("TASKWEAVE_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("TASKWEAVE_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("TASKWEAVE_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("TASKWEAVE_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("TASKWEAVE_TOOLS_WORKSPACE"); v != "" {
		cfg.Tools.Workspace = v
	}
	if v := os.Getenv("TASKWEAVE_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("TASKWEAVE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("TASKWEAVE_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if os.Getenv("TASKWEAVE_TRACING_ENABLED") == "true" || os.Getenv("TASKWEAVE_TRACING_ENABLED") == "1" {
		cfg.Tracing.Enabled = true
	}
	if v := os.Getenv("TASKWEAVE_OTLP_ENDPOINT"); v != "" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.OTLPEndpoint = v
	}
	if v := os.Getenv("TASKWEAVE_SANDBOX_DRIVER"); v != "" {
		cfg.Sandbox.Driver = v
	}
	if v := os.Getenv("TASKWEAVE_SANDBOX_URL"); v != "" {
		cfg.Sandbox.URL = v
	}
	if v := os.Getenv("TASKWEAVE_SANDBOX_PYTHON_BIN"); v != "" {
		cfg.Sandbox.PythonBin = v
	}

	return cfg
}
