package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the triage service
type Config struct {
	General      GeneralConfig      `mapstructure:"general"`
	Server       ServerConfig       `mapstructure:"server"`
	LLM          LLMConfig          `mapstructure:"llm"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Workers      []WorkerConfig     `mapstructure:"workers"`
	Devices      map[string]Device  `mapstructure:"devices"`
	Endpoints    EndpointsConfig    `mapstructure:"endpoints"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
	Audit        AuditConfig        `mapstructure:"audit"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProviderConfig `mapstructure:"providers"`
	Routing   LLMRoutingConfig             `mapstructure:"routing"`
}

// LLMProviderConfig represents a single LLM provider configuration
type LLMProviderConfig struct {
	Type       string        `mapstructure:"type"` // openai, anthropic, gemini
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	MaxRetries int           `mapstructure:"max_retries"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// LLMRoutingConfig defines which provider/model to use for each reasoning step
type LLMRoutingConfig struct {
	Orchestrator ModelRef `mapstructure:"orchestrator"`
	Workers      ModelRef `mapstructure:"workers"`
	Triage       ModelRef `mapstructure:"triage"`
}

// ModelRef names a provider and model for one reasoning role.
type ModelRef struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
}

// OrchestratorConfig bounds the orchestrator's re-planning behaviour.
type OrchestratorConfig struct {
	RequiredFields      []string      `mapstructure:"required_fields"`
	EnrichmentWorker    string        `mapstructure:"enrichment_worker"`
	ValidationThreshold int           `mapstructure:"validation_threshold"`
	MaxIterations       int           `mapstructure:"max_iterations"`
	WorkerTimeout       time.Duration `mapstructure:"worker_timeout"`
	MaxWorkerSteps      int           `mapstructure:"max_worker_steps"`
	EventBuffer         int           `mapstructure:"event_buffer"`
}

func (o OrchestratorConfig) Validate() error {
	if o.ValidationThreshold < 2 {
		return fmt.Errorf("orchestrator.validation_threshold must be >= 2, got %d", o.ValidationThreshold)
	}
	if o.MaxIterations <= 0 {
		return fmt.Errorf("orchestrator.max_iterations must be > 0")
	}
	if o.EnrichmentWorker == "" {
		return fmt.Errorf("orchestrator.enrichment_worker is required")
	}
	return nil
}

// WorkerConfig declares one sub-agent: its identity, expertise and tool set.
type WorkerConfig struct {
	Name        string   `mapstructure:"name"`
	Description string   `mapstructure:"description"`
	Device      string   `mapstructure:"device"`
	Tools       []string `mapstructure:"tools"`
}

// Device holds per-target connection settings. Credentials are referenced by
// environment variable name so secrets never live in the config file.
type Device struct {
	BaseURL     string        `mapstructure:"base_url"`
	AuthType    string        `mapstructure:"auth_type"` // none, basic, token
	TokenPath   string        `mapstructure:"token_path"`
	UsernameEnv string        `mapstructure:"username_env"`
	PasswordEnv string        `mapstructure:"password_env"`
	Timeout     time.Duration `mapstructure:"timeout"`
	TLSInsecure bool          `mapstructure:"tls_insecure"`
}

func (d Device) Validate(name string) error {
	if strings.TrimSpace(d.BaseURL) == "" {
		return fmt.Errorf("devices.%s.base_url is required", name)
	}
	switch d.AuthType {
	case "", "none":
	case "basic":
		if d.UsernameEnv == "" || d.PasswordEnv == "" {
			return fmt.Errorf("devices.%s: basic auth requires username_env and password_env", name)
		}
	case "token":
		if d.TokenPath == "" {
			return fmt.Errorf("devices.%s: token auth requires token_path", name)
		}
		if d.UsernameEnv == "" || d.PasswordEnv == "" {
			return fmt.Errorf("devices.%s: token auth requires username_env and password_env", name)
		}
	default:
		return fmt.Errorf("devices.%s: unknown auth_type %q", name, d.AuthType)
	}
	return nil
}

// Credentials resolves the device's credential references against the environment.
func (d Device) Credentials() (string, string) {
	return os.Getenv(d.UsernameEnv), os.Getenv(d.PasswordEnv)
}

// EndpointsConfig points at the endpoint catalog file.
type EndpointsConfig struct {
	Path string `mapstructure:"path"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	PeriodicLogs bool   `mapstructure:"periodic_logs"`
	LogFile      string `mapstructure:"log_file"`
}

// AuditConfig wires the optional redis audit sink for raw worker payloads.
type AuditConfig struct {
	RedisAddr string        `mapstructure:"redis_addr"`
	RedisPass string        `mapstructure:"redis_pass"`
	RedisDB   int           `mapstructure:"redis_db"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// Enabled reports whether an audit sink is configured. Absence is not an error:
// auditing is an optional collaborator.
func (a AuditConfig) Enabled() bool { return strings.TrimSpace(a.RedisAddr) != "" }

// Validate checks cross-section invariants that must fail at startup.
func (c *Config) Validate() error {
	if err := c.Orchestrator.Validate(); err != nil {
		return err
	}
	if len(c.Workers) == 0 {
		return fmt.Errorf("at least one worker must be configured")
	}
	seen := make(map[string]bool, len(c.Workers))
	for _, w := range c.Workers {
		if strings.TrimSpace(w.Name) == "" {
			return fmt.Errorf("worker name must not be empty")
		}
		if seen[w.Name] {
			return fmt.Errorf("duplicate worker name: %s", w.Name)
		}
		seen[w.Name] = true
		if w.Device != "" {
			if _, ok := c.Devices[w.Device]; !ok {
				return fmt.Errorf("worker %s references unknown device %q", w.Name, w.Device)
			}
		}
	}
	if !seen[c.Orchestrator.EnrichmentWorker] {
		return fmt.Errorf("orchestrator.enrichment_worker %q is not a configured worker", c.Orchestrator.EnrichmentWorker)
	}
	for name, dev := range c.Devices {
		if err := dev.Validate(name); err != nil {
			return err
		}
	}
	return nil
}

// LoadConfig loads config from file, falling back to conventional locations.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.default_timeout", "60s")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("orchestrator.required_fields", []string{"source_ip", "destination_ip"})
	v.SetDefault("orchestrator.enrichment_worker", "ipam")
	v.SetDefault("orchestrator.validation_threshold", 2)
	v.SetDefault("orchestrator.max_iterations", 10)
	v.SetDefault("orchestrator.worker_timeout", "90s")
	v.SetDefault("orchestrator.max_worker_steps", 4)
	v.SetDefault("orchestrator.event_buffer", 64)
	v.SetDefault("endpoints.path", "config/endpoints.json")
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("audit.ttl", "168h")

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)
		v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("NETRIAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	// API keys come from the environment by convention (OPENAI_API_KEY etc)
	// unless the file sets them explicitly.
	for name, pc := range cfg.LLM.Providers {
		if pc.APIKey == "" {
			pc.APIKey = os.Getenv(strings.ToUpper(pc.Type) + "_API_KEY")
			cfg.LLM.Providers[name] = pc
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
