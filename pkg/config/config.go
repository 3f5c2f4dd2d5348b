// Package config loads the critics configuration from YAML, the environment
// and command-line overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/GaryBoone/ai-critics/pkg/chat"
	"github.com/GaryBoone/ai-critics/pkg/controller"
	"github.com/GaryBoone/ai-critics/pkg/sandbox/docker"
	"github.com/GaryBoone/ai-critics/pkg/verify"
)

const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"

	VerifierLocal  = "local"
	VerifierDocker = "docker"

	JournalJSONL  = "jsonl"
	JournalSQLite = "sqlite"
	JournalNone   = "none"

	DefaultGeminiModel = "gemini-2.0-flash"
)

// Config represents the application configuration parsed from YAML.
type Config struct {
	Provider string         `yaml:"provider"`
	Model    string         `yaml:"model"`
	OpenAI   OpenAIConfig   `yaml:"openai"`
	Gemini   GeminiConfig   `yaml:"gemini"`
	Chat     ChatConfig     `yaml:"chat"`
	Loop     LoopConfig     `yaml:"loop"`
	Verifier VerifierConfig `yaml:"verifier"`
	Journal  JournalConfig  `yaml:"journal"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
}

// ChatConfig tunes the streaming client.
type ChatConfig struct {
	ChunkTimeout   time.Duration `yaml:"chunk_timeout"`
	BlankThreshold int           `yaml:"blank_threshold"`
	MaxRetries     int           `yaml:"max_retries"`
	// RequestsPerSecond throttles model requests across all agents. Zero disables it.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// LoopConfig shapes the convergence loop.
type LoopConfig struct {
	MaxProposals int `yaml:"max_proposals"`
	// Reviewers is the number of reviewers per kind.
	Reviewers int  `yaml:"reviewers"`
	General   bool `yaml:"general"`
}

type VerifierConfig struct {
	Kind               string `yaml:"kind"`
	Compiler           string `yaml:"compiler"`
	Image              string `yaml:"image"`
	PullImage          bool   `yaml:"pull_image"`
	MaxDiagnosticBytes int    `yaml:"max_diagnostic_bytes"`
}

type JournalConfig struct {
	Kind string `yaml:"kind"`
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type TracingConfig struct {
	Endpoint string `yaml:"endpoint"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Provider: ProviderOpenAI,
		Chat: ChatConfig{
			ChunkTimeout:   chat.DefaultChunkTimeout,
			BlankThreshold: chat.DefaultBlankThreshold,
			MaxRetries:     chat.DefaultMaxRetries,
			Burst:          1,
		},
		Loop: LoopConfig{
			MaxProposals: controller.DefaultMaxProposals,
			Reviewers:    1,
		},
		Verifier: VerifierConfig{
			Kind:               VerifierLocal,
			Compiler:           verify.DefaultCompiler,
			Image:              docker.DefaultImage,
			MaxDiagnosticBytes: verify.DefaultMaxDiagnosticBytes,
		},
		Journal: JournalConfig{
			Kind: JournalJSONL,
			Path: ".critics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads YAML configuration from disk over the defaults, then overlays the
// environment. An empty path yields the defaults plus environment. The result
// is not validated; callers apply flag overrides and then call Validate.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return Config{}, fmt.Errorf("resolve config path: %w", err)
		}
		data, err := os.ReadFile(absPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
		}
	}
	cfg.applyEnv(os.LookupEnv)
	return cfg, nil
}

// applyEnv fills credentials from the environment when the file leaves them empty.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("OPENAI_API_KEY"); ok && c.OpenAI.APIKey == "" {
		c.OpenAI.APIKey = v
	}
	if v, ok := lookup("OPENAI_BASE_URL"); ok && c.OpenAI.BaseURL == "" {
		c.OpenAI.BaseURL = v
	}
	if v, ok := lookup("GEMINI_API_KEY"); ok && c.Gemini.APIKey == "" {
		c.Gemini.APIKey = v
	}
}

// ResolvedModel returns the configured model or the provider's default.
func (c Config) ResolvedModel() string {
	if c.Model != "" {
		return c.Model
	}
	if c.Provider == ProviderGemini {
		return DefaultGeminiModel
	}
	return chat.DefaultModel
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	var errs []error

	switch c.Provider {
	case ProviderOpenAI:
		if strings.TrimSpace(c.OpenAI.APIKey) == "" {
			errs = append(errs, errors.New("openai.api_key must be provided (or set OPENAI_API_KEY)"))
		}
	case ProviderGemini:
		if strings.TrimSpace(c.Gemini.APIKey) == "" {
			errs = append(errs, errors.New("gemini.api_key must be provided (or set GEMINI_API_KEY)"))
		}
	default:
		errs = append(errs, fmt.Errorf("provider %q must be one of %q or %q", c.Provider, ProviderOpenAI, ProviderGemini))
	}

	if c.Chat.ChunkTimeout <= 0 {
		errs = append(errs, fmt.Errorf("chat.chunk_timeout must be positive, got %s", c.Chat.ChunkTimeout))
	}
	if c.Chat.MaxRetries <= 0 {
		errs = append(errs, fmt.Errorf("chat.max_retries must be positive, got %d", c.Chat.MaxRetries))
	}
	if c.Chat.BlankThreshold <= 0 {
		errs = append(errs, fmt.Errorf("chat.blank_threshold must be positive, got %d", c.Chat.BlankThreshold))
	}
	if c.Chat.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("chat.requests_per_second must not be negative, got %g", c.Chat.RequestsPerSecond))
	}

	if c.Loop.MaxProposals <= 0 {
		errs = append(errs, fmt.Errorf("loop.max_proposals must be positive, got %d", c.Loop.MaxProposals))
	}
	if c.Loop.Reviewers <= 0 {
		errs = append(errs, fmt.Errorf("loop.reviewers must be positive, got %d", c.Loop.Reviewers))
	}

	switch c.Verifier.Kind {
	case VerifierLocal, VerifierDocker:
	default:
		errs = append(errs, fmt.Errorf("verifier.kind %q must be one of %q or %q", c.Verifier.Kind, VerifierLocal, VerifierDocker))
	}

	switch c.Journal.Kind {
	case JournalNone:
	case JournalJSONL, JournalSQLite:
		if strings.TrimSpace(c.Journal.Path) == "" {
			errs = append(errs, fmt.Errorf("journal.path must be provided for the %s journal", c.Journal.Kind))
		}
	default:
		errs = append(errs, fmt.Errorf("journal.kind %q must be one of %q, %q or %q", c.Journal.Kind, JournalJSONL, JournalSQLite, JournalNone))
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be %q or %q", c.Log.Format, "text", "json"))
	}

	return errors.Join(errs...)
}
