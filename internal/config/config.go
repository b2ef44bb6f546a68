package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zhengjr9/chat-relay/internal/chat"
)

const (
	DefaultModel          = "@cf/meta/llama-3.1-8b-instruct-fp8"
	DefaultAPIBaseURL     = "https://api.cloudflare.com/client/v4"
	DefaultGatewayBaseURL = "https://gateway.ai.cloudflare.com/v1"
)

type Config struct {
	ConfigFile  string `yaml:"-"`
	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	AssetsDir   string `yaml:"assets_dir"`

	// Workers AI
	AccountID        string `yaml:"account_id"`
	APIToken         string `yaml:"api_token"`
	APIBaseURL       string `yaml:"api_base_url"`
	Model            string `yaml:"model"`
	UpstreamProxyURL string `yaml:"upstream_proxy_url"`

	// Persona is the system prompt. PersonaFile, when set, replaces it.
	Persona     string `yaml:"persona"`
	PersonaFile string `yaml:"persona_file"`

	// AI Gateway, off unless GatewayID is set
	GatewayID        string `yaml:"gateway_id"`
	GatewayBaseURL   string `yaml:"gateway_base_url"`
	GatewaySkipCache bool   `yaml:"gateway_skip_cache"`
	GatewayCacheTTL  int    `yaml:"gateway_cache_ttl"`

	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// A2A
	A2AEnabled bool   `yaml:"a2a_enabled"`
	A2APort    int    `yaml:"a2a_port"`
	AgentName  string `yaml:"agent_name"`
	AgentDesc  string `yaml:"agent_desc"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr:     ":8080",
		AssetsDir:      "./public",
		APIBaseURL:     DefaultAPIBaseURL,
		Model:          DefaultModel,
		Persona:        chat.DefaultPersona,
		GatewayBaseURL: DefaultGatewayBaseURL,
		RequestTimeout: 120 * time.Second,
		MaxBodyBytes:   1 << 20,
		LogLevel:       "info",
		LogFormat:      "text",
		A2APort:        8000,
		AgentName:      "chat-relay",
		AgentDesc:      "Persona chat backed by Workers AI, exposed via A2A protocol",
	}
}

// Load reads the configuration from os.Args and the environment.
func Load() (*Config, error) {
	return LoadArgs(os.Args[1:], os.Getenv)
}

// LoadArgs layers defaults, the YAML file named by -config or CONFIG_FILE,
// environment variables and finally flags. The persona file, if any, is read
// last.
func LoadArgs(args []string, getenv func(string) string) (*Config, error) {
	cfg := Default()

	cfg.ConfigFile = configPathFromArgs(args)
	if cfg.ConfigFile == "" {
		cfg.ConfigFile = getenv("CONFIG_FILE")
	}
	if cfg.ConfigFile != "" {
		if err := LoadFile(cfg, cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg, getenv); err != nil {
		return nil, err
	}

	fs := flag.NewFlagSet("chat-relay", flag.ContinueOnError)
	registerFlags(fs, cfg)
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	if cfg.PersonaFile != "" {
		raw, err := os.ReadFile(cfg.PersonaFile)
		if err != nil {
			return nil, fmt.Errorf("read persona file %q: %w", cfg.PersonaFile, err)
		}
		cfg.Persona = strings.TrimSpace(string(raw))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path onto cfg. Keys absent from the file
// keep their current values.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %q: %w", path, err)
	}
	return nil
}

func registerFlags(fs *flag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.ConfigFile, "config", cfg.ConfigFile, "YAML configuration file")
	fs.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "HTTP listen address")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address (empty disables)")
	fs.StringVar(&cfg.AssetsDir, "assets-dir", cfg.AssetsDir, "Directory with the chat UI static assets")

	fs.StringVar(&cfg.AccountID, "account-id", cfg.AccountID, "Cloudflare account id")
	fs.StringVar(&cfg.APIToken, "api-token", cfg.APIToken, "Cloudflare API token with Workers AI access")
	fs.StringVar(&cfg.APIBaseURL, "api-base-url", cfg.APIBaseURL, "Cloudflare API base URL")
	fs.StringVar(&cfg.Model, "model", cfg.Model, "Workers AI model id")
	fs.StringVar(&cfg.UpstreamProxyURL, "upstream-proxy-url", cfg.UpstreamProxyURL, "HTTP/HTTPS proxy URL for Workers AI requests")
	fs.StringVar(&cfg.PersonaFile, "persona-file", cfg.PersonaFile, "File holding the persona system prompt")

	fs.StringVar(&cfg.GatewayID, "gateway-id", cfg.GatewayID, "AI Gateway id (empty sends requests directly)")
	fs.StringVar(&cfg.GatewayBaseURL, "gateway-base-url", cfg.GatewayBaseURL, "AI Gateway base URL")
	fs.BoolVar(&cfg.GatewaySkipCache, "gateway-skip-cache", cfg.GatewaySkipCache, "Bypass the AI Gateway cache")
	fs.IntVar(&cfg.GatewayCacheTTL, "gateway-cache-ttl", cfg.GatewayCacheTTL, "AI Gateway cache TTL in seconds (0 keeps the gateway default)")

	fs.DurationVar(&cfg.RequestTimeout, "request-timeout", cfg.RequestTimeout, "Upper bound for one chat request including the stream")
	fs.Int64Var(&cfg.MaxBodyBytes, "max-body-bytes", cfg.MaxBodyBytes, "Maximum chat request body size (0 disables)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "text or json")

	fs.BoolVar(&cfg.A2AEnabled, "a2a", cfg.A2AEnabled, "Enable A2A server alongside the chat server")
	fs.IntVar(&cfg.A2APort, "a2a-port", cfg.A2APort, "A2A server listen port")
	fs.StringVar(&cfg.AgentName, "agent-name", cfg.AgentName, "A2A AgentCard name")
	fs.StringVar(&cfg.AgentDesc, "agent-desc", cfg.AgentDesc, "A2A AgentCard description")
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	setString := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&cfg.ListenAddr, "LISTEN_ADDR")
	setString(&cfg.MetricsAddr, "METRICS_ADDR")
	setString(&cfg.AssetsDir, "ASSETS_DIR")
	setString(&cfg.AccountID, "CF_ACCOUNT_ID")
	setString(&cfg.APIToken, "CF_API_TOKEN")
	setString(&cfg.APIBaseURL, "CF_API_BASE_URL")
	setString(&cfg.Model, "MODEL_ID")
	setString(&cfg.UpstreamProxyURL, "UPSTREAM_PROXY_URL")
	setString(&cfg.PersonaFile, "PERSONA_FILE")
	setString(&cfg.GatewayID, "CF_GATEWAY_ID")
	setString(&cfg.GatewayBaseURL, "CF_GATEWAY_BASE_URL")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.LogFormat, "LOG_FORMAT")
	setString(&cfg.AgentName, "AGENT_NAME")
	setString(&cfg.AgentDesc, "AGENT_DESC")

	var errs []error
	if v := getenv("REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("REQUEST_TIMEOUT: %w", err))
		}
		cfg.RequestTimeout = d
	}
	if v := getenv("MAX_BODY_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("MAX_BODY_BYTES: %w", err))
		}
		cfg.MaxBodyBytes = n
	}
	if v := getenv("CF_GATEWAY_CACHE_TTL"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("CF_GATEWAY_CACHE_TTL: %w", err))
		}
		cfg.GatewayCacheTTL = n
	}
	if v := getenv("A2A_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("A2A_PORT: %w", err))
		}
		cfg.A2APort = n
	}
	if b, ok := parseBool(getenv("CF_GATEWAY_SKIP_CACHE")); ok {
		cfg.GatewaySkipCache = b
	}
	if b, ok := parseBool(getenv("A2A_ENABLED")); ok {
		cfg.A2AEnabled = b
	}
	return errors.Join(errs...)
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error
	if c.AccountID == "" {
		errs = append(errs, errors.New("account id is required (-account-id or CF_ACCOUNT_ID)"))
	}
	if c.APIToken == "" {
		errs = append(errs, errors.New("api token is required (-api-token or CF_API_TOKEN)"))
	}
	if c.Model == "" {
		errs = append(errs, errors.New("model must not be empty"))
	}
	if strings.TrimSpace(c.Persona) == "" {
		errs = append(errs, errors.New("persona must not be empty"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout))
	}
	if c.MaxBodyBytes < 0 {
		errs = append(errs, fmt.Errorf("max body bytes must not be negative, got %d", c.MaxBodyBytes))
	}
	if c.GatewayCacheTTL < 0 {
		errs = append(errs, fmt.Errorf("gateway cache ttl must not be negative, got %d", c.GatewayCacheTTL))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	if c.A2AEnabled && (c.A2APort < 1 || c.A2APort > 65535) {
		errs = append(errs, fmt.Errorf("a2a port out of range: %d", c.A2APort))
	}
	return errors.Join(errs...)
}

// RunOptions returns the backend routing options implied by the gateway
// settings.
func (c *Config) RunOptions() chat.RunOptions {
	if c.GatewayID == "" {
		return chat.RunOptions{}
	}
	return chat.RunOptions{Gateway: &chat.GatewayOptions{
		ID:        c.GatewayID,
		SkipCache: c.GatewaySkipCache,
		CacheTTL:  c.GatewayCacheTTL,
	}}
}

// configPathFromArgs finds -config before the full flag set is parsed, so
// the file layer can sit below flags.
func configPathFromArgs(args []string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			break
		}
		name, value, hasValue := strings.Cut(strings.TrimLeft(a, "-"), "=")
		if !strings.HasPrefix(a, "-") || name != "config" {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func parseBool(v string) (bool, bool) {
	switch v {
	case "true", "1", "yes":
		return true, true
	case "false", "0", "no":
		return false, true
	}
	return false, false
}
