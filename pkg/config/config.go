package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Default configuration values exported for documentation and validation
const (
	DefaultMaxRetries       = 62
	DefaultBindingPrefix    = "cypressSendToServer"
	DefaultGlobalPrefix     = "cypressSocket"
	DefaultNamespace        = "default"
	DefaultQueueSize        = 256
	DefaultDialTimeout      = 2 * time.Second
	DefaultMetricsAddr      = "127.0.0.1:9464"
	DefaultBusSubjectPrefix = "foxwire.socket"
	DefaultServiceName      = "foxwire"
	DefaultLogLevel         = "info"
)

// Config represents the complete foxwire configuration
type Config struct {
	Browser BrowserConfig `yaml:"browser"`
	Retry   RetryConfig   `yaml:"retry"`
	Socket  SocketConfig  `yaml:"socket"`
	Bus     BusConfig     `yaml:"bus"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
	Log     LogConfig     `yaml:"log"`
}

// BrowserConfig describes where the browser under test listens.
type BrowserConfig struct {
	URL              string        `yaml:"url"`
	MarionettePort   int           `yaml:"marionette_port"`
	FoxdriverPort    int           `yaml:"foxdriver_port"`
	RemotePort       int           `yaml:"remote_port"`
	BiDiWebSocketURL string        `yaml:"bidi_websocket_url"`
	Extensions       []string      `yaml:"extensions"`
	CDPHosts         []string      `yaml:"cdp_hosts"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
}

// RetryConfig bounds the connection retry schedule.
type RetryConfig struct {
	MaxRetries int `yaml:"max_retries"`
}

// SocketConfig configures the virtual socket page contract.
type SocketConfig struct {
	BindingPrefix string   `yaml:"binding_prefix"`
	GlobalPrefix  string   `yaml:"global_prefix"`
	Namespaces    []string `yaml:"namespaces"`
	QueueSize     int      `yaml:"queue_size"`
}

// BusConfig configures the optional NATS relay for page events.
type BusConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// TracingConfig controls span export.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// LogConfig controls log verbosity.
type LogConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Browser: BrowserConfig{
			CDPHosts:    []string{"127.0.0.1", "::1"},
			DialTimeout: DefaultDialTimeout,
		},
		Retry: RetryConfig{
			MaxRetries: DefaultMaxRetries,
		},
		Socket: SocketConfig{
			BindingPrefix: DefaultBindingPrefix,
			GlobalPrefix:  DefaultGlobalPrefix,
			Namespaces:    []string{DefaultNamespace},
			QueueSize:     DefaultQueueSize,
		},
		Bus: BusConfig{
			URL:           defaultNATSURL(),
			SubjectPrefix: DefaultBusSubjectPrefix,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    DefaultMetricsAddr,
		},
		Tracing: TracingConfig{
			ServiceName: DefaultServiceName,
		},
		Log: LogConfig{
			Level: DefaultLogLevel,
		},
	}
}

func defaultNATSURL() string {
	if v := strings.TrimSpace(os.Getenv("NATS_URL")); v != "" {
		return v
	}
	return "nats://127.0.0.1:4222"
}

// Load loads configuration from default locations with proper precedence
func Load() (*Config, error) {
	cfg := DefaultConfig()

	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home != "" {
		userConfigPath := filepath.Join(home, ".foxwire", "config.yaml")
		if err := loadAndMerge(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading user config: %w", err)
		}
	}

	projectConfigPath := filepath.Join(".", ".foxwire", "config.yaml")
	if err := loadAndMerge(cfg, projectConfigPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading project config: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.Browser.Extensions = ResolveExtensionPaths(cfg.Browser.Extensions)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	if err := loadAndMerge(cfg, path); err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	cfg.Browser.Extensions = ResolveExtensionPaths(cfg.Browser.Extensions)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FOXWIRE_URL"); v != "" {
		cfg.Browser.URL = v
	}
	if v, ok := envInt("FOXWIRE_MARIONETTE_PORT"); ok {
		cfg.Browser.MarionettePort = v
	}
	if v, ok := envInt("FOXWIRE_FOXDRIVER_PORT"); ok {
		cfg.Browser.FoxdriverPort = v
	}
	if v, ok := envInt("FOXWIRE_REMOTE_PORT"); ok {
		cfg.Browser.RemotePort = v
	}
	if v := os.Getenv("FOXWIRE_BIDI_URL"); v != "" {
		cfg.Browser.BiDiWebSocketURL = v
	}
	if v := os.Getenv("FOXWIRE_EXTENSIONS"); v != "" {
		cfg.Browser.Extensions = splitCommaList(v)
	}
	if v, ok := envInt("FOXWIRE_CONNECT_RETRY_THRESHOLD"); ok {
		cfg.Retry.MaxRetries = v
	}
	if v := os.Getenv("FOXWIRE_SOCKET_NAMESPACES"); v != "" {
		cfg.Socket.Namespaces = splitCommaList(v)
	}

	if val, ok := envBool("FOXWIRE_BUS_ENABLED"); ok {
		cfg.Bus.Enabled = val
	}
	if v := os.Getenv("FOXWIRE_NATS_URL"); v != "" {
		cfg.Bus.URL = v
	}
	if v := os.Getenv("FOXWIRE_NATS_TOKEN"); v != "" {
		cfg.Bus.Token = v
	}

	if val, ok := envBool("FOXWIRE_METRICS_ENABLED"); ok {
		cfg.Metrics.Enabled = val
	}
	if v := os.Getenv("FOXWIRE_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if val, ok := envBool("FOXWIRE_TRACING_ENABLED"); ok {
		cfg.Tracing.Enabled = val
	}
	if v := os.Getenv("FOXWIRE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func splitCommaList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func envBool(key string) (bool, bool) {
	val := os.Getenv(key)
	if val == "" {
		return false, false
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func envInt(key string) (int, bool) {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return 0, false
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, false
	}
	return n, true
}

func isLoopbackBindAddress(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return false
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	host = strings.Trim(host, "[]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func validPort(port int) bool {
	return port >= 0 && port <= 65535
}

// Validate checks the configuration for values the session cannot run with.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}

	ports := map[string]int{
		"browser.marionette_port": c.Browser.MarionettePort,
		"browser.foxdriver_port":  c.Browser.FoxdriverPort,
		"browser.remote_port":     c.Browser.RemotePort,
	}
	for name, port := range ports {
		if !validPort(port) {
			return fmt.Errorf("%s out of range: %d", name, port)
		}
	}
	if c.Browser.DialTimeout < 0 {
		return fmt.Errorf("browser.dial_timeout must not be negative")
	}
	if c.Browser.RemotePort > 0 && len(c.Browser.CDPHosts) == 0 {
		return fmt.Errorf("browser.cdp_hosts required when remote_port is set")
	}

	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative: %d", c.Retry.MaxRetries)
	}

	if strings.TrimSpace(c.Socket.BindingPrefix) == "" {
		return fmt.Errorf("socket.binding_prefix is required")
	}
	if strings.TrimSpace(c.Socket.GlobalPrefix) == "" {
		return fmt.Errorf("socket.global_prefix is required")
	}
	for _, ns := range c.Socket.Namespaces {
		if strings.ContainsAny(ns, "'\\ ") {
			return fmt.Errorf("socket namespace %q contains invalid characters", ns)
		}
	}
	if c.Socket.QueueSize <= 0 {
		return fmt.Errorf("socket.queue_size must be positive")
	}

	if c.Bus.Enabled && strings.TrimSpace(c.Bus.URL) == "" {
		return fmt.Errorf("bus.url is required when bus is enabled")
	}
	if c.Bus.Enabled && strings.TrimSpace(c.Bus.SubjectPrefix) == "" {
		return fmt.Errorf("bus.subject_prefix is required when bus is enabled")
	}

	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Addr) == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}

	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %s", c.Log.Level)
	}

	return nil
}

// ValidationWarnings returns non-fatal configuration concerns.
func (c *Config) ValidationWarnings() []string {
	if c == nil {
		return nil
	}
	var warnings []string
	if c.Metrics.Enabled && !isLoopbackBindAddress(c.Metrics.Addr) {
		warnings = append(warnings, fmt.Sprintf("metrics endpoint %s is reachable beyond loopback", c.Metrics.Addr))
	}
	if c.Browser.FoxdriverPort == 0 {
		warnings = append(warnings, "browser.foxdriver_port unset: garbage collection instrumentation disabled")
	}
	if c.Bus.Enabled && strings.HasPrefix(c.Bus.URL, "nats://") && c.Bus.Token == "" {
		warnings = append(warnings, "bus enabled without token")
	}
	return warnings
}
