// Package config provides configuration management for the provisioning service.
//
// Configuration is loaded from multiple sources with proper precedence:
//  1. Default values
//  2. Configuration files (./config.yaml, ./configs/config.yaml, /etc/rentafleet/config.yaml)
//  3. .env files
//  4. Environment variables (prefix RENTAFLEET_, e.g. RENTAFLEET_ORCHESTRATOR_URL)
//
// The loaded Config is constructed once at process start and passed by
// reference to every component; nothing deeper in the call tree reads the
// ambient environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig contains the admin HTTP server settings.
type ServerConfig struct {
	// Host is the server bind address (default: 0.0.0.0)
	Host string `mapstructure:"host"`

	// Port is the server listen port (default: 9001)
	Port int `mapstructure:"port"`

	// ReadTimeout is the maximum duration for reading requests
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the maximum duration for writing responses
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// ShutdownTimeout is the maximum duration for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// APIKey guards the provisioning endpoints. Empty disables the check
	// (development only).
	APIKey string `mapstructure:"api_key"`
}

// OrchestratorConfig contains the container control-plane connection settings.
type OrchestratorConfig struct {
	// URL is the control-plane base URL (e.g. https://10.0.0.5:9443)
	URL string `mapstructure:"url"`

	// APIKey is the static key sent in the X-API-Key header
	APIKey string `mapstructure:"api_key"`

	// EndpointID selects the container host all calls are scoped to
	EndpointID int `mapstructure:"endpoint_id"`

	// RequestTimeout bounds ordinary API calls
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// TransferTimeout bounds archive upload/download and exec calls
	TransferTimeout time.Duration `mapstructure:"transfer_timeout"`

	// InsecureSkipVerify disables TLS certificate validation toward the
	// control plane. Required for self-signed deployments; keep off
	// everywhere else.
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify"`
}

// PortsConfig contains the base port numbers a tenant's port offset is added to.
type PortsConfig struct {
	FrontendBase int `mapstructure:"frontend_base"`
	BackendBase  int `mapstructure:"backend_base"`
	MongoBase    int `mapstructure:"mongo_base"`

	// SafetyMargin pads the live stack count when computing a fresh offset,
	// covering stacks created out-of-band.
	SafetyMargin int `mapstructure:"safety_margin"`
}

// TemplateConfig identifies the singleton golden-template stack.
type TemplateConfig struct {
	StackName         string `mapstructure:"stack_name"`
	FrontendContainer string `mapstructure:"frontend_container"`
	BackendContainer  string `mapstructure:"backend_container"`

	// FrontendPath is the served root inside the template frontend container
	FrontendPath string `mapstructure:"frontend_path"`

	// BackendPath is the application root inside the template backend container
	BackendPath string `mapstructure:"backend_path"`
}

// TenancyConfig contains tenant-facing settings.
type TenancyConfig struct {
	// ServerIP is the public address used for IP:port fallback URLs
	ServerIP string `mapstructure:"server_ip"`

	// StackPrefix namespaces tenant stacks on the control plane
	StackPrefix string `mapstructure:"stack_prefix"`

	// ACMEEmail is the certificate-resolver contact for the proxy stack
	ACMEEmail string `mapstructure:"acme_email"`

	// StartupGrace is how long a freshly created stack is given to
	// initialize before template propagation starts
	StartupGrace time.Duration `mapstructure:"startup_grace"`

	// StateWaitTimeout bounds waits for a container state transition
	StateWaitTimeout time.Duration `mapstructure:"state_wait_timeout"`
}

// DatabaseConfig contains the control-plane MongoDB settings (companies collection).
type DatabaseConfig struct {
	URL      string        `mapstructure:"url"`
	Database string        `mapstructure:"database"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Config is the root configuration for the provisioning service.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Ports        PortsConfig        `mapstructure:"ports"`
	Template     TemplateConfig     `mapstructure:"template"`
	Tenancy      TenancyConfig      `mapstructure:"tenancy"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// Loader provides configuration loading functionality.
type Loader struct {
	v      *viper.Viper
	prefix string
}

// NewLoader creates a new configuration loader with the given environment prefix.
func NewLoader(envPrefix string) *Loader {
	return &Loader{
		v:      viper.New(),
		prefix: envPrefix,
	}
}

// SetConfigDefaults sets the standard service defaults.
func (l *Loader) SetConfigDefaults() {
	l.v.SetDefault("server.host", "0.0.0.0")
	l.v.SetDefault("server.port", 9001)
	l.v.SetDefault("server.read_timeout", "30s")
	l.v.SetDefault("server.write_timeout", "30s")
	l.v.SetDefault("server.shutdown_timeout", "10s")

	l.v.SetDefault("orchestrator.endpoint_id", 1)
	l.v.SetDefault("orchestrator.request_timeout", "60s")
	l.v.SetDefault("orchestrator.transfer_timeout", "180s")
	l.v.SetDefault("orchestrator.insecure_skip_verify", false)

	l.v.SetDefault("ports.frontend_base", 10000)
	l.v.SetDefault("ports.backend_base", 11000)
	l.v.SetDefault("ports.mongo_base", 12000)
	l.v.SetDefault("ports.safety_margin", 5)

	l.v.SetDefault("template.stack_name", "rentacar_template")
	l.v.SetDefault("template.frontend_container", "rentacar_template_frontend")
	l.v.SetDefault("template.backend_container", "rentacar_template_backend")
	l.v.SetDefault("template.frontend_path", "/usr/share/nginx/html")
	l.v.SetDefault("template.backend_path", "/app")

	l.v.SetDefault("tenancy.stack_prefix", "rentacar_")
	l.v.SetDefault("tenancy.acme_email", "admin@rentafleet.com")
	l.v.SetDefault("tenancy.startup_grace", "10s")
	l.v.SetDefault("tenancy.state_wait_timeout", "60s")

	l.v.SetDefault("database.url", "mongodb://localhost:27017")
	l.v.SetDefault("database.database", "superadmin_db")
	l.v.SetDefault("database.timeout", "30s")

	l.v.SetDefault("logging.level", "info")
	l.v.SetDefault("logging.format", "json")
}

// Load reads configuration from file, .env, and environment variables.
// If cfgFile is empty, searches for config.yaml in standard locations.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (with prefix)
//  2. .env file
//  3. Configuration file
//  4. Default values
func (l *Loader) Load(cfgFile string, target interface{}) error {
	if cfgFile != "" {
		l.v.SetConfigFile(cfgFile)
	} else {
		l.v.SetConfigName("config")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		l.v.AddConfigPath("./configs")
		l.v.AddConfigPath("/etc/rentafleet")
	}

	if err := l.v.ReadInConfig(); err != nil {
		if cfgFile != "" && !isFileNotFoundError(err) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		if cfgFile == "" {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	// Merge .env file if present
	l.v.SetConfigFile(".env")
	l.v.SetConfigType("env")
	_ = l.v.MergeInConfig()

	if l.prefix != "" {
		l.v.SetEnvPrefix(l.prefix)
	}
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if err := l.v.Unmarshal(target); err != nil {
		return fmt.Errorf("unable to decode config: %w", err)
	}

	return nil
}

// LoadConfig loads configuration with standard defaults and validates it.
func LoadConfig(cfgFile string) (*Config, error) {
	loader := NewLoader("RENTAFLEET")
	loader.SetConfigDefaults()

	cfg := &Config{}
	if err := loader.Load(cfgFile, cfg); err != nil {
		return nil, err
	}

	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ValidateConfig validates the loaded configuration.
func ValidateConfig(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}
	if cfg.Orchestrator.URL == "" {
		return fmt.Errorf("orchestrator url is required")
	}
	if cfg.Orchestrator.EndpointID < 1 {
		return fmt.Errorf("invalid orchestrator endpoint id: %d", cfg.Orchestrator.EndpointID)
	}
	if cfg.Ports.FrontendBase == cfg.Ports.BackendBase ||
		cfg.Ports.BackendBase == cfg.Ports.MongoBase ||
		cfg.Ports.FrontendBase == cfg.Ports.MongoBase {
		return fmt.Errorf("base ports must be pairwise distinct")
	}
	if cfg.Ports.SafetyMargin < 0 {
		return fmt.Errorf("safety margin cannot be negative")
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("database url is required")
	}
	return nil
}

// isFileNotFoundError checks if an error is a file not found error.
func isFileNotFoundError(err error) bool {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return errors.Is(pathErr, os.ErrNotExist)
	}
	return false
}
