package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration.
// It is populated once at startup and treated as read-only afterwards.
type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	Security  SecurityConfig  `yaml:"security" envconfig:"SECURITY"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Paths     PathsConfig     `yaml:"paths" envconfig:"PATHS"`
	Store     StoreConfig     `yaml:"store" envconfig:"STORE"`
	Convert   ConvertConfig   `yaml:"convert" envconfig:"CONVERT"`
	WebSocket WebSocketConfig `yaml:"websocket" envconfig:"WEBSOCKET"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// SecurityConfig contains security-related configuration
type SecurityConfig struct {
	AllowedOrigins []string        `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	EnableCORS     bool            `yaml:"enable_cors" envconfig:"ENABLE_CORS"`
	RateLimit      RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig contains rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Format   string `yaml:"format" envconfig:"FORMAT"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// PathsConfig contains file system paths configuration.
// Relative paths are resolved against the working directory at startup.
type PathsConfig struct {
	StaticDir    string `yaml:"static_dir" envconfig:"STATIC_DIR"`
	StaticPrefix string `yaml:"static_prefix" envconfig:"STATIC_PREFIX"`
	DataDir      string `yaml:"data_dir" envconfig:"DATA_DIR"`
	LogsDir      string `yaml:"logs_dir" envconfig:"LOGS_DIR"`
}

// StoreConfig contains conversion history persistence configuration.
// When disabled the service runs without job history, matching a deployment
// that has no database available.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled" envconfig:"ENABLED"`
	Path    string `yaml:"path" envconfig:"PATH"`
}

// ConvertConfig contains conversion engine configuration
type ConvertConfig struct {
	MaxTextBytes   int64  `yaml:"max_text_bytes" envconfig:"MAX_TEXT_BYTES"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes" envconfig:"MAX_UPLOAD_BYTES"`
	DefaultTarget  string `yaml:"default_target" envconfig:"DEFAULT_TARGET"`
	BatchWorkers   int    `yaml:"batch_workers" envconfig:"BATCH_WORKERS"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE"`
	WriteBufferSize int           `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE"`
	PingPeriod      time.Duration `yaml:"ping_period" envconfig:"PING_PERIOD"`
	PongWait        time.Duration `yaml:"pong_wait" envconfig:"PONG_WAIT"`
}

// Load loads configuration from environment variables and the settings file.
// Environment variables (prefix TXTCONV) take precedence over file values.
func Load() (*Config, error) {
	cfg := Default()

	// Load from settings file if one exists
	if settingsFile := findSettingsFile(); settingsFile != "" {
		fileCfg, flags, err := loadFromFile(settingsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load settings from %s: %w", settingsFile, err)
		}
		*cfg = mergeConfigs(*cfg, *fileCfg, flags)
	}

	// Environment overrides
	if err := envconfig.Process("TXTCONV", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// fileFlags re-reads the boolean keys of the settings file as pointers.
// Booleans cannot be merged by zero-value checks ("false" and "absent" look
// the same), so presence is tracked separately.
type fileFlags struct {
	Security struct {
		EnableCORS *bool `yaml:"enable_cors"`
		RateLimit  struct {
			Enabled *bool `yaml:"enabled"`
		} `yaml:"rate_limit"`
	} `yaml:"security"`
	Store struct {
		Enabled *bool `yaml:"enabled"`
	} `yaml:"store"`
}

// loadFromFile loads configuration from a YAML settings file
func loadFromFile(filePath string) (*Config, *fileFlags, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, nil, err
	}

	var flags fileFlags
	if err := yaml.Unmarshal(data, &flags); err != nil {
		return nil, nil, err
	}

	return &cfg, &flags, nil
}

// mergeConfigs overlays non-zero file values onto the defaults. Booleans
// merge through flags so an explicit "false" in the file wins over a true
// default.
func mergeConfigs(base, file Config, flags *fileFlags) Config {
	if file.Server.Port != 0 {
		base.Server.Port = file.Server.Port
	}
	if file.Server.ReadTimeout != 0 {
		base.Server.ReadTimeout = file.Server.ReadTimeout
	}
	if file.Server.WriteTimeout != 0 {
		base.Server.WriteTimeout = file.Server.WriteTimeout
	}
	if file.Server.IdleTimeout != 0 {
		base.Server.IdleTimeout = file.Server.IdleTimeout
	}
	if file.Server.MaxHeaderBytes != 0 {
		base.Server.MaxHeaderBytes = file.Server.MaxHeaderBytes
	}
	if file.Server.ShutdownTimeout != 0 {
		base.Server.ShutdownTimeout = file.Server.ShutdownTimeout
	}
	if len(file.Security.AllowedOrigins) > 0 {
		base.Security.AllowedOrigins = file.Security.AllowedOrigins
	}
	if file.Security.RateLimit.RPS != 0 {
		base.Security.RateLimit.RPS = file.Security.RateLimit.RPS
	}
	if file.Security.RateLimit.Burst != 0 {
		base.Security.RateLimit.Burst = file.Security.RateLimit.Burst
	}
	if file.Logging.Level != "" {
		base.Logging.Level = file.Logging.Level
	}
	if file.Logging.Output != "" {
		base.Logging.Output = file.Logging.Output
	}
	if file.Logging.FilePath != "" {
		base.Logging.FilePath = file.Logging.FilePath
	}
	if file.Paths.StaticDir != "" {
		base.Paths.StaticDir = file.Paths.StaticDir
	}
	if file.Paths.StaticPrefix != "" {
		base.Paths.StaticPrefix = file.Paths.StaticPrefix
	}
	if file.Paths.DataDir != "" {
		base.Paths.DataDir = file.Paths.DataDir
	}
	if file.Paths.LogsDir != "" {
		base.Paths.LogsDir = file.Paths.LogsDir
	}
	if file.Store.Path != "" {
		base.Store.Path = file.Store.Path
	}
	if flags != nil {
		if flags.Store.Enabled != nil {
			base.Store.Enabled = *flags.Store.Enabled
		}
		if flags.Security.EnableCORS != nil {
			base.Security.EnableCORS = *flags.Security.EnableCORS
		}
		if flags.Security.RateLimit.Enabled != nil {
			base.Security.RateLimit.Enabled = *flags.Security.RateLimit.Enabled
		}
	}
	if file.Convert.MaxTextBytes != 0 {
		base.Convert.MaxTextBytes = file.Convert.MaxTextBytes
	}
	if file.Convert.MaxUploadBytes != 0 {
		base.Convert.MaxUploadBytes = file.Convert.MaxUploadBytes
	}
	if file.Convert.DefaultTarget != "" {
		base.Convert.DefaultTarget = file.Convert.DefaultTarget
	}
	if file.Convert.BatchWorkers != 0 {
		base.Convert.BatchWorkers = file.Convert.BatchWorkers
	}
	if file.WebSocket.ReadBufferSize != 0 {
		base.WebSocket.ReadBufferSize = file.WebSocket.ReadBufferSize
	}
	if file.WebSocket.WriteBufferSize != 0 {
		base.WebSocket.WriteBufferSize = file.WebSocket.WriteBufferSize
	}
	if file.WebSocket.PingPeriod != 0 {
		base.WebSocket.PingPeriod = file.WebSocket.PingPeriod
	}
	if file.WebSocket.PongWait != 0 {
		base.WebSocket.PongWait = file.WebSocket.PongWait
	}

	return base
}

// EnsureDirectories creates the directories the server writes to
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.DataDir, c.Paths.LogsDir}
	if c.Store.Enabled {
		dirs = append(dirs, filepath.Dir(c.Store.Path))
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server read timeout must be positive")
	}

	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server write timeout must be positive")
	}

	if c.Convert.MaxTextBytes <= 0 {
		return fmt.Errorf("convert max text bytes must be positive")
	}

	if c.Convert.MaxUploadBytes <= 0 {
		return fmt.Errorf("convert max upload bytes must be positive")
	}

	if c.Convert.BatchWorkers <= 0 {
		c.Convert.BatchWorkers = 1
	}

	if c.Paths.StaticPrefix == "" || c.Paths.StaticPrefix[0] != '/' {
		return fmt.Errorf("static prefix must start with '/': %q", c.Paths.StaticPrefix)
	}

	if len(c.Security.AllowedOrigins) == 0 {
		return fmt.Errorf("at least one allowed origin must be specified")
	}

	// Only JSON logging is supported
	if c.Logging.Format != "json" {
		c.Logging.Format = "json"
	}

	if c.Logging.FilePath == "" {
		c.Logging.FilePath = "logs/txtconv.log"
	}

	return nil
}

// findSettingsFile returns the path to the settings file.
// The file conventionally lives one directory above the server's working
// directory; a local override is checked first.
func findSettingsFile() string {
	locations := []string{
		"settings.yml",
		"settings.yaml",
		filepath.Join("..", "settings.yml"),
		filepath.Join("..", "settings.yaml"),
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return "" // No settings file, use defaults and env vars only
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20, // 1MB
			ShutdownTimeout: 30 * time.Second,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"http://localhost:8080"},
			EnableCORS:     true,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     100,
				Burst:   50,
			},
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/txtconv.log",
		},
		Paths: PathsConfig{
			StaticDir:    "static",
			StaticPrefix: "/static",
			DataDir:      "data",
			LogsDir:      "logs",
		},
		Store: StoreConfig{
			Enabled: true,
			Path:    filepath.Join("data", "txtconv.db"),
		},
		Convert: ConvertConfig{
			MaxTextBytes:   1 << 20,  // 1MB
			MaxUploadBytes: 64 << 20, // 64MB
			DefaultTarget:  "utf-8",
			BatchWorkers:   4,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PingPeriod:      30 * time.Second,
			PongWait:        60 * time.Second,
		},
	}
}
