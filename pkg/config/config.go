package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server" json:"server"`
	Payload PayloadConfig `yaml:"payload" json:"payload"`
	Upload  UploadConfig  `yaml:"upload" json:"upload"`
	Duplex  DuplexConfig  `yaml:"duplex" json:"duplex"`
	GRPC    GRPCConfig    `yaml:"grpc" json:"grpc"`
	CORS    CORSConfig    `yaml:"cors" json:"cors"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ServerConfig holds HTTP listener configuration
type ServerConfig struct {
	Address           string        `yaml:"address" json:"address"`
	Port              int           `yaml:"port" json:"port"`
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout" json:"readHeaderTimeout"`
	ReadTimeout       time.Duration `yaml:"readTimeout" json:"readTimeout"`
	WriteTimeout      time.Duration `yaml:"writeTimeout" json:"writeTimeout"`
	IdleTimeout       time.Duration `yaml:"idleTimeout" json:"idleTimeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout" json:"shutdownTimeout"`
}

// PayloadFile describes one provisioned test file
type PayloadFile struct {
	Name   string `yaml:"name" json:"name"`
	SizeMB int64  `yaml:"sizeMB" json:"sizeMB"`
}

// SizeBytes returns the file size in bytes
func (p PayloadFile) SizeBytes() int64 {
	return p.SizeMB * 1024 * 1024
}

// PayloadConfig holds payload store configuration
type PayloadConfig struct {
	Dir         string        `yaml:"dir" json:"dir"`
	ChunkSize   int           `yaml:"chunkSize" json:"chunkSize"`
	DefaultFile string        `yaml:"defaultFile" json:"defaultFile"`
	Files       []PayloadFile `yaml:"files" json:"files"`
}

// UploadConfig holds upload sink configuration
type UploadConfig struct {
	ChunkSize   int           `yaml:"chunkSize" json:"chunkSize"`
	MaxBytes    int64         `yaml:"maxBytes" json:"maxBytes"`       // 0 = unlimited
	IdleTimeout time.Duration `yaml:"idleTimeout" json:"idleTimeout"` // per body chunk, 0 = no deadline
}

// DuplexConfig holds the duplex upload capability
type DuplexConfig struct {
	Enabled        bool          `yaml:"enabled" json:"enabled"`
	Path           string        `yaml:"path" json:"path"`
	MaxMessageSize int64         `yaml:"maxMessageSize" json:"maxMessageSize"`
	IdleTimeout    time.Duration `yaml:"idleTimeout" json:"idleTimeout"`
	CheckOrigin    bool          `yaml:"checkOrigin" json:"checkOrigin"`
}

// GRPCConfig holds gRPC duplex transport configuration
type GRPCConfig struct {
	Enabled           bool          `yaml:"enabled" json:"enabled"`
	Port              int           `yaml:"port" json:"port"`
	MaxRecvMsgSize    int32         `yaml:"maxRecvMsgSize" json:"maxRecvMsgSize"`
	MaxSendMsgSize    int32         `yaml:"maxSendMsgSize" json:"maxSendMsgSize"`
	StreamIdleTimeout time.Duration `yaml:"streamIdleTimeout" json:"streamIdleTimeout"`
	MaxConnectionIdle time.Duration `yaml:"maxConnectionIdle" json:"maxConnectionIdle"`
	KeepaliveTime     time.Duration `yaml:"keepaliveTime" json:"keepaliveTime"`
	KeepaliveTimeout  time.Duration `yaml:"keepaliveTimeout" json:"keepaliveTimeout"`
}

// CORSConfig holds cross-origin configuration
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowedOrigins" json:"allowedOrigins"`
	AllowedHeaders []string `yaml:"allowedHeaders" json:"allowedHeaders"`
	ExposedHeaders []string `yaml:"exposedHeaders" json:"exposedHeaders"`
	MaxAge         int      `yaml:"maxAge" json:"maxAge"`
}

// MetricsConfig holds Prometheus exposition configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

const (
	MinChunkSize = 4 * 1024
	MaxChunkSize = 4 * 1024 * 1024
)

// DefaultConfig Default configuration values
var DefaultConfig = Config{
	Server: ServerConfig{
		Address:           "0.0.0.0",
		Port:              8080,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       0, // uploads may legitimately take minutes
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   10 * time.Second,
	},
	Payload: PayloadConfig{
		Dir:         "./testdata",
		ChunkSize:   256 * 1024,
		DefaultFile: "25mb.bin",
		Files: []PayloadFile{
			{Name: "25mb.bin", SizeMB: 25},
			{Name: "100mb.bin", SizeMB: 100},
		},
	},
	Upload: UploadConfig{
		ChunkSize:   256 * 1024,
		MaxBytes:    0,
		IdleTimeout: 60 * time.Second,
	},
	Duplex: DuplexConfig{
		Enabled:        true,
		Path:           "/ws-upload",
		MaxMessageSize: 16 * 1024 * 1024,
		IdleTimeout:    60 * time.Second,
		CheckOrigin:    false,
	},
	GRPC: GRPCConfig{
		Enabled:        false,
		Port:           50051,
		MaxRecvMsgSize:    16 * 1024 * 1024,
		MaxSendMsgSize:    1 * 1024 * 1024,
		StreamIdleTimeout: 60 * time.Second,
		MaxConnectionIdle: 5 * time.Minute,
		KeepaliveTime:     2 * time.Minute,
		KeepaliveTimeout:  20 * time.Second,
	},
	CORS: CORSConfig{
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"Range", "Content-Type", "Cache-Control", "Pragma"},
		ExposedHeaders: []string{"Content-Range", "Content-Length", "Accept-Ranges"},
		MaxAge:         600,
	},
	Metrics: MetricsConfig{
		Enabled: true,
		Path:    "/metrics",
	},
	Logging: LoggingConfig{
		Level:  "INFO",
		Format: "text",
		Output: "stdout",
	},
}

// Default returns a deep copy of DefaultConfig
func Default() Config {
	c := DefaultConfig
	c.Payload.Files = append([]PayloadFile(nil), DefaultConfig.Payload.Files...)
	c.CORS.AllowedOrigins = append([]string(nil), DefaultConfig.CORS.AllowedOrigins...)
	c.CORS.AllowedHeaders = append([]string(nil), DefaultConfig.CORS.AllowedHeaders...)
	c.CORS.ExposedHeaders = append([]string(nil), DefaultConfig.CORS.ExposedHeaders...)
	return c
}

// LoadConfig loads configuration from multiple sources in order of precedence:
// 1. Environment variables (highest precedence)
// 2. Configuration file (explicitPath first, then the search paths)
// 3. Default values (lowest precedence)
func LoadConfig(explicitPath string) (*Config, string, error) {
	config := Default()

	path, err := loadFromFile(&config, explicitPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config file: %w", err)
	}

	if e := loadFromEnv(&config); e != nil {
		return nil, "", fmt.Errorf("failed to load environment variables: %w", e)
	}

	if e := config.Validate(); e != nil {
		return nil, "", fmt.Errorf("configuration validation failed: %w", e)
	}

	return &config, path, nil
}

func loadFromFile(config *Config, explicitPath string) (string, error) {
	if explicitPath != "" {
		return explicitPath, decodeFile(config, explicitPath)
	}

	configPaths := []string{
		os.Getenv("NETPROBE_CONFIG_PATH"),
		"./config.yaml",
		"./config/netprobe.yaml",
		"/etc/netprobe/config.yaml",
	}

	for _, path := range configPaths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		return path, decodeFile(config, path)
	}

	return "built-in defaults (no config file found)", nil
}

func decodeFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// loadFromEnv loads configuration from environment variables
func loadFromEnv(config *Config) error {
	// Server config
	if val := os.Getenv("NETPROBE_SERVER_ADDRESS"); val != "" {
		config.Server.Address = val
	}
	if val := os.Getenv("NETPROBE_SERVER_PORT"); val != "" {
		port, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid NETPROBE_SERVER_PORT %q: %w", val, err)
		}
		config.Server.Port = port
	}
	if val := os.Getenv("NETPROBE_SERVER_IDLE_TIMEOUT"); val != "" {
		if timeout, err := time.ParseDuration(val); err == nil {
			config.Server.IdleTimeout = timeout
		}
	}
	if val := os.Getenv("NETPROBE_SERVER_SHUTDOWN_TIMEOUT"); val != "" {
		if timeout, err := time.ParseDuration(val); err == nil {
			config.Server.ShutdownTimeout = timeout
		}
	}

	// Payload config
	if val := os.Getenv("NETPROBE_PAYLOAD_DIR"); val != "" {
		config.Payload.Dir = val
	}
	if val := os.Getenv("NETPROBE_PAYLOAD_CHUNK_SIZE"); val != "" {
		if size, err := strconv.Atoi(val); err == nil {
			config.Payload.ChunkSize = size
		}
	}
	if val := os.Getenv("NETPROBE_PAYLOAD_FILES"); val != "" {
		files, err := ParsePayloadFiles(val)
		if err != nil {
			return fmt.Errorf("invalid NETPROBE_PAYLOAD_FILES: %w", err)
		}
		config.Payload.Files = files
	}
	if val := os.Getenv("NETPROBE_PAYLOAD_DEFAULT_FILE"); val != "" {
		config.Payload.DefaultFile = val
	}

	// Upload config
	if val := os.Getenv("NETPROBE_UPLOAD_MAX_BYTES"); val != "" {
		if size, err := strconv.ParseInt(val, 10, 64); err == nil {
			config.Upload.MaxBytes = size
		}
	}
	if val := os.Getenv("NETPROBE_UPLOAD_IDLE_TIMEOUT"); val != "" {
		if timeout, err := time.ParseDuration(val); err == nil {
			config.Upload.IdleTimeout = timeout
		}
	}

	// Duplex config
	if val := os.Getenv("NETPROBE_DUPLEX_ENABLED"); val != "" {
		config.Duplex.Enabled = val == "true" || val == "1"
	}
	if val := os.Getenv("NETPROBE_DUPLEX_IDLE_TIMEOUT"); val != "" {
		if timeout, err := time.ParseDuration(val); err == nil {
			config.Duplex.IdleTimeout = timeout
		}
	}

	// GRPC config
	if val := os.Getenv("NETPROBE_GRPC_ENABLED"); val != "" {
		config.GRPC.Enabled = val == "true" || val == "1"
	}
	if val := os.Getenv("NETPROBE_GRPC_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.GRPC.Port = port
		}
	}
	if val := os.Getenv("NETPROBE_GRPC_STREAM_IDLE_TIMEOUT"); val != "" {
		if timeout, err := time.ParseDuration(val); err == nil {
			config.GRPC.StreamIdleTimeout = timeout
		}
	}

	// CORS config
	if val := os.Getenv("NETPROBE_CORS_ALLOWED_ORIGINS"); val != "" {
		config.CORS.AllowedOrigins = strings.Split(val, ",")
	}

	// Metrics config
	if val := os.Getenv("NETPROBE_METRICS_ENABLED"); val != "" {
		config.Metrics.Enabled = val == "true" || val == "1"
	}

	// Logging config
	if val := os.Getenv("NETPROBE_LOG_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := os.Getenv("NETPROBE_LOG_FORMAT"); val != "" {
		config.Logging.Format = val
	}
	if val := os.Getenv("NETPROBE_LOG_OUTPUT"); val != "" {
		config.Logging.Output = val
	}

	return nil
}

// ParsePayloadFiles parses "name:sizeMB,name:sizeMB" into payload descriptors
func ParsePayloadFiles(spec string) ([]PayloadFile, error) {
	var files []PayloadFile
	for _, item := range strings.Split(spec, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, sizeStr, ok := strings.Cut(item, ":")
		if !ok {
			return nil, fmt.Errorf("expected name:sizeMB, got %q", item)
		}
		size, err := strconv.ParseInt(sizeStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid size in %q: %w", item, err)
		}
		files = append(files, PayloadFile{Name: name, SizeMB: size})
	}
	return files, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Payload.Dir == "" {
		return fmt.Errorf("payload directory is required")
	}

	if c.Payload.ChunkSize < MinChunkSize || c.Payload.ChunkSize > MaxChunkSize {
		return fmt.Errorf("invalid payload chunk size: %d (must be %d..%d)", c.Payload.ChunkSize, MinChunkSize, MaxChunkSize)
	}

	if c.Upload.ChunkSize < MinChunkSize || c.Upload.ChunkSize > MaxChunkSize {
		return fmt.Errorf("invalid upload chunk size: %d (must be %d..%d)", c.Upload.ChunkSize, MinChunkSize, MaxChunkSize)
	}

	if c.Upload.MaxBytes < 0 {
		return fmt.Errorf("invalid upload max bytes: %d", c.Upload.MaxBytes)
	}

	if c.Upload.IdleTimeout < 0 {
		return fmt.Errorf("invalid upload idle timeout: %s", c.Upload.IdleTimeout)
	}

	if len(c.Payload.Files) == 0 {
		return fmt.Errorf("at least one payload file is required")
	}

	seen := make(map[string]bool, len(c.Payload.Files))
	for _, f := range c.Payload.Files {
		if f.Name == "" || f.Name != filepath.Base(f.Name) {
			return fmt.Errorf("invalid payload file name: %q", f.Name)
		}
		if f.SizeMB <= 0 {
			return fmt.Errorf("invalid size for payload %s: %d", f.Name, f.SizeMB)
		}
		if seen[f.Name] {
			return fmt.Errorf("duplicate payload file: %s", f.Name)
		}
		seen[f.Name] = true
	}

	if !seen[c.Payload.DefaultFile] {
		return fmt.Errorf("default payload %q is not in the payload file list", c.Payload.DefaultFile)
	}

	if c.Duplex.Enabled {
		if !strings.HasPrefix(c.Duplex.Path, "/") {
			return fmt.Errorf("duplex path must start with '/': %s", c.Duplex.Path)
		}
		if c.Duplex.MaxMessageSize <= 0 {
			return fmt.Errorf("invalid duplex max message size: %d", c.Duplex.MaxMessageSize)
		}
	}

	if c.GRPC.Enabled {
		if c.GRPC.Port < 1 || c.GRPC.Port > 65535 {
			return fmt.Errorf("invalid grpc port: %d", c.GRPC.Port)
		}
		if c.GRPC.Port == c.Server.Port {
			return fmt.Errorf("grpc port %d collides with http port", c.GRPC.Port)
		}
		if c.GRPC.StreamIdleTimeout < 0 || c.GRPC.MaxConnectionIdle < 0 ||
			c.GRPC.KeepaliveTime < 0 || c.GRPC.KeepaliveTimeout < 0 {
			return fmt.Errorf("grpc timeouts must not be negative")
		}
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics path must start with '/': %s", c.Metrics.Path)
	}

	validLevels := map[string]bool{
		"DEBUG": true, "INFO": true, "WARN": true, "ERROR": true,
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

func (c *Config) GetGRPCAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.GRPC.Port)
}

// PayloadPath returns the on-disk path of a payload file
func (c *Config) PayloadPath(name string) string {
	return filepath.Join(c.Payload.Dir, name)
}

func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}
