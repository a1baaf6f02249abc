// Package config loads the relay settings from the environment, applies
// runtime defaults and validates the result.
package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
)

const (
	defaultIP              = "0.0.0.0"
	defaultPort            = 10000
	defaultLogLevel        = "INFO"
	defaultAllowedOrigins  = "http://localhost:10000"
	defaultMaxMessageSize  = 64 * 1024
	defaultRateLimitBurst  = 20
	defaultRateLimitRefill = time.Second
	defaultAckTimeout      = 10 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultSendBufferSize  = 256
)

// RateLimit defines per-connection message throttling.
type RateLimit struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds every setting of the relay process.
type Config struct {
	IP                      string        `env:"IP,default=0.0.0.0" validate:"required,ip"`
	Port                    int           `env:"PORT,default=10000" validate:"min=1,max=65535"`
	TemplatePath            string        `env:"TEMPLATE_PATH,required=true" validate:"required,dir"`
	StaticPath              string        `env:"STATIC_PATH,required=true" validate:"required,dir"`
	LogLevel                string        `env:"LOG_LEVEL,default=INFO" validate:"oneof=DEBUG INFO WARN ERROR debug info warn error"`
	AllowedOrigins          string        `env:"ALLOWED_ORIGINS,default=http://localhost:10000"`
	MaxMessageSize          int           `env:"MAX_MESSAGE_SIZE,default=65536"`
	RateLimitBurst          int           `env:"RATE_LIMIT_BURST,default=20"`
	RateLimitRefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL,default=1s"`
	AckTimeout              time.Duration `env:"ACK_TIMEOUT,default=10s"`
	ShutdownTimeout         time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
	SendBufferSize          int           `env:"SEND_BUFFER_SIZE,default=256"`
}

var validate = validator.New()

// Default returns a configuration populated with default values. Template
// and static paths are left empty and must be set by the caller.
func Default() *Config {
	return &Config{
		IP:                      defaultIP,
		Port:                    defaultPort,
		LogLevel:                defaultLogLevel,
		AllowedOrigins:          defaultAllowedOrigins,
		MaxMessageSize:          defaultMaxMessageSize,
		RateLimitBurst:          defaultRateLimitBurst,
		RateLimitRefillInterval: defaultRateLimitRefill,
		AckTimeout:              defaultAckTimeout,
		ShutdownTimeout:         defaultShutdownTimeout,
		SendBufferSize:          defaultSendBufferSize,
	}
}

// Load reads the configuration from the process environment. Missing or
// invalid template and static directories are reported as errors.
func Load() (*Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	cfg.Sanitize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Sanitize replaces non-positive limits with their defaults.
func (c *Config) Sanitize() {
	if c.IP == "" {
		c.IP = defaultIP
	}
	if c.Port <= 0 {
		c.Port = defaultPort
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}
	if c.RateLimitBurst <= 0 {
		c.RateLimitBurst = defaultRateLimitBurst
	}
	if c.RateLimitRefillInterval <= 0 {
		c.RateLimitRefillInterval = defaultRateLimitRefill
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = defaultAckTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = defaultSendBufferSize
	}
}

// Validate checks the struct constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.IP, strconv.Itoa(c.Port))
}

// Origins splits AllowedOrigins into trimmed, non-empty entries.
func (c *Config) Origins() []string {
	parts := strings.Split(c.AllowedOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// RateLimit returns the per-connection throttling settings.
func (c *Config) RateLimit() RateLimit {
	return RateLimit{Burst: c.RateLimitBurst, RefillInterval: c.RateLimitRefillInterval}
}

// TemplateGlob is the pattern matched against TemplatePath.
func (c *Config) TemplateGlob() string {
	return filepath.Join(c.TemplatePath, "*.html")
}
