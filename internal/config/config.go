package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"

	"smiledash/internal/backend"
	"smiledash/internal/log"
)

// DefaultDriveLink is the sharing link of the monthly dashboard sheet.
const DefaultDriveLink = "https://docs.google.com/spreadsheets/d/1iVq7BxrI7HBnjKR_BM9-TvOnYinGeF0a/edit?usp=sharing&ouid=108175523352005481997&rtpof=true&sd=true"

type Config struct {
	// HTTP Server
	Port            string        `envconfig:"PORT" default:"8081"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s" validate:"gt=0"`
	TrustedProxies  []string      `envconfig:"TRUSTED_PROXIES"`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text" validate:"oneof=text json"`

	// Workbook source
	FetchBackend  string        `envconfig:"FETCH_BACKEND" default:"direct"`
	DriveLink     string        `envconfig:"DRIVE_LINK" default:"https://docs.google.com/spreadsheets/d/1iVq7BxrI7HBnjKR_BM9-TvOnYinGeF0a/edit?usp=sharing&ouid=108175523352005481997&rtpof=true&sd=true"`
	DriveAPIKey   string        `envconfig:"DRIVE_API_KEY"`
	LocalFile     string        `envconfig:"LOCAL_FILE"`
	SheetName     string        `envconfig:"SHEET_NAME" default:"Planilha1" validate:"required"`
	LayoutFile    string        `envconfig:"LAYOUT_FILE"`
	FetchTimeout  time.Duration `envconfig:"FETCH_TIMEOUT" default:"60s" validate:"gt=0"`
	FetchMaxBytes int64         `envconfig:"FETCH_MAX_BYTES" default:"33554432" validate:"gt=0"`
	CacheTTL      time.Duration `envconfig:"CACHE_TTL" default:"0s" validate:"gte=0"`

	// AMQP
	AMQPURL        string `envconfig:"AMQP_URL"`
	AMQPExchange   string `envconfig:"AMQP_EXCHANGE" default:"smiledash"`
	AMQPRoutingKey string `envconfig:"AMQP_ROUTING_KEY" default:"report.extracted"`

	// Refresh rate limiting
	RefreshRPS   float64 `envconfig:"REFRESH_RPS" default:"0.2" validate:"gt=0"`
	RefreshBurst int     `envconfig:"REFRESH_BURST" default:"3" validate:"min=1"`
}

// Load reads the configuration from the environment, applying defaults.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errs []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Sprintf("invalid log level '%s': must be one of debug, info, warn, error", c.LogLevel))
	}

	// Validate backend selection and its requirements
	bt := backend.BackendType(c.FetchBackend)
	if !bt.IsValid() {
		errs = append(errs, fmt.Sprintf("invalid fetch backend '%s': must be one of %v", c.FetchBackend, backend.GetBackendTypeStrings()))
	} else if err := c.BackendConfig().Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	if bt == backend.FileBackend && c.LocalFile != "" {
		if _, err := os.Stat(c.LocalFile); err != nil {
			errs = append(errs, fmt.Sprintf("local workbook does not exist: %s", c.LocalFile))
		}
	}

	if c.LayoutFile != "" {
		if _, err := os.Stat(c.LayoutFile); err != nil {
			errs = append(errs, fmt.Sprintf("layout file does not exist: %s", c.LayoutFile))
		}
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL: %v", err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errs = append(errs, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errs = append(errs, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPRoutingKey == "" {
			errs = append(errs, "AMQP routing key cannot be empty when AMQP URL is provided")
		}
	}

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Sprintf("invalid %s '%v': failed '%s' check", fe.Field(), fe.Value(), fieldRule(fe)))
			}
		} else {
			errs = append(errs, err.Error())
		}
	}

	// Return combined errors
	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errs, "\n- "))
	}

	return nil
}

func fieldRule(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return fe.Tag() + "=" + fe.Param()
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string { return ":" + c.Port }

// Level returns the parsed log level, info when unparseable.
func (c *Config) Level() slog.Level {
	lvl, _ := log.ParseLevel(c.LogLevel)
	return lvl
}

// BackendConfig extracts the fetcher settings.
func (c *Config) BackendConfig() backend.Config {
	return backend.Config{
		Type:      backend.BackendType(c.FetchBackend),
		DriveLink: c.DriveLink,
		APIKey:    c.DriveAPIKey,
		LocalFile: c.LocalFile,
		Timeout:   c.FetchTimeout,
		MaxBytes:  c.FetchMaxBytes,
	}
}

// AMQPEnabled reports whether report events should be published.
func (c *Config) AMQPEnabled() bool { return c.AMQPURL != "" }
