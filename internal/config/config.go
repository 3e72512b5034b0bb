package config

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/go-playground/validator/v10"

	"yachtlog-go/internal/auth"
)

const (
	appName   = "yachtlog"
	envPrefix = "YACHTLOG_"
)

// ErrMissingEncryptionKey is returned when disk storage has no EncryptionKey.
var ErrMissingEncryptionKey = errors.New("storage EncryptionKey is required unless storage is ephemeral")

// Config holds all configuration for the application.
type Config struct {
	LogLevel  string `json:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `json:"log_format" validate:"oneof=console json"`
	LogFile   string `json:"log_file"`

	// OAuth settings are checked when a login starts, not here, so the
	// client can run signed out without them.
	OAuth struct {
		ClientID              string   `json:"client_id"`
		RedirectURI           string   `json:"redirect_uri"`
		AuthorizationEndpoint string   `json:"authorization_endpoint"`
		TokenEndpoint         string   `json:"token_endpoint"`
		RefreshTokenEndpoint  string   `json:"refresh_token_endpoint"`
		Scopes                string   `json:"scopes"`
		VerifierLength        int      `json:"verifier_length" validate:"omitempty,min=43,max=128"`
		ExchangeTimeout       Duration `json:"exchange_timeout" validate:"min=1s"`
		SessionTimeout        Duration `json:"session_timeout" validate:"min=1s"`
	} `json:"oauth"`

	API struct {
		BaseURL  string   `json:"base_url" validate:"required,url"`
		Timeout  Duration `json:"timeout" validate:"min=1s"`
		PageSize int      `json:"page_size" validate:"min=1,max=100"`
	} `json:"api"`

	Storage struct {
		DBPath        string   `json:"db_path" validate:"required"`
		EncryptionKey string   `json:"encryption_key" validate:"omitempty,len=64,hexadecimal"`
		MaxOpenConns  int      `json:"max_open_conns" validate:"min=1"`
		BusyTimeout   Duration `json:"busy_timeout" validate:"min=0"`
		// Ephemeral keeps credentials in process memory only.
		Ephemeral bool `json:"ephemeral"`
	} `json:"storage"`

	Server struct {
		Port        int `json:"port" validate:"gte=0,lte=65535"`
		MetricsPort int `json:"metrics_port" validate:"gte=0,lte=65535"`
	} `json:"server"`

	Worker struct {
		NumWorkers int `json:"num_workers" validate:"min=1"`
		MaxRetries int `json:"max_retries" validate:"min=0"`
		QueueSize  int `json:"queue_size" validate:"min=1"`
	} `json:"worker"`
}

// Duration is a wrapper around time.Duration that implements JSON marshaling/unmarshaling
type Duration struct {
	time.Duration
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		var err error
		d.Duration, err = time.ParseDuration(value)
		if err != nil {
			return err
		}
		return nil
	default:
		return fmt.Errorf("invalid duration")
	}
}

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Default returns the configuration used before the file and environment
// are applied.
func Default() *Config {
	var c Config
	c.LogLevel = "info"
	c.LogFormat = "console"

	c.OAuth.Scopes = "openid profile offline_access"
	c.OAuth.VerifierLength = auth.DefaultVerifierLength
	c.OAuth.ExchangeTimeout = Duration{auth.DefaultExchangeTimeout}
	c.OAuth.SessionTimeout = Duration{5 * time.Minute}

	c.API.BaseURL = "https://api0.superyachtapi.com/api"
	c.API.Timeout = Duration{30 * time.Second}
	c.API.PageSize = 25

	c.Storage.DBPath = filepath.Join(xdg.DataHome, appName, appName+".db")
	c.Storage.MaxOpenConns = 4
	c.Storage.BusyTimeout = Duration{5 * time.Second}

	c.Server.Port = 8765
	c.Server.MetricsPort = 9090

	c.Worker.NumWorkers = 4
	c.Worker.MaxRetries = 3
	c.Worker.QueueSize = 64
	return &c
}

// DefaultPath is where Load looks for the config file.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, appName, "config.json")
}

// Load reads the config file at path, or DefaultPath when path is empty,
// then applies environment overrides. Only an explicitly named file has to
// exist.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides overrides config fields with YACHTLOG_* variables.
func (c *Config) applyEnvOverrides() error {
	strs := map[string]*string{
		"LOG_LEVEL":                    &c.LogLevel,
		"LOG_FORMAT":                   &c.LogFormat,
		"LOG_FILE":                     &c.LogFile,
		"OAUTH_CLIENT_ID":              &c.OAuth.ClientID,
		"OAUTH_REDIRECT_URI":           &c.OAuth.RedirectURI,
		"OAUTH_AUTHORIZATION_ENDPOINT": &c.OAuth.AuthorizationEndpoint,
		"OAUTH_TOKEN_ENDPOINT":         &c.OAuth.TokenEndpoint,
		"OAUTH_REFRESH_TOKEN_ENDPOINT": &c.OAuth.RefreshTokenEndpoint,
		"OAUTH_SCOPES":                 &c.OAuth.Scopes,
		"API_BASE_URL":                 &c.API.BaseURL,
		"DB_PATH":                      &c.Storage.DBPath,
		"ENCRYPTION_KEY":               &c.Storage.EncryptionKey,
	}
	for name, dst := range strs {
		if v := os.Getenv(envPrefix + name); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"OAUTH_VERIFIER_LENGTH": &c.OAuth.VerifierLength,
		"API_PAGE_SIZE":         &c.API.PageSize,
		"DB_MAX_OPEN_CONNS":     &c.Storage.MaxOpenConns,
		"HTTP_PORT":             &c.Server.Port,
		"METRICS_PORT":          &c.Server.MetricsPort,
		"NUM_WORKERS":           &c.Worker.NumWorkers,
		"MAX_RETRIES":           &c.Worker.MaxRetries,
		"QUEUE_SIZE":            &c.Worker.QueueSize,
	}
	for name, dst := range ints {
		if v := os.Getenv(envPrefix + name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parsing %s%s: %w", envPrefix, name, err)
			}
			*dst = n
		}
	}

	durations := map[string]*Duration{
		"OAUTH_EXCHANGE_TIMEOUT": &c.OAuth.ExchangeTimeout,
		"OAUTH_SESSION_TIMEOUT":  &c.OAuth.SessionTimeout,
		"API_TIMEOUT":            &c.API.Timeout,
		"DB_BUSY_TIMEOUT":        &c.Storage.BusyTimeout,
	}
	for name, dst := range durations {
		if v := os.Getenv(envPrefix + name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("parsing %s%s: %w", envPrefix, name, err)
			}
			*dst = Duration{d}
		}
	}

	if v := os.Getenv(envPrefix + "EPHEMERAL"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("parsing %sEPHEMERAL: %w", envPrefix, err)
		}
		c.Storage.Ephemeral = b
	}

	return nil
}

// validate checks the configuration for errors.
func (c *Config) validate() error {
	validate := validator.New()

	// Register custom validation for Duration
	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if duration, ok := field.Interface().(Duration); ok {
			return duration.Duration
		}
		return nil
	}, Duration{})

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	// Ephemeral storage keeps nothing on disk and takes no key.
	if c.Storage.EncryptionKey == "" && !c.Storage.Ephemeral {
		return fmt.Errorf("validation failed: %w", ErrMissingEncryptionKey)
	}
	return nil
}

// EncryptionKey decodes the hex storage key.
func (c *Config) EncryptionKey() ([]byte, error) {
	key, err := hex.DecodeString(c.Storage.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("decoding encryption key: %w", err)
	}
	return key, nil
}

// AuthConfig returns the OAuth client settings for the auth controller.
func (c *Config) AuthConfig() auth.Config {
	return auth.Config{
		ClientID:              c.OAuth.ClientID,
		RedirectURI:           c.OAuth.RedirectURI,
		AuthorizationEndpoint: c.OAuth.AuthorizationEndpoint,
		TokenEndpoint:         c.OAuth.TokenEndpoint,
		RefreshTokenEndpoint:  c.OAuth.RefreshTokenEndpoint,
		Scopes:                strings.Fields(c.OAuth.Scopes),
		VerifierLength:        c.OAuth.VerifierLength,
		ExchangeTimeout:       c.OAuth.ExchangeTimeout.Duration,
	}
}
