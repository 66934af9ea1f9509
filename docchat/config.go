package docchat

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	// DefaultSocketURL is the local development chat endpoint.
	DefaultSocketURL = "ws://localhost:8000/api/v1/chat"

	// DefaultAPIURL is the local development document store endpoint.
	DefaultAPIURL = "http://localhost:8000/api/v1"

	envSocketURL = "DOCCHAT_SOCKET_URL"
	envAPIURL    = "DOCCHAT_API_URL"
)

// Config controls how the SDK connects.
type Config struct {
	URL    string `validate:"required,url"`
	APIURL string `validate:"omitempty,url"`

	HandshakeTimeout time.Duration `validate:"gte=0"`
	WriteTimeout     time.Duration `validate:"gte=0"`

	// AutoReconnect redials after every disconnect or failed dial.
	AutoReconnect            bool
	ReconnectInitialInterval time.Duration `validate:"gt=0"`
	ReconnectMaxInterval     time.Duration `validate:"gtefield=ReconnectInitialInterval"`
	ReconnectMultiplier      float64       `validate:"gte=1"`
	// ReconnectMaxAttempts caps consecutive failed attempts; 0 retries forever.
	ReconnectMaxAttempts int `validate:"gte=0"`

	// TurnTimeout bounds the wait for a reply; 0 waits forever.
	TurnTimeout     time.Duration `validate:"gte=0"`
	IndicatorPeriod time.Duration `validate:"gt=0"`
	FrameMode       FrameMode
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:                      DefaultSocketURL,
		APIURL:                   DefaultAPIURL,
		HandshakeTimeout:         10 * time.Second,
		WriteTimeout:             10 * time.Second,
		AutoReconnect:            true,
		ReconnectInitialInterval: 500 * time.Millisecond,
		ReconnectMaxInterval:     30 * time.Second,
		ReconnectMultiplier:      2,
		ReconnectMaxAttempts:     10,
		TurnTimeout:              60 * time.Second,
		IndicatorPeriod:          500 * time.Millisecond,
		FrameMode:                FramesTolerant,
	}
}

// LoadConfig returns DefaultConfig with endpoint URLs taken from the
// environment and a .env file, when present. An unreadable .env is an error.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, WrapError(ErrorInvalidConfig, "load .env", err)
	}

	cfg.URL = getEnv(envSocketURL, cfg.URL)
	cfg.APIURL = getEnv(envAPIURL, cfg.APIURL)
	return cfg, nil
}

var validate = validator.New()

// Validate checks the config before a driver or coordinator uses it.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return WrapError(ErrorInvalidConfig, "invalid config", err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}
