package internal

import (
	"chat-sync/errors"
	"fmt"
	"os"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"google.golang.org/grpc/backoff"
)

const (
	TransportWebSocket = "websocket"
	TransportGRPC      = "grpc"
)

var validate = validator.New()

type Config struct {
	APIURL    string `env:"CHAT_API_URL,required=true" validate:"required,url"`
	LiveURL   string `env:"CHAT_LIVE_URL" validate:"omitempty,url"`
	GRPCAddr  string `env:"CHAT_GRPC_ADDR" validate:"required_if=Transport grpc"`
	Transport string `env:"CHAT_TRANSPORT,default=websocket" validate:"oneof=websocket grpc"`
	Token     string `env:"CHAT_TOKEN"`

	HistoryLimit   int           `env:"HISTORY_LIMIT,default=200" validate:"gt=0"`
	HistoryTimeout time.Duration `env:"HISTORY_TIMEOUT,default=10s" validate:"gt=0"`
	DialTimeout    time.Duration `env:"DIAL_TIMEOUT,default=10s" validate:"gt=0"`
	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT,default=5s" validate:"gt=0"`

	BackoffBaseDelay  time.Duration `env:"BACKOFF_BASE_DELAY,default=500ms" validate:"gt=0"`
	BackoffMultiplier float64       `env:"BACKOFF_MULTIPLIER,default=1.6" validate:"gte=1"`
	BackoffJitter     float64       `env:"BACKOFF_JITTER,default=0.2" validate:"gte=0,lt=1"`
	BackoffMaxDelay   time.Duration `env:"BACKOFF_MAX_DELAY,default=30s" validate:"gtfield=BackoffBaseDelay"`
	DegradedGrace     time.Duration `env:"DEGRADED_GRACE,default=10s" validate:"gte=0"`

	BufferSize       int           `env:"BUFFER_SIZE,default=256" validate:"gt=0"`
	SinkTimeout      time.Duration `env:"SINK_TIMEOUT,default=2s" validate:"gt=0"`
	RestartInterval  time.Duration `env:"RESTART_INTERVAL,default=1s" validate:"gt=0"`
	LatencyThreshold time.Duration `env:"LATENCY_THRESHOLD,default=500ms" validate:"gt=0"`
	MaxContentLength int           `env:"MAX_CONTENT_LENGTH,default=2000" validate:"gt=0"`

	LogLevel    string `env:"LOG_LEVEL,default=INFO"`
	LogFile     string `env:"LOG_FILE"`
	MetricsAddr string `env:"METRICS_ADDR" validate:"omitempty,hostname_port"`
}

// LoadConfig reads the optional dotenv files into the environment, then the environment into a Config.
func LoadConfig(dotenv ...string) (Config, error) {
	if err := loadDotenv(dotenv...); err != nil {
		return Config{}, err
	}
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return Config{}, fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err)
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err)
	}
	return nil
}

func (c Config) Backoff() backoff.Config {
	return backoff.Config{
		BaseDelay:  c.BackoffBaseDelay,
		Multiplier: c.BackoffMultiplier,
		Jitter:     c.BackoffJitter,
		MaxDelay:   c.BackoffMaxDelay,
	}
}

// LiveBaseURL is CHAT_LIVE_URL when set, the API origin otherwise.
func (c Config) LiveBaseURL() string {
	if c.LiveURL != "" {
		return c.LiveURL
	}
	return c.APIURL
}

// ReadToken returns CHAT_TOKEN as currently written in the dotenv file,
// falling back to the process environment when the file does not define it.
func ReadToken(path string) (string, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		if os.IsNotExist(err) {
			return os.Getenv("CHAT_TOKEN"), nil
		}
		return "", fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err)
	}
	if token, ok := values["CHAT_TOKEN"]; ok {
		return token, nil
	}
	return os.Getenv("CHAT_TOKEN"), nil
}

// loadDotenv ignores missing files; existing variables are never overridden.
func loadDotenv(paths ...string) error {
	for _, path := range paths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err)
		}
	}
	return nil
}
