package e2e

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	APIURL    string `envconfig:"CHAT_API_URL" required:"true"`
	LiveURL   string `envconfig:"CHAT_LIVE_URL"`
	SessionID string `envconfig:"E2E_SESSION_ID" required:"true"`
	Token     string `envconfig:"E2E_TOKEN" required:"true"`
	// E2E_TIMEOUT bounds every step waiting on the backend
	Timeout time.Duration `envconfig:"E2E_TIMEOUT" default:"20s"`
	// E2E_COLOURS enables colorized output for better log readability
	Colours bool `envconfig:"E2E_COLOURS" default:"true"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}

func (c Config) LiveBaseURL() string {
	if c.LiveURL != "" {
		return c.LiveURL
	}
	return c.APIURL
}
