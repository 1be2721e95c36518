package runtime

import (
	"math/rand/v2"
	"time"

	"google.golang.org/grpc/backoff"
)

// Backoff computes reconnection delays from a grpc backoff.Config:
// exponential growth from BaseDelay by Multiplier, randomized by Jitter, capped at MaxDelay.
type Backoff struct {
	config backoff.Config
	random func() float64
}

func NewBackoff(config backoff.Config) Backoff {
	if config.BaseDelay <= 0 {
		config.BaseDelay = backoff.DefaultConfig.BaseDelay
	}
	if config.Multiplier < 1 {
		config.Multiplier = backoff.DefaultConfig.Multiplier
	}
	if config.MaxDelay < config.BaseDelay {
		config.MaxDelay = config.BaseDelay
	}
	return Backoff{config: config, random: rand.Float64}
}

// Delay returns the wait before the retry following the given number of
// consecutive failures (1 for the first failure).
func (b Backoff) Delay(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	delay := float64(b.config.BaseDelay)
	maxDelay := float64(b.config.MaxDelay)
	for delay < maxDelay && failures > 1 {
		delay *= b.config.Multiplier
		failures--
	}
	delay *= 1 + b.config.Jitter*(b.random()*2-1)
	if delay > maxDelay {
		delay = maxDelay
	}
	if delay < 0 {
		return 0
	}
	return time.Duration(delay)
}
