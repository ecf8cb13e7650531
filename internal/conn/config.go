package conn

import "time"

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines transport reliability settings.
type Config struct {
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	// MaxAttempts is the number of consecutive failed dials before giving up.
	// Zero retries forever.
	MaxAttempts int
	ReadLimit   int64
	Backoff     BackoffConfig
}

// DefaultConfig returns the reliability defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 5 * time.Second,
		WriteTimeout:   5 * time.Second,
		MaxAttempts:    8,
		ReadLimit:      1 << 20,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     10 * time.Second,
			Jitter:       true,
		},
	}
}
