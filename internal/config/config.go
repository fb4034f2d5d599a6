package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DBFile    string
	ServerURL string
	UserID    string
	Token     string

	ReconnectMaxAttempts int
	ReconnectBase        time.Duration
	ReconnectCap         time.Duration

	IdleAfter     time.Duration
	Heartbeat     time.Duration
	DraftDebounce time.Duration
}

func Load(cliMode bool) (*Config, error) {
	maxAttempts, err := strconv.Atoi(getEnv("RECONNECT_MAX_ATTEMPTS", "5"))
	if err != nil {
		return nil, fmt.Errorf("RECONNECT_MAX_ATTEMPTS: %w", err)
	}

	cfg := &Config{
		DBFile:               getEnv("DOMOFON_DB", "domofon.db"),
		ServerURL:            getEnv("SERVER_URL", ""),
		UserID:               getEnv("USER_ID", ""),
		Token:                os.Getenv("TOKEN"),
		ReconnectMaxAttempts: maxAttempts,
	}

	for _, d := range []struct {
		key      string
		fallback string
		dst      *time.Duration
	}{
		{"RECONNECT_BASE", "1s", &cfg.ReconnectBase},
		{"RECONNECT_CAP", "30s", &cfg.ReconnectCap},
		{"IDLE_AFTER", "5m", &cfg.IdleAfter},
		{"HEARTBEAT", "30s", &cfg.Heartbeat},
		{"DRAFT_DEBOUNCE", "2s", &cfg.DraftDebounce},
	} {
		v, err := time.ParseDuration(getEnv(d.key, d.fallback))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = v
	}

	if err := cfg.Validate(cliMode); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate(cliMode bool) error {
	if c.ServerURL == "" && !cliMode {
		return fmt.Errorf("SERVER_URL is required")
	}

	if c.UserID == "" && !cliMode {
		return fmt.Errorf("USER_ID is required")
	}

	if c.ReconnectMaxAttempts < 0 {
		return fmt.Errorf("RECONNECT_MAX_ATTEMPTS must not be negative")
	}

	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"RECONNECT_BASE", c.ReconnectBase},
		{"RECONNECT_CAP", c.ReconnectCap},
		{"IDLE_AFTER", c.IdleAfter},
		{"HEARTBEAT", c.Heartbeat},
		{"DRAFT_DEBOUNCE", c.DraftDebounce},
	} {
		if d.value <= 0 {
			return fmt.Errorf("%s must be greater than 0", d.name)
		}
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
