package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the sub-agent orchestration daemon.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	MaxConcurrentTasks   int
	PollInterval         time.Duration
	TaskTimeout          time.Duration
	StablePollThreshold  int
	IdleEventDebounce    time.Duration
	WaitPollStep         time.Duration
	ResultCharLimit      int

	ProviderMode      string
	ProviderHTTPURL   string
	ProviderEventsURL string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:            envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:    envOrDefault("APP_METRICS_NAMESPACE", "subagentd"),
		ShutdownTimeout:     15 * time.Second,
		MaxConcurrentTasks:  5,
		PollInterval:        2 * time.Second,
		TaskTimeout:         10 * time.Minute,
		StablePollThreshold: 3,
		IdleEventDebounce:   500 * time.Millisecond,
		WaitPollStep:        250 * time.Millisecond,
		ResultCharLimit:     20000,
		ProviderMode:        envOrDefault("PROVIDER_MODE", "auto"),
		ProviderHTTPURL:     stringsTrimSpace("PROVIDER_HTTP_URL"),
		ProviderEventsURL:   stringsTrimSpace("PROVIDER_EVENTS_WS_URL"),
		DatabaseURL:         stringsTrimSpace("DATABASE_URL"),
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxConcurrentTasks, err = intFromEnv("AGENT_MAX_CONCURRENT", cfg.MaxConcurrentTasks)
	if err != nil {
		return Config{}, err
	}
	cfg.PollInterval, err = durationFromEnv("AGENT_POLL_INTERVAL", cfg.PollInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.TaskTimeout, err = durationFromEnv("AGENT_TASK_TIMEOUT", cfg.TaskTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.StablePollThreshold, err = intFromEnv("AGENT_STABLE_POLL_THRESHOLD", cfg.StablePollThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.IdleEventDebounce, err = durationFromEnv("AGENT_IDLE_DEBOUNCE", cfg.IdleEventDebounce)
	if err != nil {
		return Config{}, err
	}
	cfg.WaitPollStep, err = durationFromEnv("AGENT_WAIT_POLL_STEP", cfg.WaitPollStep)
	if err != nil {
		return Config{}, err
	}
	cfg.ResultCharLimit, err = intFromEnv("AGENT_RESULT_CHAR_LIMIT", cfg.ResultCharLimit)
	if err != nil {
		return Config{}, err
	}

	if cfg.MaxConcurrentTasks <= 0 {
		return Config{}, fmt.Errorf("AGENT_MAX_CONCURRENT must be positive")
	}
	if cfg.PollInterval < 100*time.Millisecond {
		return Config{}, fmt.Errorf("AGENT_POLL_INTERVAL must be at least 100ms")
	}
	if cfg.TaskTimeout < time.Second {
		return Config{}, fmt.Errorf("AGENT_TASK_TIMEOUT must be at least 1s")
	}
	if cfg.StablePollThreshold <= 0 {
		return Config{}, fmt.Errorf("AGENT_STABLE_POLL_THRESHOLD must be positive")
	}
	if cfg.ResultCharLimit <= 0 {
		return Config{}, fmt.Errorf("AGENT_RESULT_CHAR_LIMIT must be positive")
	}

	mode := strings.ToLower(stringsTrimSpace("PROVIDER_MODE"))
	if mode == "" {
		mode = "auto"
	}
	switch mode {
	case "auto", "http", "mock":
		cfg.ProviderMode = mode
	default:
		return Config{}, fmt.Errorf("invalid PROVIDER_MODE: %q (expected auto|http|mock)", cfg.ProviderMode)
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}
