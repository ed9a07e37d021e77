// Package config loads the signaling relay's runtime configuration from
// environment variables plus a small flag set, validating everything at
// startup so misconfigurations fail fast.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envVarListenAddr      = "KIEL_SIGNALING_LISTEN_ADDR"
	envVarMode            = "KIEL_SIGNALING_MODE"
	envVarLogFormat       = "KIEL_SIGNALING_LOG_FORMAT"
	envVarLogLevel        = "KIEL_SIGNALING_LOG_LEVEL"
	envVarShutdownTimeout = "KIEL_SIGNALING_SHUTDOWN_TIMEOUT"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"

	// WebSocket hardening knobs.
	envVarWSIdleTimeout        = "SIGNALING_WS_IDLE_TIMEOUT"
	envVarWSPingInterval       = "SIGNALING_WS_PING_INTERVAL"
	envVarWSWriteTimeout       = "SIGNALING_WS_WRITE_TIMEOUT"
	envVarMaxMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"
	envVarSendQueueDepth       = "SIGNALING_SEND_QUEUE_DEPTH"

	// Display identity.
	envVarIdentityJWTSecret = "IDENTITY_JWT_SECRET"

	// Optional cross-instance fan-out.
	envVarRedisAddr          = "KIEL_SIGNALING_REDIS_ADDR"
	envVarRedisDB            = "KIEL_SIGNALING_REDIS_DB"
	envVarRedisChannelPrefix = "KIEL_SIGNALING_REDIS_CHANNEL_PREFIX"
)

const (
	DefaultListenAddr      = "127.0.0.1:8080"
	DefaultShutdownTimeout = 15 * time.Second

	DefaultWSIdleTimeout        = 60 * time.Second
	DefaultWSPingInterval       = 20 * time.Second
	DefaultWSWriteTimeout       = 10 * time.Second
	DefaultMaxMessageBytes      = int64(64 * 1024) // enough for any SDP blob
	DefaultMaxMessagesPerSecond = 50
	DefaultSendQueueDepth       = 256

	DefaultRedisChannelPrefix = "kiel:signaling:room:"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	ListenAddr      string
	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	// AllowedOrigins is the browser origin allowlist applied by the HTTP
	// layer. Empty means same-origin only in prod and anything in dev.
	AllowedOrigins []string

	WSIdleTimeout        time.Duration
	WSPingInterval       time.Duration
	WSWriteTimeout       time.Duration
	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	SendQueueDepth       int

	IdentityJWTSecret string

	RedisAddr          string
	RedisDB            int
	RedisChannelPrefix string
}

// BusEnabled reports whether the cross-instance Redis fan-out is configured.
func (c Config) BusEnabled() bool { return c.RedisAddr != "" }

// Load parses configuration from the process environment and args.
func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	cfg := Config{
		ListenAddr:      envOrDefault(lookup, envVarListenAddr, DefaultListenAddr),
		ShutdownTimeout: DefaultShutdownTimeout,

		WSIdleTimeout:        DefaultWSIdleTimeout,
		WSPingInterval:       DefaultWSPingInterval,
		WSWriteTimeout:       DefaultWSWriteTimeout,
		MaxMessageBytes:      DefaultMaxMessageBytes,
		MaxMessagesPerSecond: DefaultMaxMessagesPerSecond,
		SendQueueDepth:       DefaultSendQueueDepth,

		RedisChannelPrefix: DefaultRedisChannelPrefix,
	}

	mode, err := parseMode(envOrDefault(lookup, envVarMode, string(ModeDev)))
	if err != nil {
		return Config{}, err
	}
	cfg.Mode = mode

	format, err := parseLogFormat(envOrDefault(lookup, envVarLogFormat, defaultLogFormat(mode)))
	if err != nil {
		return Config{}, err
	}
	cfg.LogFormat = format

	level, err := parseLogLevel(envOrDefault(lookup, envVarLogLevel, defaultLogLevel(mode)))
	if err != nil {
		return Config{}, err
	}
	cfg.LogLevel = level

	if cfg.ShutdownTimeout, err = envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.WSIdleTimeout, err = envDurationOrDefault(lookup, envVarWSIdleTimeout, DefaultWSIdleTimeout); err != nil {
		return Config{}, err
	}
	if cfg.WSPingInterval, err = envDurationOrDefault(lookup, envVarWSPingInterval, DefaultWSPingInterval); err != nil {
		return Config{}, err
	}
	if cfg.WSWriteTimeout, err = envDurationOrDefault(lookup, envVarWSWriteTimeout, DefaultWSWriteTimeout); err != nil {
		return Config{}, err
	}
	if cfg.WSPingInterval >= cfg.WSIdleTimeout {
		return Config{}, fmt.Errorf("%s must be shorter than %s", envVarWSPingInterval, envVarWSIdleTimeout)
	}

	maxBytes, err := envIntOrDefault(lookup, envVarMaxMessageBytes, int(DefaultMaxMessageBytes))
	if err != nil {
		return Config{}, err
	}
	if maxBytes <= 0 {
		return Config{}, fmt.Errorf("%s must be positive", envVarMaxMessageBytes)
	}
	cfg.MaxMessageBytes = int64(maxBytes)

	if cfg.MaxMessagesPerSecond, err = envIntOrDefault(lookup, envVarMaxMessagesPerSecond, DefaultMaxMessagesPerSecond); err != nil {
		return Config{}, err
	}
	if cfg.MaxMessagesPerSecond <= 0 {
		return Config{}, fmt.Errorf("%s must be positive", envVarMaxMessagesPerSecond)
	}

	if cfg.SendQueueDepth, err = envIntOrDefault(lookup, envVarSendQueueDepth, DefaultSendQueueDepth); err != nil {
		return Config{}, err
	}
	if cfg.SendQueueDepth <= 0 {
		return Config{}, fmt.Errorf("%s must be positive", envVarSendQueueDepth)
	}

	if raw, ok := lookup(envVarAllowedOrigins); ok {
		cfg.AllowedOrigins = splitCSV(raw)
	}

	cfg.IdentityJWTSecret = envOrDefault(lookup, envVarIdentityJWTSecret, "")

	cfg.RedisAddr = envOrDefault(lookup, envVarRedisAddr, "")
	if cfg.RedisDB, err = envIntOrDefault(lookup, envVarRedisDB, 0); err != nil {
		return Config{}, err
	}
	cfg.RedisChannelPrefix = envOrDefault(lookup, envVarRedisChannelPrefix, DefaultRedisChannelPrefix)

	// Flags override the environment for the common local-dev knobs.
	fs := flag.NewFlagSet("kiel-signaling-relay", flag.ContinueOnError)
	fs.StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr, "TCP listen address")
	modeFlag := fs.String("mode", string(cfg.Mode), "dev or prod")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if cfg.Mode, err = parseMode(*modeFlag); err != nil {
		return Config{}, err
	}

	if cfg.ListenAddr == "" {
		return Config{}, fmt.Errorf("listen address must not be empty")
	}

	return cfg, nil
}

// NewLogger builds the process logger from the loaded config.
func NewLogger(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	var handler slog.Handler
	if cfg.LogFormat == LogFormatJSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	v, ok := lookup(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	v, ok := lookup(key)
	if !ok || v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}

func parseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeDev:
		return ModeDev, nil
	case ModeProd:
		return ModeProd, nil
	default:
		return "", fmt.Errorf("%s: unsupported mode %q", envVarMode, raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch LogFormat(strings.ToLower(strings.TrimSpace(raw))) {
	case LogFormatText:
		return LogFormatText, nil
	case LogFormatJSON:
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("%s: unsupported log format %q", envVarLogFormat, raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%s: unsupported log level %q", envVarLogLevel, raw)
	}
}

func defaultLogFormat(mode Mode) string {
	if mode == ModeProd {
		return string(LogFormatJSON)
	}
	return string(LogFormatText)
}

func defaultLogLevel(mode Mode) string {
	if mode == ModeProd {
		return "info"
	}
	return "debug"
}

func splitCSV(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
