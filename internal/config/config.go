package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	ListenAddr string
	AdminAddr  string

	AllowedOrigins []string
	MessagesFile   string

	PingInterval time.Duration
	SendBuffer   int
	RateBurst    int
	RateInterval time.Duration

	RedisURL    string
	RedisPrefix string
	SnapshotTTL time.Duration

	LogLevel  string
	LogFormat string
	LogToFile bool
	LogFile   string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:   ":3000",
		AdminAddr:    ":3001",
		PingInterval: 25 * time.Second,
		SendBuffer:   64,
		RateBurst:    8,
		RateInterval: 250 * time.Millisecond,
		RedisPrefix:  "chess-table",
		SnapshotTTL:  24 * time.Hour,
		LogLevel:     "info",
		LogFormat:    "legacy",
		LogFile:      "logs/chess-table.log",
	}

	if v := strings.TrimSpace(os.Getenv("TABLE_LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v, ok := os.LookupEnv("TABLE_ADMIN_ADDR"); ok {
		// empty disables the admin endpoint
		cfg.AdminAddr = strings.TrimSpace(v)
	}
	cfg.AllowedOrigins = splitList(os.Getenv("TABLE_ALLOWED_ORIGINS"))
	cfg.MessagesFile = strings.TrimSpace(os.Getenv("TABLE_MESSAGES_FILE"))

	if d, ok := durationEnv("TABLE_PING_INTERVAL"); ok {
		cfg.PingInterval = d
	}
	if n, ok := positiveIntEnv("TABLE_SEND_BUFFER"); ok {
		cfg.SendBuffer = n
	}
	if n, ok := positiveIntEnv("TABLE_RATE_BURST"); ok {
		cfg.RateBurst = n
	}
	if d, ok := durationEnv("TABLE_RATE_INTERVAL"); ok {
		cfg.RateInterval = d
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	if v := strings.TrimSpace(os.Getenv("TABLE_REDIS_PREFIX")); v != "" {
		cfg.RedisPrefix = v
	}
	if d, ok := durationEnv("TABLE_SNAPSHOT_TTL"); ok {
		cfg.SnapshotTTL = d
	}

	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_FORMAT")); v != "" {
		cfg.LogFormat = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_TO_FILE")); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			cfg.LogToFile = b
		}
	}
	if v := strings.TrimSpace(os.Getenv("LOG_FILE")); v != "" {
		cfg.LogFile = v
	}

	if cfg.ListenAddr == cfg.AdminAddr {
		return nil, errors.New("TABLE_LISTEN_ADDR and TABLE_ADMIN_ADDR must differ")
	}
	return cfg, nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// durationEnv accepts Go durations ("30s") or bare seconds ("30").
func durationEnv(key string) (time.Duration, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d, true
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second, true
	}
	return 0, false
}

func positiveIntEnv(key string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
