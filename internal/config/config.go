// Package config loads relay settings from the environment. A .env file in
// the working directory is read first when present; variables already set in
// the environment win.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the relay process.
type Config struct {
	Env        string
	ServerName string

	// WebSocket server
	ListenAddr     string
	WorkerPoolSize int
	MaxConnections int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	SendQueueSize  int
	MaxFrameBytes  int64

	// Chat
	Rooms              []string
	DefaultRoom        string
	HistoryLimit       int
	MaxAttachmentBytes int

	// Moderation terms added to the default blocklist
	ModerationTerms []string

	// Rate limiting
	RateLimitBurst  int
	RateLimitWindow time.Duration

	// Optional backends; an empty value disables the backend.
	RedisAddr   string
	NATSURL     string
	DatabaseURL string
}

// Load reads configuration from environment variables. Malformed numeric or
// duration values fall back to their defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	serverName, _ := os.Hostname()
	if serverName == "" {
		serverName = "relay-1"
	}

	cfg := &Config{
		Env:                getEnv("ENV", "development"),
		ServerName:         getEnv("SERVER_NAME", serverName),
		ListenAddr:         getEnv("LISTEN_ADDR", ":8080"),
		WorkerPoolSize:     getInt("WORKER_POOL_SIZE", 256),
		MaxConnections:     getInt("MAX_CONNECTIONS", 10000),
		ReadTimeout:        getDuration("READ_TIMEOUT", 10*time.Second),
		WriteTimeout:       getDuration("WRITE_TIMEOUT", 10*time.Second),
		SendQueueSize:      getInt("SEND_QUEUE_SIZE", 256),
		MaxAttachmentBytes: getInt("MAX_ATTACHMENT_BYTES", 5<<20),
		Rooms:              getList("ROOMS", []string{"general", "random", "tech"}),
		HistoryLimit:       getInt("HISTORY_LIMIT", 20),
		ModerationTerms:    getList("MODERATION_EXTRA_TERMS", nil),
		RateLimitBurst:     getInt("RATE_LIMIT_BURST", 10),
		RateLimitWindow:    getDuration("RATE_LIMIT_WINDOW", 10*time.Second),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		NATSURL:            os.Getenv("NATS_URL"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
	}
	// Frames carry base64 attachments, which grow by a third, plus JSON framing.
	cfg.MaxFrameBytes = int64(cfg.MaxAttachmentBytes)*4/3 + 64<<10

	if len(cfg.Rooms) > 0 {
		cfg.DefaultRoom = getEnv("DEFAULT_ROOM", cfg.Rooms[0])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if len(c.Rooms) == 0 {
		return errors.New("config: ROOMS must name at least one room")
	}
	for _, r := range c.Rooms {
		if r == c.DefaultRoom {
			return nil
		}
	}
	return errors.New("config: DEFAULT_ROOM " + strconv.Quote(c.DefaultRoom) + " is not in ROOMS")
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

// getList parses a comma-separated list, dropping blank entries.
func getList(key string, defaultValue []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	var out []string
	for _, entry := range strings.Split(v, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
