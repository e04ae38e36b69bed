package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Rate limiter backends.
const (
	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName                string
	AppEnv                 string
	AppPort                string
	DatabaseURL            string
	DBMaxOpenConns         int
	DBMaxIdleConns         int
	DBConnMaxLifetime      time.Duration
	RedisURL               string
	NATSURL                string
	RealtimeChannel        string
	JWTSecret              string
	MLServiceURL           string
	MLServiceKey           string
	MLTimeout              time.Duration
	MaxFrameBytes          int
	RateLimitCount         int
	RateLimitWindow        time.Duration
	RateLimitBackend       string
	SnapshotWorkers        int
	SnapshotQueueSize      int
	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryUploadFolder string
	CaptureIntervalMs      int
	CaptureWidth           int
	CaptureHeight          int
	CaptureJPEGQuality     int
	MonitorKeepAlive       time.Duration
	CORSAllowOrigins       string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("PROCTOR")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "FairGig Proctor API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("cors.allow_origins", "*")
	v.SetDefault("realtime.channel", "proctor")
	v.SetDefault("ml.service_url", "http://localhost:8000")
	v.SetDefault("ml.service_key", "dev-key")
	v.SetDefault("ml.timeout_ms", 5000)
	v.SetDefault("frame.max_bytes", 5*1024*1024)
	v.SetDefault("ratelimit.count", 5)
	v.SetDefault("ratelimit.window_ms", 1000)
	v.SetDefault("ratelimit.backend", RateLimitBackendMemory)
	v.SetDefault("snapshot.workers", 2)
	v.SetDefault("snapshot.queue_size", 64)
	v.SetDefault("cloudinary.folder", "fairgig/snapshots")
	v.SetDefault("capture.interval_ms", 500)
	v.SetDefault("capture.width", 640)
	v.SetDefault("capture.height", 480)
	v.SetDefault("capture.jpeg_quality", 80)
	v.SetDefault("monitor.keepalive", "30s")

	keepAlive, err := time.ParseDuration(v.GetString("monitor.keepalive"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid monitor keepalive: %w", err)
	}

	connLifetime, err := time.ParseDuration(v.GetString("database.conn_max_lifetime"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid database connection lifetime: %w", err)
	}

	timeoutMs := v.GetInt("ml.timeout_ms")
	if timeoutMs <= 0 {
		timeoutMs = 5000
	}

	windowMs := v.GetInt("ratelimit.window_ms")
	if windowMs <= 0 {
		windowMs = 1000
	}

	cfg := Config{
		AppName:                v.GetString("app.name"),
		AppEnv:                 v.GetString("app.env"),
		AppPort:                v.GetString("app.port"),
		DatabaseURL:            v.GetString("database.url"),
		DBMaxOpenConns:         v.GetInt("database.max_open_conns"),
		DBMaxIdleConns:         v.GetInt("database.max_idle_conns"),
		DBConnMaxLifetime:      connLifetime,
		RedisURL:               v.GetString("redis.url"),
		NATSURL:                v.GetString("nats.url"),
		RealtimeChannel:        v.GetString("realtime.channel"),
		JWTSecret:              v.GetString("jwt.secret"),
		MLServiceURL:           strings.TrimRight(v.GetString("ml.service_url"), "/"),
		MLServiceKey:           v.GetString("ml.service_key"),
		MLTimeout:              time.Duration(timeoutMs) * time.Millisecond,
		MaxFrameBytes:          v.GetInt("frame.max_bytes"),
		RateLimitCount:         v.GetInt("ratelimit.count"),
		RateLimitWindow:        time.Duration(windowMs) * time.Millisecond,
		RateLimitBackend:       strings.ToLower(v.GetString("ratelimit.backend")),
		SnapshotWorkers:        v.GetInt("snapshot.workers"),
		SnapshotQueueSize:      v.GetInt("snapshot.queue_size"),
		CloudinaryCloudName:    v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:       v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:    v.GetString("cloudinary.api_secret"),
		CloudinaryUploadFolder: v.GetString("cloudinary.folder"),
		CaptureIntervalMs:      v.GetInt("capture.interval_ms"),
		CaptureWidth:           v.GetInt("capture.width"),
		CaptureHeight:          v.GetInt("capture.height"),
		CaptureJPEGQuality:     v.GetInt("capture.jpeg_quality"),
		MonitorKeepAlive:       keepAlive,
		CORSAllowOrigins:       v.GetString("cors.allow_origins"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = 5 * 1024 * 1024
	}

	if cfg.RateLimitCount <= 0 {
		cfg.RateLimitCount = 5
	}

	switch cfg.RateLimitBackend {
	case RateLimitBackendMemory:
	case RateLimitBackendRedis:
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("redis rate limit backend requires redis url")
		}
	default:
		return Config{}, fmt.Errorf("unknown rate limit backend %q", cfg.RateLimitBackend)
	}

	if cfg.SnapshotWorkers <= 0 {
		cfg.SnapshotWorkers = 1
	}

	if cfg.SnapshotQueueSize <= 0 {
		cfg.SnapshotQueueSize = 64
	}

	return cfg, nil
}
