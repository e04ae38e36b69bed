package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// AgentFileConfig represents the agent TOML configuration file.
type AgentFileConfig struct {
	Endpoint          *string `toml:"endpoint"`
	Token             *string `toml:"token"`
	CameraDir         *string `toml:"camera-dir"`
	BufferPath        *string `toml:"buffer-path"`
	FrameIntervalMs   *int    `toml:"frame-interval-ms"`
	FrameWidth        *int    `toml:"frame-width"`
	FrameHeight       *int    `toml:"frame-height"`
	JPEGQuality       *int    `toml:"jpeg-quality"`
	MaxQueueSize      *int    `toml:"max-queue-size"`
	MaxRetries        *int    `toml:"max-retries"`
	RetryDelayMs      *int    `toml:"retry-delay-ms"`
	ResyncOnReconnect *bool   `toml:"resync-on-reconnect"`
	ServerRateLimit   *int    `toml:"server-rate-limit"`
	ServerRateWindow  *int    `toml:"server-rate-window-ms"`
	LogLevel          *string `toml:"log-level"`
}

// AgentConfig is the resolved agent configuration.
type AgentConfig struct {
	Endpoint          string
	Token             string
	CameraDir         string
	BufferPath        string
	FrameInterval     time.Duration
	FrameWidth        int
	FrameHeight       int
	JPEGQuality       int
	MaxQueueSize      int
	MaxRetries        int
	RetryDelay        time.Duration
	ResyncOnReconnect bool
	// ServerRateLimit frames per ServerRateWindow are accepted per session.
	ServerRateLimit  int
	ServerRateWindow time.Duration
	LogLevel         string
}

// DefaultAgentConfig mirrors the capture settings the API hands out at session start.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		Endpoint:      "http://localhost:8080/api/v1/frame",
		BufferPath:    DefaultBufferPath(),
		FrameInterval: 500 * time.Millisecond,
		FrameWidth:    640,
		FrameHeight:   480,
		JPEGQuality:   80,
		MaxQueueSize:  50,
		MaxRetries:    3,
		RetryDelay:    time.Second,
		LogLevel:      "info",

		ServerRateLimit:  5,
		ServerRateWindow: time.Second,
	}
}

// LoadAgentConfig reads a TOML config from the given path. Missing file is not an error.
func LoadAgentConfig(path string) (AgentFileConfig, error) {
	if path == "" {
		return AgentFileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return AgentFileConfig{}, nil
		}
		return AgentFileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var cfg AgentFileConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return AgentFileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// Apply overlays values present in the file onto cfg.
func (f AgentFileConfig) Apply(cfg AgentConfig) AgentConfig {
	if f.Endpoint != nil {
		cfg.Endpoint = *f.Endpoint
	}
	if f.Token != nil {
		cfg.Token = *f.Token
	}
	if f.CameraDir != nil {
		cfg.CameraDir = *f.CameraDir
	}
	if f.BufferPath != nil {
		cfg.BufferPath = *f.BufferPath
	}
	if f.FrameIntervalMs != nil && *f.FrameIntervalMs > 0 {
		cfg.FrameInterval = time.Duration(*f.FrameIntervalMs) * time.Millisecond
	}
	if f.FrameWidth != nil && *f.FrameWidth > 0 {
		cfg.FrameWidth = *f.FrameWidth
	}
	if f.FrameHeight != nil && *f.FrameHeight > 0 {
		cfg.FrameHeight = *f.FrameHeight
	}
	if f.JPEGQuality != nil && *f.JPEGQuality > 0 {
		cfg.JPEGQuality = *f.JPEGQuality
	}
	if f.MaxQueueSize != nil && *f.MaxQueueSize > 0 {
		cfg.MaxQueueSize = *f.MaxQueueSize
	}
	if f.MaxRetries != nil && *f.MaxRetries >= 0 {
		cfg.MaxRetries = *f.MaxRetries
	}
	if f.RetryDelayMs != nil && *f.RetryDelayMs >= 0 {
		cfg.RetryDelay = time.Duration(*f.RetryDelayMs) * time.Millisecond
	}
	if f.ResyncOnReconnect != nil {
		cfg.ResyncOnReconnect = *f.ResyncOnReconnect
	}
	if f.ServerRateLimit != nil && *f.ServerRateLimit > 0 {
		cfg.ServerRateLimit = *f.ServerRateLimit
	}
	if f.ServerRateWindow != nil && *f.ServerRateWindow > 0 {
		cfg.ServerRateWindow = time.Duration(*f.ServerRateWindow) * time.Millisecond
	}
	if f.LogLevel != nil {
		cfg.LogLevel = *f.LogLevel
	}
	return cfg
}

// XDGConfigHome returns the XDG config home or a default fallback.
func XDGConfigHome() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "."
	}
	return filepath.Join(home, ".config")
}

// XDGDataHome returns the XDG data home or a default fallback.
func XDGDataHome() string {
	if v := os.Getenv("XDG_DATA_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "."
	}
	return filepath.Join(home, ".local", "share")
}

// DefaultAgentConfigPath returns the default TOML config path.
func DefaultAgentConfigPath() string {
	return filepath.Join(XDGConfigHome(), "fairgig", "agent.toml")
}

// DefaultBufferPath returns the default path of the local frame buffer database.
func DefaultBufferPath() string {
	return filepath.Join(XDGDataHome(), "fairgig", "buffer.db")
}
