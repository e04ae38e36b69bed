// Package device describes the machine an exam runs on and probes the local
// environment checks attached to every frame.
package device

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/noah-isme/fairgig-proctor/internal/dto"
	"github.com/noah-isme/fairgig-proctor/internal/models"
)

// Visibility states reported in local checks.
const (
	VisibilityVisible = "visible"
	VisibilityHidden  = "hidden"
)

// Device types.
const (
	TypeDesktop = "desktop"
	TypeMobile  = "mobile"
	TypeTablet  = "tablet"
)

const unknown = "Unknown"

// ErrFullscreenUnsupported is returned when the host has no fullscreen capability.
var ErrFullscreenUnsupported = errors.New("fullscreen not supported")

// Fullscreen is the single capability surface for fullscreen control. Platform
// adapters decide how each call is carried out.
type Fullscreen interface {
	Supported() bool
	Request() error
	Exit() error
	Active() bool
}

// Environment reports window focus and visibility.
type Environment interface {
	VisibilityState() string
	HasFocus() bool
}

// Collector snapshots device info once and local checks on every call.
type Collector struct {
	info       models.DeviceInfo
	fullscreen Fullscreen
	env        Environment
}

// NewCollector builds a collector. Nil capabilities fall back to a headless host.
func NewCollector(info models.DeviceInfo, fullscreen Fullscreen, env Environment) *Collector {
	if fullscreen == nil {
		fullscreen = NoFullscreen{}
	}
	if env == nil {
		env = StaticEnvironment{Visibility: VisibilityVisible, Focused: true}
	}
	return &Collector{info: info, fullscreen: fullscreen, env: env}
}

// DeviceInfo returns the device snapshot taken at construction.
func (c *Collector) DeviceInfo() models.DeviceInfo {
	return c.info
}

// LocalChecks probes the environment now.
func (c *Collector) LocalChecks() dto.LocalChecks {
	visibility := c.env.VisibilityState()
	if visibility == "" {
		visibility = VisibilityVisible
	}
	return dto.LocalChecks{
		VisibilityState: visibility,
		IsFullscreen:    c.fullscreen.Supported() && c.fullscreen.Active(),
		TabFocus:        c.env.HasFocus(),
	}
}

// Describe parses a user agent string into device info.
func Describe(userAgent string, screenWidth, screenHeight int) models.DeviceInfo {
	return models.DeviceInfo{
		Browser:      Browser(userAgent),
		OS:           OS(userAgent),
		DeviceType:   Type(userAgent),
		ScreenWidth:  screenWidth,
		ScreenHeight: screenHeight,
	}
}

// Browser extracts the browser family. Edge and Opera embed the Chrome token,
// and Chrome embeds Safari, so the more specific tokens are checked first.
func Browser(userAgent string) string {
	switch {
	case strings.Contains(userAgent, "Edg"):
		return "Edge"
	case strings.Contains(userAgent, "OPR"), strings.Contains(userAgent, "Opera"):
		return "Opera"
	case strings.Contains(userAgent, "Firefox"):
		return "Firefox"
	case strings.Contains(userAgent, "Chrome"):
		return "Chrome"
	case strings.Contains(userAgent, "Safari"):
		return "Safari"
	default:
		return unknown
	}
}

// OS extracts the operating system family.
func OS(userAgent string) string {
	switch {
	case strings.Contains(userAgent, "Android"):
		return "Android"
	case strings.Contains(userAgent, "iPhone"), strings.Contains(userAgent, "iPad"), strings.Contains(userAgent, "iOS"):
		return "iOS"
	case strings.Contains(userAgent, "Win"):
		return "Windows"
	case strings.Contains(userAgent, "Mac"):
		return "MacOS"
	case strings.Contains(userAgent, "Linux"):
		return "Linux"
	default:
		return unknown
	}
}

// Type classifies the device form factor.
func Type(userAgent string) string {
	lower := strings.ToLower(userAgent)
	switch {
	case strings.Contains(lower, "ipad"), strings.Contains(lower, "tablet"):
		return TypeTablet
	case strings.Contains(lower, "mobile"), strings.Contains(lower, "android"), strings.Contains(lower, "iphone"):
		return TypeMobile
	default:
		return TypeDesktop
	}
}

// Host describes the machine running the agent binary.
func Host(screenWidth, screenHeight int) models.DeviceInfo {
	return models.DeviceInfo{
		Browser:      "fairgig-agent",
		OS:           hostOS(runtime.GOOS),
		DeviceType:   TypeDesktop,
		ScreenWidth:  screenWidth,
		ScreenHeight: screenHeight,
	}
}

func hostOS(goos string) string {
	switch goos {
	case "windows":
		return "Windows"
	case "darwin":
		return "MacOS"
	case "linux":
		return "Linux"
	case "android":
		return "Android"
	case "ios":
		return "iOS"
	default:
		return unknown
	}
}

// MeasureLatency times a HEAD request against url in milliseconds.
func MeasureLatency(ctx context.Context, client *http.Client, url string) (int, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	return int(time.Since(start).Milliseconds()), nil
}

// NoFullscreen is the capability of a host without a fullscreen surface.
type NoFullscreen struct{}

func (NoFullscreen) Supported() bool { return false }
func (NoFullscreen) Request() error  { return ErrFullscreenUnsupported }
func (NoFullscreen) Exit() error     { return ErrFullscreenUnsupported }
func (NoFullscreen) Active() bool    { return false }

// StaticEnvironment reports fixed focus and visibility values.
type StaticEnvironment struct {
	Visibility string
	Focused    bool
}

func (e StaticEnvironment) VisibilityState() string { return e.Visibility }
func (e StaticEnvironment) HasFocus() bool          { return e.Focused }
