package device

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDescribeUserAgents(t *testing.T) {
	cases := []struct {
		name    string
		ua      string
		browser string
		os      string
		kind    string
	}{
		{
			name:    "chrome on windows",
			ua:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
			browser: "Chrome", os: "Windows", kind: TypeDesktop,
		},
		{
			name:    "edge on windows",
			ua:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36 Edg/120.0",
			browser: "Edge", os: "Windows", kind: TypeDesktop,
		},
		{
			name:    "safari on iphone",
			ua:      "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
			browser: "Safari", os: "iOS", kind: TypeMobile,
		},
		{
			name:    "firefox on linux",
			ua:      "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
			browser: "Firefox", os: "Linux", kind: TypeDesktop,
		},
		{
			name:    "chrome on android tablet",
			ua:      "Mozilla/5.0 (Linux; Android 13; Tablet) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
			browser: "Chrome", os: "Android", kind: TypeTablet,
		},
		{name: "empty", ua: "", browser: "Unknown", os: "Unknown", kind: TypeDesktop},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			info := Describe(tc.ua, 1920, 1080)
			require.Equal(t, tc.browser, info.Browser)
			require.Equal(t, tc.os, info.OS)
			require.Equal(t, tc.kind, info.DeviceType)
			require.Equal(t, 1920, info.ScreenWidth)
		})
	}
}

type fakeFullscreen struct {
	supported bool
	active    bool
}

func (f *fakeFullscreen) Supported() bool { return f.supported }
func (f *fakeFullscreen) Request() error  { f.active = true; return nil }
func (f *fakeFullscreen) Exit() error     { f.active = false; return nil }
func (f *fakeFullscreen) Active() bool    { return f.active }

func TestCollectorLocalChecks(t *testing.T) {
	fs := &fakeFullscreen{supported: true}
	env := StaticEnvironment{Visibility: VisibilityHidden, Focused: false}
	collector := NewCollector(Host(1280, 720), fs, env)

	checks := collector.LocalChecks()
	require.Equal(t, VisibilityHidden, checks.VisibilityState)
	require.False(t, checks.IsFullscreen)
	require.False(t, checks.TabFocus)

	require.NoError(t, fs.Request())
	require.True(t, collector.LocalChecks().IsFullscreen)
	require.Equal(t, 1280, collector.DeviceInfo().ScreenWidth)
}

func TestCollectorDefaultsToHeadlessHost(t *testing.T) {
	collector := NewCollector(Host(0, 0), nil, nil)

	checks := collector.LocalChecks()
	require.Equal(t, VisibilityVisible, checks.VisibilityState)
	require.True(t, checks.TabFocus)
	require.False(t, checks.IsFullscreen)
	require.ErrorIs(t, NoFullscreen{}.Request(), ErrFullscreenUnsupported)
}

func TestMeasureLatency(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ms, err := MeasureLatency(context.Background(), server.Client(), server.URL)
	require.NoError(t, err)
	require.GreaterOrEqual(t, ms, 0)
}
