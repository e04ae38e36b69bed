package cloudinary

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestSplitObjectPath(t *testing.T) {
	folder, publicID := splitObjectPath("fairgig/snapshots", "snapshots/exam-1/s-1/2025/03/04/12-PHONE_DETECTED.jpg")
	require.Equal(t, "fairgig/snapshots/snapshots/exam-1/s-1/2025/03/04", folder)
	require.Equal(t, "12-PHONE_DETECTED", publicID)

	folder, publicID = splitObjectPath("", "../../escape.jpg")
	require.Equal(t, "", folder)
	require.Equal(t, "escape", publicID)

	_, publicID = splitObjectPath("root", "")
	require.Empty(t, publicID)
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{CloudName: "demo"}, zerolog.Nop())
	require.Error(t, err)
	require.False(t, Config{CloudName: "demo"}.Enabled())
}
