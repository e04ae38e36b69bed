package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/fairgig-proctor/internal/buffer"
	"github.com/noah-isme/fairgig-proctor/internal/config"
	"github.com/noah-isme/fairgig-proctor/internal/dto"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBufferStatsAndClear(t *testing.T) {
	dir := t.TempDir()
	bufferPath := filepath.Join(dir, "buffer.db")
	configFile := filepath.Join(dir, "missing.toml")

	out, err := execute(t, "buffer", "stats", "--config", configFile, "--buffer-path", bufferPath)
	require.NoError(t, err)
	require.Contains(t, out, "buffer is empty")

	store, err := buffer.Open(bufferPath)
	require.NoError(t, err)
	_, err = store.Save(context.Background(), "session-9", 0, []byte(`{}`))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	out, err = execute(t, "buffer", "stats", "--config", configFile, "--buffer-path", bufferPath)
	require.NoError(t, err)
	require.Contains(t, out, "session-9")

	out, err = execute(t, "buffer", "clear", "--session", "session-9", "--config", configFile, "--buffer-path", bufferPath)
	require.NoError(t, err)
	require.Contains(t, out, "cleared")

	out, err = execute(t, "buffer", "stats", "--config", configFile, "--buffer-path", bufferPath)
	require.NoError(t, err)
	require.Contains(t, out, "buffer is empty")
}

func TestLoadConfigFlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "agent.toml")
	require.NoError(t, os.WriteFile(configFile, []byte(`
endpoint = "http://file.example/api/v1/frame"
token = "file-token"
frame-interval-ms = 750
max-retries = 5
resync-on-reconnect = true
`), 0o644))

	root := newRootCmd()
	runCmd, _, err := root.Find([]string{"run"})
	require.NoError(t, err)

	var cfg config.AgentConfig
	runCmd.RunE = func(cmd *cobra.Command, _ []string) error {
		var loadErr error
		cfg, loadErr = loadConfig(cmd)
		return loadErr
	}

	root.SetArgs([]string{"run", "--config", configFile, "--session", "s", "--student", "u", "--max-retries", "1"})
	require.NoError(t, root.ExecuteContext(context.Background()))

	require.Equal(t, "http://file.example/api/v1/frame", cfg.Endpoint)
	require.Equal(t, "file-token", cfg.Token)
	require.Equal(t, 750*time.Millisecond, cfg.FrameInterval)
	require.Equal(t, 1, cfg.MaxRetries)
	require.True(t, cfg.ResyncOnReconnect)
	require.Equal(t, 50, cfg.MaxQueueSize)
}

type stubStater struct {
	state dto.SessionStateResponse
	err   error
}

func (s stubStater) SessionState(context.Context, string) (dto.SessionStateResponse, error) {
	return s.state, s.err
}

func TestResumeSequenceTakesHighestMark(t *testing.T) {
	store, err := buffer.Open(filepath.Join(t.TempDir(), "buffer.db"))
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	next, err := resumeSequence(ctx, store, stubStater{err: errors.New("offline")}, "sess-1", zerolog.Nop())
	require.NoError(t, err)
	require.Zero(t, next)

	require.NoError(t, store.ReserveSequence(ctx, "sess-1", 64))

	next, err = resumeSequence(ctx, store, stubStater{state: dto.SessionStateResponse{NextSequence: 12}}, "sess-1", zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, int64(64), next)

	next, err = resumeSequence(ctx, store, stubStater{state: dto.SessionStateResponse{NextSequence: 90}}, "sess-1", zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, int64(90), next)

	next, err = resumeSequence(ctx, store, stubStater{err: errors.New("offline")}, "sess-1", zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, int64(64), next)
}
