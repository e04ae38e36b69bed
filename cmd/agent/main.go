// Package main provides the proctoring agent that captures and delivers frames.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/noah-isme/fairgig-proctor/internal/buffer"
	"github.com/noah-isme/fairgig-proctor/internal/capture"
	"github.com/noah-isme/fairgig-proctor/internal/config"
	"github.com/noah-isme/fairgig-proctor/internal/delivery"
	"github.com/noah-isme/fairgig-proctor/internal/device"
	"github.com/noah-isme/fairgig-proctor/internal/dto"
)

const (
	eventPermissionDenied = "camera_permission_denied"
	eventCameraLost       = "camera_lost"
)

var (
	configPath string

	runSession string
	runStudent string

	resyncSession  string
	resyncInterval time.Duration

	clearSession string

	flagEndpoint   string
	flagToken      string
	flagCameraDir  string
	flagBufferPath string
	flagInterval   time.Duration
	flagQueueSize  int
	flagRetries    int
	flagRetryDelay time.Duration
	flagResync     bool
	flagLogLevel   string
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	defaults := config.DefaultAgentConfig()

	rootCmd := &cobra.Command{
		Use:          "agent",
		Short:        "Exam proctoring capture agent",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultAgentConfigPath(), "path to agent TOML config")
	rootCmd.PersistentFlags().StringVar(&flagEndpoint, "endpoint", defaults.Endpoint, "frame ingestion endpoint URL")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "bearer token of the student")
	rootCmd.PersistentFlags().StringVar(&flagBufferPath, "buffer-path", defaults.BufferPath, "local frame buffer database")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", defaults.LogLevel, "log level (debug, info, warn, error)")

	rootCmd.AddCommand(newRunCmd(defaults))
	rootCmd.AddCommand(newResyncCmd())
	rootCmd.AddCommand(newBufferCmd())

	return rootCmd
}

func newRunCmd(defaults config.AgentConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Capture and deliver frames for an exam session",
		RunE:  runCaptureCmd,
	}
	cmd.Flags().StringVar(&runSession, "session", "", "exam session id")
	cmd.Flags().StringVar(&runStudent, "student", "", "student id")
	cmd.Flags().StringVar(&flagCameraDir, "camera-dir", "", "replay images from a directory instead of a synthetic camera")
	cmd.Flags().DurationVar(&flagInterval, "interval", defaults.FrameInterval, "frame capture interval")
	cmd.Flags().IntVar(&flagQueueSize, "max-queue-size", defaults.MaxQueueSize, "maximum frames held in memory")
	cmd.Flags().IntVar(&flagRetries, "max-retries", defaults.MaxRetries, "retries per frame before buffering")
	cmd.Flags().DurationVar(&flagRetryDelay, "retry-delay", defaults.RetryDelay, "base linear backoff delay")
	cmd.Flags().BoolVar(&flagResync, "resync-on-reconnect", false, "resync buffered frames once delivery recovers")
	_ = cmd.MarkFlagRequired("session")
	_ = cmd.MarkFlagRequired("student")
	return cmd
}

func newResyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resync",
		Short: "Send buffered frames of a session to the server",
		RunE:  runResyncCmd,
	}
	cmd.Flags().StringVar(&resyncSession, "session", "", "exam session id")
	cmd.Flags().DurationVar(&resyncInterval, "interval", delivery.MinResyncInterval, "pause between resent frames (minimum 250ms, derived from the server rate limit when unset)")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func newBufferCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "buffer",
		Short: "Inspect or clear the local frame buffer",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show buffered frames per session",
		RunE:  runBufferStatsCmd,
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete buffered data of a session",
		RunE:  runBufferClearCmd,
	}
	clearCmd.Flags().StringVar(&clearSession, "session", "", "exam session id")
	_ = clearCmd.MarkFlagRequired("session")

	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}

// loadConfig layers defaults, the config file, and explicitly set flags.
func loadConfig(cmd *cobra.Command) (config.AgentConfig, error) {
	fileCfg, err := config.LoadAgentConfig(configPath)
	if err != nil {
		return config.AgentConfig{}, fmt.Errorf("failed to load config: %w", err)
	}
	cfg := fileCfg.Apply(config.DefaultAgentConfig())

	applyStringFlag(cmd, "endpoint", &cfg.Endpoint, flagEndpoint)
	applyStringFlag(cmd, "token", &cfg.Token, flagToken)
	applyStringFlag(cmd, "buffer-path", &cfg.BufferPath, flagBufferPath)
	applyStringFlag(cmd, "log-level", &cfg.LogLevel, flagLogLevel)
	applyStringFlag(cmd, "camera-dir", &cfg.CameraDir, flagCameraDir)
	applyDurationFlag(cmd, "interval", &cfg.FrameInterval, flagInterval)
	applyIntFlag(cmd, "max-queue-size", &cfg.MaxQueueSize, flagQueueSize)
	applyIntFlag(cmd, "max-retries", &cfg.MaxRetries, flagRetries)
	applyDurationFlag(cmd, "retry-delay", &cfg.RetryDelay, flagRetryDelay)
	if flagChanged(cmd, "resync-on-reconnect") {
		cfg.ResyncOnReconnect = flagResync
	}

	if cfg.Token == "" {
		cfg.Token = os.Getenv("FAIRGIG_TOKEN")
	}
	return cfg, nil
}

func newLogger(level string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		parsed = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(parsed).
		With().Timestamp().Logger()
}

func runCaptureCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Token == "" {
		return errors.New("a bearer token is required (--token, config file, or FAIRGIG_TOKEN)")
	}
	logger := newLogger(cfg.LogLevel)

	store, err := buffer.Open(cfg.BufferPath)
	if err != nil {
		return fmt.Errorf("failed to open buffer: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Warn().Err(cerr).Msg("failed to close buffer")
		}
	}()

	sender, err := delivery.NewHTTPSender(delivery.HTTPSenderConfig{Endpoint: cfg.Endpoint, Token: cfg.Token})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	info := device.Host(cfg.FrameWidth, cfg.FrameHeight)
	probeCtx, cancelProbe := context.WithTimeout(ctx, 3*time.Second)
	if rtt, err := device.MeasureLatency(probeCtx, nil, cfg.Endpoint); err == nil {
		info.NetworkRTTMs = &rtt
	} else {
		logger.Warn().Err(err).Msg("endpoint unreachable at startup")
	}
	cancelProbe()
	collector := device.NewCollector(info, nil, nil)

	out := cmd.OutOrStdout()
	tracker := delivery.NewStatusTracker(func(from, to delivery.Status) {
		fmt.Fprintf(out, "%s connection %s -> %s\n", time.Now().Format(time.Kitchen), from, to)
	})

	startSeq, err := resumeSequence(ctx, store, sender, runSession, logger)
	if err != nil {
		return err
	}

	queueCfg := delivery.Config{
		SessionID:     runSession,
		StudentID:     runStudent,
		MaxQueueSize:  cfg.MaxQueueSize,
		MaxRetries:    cfg.MaxRetries,
		RetryDelay:    cfg.RetryDelay,
		SendTimeout:   delivery.DefaultSendTimeout,
		StartSequence: startSeq,
		Sequences:     store,
	}
	var resyncer *delivery.Resyncer
	if cfg.ResyncOnReconnect {
		resyncer = delivery.NewResyncer(store, sender, delivery.ResyncConfig{
			SessionID: runSession,
			Interval:  delivery.PaceInterval(cfg.ServerRateLimit, cfg.ServerRateWindow, cfg.FrameInterval),
		}, logger)
		queueCfg.Resync = resyncer
	}

	queue := delivery.NewQueue(queueCfg, sender, store, collector, delivery.Hooks{
		OnResponse: func(seq int64, resp dto.FrameResponse) {
			tracker.ObserveResponse(resp)
			logger.Debug().
				Int64("sequence_number", seq).
				Float64("focus_score", resp.ML.FocusScore).
				Int("alerts", len(resp.ML.Alerts)).
				Msg("frame scored")
		},
		OnError: tracker.ObserveError,
	}, logger)

	var camera capture.Camera = capture.PatternCamera{}
	if cfg.CameraDir != "" {
		camera = capture.DirectoryCamera{Dir: cfg.CameraDir, Loop: true}
	}

	recordEvent := func(eventType string, cause error) {
		if _, err := store.SaveEvent(context.Background(), runSession, eventType, []byte(cause.Error())); err != nil {
			logger.Warn().Err(err).Str("event", eventType).Msg("failed to record capture event")
		}
	}

	loop := capture.NewLoop(camera, capture.Settings{
		Interval:    cfg.FrameInterval,
		Width:       cfg.FrameWidth,
		Height:      cfg.FrameHeight,
		JPEGQuality: cfg.JPEGQuality,
	}, capture.Handlers{
		OnFrame: func(frame capture.Frame) {
			queue.Enqueue(frame.Data, frame.CapturedAt)
		},
		OnPermissionDenied: func(err error) {
			recordEvent(eventPermissionDenied, err)
			fmt.Fprintln(out, "camera permission denied; grant access and restart the agent")
		},
		OnCameraLost: func(err error) {
			recordEvent(eventCameraLost, err)
			fmt.Fprintln(out, "camera lost; capture stopped")
		},
	}, logger)

	if err := loop.Start(ctx); err != nil {
		queue.Close()
		return fmt.Errorf("failed to start capture: %w", err)
	}
	fmt.Fprintf(out, "capturing session %s every %s (status %s)\n", runSession, cfg.FrameInterval, tracker.Status())

	select {
	case <-ctx.Done():
	case <-loop.Done():
	}

	loop.Stop()
	queue.Close()
	if resyncer != nil {
		resyncer.Wait()
	}

	stats := queue.Stats()
	captured, skipped := loop.Counts()
	fmt.Fprintf(out, "captured %d (skipped %d), delivered %d, buffered %d, peak queue %d\n",
		captured, skipped, stats.Delivered, stats.Buffered, stats.HighWater)
	return nil
}

type sessionStater interface {
	SessionState(ctx context.Context, sessionID string) (dto.SessionStateResponse, error)
}

// resumeSequence picks the first sequence number for this run: past the local
// reservation and past whatever the server has already scored.
func resumeSequence(ctx context.Context, store *buffer.Store, server sessionStater, sessionID string, logger zerolog.Logger) (int64, error) {
	next, err := store.NextSequence(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to read sequence mark: %w", err)
	}

	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	state, err := server.SessionState(lookupCtx, sessionID)
	if err != nil {
		logger.Warn().Err(err).Int64("next_sequence", next).Msg("session state unavailable, resuming from local mark")
		return next, nil
	}
	if state.NextSequence > next {
		next = state.NextSequence
	}
	if next > 0 {
		logger.Info().Int64("next_sequence", next).Msg("resuming session")
	}
	return next, nil
}

func runResyncCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel)

	store, err := buffer.Open(cfg.BufferPath)
	if err != nil {
		return fmt.Errorf("failed to open buffer: %w", err)
	}
	defer store.Close()

	sender, err := delivery.NewHTTPSender(delivery.HTTPSenderConfig{Endpoint: cfg.Endpoint, Token: cfg.Token})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	interval := resyncInterval
	if !flagChanged(cmd, "interval") {
		interval = delivery.PaceInterval(cfg.ServerRateLimit, cfg.ServerRateWindow, 0)
	}
	resyncer := delivery.NewResyncer(store, sender, delivery.ResyncConfig{
		SessionID: resyncSession,
		Interval:  interval,
	}, logger)

	result, err := resyncer.Run(ctx)
	fmt.Fprintf(cmd.OutOrStdout(), "resent %d, rejected %d\n", result.Sent, result.Rejected)
	if err != nil {
		return fmt.Errorf("resync stopped: %w", err)
	}
	return nil
}

func runBufferStatsCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := buffer.Open(cfg.BufferPath)
	if err != nil {
		return fmt.Errorf("failed to open buffer: %w", err)
	}
	defer store.Close()

	stats, err := store.Stats(cmd.Context())
	if err != nil {
		return err
	}
	if len(stats) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "buffer is empty")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tFRAMES\tUNSYNCED\tEVENTS")
	for _, st := range stats {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", st.SessionID, st.Frames, st.UnsyncedFrames, st.Events)
	}
	return w.Flush()
}

func runBufferClearCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := buffer.Open(cfg.BufferPath)
	if err != nil {
		return fmt.Errorf("failed to open buffer: %w", err)
	}
	defer store.Close()

	if err := store.Clear(cmd.Context(), clearSession); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "cleared buffered data of session %s\n", clearSession)
	return nil
}

func flagChanged(cmd *cobra.Command, name string) bool {
	flag := cmd.Flags().Lookup(name)
	return flag != nil && flag.Changed
}

func applyStringFlag(cmd *cobra.Command, name string, target *string, value string) {
	if flagChanged(cmd, name) {
		*target = value
	}
}

func applyIntFlag(cmd *cobra.Command, name string, target *int, value int) {
	if flagChanged(cmd, name) {
		*target = value
	}
}

func applyDurationFlag(cmd *cobra.Command, name string, target *time.Duration, value time.Duration) {
	if flagChanged(cmd, name) {
		*target = value
	}
}
