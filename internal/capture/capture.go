// Package capture produces encoded webcam frames on a fixed period.
package capture

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrPermissionDenied is returned by a Camera the user refused access to.
	ErrPermissionDenied = errors.New("camera permission denied")
	// ErrCameraLost is returned by a Stream whose device went away mid-capture.
	ErrCameraLost = errors.New("camera lost")
	// ErrAlreadyActive is returned when Start is called on a running loop.
	ErrAlreadyActive = errors.New("capture already active")
)

// Frame is one encoded capture.
type Frame struct {
	Data       string
	CapturedAt time.Time
}

// Settings control the capture cadence and encoding.
type Settings struct {
	Interval    time.Duration
	Width       int
	Height      int
	JPEGQuality int
}

// Camera acquires a video stream.
type Camera interface {
	Open(ctx context.Context, width, height int) (Stream, error)
}

// Stream is an acquired video device.
type Stream interface {
	// Ready reports whether the stream has enough buffered data for a frame.
	Ready() bool
	Read() (image.Image, error)
	Close() error
}

// Handlers receive loop output on the loop goroutine and must not call Stop.
// Nil handlers are skipped.
type Handlers struct {
	OnFrame            func(Frame)
	OnPermissionDenied func(error)
	OnCameraLost       func(error)
}

// Loop emits one frame per interval while active. The camera is acquired by
// Start and released when the loop exits for any reason.
type Loop struct {
	camera   Camera
	settings Settings
	handlers Handlers
	logger   zerolog.Logger
	now      func() time.Time

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	denied   bool
	captured int64
	skipped  int64
}

// NewLoop constructs a capture loop.
func NewLoop(camera Camera, settings Settings, handlers Handlers, logger zerolog.Logger) *Loop {
	if settings.Interval <= 0 {
		settings.Interval = 500 * time.Millisecond
	}
	if settings.JPEGQuality <= 0 || settings.JPEGQuality > 100 {
		settings.JPEGQuality = 80
	}
	return &Loop{
		camera:   camera,
		settings: settings,
		handlers: handlers,
		logger:   logger.With().Str("component", "capture").Logger(),
		now:      time.Now,
	}
}

// Start acquires the camera and begins the capture timer.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.done != nil {
		select {
		case <-l.done:
		default:
			return ErrAlreadyActive
		}
	}

	stream, err := l.camera.Open(ctx, l.settings.Width, l.settings.Height)
	if err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			if !l.denied {
				l.denied = true
				l.logger.Warn().Err(err).Msg("camera permission denied")
				if l.handlers.OnPermissionDenied != nil {
					l.handlers.OnPermissionDenied(err)
				}
			}
		}
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(runCtx, stream, l.done)

	l.logger.Info().
		Dur("interval", l.settings.Interval).
		Int("width", l.settings.Width).
		Int("height", l.settings.Height).
		Msg("capture started")
	return nil
}

// Stop cancels the timer and waits for the camera to be released.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed once the running loop has released its camera.
func (l *Loop) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return l.done
}

// Counts returns emitted and skipped tick totals.
func (l *Loop) Counts() (captured, skipped int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.captured, l.skipped
}

func (l *Loop) run(ctx context.Context, stream Stream, done chan struct{}) {
	defer close(done)
	defer func() {
		if err := stream.Close(); err != nil {
			l.logger.Warn().Err(err).Msg("failed to release camera")
		}
		l.logger.Info().Msg("camera released")
	}()

	ticker := time.NewTicker(l.settings.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.tick(stream); err != nil {
				l.logger.Error().Err(err).Msg("camera lost, stopping capture")
				if l.handlers.OnCameraLost != nil {
					l.handlers.OnCameraLost(err)
				}
				return
			}
		}
	}
}

// tick returns an error only when the camera is gone.
func (l *Loop) tick(stream Stream) error {
	if !stream.Ready() {
		l.count(false)
		return nil
	}

	img, err := stream.Read()
	if err != nil {
		if errors.Is(err, ErrCameraLost) {
			return err
		}
		l.logger.Debug().Err(err).Msg("frame read skipped")
		l.count(false)
		return nil
	}

	data, err := EncodeJPEG(img, l.settings.Width, l.settings.Height, l.settings.JPEGQuality)
	if err != nil {
		l.logger.Warn().Err(err).Msg("failed to encode frame")
		l.count(false)
		return nil
	}

	l.count(true)
	if l.handlers.OnFrame != nil {
		l.handlers.OnFrame(Frame{Data: data, CapturedAt: l.now().UTC()})
	}
	return nil
}

func (l *Loop) count(captured bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if captured {
		l.captured++
	} else {
		l.skipped++
	}
}
