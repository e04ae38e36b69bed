package delivery

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/fairgig-proctor/internal/buffer"
)

// Resync defaults.
const (
	MinResyncInterval     = 250 * time.Millisecond
	DefaultBatchSize      = 20
	DefaultMaxRateLimited = 8
	DefaultMaxBackoff     = 5 * time.Second
)

// ResyncStore is the buffer surface read by a resync.
type ResyncStore interface {
	ListUnsynced(ctx context.Context, sessionID string, limit int) ([]buffer.Frame, error)
	MarkSynced(ctx context.Context, ids []int64) error
}

// ResyncConfig controls pacing of a resync.
type ResyncConfig struct {
	SessionID string
	Interval  time.Duration
	BatchSize int
	// MaxRateLimited is how many consecutive 429 answers end a run.
	MaxRateLimited int
	// MaxBackoff caps the pause that doubles after each 429.
	MaxBackoff time.Duration
}

// PaceInterval spaces resent frames so that, together with live capture,
// a session stays one frame under the server limit of limit frames per
// window.
func PaceInterval(limit int, window, captureInterval time.Duration) time.Duration {
	if limit <= 0 || window <= 0 {
		return MinResyncInterval
	}
	live := 0
	if captureInterval > 0 {
		live = int((window + captureInterval - 1) / captureInterval)
	}
	spare := limit - live - 1
	if spare < 1 {
		return max(window, MinResyncInterval)
	}
	return max(window/time.Duration(spare), MinResyncInterval)
}

// IsRateLimited reports whether err is a 429 from the ingestion endpoint.
func IsRateLimited(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusTooManyRequests
}

// ResyncResult counts the outcome of one resync run.
type ResyncResult struct {
	Sent     int
	Rejected int
}

// Resyncer drains unsynced buffered frames through a sender in insertion order.
type Resyncer struct {
	store  ResyncStore
	sender Sender
	cfg    ResyncConfig
	logger zerolog.Logger

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
	last    ResyncResult
	lastErr error
}

// NewResyncer builds a resyncer. Intervals below 250ms are raised to it.
func NewResyncer(store ResyncStore, sender Sender, cfg ResyncConfig, logger zerolog.Logger) *Resyncer {
	if cfg.Interval < MinResyncInterval {
		cfg.Interval = MinResyncInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxRateLimited <= 0 {
		cfg.MaxRateLimited = DefaultMaxRateLimited
	}
	if cfg.MaxBackoff < cfg.Interval {
		cfg.MaxBackoff = max(DefaultMaxBackoff, cfg.Interval)
	}
	return &Resyncer{
		store:  store,
		sender: sender,
		cfg:    cfg,
		logger: logger.With().Str("component", "resync").Str("session_id", cfg.SessionID).Logger(),
	}
}

// Run sends buffered frames until none are left. A 429 retries the same
// frame with the pause doubled for the rest of the run; any other transient failure stops the run and
// leaves the frame unsynced. Permanently rejected frames are marked synced so
// they are not retried forever.
func (r *Resyncer) Run(ctx context.Context) (ResyncResult, error) {
	var result ResyncResult
	interval := r.cfg.Interval
	limited := 0
	first := true

	for {
		frames, err := r.store.ListUnsynced(ctx, r.cfg.SessionID, r.cfg.BatchSize)
		if err != nil {
			return result, err
		}
		if len(frames) == 0 {
			r.logger.Info().Int("sent", result.Sent).Int("rejected", result.Rejected).Msg("resync complete")
			return result, nil
		}

		for i := 0; i < len(frames); {
			frame := frames[i]
			if !first {
				if err := pause(ctx, interval); err != nil {
					return result, err
				}
			}
			first = false

			_, err := r.sender.Send(ctx, frame.Payload)
			switch {
			case err == nil:
				result.Sent++
				limited = 0
			case IsRateLimited(err):
				limited++
				if limited > r.cfg.MaxRateLimited {
					r.logger.Warn().Err(err).Int("attempts", limited).Msg("resync rate limited, giving up")
					return result, err
				}
				interval = min(interval*2, r.cfg.MaxBackoff)
				r.logger.Debug().Int64("sequence_number", frame.SequenceNumber).Dur("pause", interval).Msg("resync rate limited, backing off")
				continue
			case IsPermanent(err):
				result.Rejected++
				limited = 0
				r.logger.Warn().Err(err).Int64("sequence_number", frame.SequenceNumber).Msg("buffered frame rejected")
			default:
				r.logger.Warn().Err(err).Int64("sequence_number", frame.SequenceNumber).Msg("resync interrupted")
				return result, err
			}

			if err := r.store.MarkSynced(ctx, []int64{frame.ID}); err != nil {
				return result, err
			}
			i++
		}
	}
}

// Trigger starts a background run unless one is already in flight.
func (r *Resyncer) Trigger(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		result, err := r.Run(ctx)

		r.mu.Lock()
		r.running = false
		r.last = result
		r.lastErr = err
		r.mu.Unlock()
	}()
}

// Wait blocks until any triggered run has finished.
func (r *Resyncer) Wait() {
	r.wg.Wait()
}

// Last returns the outcome of the most recent triggered run.
func (r *Resyncer) Last() (ResyncResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last, r.lastErr
}

func pause(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
