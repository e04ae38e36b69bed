package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/fairgig-proctor/internal/dto"
	"github.com/noah-isme/fairgig-proctor/internal/models"
)

// Queue defaults.
const (
	DefaultMaxQueueSize = 50
	DefaultMaxRetries   = 3
	DefaultRetryDelay   = time.Second
	DefaultSendTimeout  = 10 * time.Second
	// DefaultSequenceBlock is how many sequence numbers are reserved per
	// durable write.
	DefaultSequenceBlock = 64
	minQueueSize         = 2
	reserveTimeout       = 2 * time.Second
)

// Buffer persists frames that could not be delivered.
type Buffer interface {
	Save(ctx context.Context, sessionID string, sequenceNumber int64, payload []byte) (int64, error)
}

// DeviceSource supplies the device snapshot and local checks stamped on every frame.
type DeviceSource interface {
	DeviceInfo() models.DeviceInfo
	LocalChecks() dto.LocalChecks
}

// SequenceReserver durably records that numbers below next are in use, so an
// agent restarted for the same session never repeats one.
type SequenceReserver interface {
	ReserveSequence(ctx context.Context, sessionID string, next int64) error
}

// Trigger starts a background resync.
type Trigger interface {
	Trigger(ctx context.Context)
}

// Config controls queue bounds and retry policy.
type Config struct {
	SessionID    string
	StudentID    string
	MaxQueueSize int
	MaxRetries   int
	RetryDelay   time.Duration
	SendTimeout  time.Duration
	// StartSequence is the first sequence number handed out. A resumed
	// session starts past every number used before.
	StartSequence int64
	// Sequences, when set, receives reservations in blocks of SequenceBlock.
	Sequences     SequenceReserver
	SequenceBlock int64
	// Resync is triggered after the first successful delivery that follows a
	// buffered frame. Nil disables it.
	Resync Trigger
}

// DefaultConfig returns the standard queue bounds for a session.
func DefaultConfig(sessionID, studentID string) Config {
	return Config{
		SessionID:    sessionID,
		StudentID:    studentID,
		MaxQueueSize: DefaultMaxQueueSize,
		MaxRetries:   DefaultMaxRetries,
		RetryDelay:   DefaultRetryDelay,
		SendTimeout:  DefaultSendTimeout,
	}
}

// Hooks receive delivery outcomes. They run on the drain goroutine, except
// eviction errors which run on the enqueuing goroutine.
type Hooks struct {
	OnResponse func(sequenceNumber int64, resp dto.FrameResponse)
	OnRetry    func(sequenceNumber int64, attempt int, err error)
	OnError    func(err error)
}

// DeliveryError names a frame that left the queue without being delivered.
type DeliveryError struct {
	SequenceNumber int64
	Attempts       int
	Evicted        bool
	Buffered       bool
	Err            error
}

func (e *DeliveryError) Error() string {
	if e.Evicted {
		return fmt.Sprintf("frame %d evicted from full queue", e.SequenceNumber)
	}
	return fmt.Sprintf("frame %d dropped after %d attempts: %v", e.SequenceNumber, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

var (
	errQueueFull   = errors.New("queue full")
	errQueueClosed = errors.New("queue closed")
)

type queuedFrame struct {
	sequenceNumber int64
	body           []byte
	retries        int
	inFlight       bool
}

// Queue delivers frames strictly in order through a single drain goroutine.
// Enqueue never blocks on the network.
type Queue struct {
	cfg    Config
	sender Sender
	buffer Buffer
	device DeviceSource
	hooks  Hooks
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu             sync.Mutex
	items          []*queuedFrame
	nextSeq        int64
	reservedSeq    int64
	processing     bool
	idle           chan struct{}
	closed         bool
	highWater      int
	pendingResync  bool
	delivered      int64
	bufferedFrames int64
}

// NewQueue constructs a queue. The buffer and device source may be nil.
func NewQueue(cfg Config, sender Sender, buffer Buffer, device DeviceSource, hooks Hooks, logger zerolog.Logger) *Queue {
	if cfg.MaxQueueSize < minQueueSize {
		cfg.MaxQueueSize = minQueueSize
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.StartSequence < 0 {
		cfg.StartSequence = 0
	}
	if cfg.SequenceBlock <= 0 {
		cfg.SequenceBlock = DefaultSequenceBlock
	}

	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)

	return &Queue{
		cfg:         cfg,
		sender:      sender,
		buffer:      buffer,
		device:      device,
		hooks:       hooks,
		logger:      logger.With().Str("component", "delivery_queue").Str("session_id", cfg.SessionID).Logger(),
		ctx:         ctx,
		cancel:      cancel,
		idle:        idle,
		nextSeq:     cfg.StartSequence,
		reservedSeq: cfg.StartSequence,
	}
}

// Enqueue stamps the frame with the next sequence number and schedules it.
// When the queue is full the oldest frame not being sent is evicted to the
// buffer first.
func (q *Queue) Enqueue(frame string, capturedAt time.Time) int64 {
	q.mu.Lock()
	seq := q.nextSeq
	q.nextSeq++
	q.reserveLocked(seq)

	body, err := json.Marshal(q.payload(seq, frame, capturedAt))
	if err != nil {
		q.mu.Unlock()
		q.logger.Error().Err(err).Int64("sequence_number", seq).Msg("failed to encode frame payload")
		q.fail(&DeliveryError{SequenceNumber: seq, Err: err})
		return seq
	}
	item := &queuedFrame{sequenceNumber: seq, body: body}

	if q.closed {
		q.mu.Unlock()
		q.persist(item, errQueueClosed, false)
		return seq
	}

	var evicted *queuedFrame
	if len(q.items) >= q.cfg.MaxQueueSize {
		evicted = q.evictLocked()
	}
	q.items = append(q.items, item)
	if len(q.items) > q.highWater {
		q.highWater = len(q.items)
	}
	start := !q.processing
	if start {
		q.processing = true
		q.idle = make(chan struct{})
		q.wg.Add(1)
	}
	q.mu.Unlock()

	if evicted != nil {
		q.persist(evicted, errQueueFull, true)
	}
	if start {
		go q.drain()
	}
	return seq
}

// reserveLocked extends the durable reservation before seq goes on the wire.
// A failed write is retried on the next frame.
func (q *Queue) reserveLocked(seq int64) {
	if q.cfg.Sequences == nil || seq < q.reservedSeq {
		return
	}
	next := seq + q.cfg.SequenceBlock
	ctx, cancel := context.WithTimeout(context.Background(), reserveTimeout)
	defer cancel()
	if err := q.cfg.Sequences.ReserveSequence(ctx, q.cfg.SessionID, next); err != nil {
		q.logger.Warn().Err(err).Int64("sequence_number", seq).Msg("failed to reserve sequence numbers")
		return
	}
	q.reservedSeq = next
}

func (q *Queue) payload(seq int64, frame string, capturedAt time.Time) dto.FramePayload {
	payload := dto.FramePayload{
		SessionID:      q.cfg.SessionID,
		StudentID:      q.cfg.StudentID,
		SequenceNumber: seq,
		FrameTimestamp: capturedAt.UTC().Format(time.RFC3339Nano),
		Frame:          frame,
	}
	if q.device != nil {
		payload.DeviceInfo = q.device.DeviceInfo()
		payload.LocalChecks = q.device.LocalChecks()
	}
	return payload
}

// evictLocked removes the oldest frame that is not being sent.
func (q *Queue) evictLocked() *queuedFrame {
	for i, item := range q.items {
		if item.inFlight {
			continue
		}
		q.items = append(q.items[:i], q.items[i+1:]...)
		return item
	}
	return nil
}

func (q *Queue) drain() {
	defer q.wg.Done()

	for {
		q.mu.Lock()
		if len(q.items) == 0 || q.closed {
			q.processing = false
			close(q.idle)
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		item.inFlight = true
		q.mu.Unlock()

		resp, err := q.send(item.body)
		if err == nil {
			q.complete(item, resp)
			continue
		}
		if q.ctx.Err() != nil {
			// Close persists whatever is still queued.
			q.release(item)
			continue
		}

		if !IsPermanent(err) && item.retries < q.cfg.MaxRetries {
			item.retries++
			q.logger.Debug().Err(err).
				Int64("sequence_number", item.sequenceNumber).
				Int("retry", item.retries).
				Msg("frame delivery failed, retrying")
			if q.hooks.OnRetry != nil {
				q.hooks.OnRetry(item.sequenceNumber, item.retries, err)
			}
			if !q.sleep(q.cfg.RetryDelay * time.Duration(item.retries)) {
				q.release(item)
			}
			continue
		}

		q.pop(item)
		q.persist(item, err, false)
	}
}

func (q *Queue) send(body []byte) (dto.FrameResponse, error) {
	ctx, cancel := context.WithTimeout(q.ctx, q.cfg.SendTimeout)
	defer cancel()
	return q.sender.Send(ctx, body)
}

func (q *Queue) complete(item *queuedFrame, resp dto.FrameResponse) {
	q.pop(item)

	q.mu.Lock()
	q.delivered++
	triggerResync := q.pendingResync && q.cfg.Resync != nil
	q.pendingResync = false
	q.mu.Unlock()

	if q.hooks.OnResponse != nil {
		q.hooks.OnResponse(item.sequenceNumber, resp)
	}
	if triggerResync {
		q.logger.Info().Msg("connection restored, resyncing buffered frames")
		q.cfg.Resync.Trigger(q.ctx)
	}
}

// persist buffers a frame that is leaving the queue undelivered and reports it.
func (q *Queue) persist(item *queuedFrame, cause error, evicted bool) {
	delivery := &DeliveryError{
		SequenceNumber: item.sequenceNumber,
		Attempts:       item.retries + 1,
		Evicted:        evicted,
		Err:            cause,
	}
	if evicted {
		delivery.Attempts = item.retries
	}

	if q.buffer != nil {
		if _, err := q.buffer.Save(context.Background(), q.cfg.SessionID, item.sequenceNumber, item.body); err != nil {
			q.logger.Error().Err(err).Int64("sequence_number", item.sequenceNumber).Msg("failed to buffer undelivered frame")
		} else {
			delivery.Buffered = true
			q.mu.Lock()
			q.bufferedFrames++
			q.pendingResync = true
			q.mu.Unlock()
		}
	}

	q.logger.Warn().Err(cause).
		Int64("sequence_number", item.sequenceNumber).
		Bool("evicted", evicted).
		Bool("buffered", delivery.Buffered).
		Msg("frame not delivered")
	q.fail(delivery)
}

func (q *Queue) fail(err error) {
	if q.hooks.OnError != nil {
		q.hooks.OnError(err)
	}
}

func (q *Queue) pop(item *queuedFrame) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) > 0 && q.items[0] == item {
		q.items[0] = nil
		q.items = q.items[1:]
	}
}

func (q *Queue) release(item *queuedFrame) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item.inFlight = false
}

func (q *Queue) sleep(d time.Duration) bool {
	if d <= 0 {
		return q.ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-q.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Wait blocks until the queue has no drain running or ctx ends.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the drain loop and buffers every frame still queued.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()

	q.mu.Lock()
	remaining := q.items
	q.items = nil
	q.mu.Unlock()

	for _, item := range remaining {
		q.persist(item, errQueueClosed, false)
	}
}

// Len returns the number of queued frames.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stats is a point-in-time view of the queue counters.
type Stats struct {
	Queued    int
	HighWater int
	NextSeq   int64
	Delivered int64
	Buffered  int64
}

// Stats returns queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Queued:    len(q.items),
		HighWater: q.highWater,
		NextSeq:   q.nextSeq,
		Delivered: q.delivered,
		Buffered:  q.bufferedFrames,
	}
}
