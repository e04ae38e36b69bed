package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/fairgig-proctor/internal/dto"
	"github.com/noah-isme/fairgig-proctor/internal/observability"
)

const (
	monitorBufferSize = 32
	// MonitorAllSessions subscribes to events of every session.
	MonitorAllSessions = "*"
)

// MonitorService fans proctoring events out to live admin dashboards.
type MonitorService interface {
	Publish(ctx context.Context, event dto.MonitorEvent)
	Subscribe(sessionID string) (<-chan dto.MonitorEvent, func())
	Start(ctx context.Context)
}

type monitorService struct {
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	logger       zerolog.Logger
	broker       *monitorBroker
	nodeID       string
	now          func() time.Time
}

type monitorEnvelope struct {
	Source string           `json:"source"`
	Event  dto.MonitorEvent `json:"event"`
}

type monitorBroker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan dto.MonitorEvent]struct{}
}

// NewMonitorService constructs a monitor service. Redis and NATS are optional.
func NewMonitorService(redisClient *redis.Client, channelBase string, natsConn *nats.Conn, logger zerolog.Logger) MonitorService {
	channel := ""
	subject := ""
	if channelBase != "" {
		channel = channelBase + ":monitor"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".monitor"
	}

	return &monitorService{
		redis:        redisClient,
		redisChannel: channel,
		nats:         natsConn,
		natsSubject:  subject,
		logger:       logger.With().Str("component", "monitor_service").Logger(),
		broker: &monitorBroker{
			subscribers: make(map[string]map[chan dto.MonitorEvent]struct{}),
		},
		nodeID: uuid.NewString(),
		now:    time.Now,
	}
}

func (s *monitorService) Start(ctx context.Context) {
	if s.redis != nil && s.redisChannel != "" {
		go s.consumeRedis(ctx)
	}
	if s.nats != nil && s.natsSubject != "" {
		s.consumeNATS(ctx)
	}
}

// Publish delivers the event to local subscribers and forwards it to the
// configured brokers. Broker failures are logged only.
func (s *monitorService) Publish(ctx context.Context, event dto.MonitorEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now().UTC()
	}

	s.broker.broadcast(event)
	if err := s.publish(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("type", event.Type).Msg("failed to publish monitor event to broker")
	}
}

func (s *monitorService) Subscribe(sessionID string) (<-chan dto.MonitorEvent, func()) {
	topic := strings.TrimSpace(sessionID)
	if topic == "" {
		topic = MonitorAllSessions
	}

	channel := make(chan dto.MonitorEvent, monitorBufferSize)
	s.broker.subscribe(topic, channel)
	observability.MonitorClients().Inc()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			s.broker.unsubscribe(topic, channel)
			observability.MonitorClients().Dec()
		})
	}

	return channel, cleanup
}

func (s *monitorService) publish(ctx context.Context, event dto.MonitorEvent) error {
	if (s.redis == nil || s.redisChannel == "") && (s.nats == nil || s.natsSubject == "") {
		return nil
	}

	payload, err := json.Marshal(monitorEnvelope{Source: s.nodeID, Event: event})
	if err != nil {
		return err
	}

	if s.redis != nil && s.redisChannel != "" {
		if err := s.redis.Publish(ctx, s.redisChannel, payload).Err(); err != nil {
			return err
		}
	}

	if s.nats != nil && s.natsSubject != "" {
		if err := s.nats.Publish(s.natsSubject, payload); err != nil {
			return err
		}
	}

	return nil
}

func (s *monitorService) consumeRedis(ctx context.Context) {
	pubsub := s.redis.Subscribe(ctx, s.redisChannel)
	defer func() { _ = pubsub.Close() }()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			s.logger.Error().Err(err).Msg("monitor redis subscription closed")
			return
		}
		s.handleEnvelope([]byte(msg.Payload))
	}
}

// consumeNATS subscribes without a queue group so every node sees every event.
func (s *monitorService) consumeNATS(ctx context.Context) {
	sub, err := s.nats.Subscribe(s.natsSubject, func(msg *nats.Msg) {
		s.handleEnvelope(msg.Data)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to subscribe to nats monitor subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to drain monitor nats subscription")
		}
	}()
}

func (s *monitorService) handleEnvelope(payload []byte) {
	var envelope monitorEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		s.logger.Warn().Err(err).Msg("invalid monitor event payload")
		return
	}

	if envelope.Source == s.nodeID {
		return
	}

	s.broker.broadcast(envelope.Event)
}

func (b *monitorBroker) subscribe(topic string, ch chan dto.MonitorEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[topic]; !exists {
		b.subscribers[topic] = make(map[chan dto.MonitorEvent]struct{})
	}
	b.subscribers[topic][ch] = struct{}{}
}

func (b *monitorBroker) unsubscribe(topic string, ch chan dto.MonitorEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subscribers, ok := b.subscribers[topic]; ok {
		delete(subscribers, ch)
		close(ch)
		if len(subscribers) == 0 {
			delete(b.subscribers, topic)
		}
	}
}

// broadcast never blocks; slow subscribers miss events.
func (b *monitorBroker) broadcast(event dto.MonitorEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, topic := range []string{event.SessionID, MonitorAllSessions} {
		for ch := range b.subscribers[topic] {
			select {
			case ch <- event:
			default:
			}
		}
	}
}
