package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aescanero/dago-wrap/pkg/ports"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// ConnectionConfig holds configuration for the NATS connection
type ConnectionConfig struct {
	URL           string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
	Token         string
	Username      string
	Password      string
}

// Connect dials NATS, logging connection state changes on logger
func Connect(ctx context.Context, cfg ConnectionConfig, logger *zap.Logger) (*nats.Conn, error) {
	if cfg.URL == "" {
		return nil, errors.New("NATS URL cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	} else if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	type result struct {
		conn *nats.Conn
		err  error
	}
	resultCh := make(chan result, 1)

	go func() {
		conn, err := nats.Connect(cfg.URL, opts...)
		resultCh <- result{conn: conn, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("connection cancelled: %w", ctx.Err())
	case res := <-resultCh:
		if res.err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", res.err)
		}
		return res.conn, nil
	}
}

// EventBus implements ports.EventBus over core NATS subjects. Submitted runs
// are delivered to one subscriber of the queue group; every other topic is
// broadcast.
type EventBus struct {
	conn       *nats.Conn
	queueGroup string
	logger     *zap.Logger

	mu   sync.Mutex
	subs map[string][]*nats.Subscription
}

// NewEventBus creates an event bus on an established connection
func NewEventBus(conn *nats.Conn, queueGroup string, logger *zap.Logger) (*EventBus, error) {
	if conn == nil {
		return nil, errors.New("NATS connection is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{
		conn:       conn,
		queueGroup: queueGroup,
		logger:     logger,
		subs:       make(map[string][]*nats.Subscription),
	}, nil
}

// Publish sends the JSON encoded event on the subject of topic
func (b *EventBus) Publish(ctx context.Context, topic string, event ports.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.conn.Publish(topic, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	b.logger.Debug("event published",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("subject", topic))
	return nil
}

// Subscribe delivers the events of topic to handler until ctx is done
func (b *EventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	msgHandler := func(msg *nats.Msg) {
		var event ports.Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			b.logger.Error("failed to unmarshal event",
				zap.String("subject", msg.Subject),
				zap.Error(err))
			return
		}
		if err := handler(ctx, event); err != nil {
			b.logger.Error("handler error",
				zap.String("subject", msg.Subject),
				zap.String("event_id", event.ID),
				zap.Error(err))
		}
	}

	var (
		sub *nats.Subscription
		err error
	)
	if queue := b.queueFor(topic); queue != "" {
		sub, err = b.conn.QueueSubscribe(topic, queue, msgHandler)
	} else {
		sub, err = b.conn.Subscribe(topic, msgHandler)
	}
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	b.logger.Info("subscribed to subject",
		zap.String("subject", topic),
		zap.String("queue", b.queueFor(topic)))

	go func() {
		<-ctx.Done()
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrBadSubscription) && !errors.Is(err, nats.ErrConnectionClosed) {
			b.logger.Warn("failed to unsubscribe", zap.String("subject", topic), zap.Error(err))
		}
	}()

	return nil
}

// queueFor returns the queue group used for topic, or "" to broadcast
func (b *EventBus) queueFor(topic string) string {
	if topic == ports.TopicRuns {
		return b.queueGroup
	}
	return ""
}

// Unsubscribe removes every subscription of topic
func (b *EventBus) Unsubscribe(ctx context.Context, topic string) error {
	b.mu.Lock()
	subs := b.subs[topic]
	delete(b.subs, topic)
	b.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrBadSubscription) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close drains the connection so in-flight messages complete
func (b *EventBus) Close() error {
	b.mu.Lock()
	b.subs = make(map[string][]*nats.Subscription)
	b.mu.Unlock()

	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return fmt.Errorf("error draining connection: %w", err)
	}
	return nil
}
