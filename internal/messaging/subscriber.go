package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Handler processes one consumed message.
type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

// Subscriber consumes the machine topic and hands every delivery to a
// Handler. It reconnects with doubling backoff until its context ends.
type Subscriber struct {
	cfg     Config
	handler Handler
	logger  *slog.Logger
	dial    func(url string) (*amqp.Connection, error)
}

func NewSubscriber(cfg Config, handler Handler, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With("component", "subscriber"),
		dial:    amqp.Dial,
	}
}

// Run blocks until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	backoff := initialBackoff
	for {
		conn, err := s.dial(s.cfg.URL)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to dial broker", "error", err, "retry_in", backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = initialBackoff

		err = s.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.WarnContext(ctx, "consume loop ended, reconnecting", "error", err)
		if !sleep(ctx, backoff) {
			return ctx.Err()
		}
	}
}

func (s *Subscriber) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		s.logger.WarnContext(ctx, "set QoS failed", "error", err)
	}
	if err := declareExchange(ch, s.cfg.Exchange); err != nil {
		return err
	}

	// Server-named, exclusive queue: machine events are only relevant while
	// this process is running.
	queue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	bindingKey := RoutingKey(s.cfg.MachineTopic)
	if err := ch.QueueBind(queue.Name, bindingKey, s.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("queue bind: %w", err)
	}

	tag := "fablab-" + uuid.NewString()
	deliveries, err := ch.Consume(queue.Name, tag, false, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}
	s.logger.InfoContext(ctx, "consuming machine events",
		"exchange", s.cfg.Exchange,
		"binding_key", bindingKey,
		"consumer_tag", tag,
	)

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			_ = ch.Cancel(tag, false)
			return ctx.Err()
		case amqpErr := <-closed:
			if amqpErr == nil {
				return errors.New("connection closed")
			}
			return amqpErr
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			s.deliver(ctx, d)
		}
	}
}

func (s *Subscriber) deliver(ctx context.Context, d amqp.Delivery) {
	msg := Message{RoutingKey: d.RoutingKey, Body: d.Body, Headers: map[string]any(d.Headers)}
	if err := s.handler.Handle(ctx, msg); err != nil {
		s.logger.ErrorContext(ctx, "failed to handle machine message", "routing_key", d.RoutingKey, "error", err)
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

// declareExchange declares a durable topic exchange. Predeclared "amq."
// exchanges cannot be redeclared and are used as they are.
func declareExchange(ch *amqp.Channel, name string) error {
	if strings.HasPrefix(name, "amq.") {
		return nil
	}
	if err := ch.ExchangeDeclare(name, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("exchange declare: %w", err)
	}
	return nil
}

func nextBackoff(current time.Duration) time.Duration {
	current *= 2
	if current > maxBackoff {
		return maxBackoff
	}
	return current
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
