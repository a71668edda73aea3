package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends authorization decisions to machines on the reply topic.
// The connection is opened lazily and reopened after it drops.
type Publisher struct {
	cfg    Config
	logger *slog.Logger
	dial   func(url string) (*amqp.Connection, error)

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

var _ DecisionPublisher = (*Publisher)(nil)

func NewPublisher(cfg Config, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{cfg: cfg, logger: logger.With("component", "publisher"), dial: amqp.Dial}
}

// PublishDecision publishes "authorized" or "denied" under
// <reply topic>.<machineID>.
func (p *Publisher) PublishDecision(ctx context.Context, machineID int64, authorized bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}

	key := replyKey(p.cfg.ReplyTopic, machineID)
	pub := amqp.Publishing{
		ContentType: "text/plain",
		MessageId:   uuid.NewString(),
		Timestamp:   time.Now().UTC(),
		Headers:     amqp.Table{"machine_id": strconv.FormatInt(machineID, 10)},
		Body:        []byte(decisionWord(authorized)),
	}
	if err := ch.PublishWithContext(ctx, p.cfg.Exchange, key, false, false, pub); err != nil {
		p.reset()
		return fmt.Errorf("publish to %s: %w", key, err)
	}
	p.logger.DebugContext(ctx, "decision published", "routing_key", key, "message_id", pub.MessageId)
	return nil
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn, p.ch = nil, nil
	return err
}

func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.conn != nil && !p.conn.IsClosed() && p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	p.reset()

	conn, err := p.dial(p.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("channel open: %w", err)
	}
	if err := declareExchange(ch, p.cfg.Exchange); err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func (p *Publisher) reset() {
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
}
