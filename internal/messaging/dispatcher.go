// Package messaging connects machines to the backend over an AMQP topic
// exchange: it consumes their connect and heartbeat messages and publishes
// authorization decisions back.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/example/fablab-backend/internal/application"
	"github.com/example/fablab-backend/internal/logging"
)

// CardHeader names the message header carrying the card tapped on the machine.
const CardHeader = "card_uuid"

var (
	messagesConsumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fablab_messages_consumed_total",
		Help: "Machine messages consumed, by recognised event.",
	}, []string{"event"})
	authorizationRepliesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fablab_authorization_replies_total",
		Help: "Authorization decisions published to machines.",
	}, []string{"result"})
)

// EventHandler receives the machine events the dispatcher recognises.
type EventHandler interface {
	OnAuthorizationRequest(ctx context.Context, machineID int64) error
	OnHeartbeat(ctx context.Context, machineID int64) error
}

// DecisionObserver is implemented by handlers that want to know when an
// authorization request has been answered.
type DecisionObserver interface {
	OnAuthorizationDecision(ctx context.Context, machineID int64, authorized bool) error
}

// Authorizer decides whether a card may operate a machine.
type Authorizer interface {
	IsAuthorized(ctx context.Context, machineID int64, identity application.UserIdentity) (application.AuthorizationDecision, error)
}

// DecisionPublisher sends a decision back to a machine.
type DecisionPublisher interface {
	PublishDecision(ctx context.Context, machineID int64, authorized bool) error
}

// RawMessageHandler sees every delivery before sentinel matching.
type RawMessageHandler func(ctx context.Context, routingKey string, body []byte)

// Message is a delivery stripped of transport details.
type Message struct {
	RoutingKey string
	Body       []byte
	Headers    map[string]any
}

// Dispatcher routes machine messages to an EventHandler and, when a card is
// attached to a connect message, answers it through the Authorizer and
// DecisionPublisher.
type Dispatcher struct {
	topic      machineTopic
	connect    string
	alive      string
	handler    EventHandler
	authorizer Authorizer
	publisher  DecisionPublisher
	raw        RawMessageHandler
	logger     *slog.Logger
}

// DispatcherOption configures optional collaborators.
type DispatcherOption func(*Dispatcher)

// WithAuthorizer answers connect messages that carry a card header.
func WithAuthorizer(authorizer Authorizer, publisher DecisionPublisher) DispatcherOption {
	return func(d *Dispatcher) {
		d.authorizer = authorizer
		d.publisher = publisher
	}
}

func WithRawMessageHandler(raw RawMessageHandler) DispatcherOption {
	return func(d *Dispatcher) {
		d.raw = raw
	}
}

func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher builds a dispatcher for the topic protocol in cfg.
func NewDispatcher(cfg Config, handler EventHandler, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		topic:   newMachineTopic(cfg.MachineTopic),
		connect: cfg.ConnectMessage,
		alive:   cfg.AliveMessage,
		handler: handler,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle processes one message. Messages outside the machine topic, or whose
// payload is neither sentinel, are ignored without error.
func (d *Dispatcher) Handle(ctx context.Context, msg Message) error {
	if d.raw != nil {
		d.raw(ctx, msg.RoutingKey, msg.Body)
	}

	machineID, ok := d.topic.MachineID(msg.RoutingKey)
	if !ok {
		messagesConsumedTotal.WithLabelValues("ignored").Inc()
		return nil
	}

	ctx, logger := logging.Scoped(ctx, d.logger, "routing_key", msg.RoutingKey, "machine_id", machineID)

	switch string(msg.Body) {
	case d.connect:
		messagesConsumedTotal.WithLabelValues("connect").Inc()
		return d.authorizationRequest(ctx, logger, machineID, msg.Headers)
	case d.alive:
		messagesConsumedTotal.WithLabelValues("alive").Inc()
		if d.handler == nil {
			return nil
		}
		return d.handler.OnHeartbeat(ctx, machineID)
	}

	messagesConsumedTotal.WithLabelValues("ignored").Inc()
	return nil
}

func (d *Dispatcher) authorizationRequest(ctx context.Context, logger *slog.Logger, machineID int64, headers map[string]any) error {
	if d.handler != nil {
		if err := d.handler.OnAuthorizationRequest(ctx, machineID); err != nil {
			return err
		}
	}

	card := headerString(headers, CardHeader)
	if card == "" || d.authorizer == nil || d.publisher == nil {
		return nil
	}

	authorized := false
	decision, err := d.authorizer.IsAuthorized(ctx, machineID, application.ByCardUUID(card))
	switch {
	case err == nil:
		authorized = decision.Authorized
	case errors.Is(err, application.ErrNotFound), errors.Is(err, application.ErrInvalidQuery):
		// Unknown cards and machines are denied.
		logger.WarnContext(ctx, "authorization request rejected", "error", err, "error_kind", application.ErrorKind(err))
	default:
		return fmt.Errorf("decide authorization for machine %d: %w", machineID, err)
	}

	if err := d.publisher.PublishDecision(ctx, machineID, authorized); err != nil {
		return fmt.Errorf("publish decision for machine %d: %w", machineID, err)
	}
	authorizationRepliesTotal.WithLabelValues(decisionWord(authorized)).Inc()

	if observer, ok := d.handler.(DecisionObserver); ok {
		if err := observer.OnAuthorizationDecision(ctx, machineID, authorized); err != nil {
			return err
		}
	}
	return nil
}

func headerString(headers map[string]any, key string) string {
	switch v := headers[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case []byte:
		return strings.TrimSpace(string(v))
	}
	return ""
}

func decisionWord(authorized bool) string {
	if authorized {
		return "authorized"
	}
	return "denied"
}
