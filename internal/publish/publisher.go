// Package publish announces terminal authorization results on AMQP so
// downstream consumers can persist or react to them. The publisher is
// shielded by its own circuit breaker: a broken broker must never slow the
// dispatch path down.
package publish

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sony/gobreaker"
	"github.com/streadway/amqp"

	apperrors "cae-dispatcher/internal/common/errors"
	"cae-dispatcher/internal/common/logging"
	"cae-dispatcher/internal/processor"
	"cae-dispatcher/internal/store"
)

// Config holds the publisher configuration.
type Config struct {
	// URL is the AMQP connection string
	URL string
	// Exchange to publish on
	Exchange string
	// RoutingKey for result messages
	RoutingKey string
	// Queue bound to the exchange for default consumption
	Queue string
}

// DefaultConfig returns the standard topology names.
func DefaultConfig(url string) Config {
	return Config{
		URL:        url,
		Exchange:   "cae.results",
		RoutingKey: "authorization.result",
		Queue:      "authorization-results",
	}
}

// Channel is the slice of the AMQP channel API the publisher uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends result records to AMQP through a gobreaker shield.
type Publisher struct {
	config  Config
	conn    *amqp.Connection
	channel func() (Channel, error)
	shield  *gobreaker.CircuitBreaker
	logger  logging.Logger
}

// NewPublisher dials the broker and declares the result topology.
func NewPublisher(config Config, logger logging.Logger) (*Publisher, error) {
	if config.URL == "" {
		return nil, apperrors.ConfigError("publisher requires an AMQP URL")
	}

	conn, err := amqp.Dial(config.URL)
	if err != nil {
		return nil, apperrors.ConnectionError("failed to connect to AMQP broker", err)
	}

	p := newWithChannel(config, func() (Channel, error) {
		ch, err := conn.Channel()
		if err != nil {
			return nil, err
		}
		return ch, nil
	}, logger)
	p.conn = conn

	if err := p.declareTopology(); err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

// newWithChannel wires a publisher over an injected channel factory.
func newWithChannel(config Config, channel func() (Channel, error), logger logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if config.Exchange == "" {
		config.Exchange = "cae.results"
	}
	if config.RoutingKey == "" {
		config.RoutingKey = "authorization.result"
	}
	if config.Queue == "" {
		config.Queue = "authorization-results"
	}

	componentLogger := logger.WithFields(logging.Field{Key: "component", Value: "publisher"})

	shield := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "amqp-publisher",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			componentLogger.Warn("Publisher breaker state changed",
				logging.Field{Key: "breaker", Value: name},
				logging.Field{Key: "from", Value: from.String()},
				logging.Field{Key: "to", Value: to.String()},
			)
		},
	})

	return &Publisher{
		config:  config,
		channel: channel,
		shield:  shield,
		logger:  componentLogger,
	}
}

func (p *Publisher) declareTopology() error {
	ch, err := p.channel()
	if err != nil {
		return apperrors.ConnectionError("failed to open AMQP channel", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(p.config.Exchange, "topic", true, false, false, false, nil); err != nil {
		return apperrors.ConnectionError("failed to declare exchange", err)
	}
	if _, err := ch.QueueDeclare(p.config.Queue, true, false, false, false, nil); err != nil {
		return apperrors.ConnectionError("failed to declare queue", err)
	}
	if err := ch.QueueBind(p.config.Queue, p.config.RoutingKey, p.config.Exchange, false, nil); err != nil {
		return apperrors.ConnectionError("failed to bind queue", err)
	}
	return nil
}

// PublishResult sends one terminal result. Broker failures trip the shield
// and surface as errors; the caller logs and moves on.
func (p *Publisher) PublishResult(_ context.Context, result processor.Result) error {
	body, err := json.Marshal(store.RecordFromResult(result))
	if err != nil {
		return apperrors.InternalError("failed to marshal result", err)
	}

	_, err = p.shield.Execute(func() (interface{}, error) {
		ch, err := p.channel()
		if err != nil {
			return nil, err
		}
		defer ch.Close()

		return nil, ch.Publish(p.config.Exchange, p.config.RoutingKey, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		})
	})
	if err != nil {
		return apperrors.ConnectionError("failed to publish result", err)
	}
	return nil
}

// ShieldState reports the publisher breaker state for status surfaces.
func (p *Publisher) ShieldState() string {
	return p.shield.State().String()
}

// Close shuts the AMQP connection down.
func (p *Publisher) Close() error {
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
