package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"drivepass-billing/internal/config"
	"drivepass-billing/internal/domain/ports/adapter"
)

var (
	_ adapter.EventPublisher = (*AMQPPublisher)(nil)
	_ adapter.EventPublisher = (*NoopPublisher)(nil)
)

const eventPackageActivated = "package.activated"

// publishChannel is the part of *amqp.Channel the publisher uses.
type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes activation events to a topic exchange.
// The email collaborator consumes them; the user package id is the message id.
type AMQPPublisher struct {
	mu         sync.Mutex
	conn       io.Closer
	ch         publishChannel
	exchange   string
	routingKey string
	log        *zerolog.Logger
}

func NewAMQPPublisher(cfg config.AMQPConfig, logger *zerolog.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp exchange %s: %w", cfg.Exchange, err)
	}
	p := newAMQPPublisher(conn, ch, cfg.Exchange, cfg.RoutingKey, logger)
	p.log.Info().Str("exchange", cfg.Exchange).Msg("amqp publisher connected")
	return p, nil
}

func newAMQPPublisher(conn io.Closer, ch publishChannel, exchange, routingKey string, logger *zerolog.Logger) *AMQPPublisher {
	if routingKey == "" {
		routingKey = eventPackageActivated
	}
	l := logger.With().Str("component", "AMQPPublisher").Logger()
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange, routingKey: routingKey, log: &l}
}

func (p *AMQPPublisher) PublishPackageActivated(ctx context.Context, ev adapter.PackageActivated) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", eventPackageActivated, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.UserPackageID,
		Type:         eventPackageActivated,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		p.log.Error().Err(err).Str("user_package_id", ev.UserPackageID).Msg("publish failed")
		return err
	}
	p.log.Debug().Str("user_package_id", ev.UserPackageID).Int("size", len(body)).Msg("event published")
	return nil
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		if err := p.ch.Close(); err != nil {
			p.log.Warn().Err(err).Msg("error closing channel")
		}
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// NoopPublisher logs events instead of publishing them.
type NoopPublisher struct {
	log *zerolog.Logger
}

func NewNoopPublisher(logger *zerolog.Logger) *NoopPublisher {
	return &NoopPublisher{log: logger}
}

func (p *NoopPublisher) PublishPackageActivated(ctx context.Context, ev adapter.PackageActivated) error {
	p.log.Debug().Str("user_id", ev.UserID).Str("user_package_id", ev.UserPackageID).Msg("noop publish")
	return nil
}

func (p *NoopPublisher) Close() error { return nil }
