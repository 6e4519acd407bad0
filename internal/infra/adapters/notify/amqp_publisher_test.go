//go:build !integration

package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"drivepass-billing/internal/domain/ports/adapter"
)

type mockChannel struct {
	published []amqp.Publishing
	exchange  string
	key       string
	err       error
	closed    bool
}

func (m *mockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if m.err != nil {
		return m.err
	}
	m.exchange, m.key = exchange, key
	m.published = append(m.published, msg)
	return nil
}

func (m *mockChannel) Close() error {
	m.closed = true
	return nil
}

type mockConn struct{ closed bool }

func (m *mockConn) Close() error {
	m.closed = true
	return nil
}

func TestAMQPPublisher(t *testing.T) {
	logger := zerolog.Nop()
	ev := adapter.PackageActivated{
		UserID:        "u1",
		PackageID:     "p1",
		UserPackageID: "up-1",
		PaymentID:     "pay-1",
		Provider:      "mercadopago",
		ActivatedAt:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	t.Run("publishes a persistent json message", func(t *testing.T) {
		ch := &mockChannel{}
		p := newAMQPPublisher(&mockConn{}, ch, "drivepass.events", "", &logger)
		if err := p.PublishPackageActivated(context.Background(), ev); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if ch.exchange != "drivepass.events" || ch.key != "package.activated" {
			t.Errorf("unexpected routing %s/%s", ch.exchange, ch.key)
		}
		msg := ch.published[0]
		if msg.DeliveryMode != amqp.Persistent || msg.MessageId != "up-1" || msg.ContentType != "application/json" {
			t.Errorf("unexpected message %+v", msg)
		}
		var got adapter.PackageActivated
		if err := json.Unmarshal(msg.Body, &got); err != nil || got.UserPackageID != ev.UserPackageID || !got.ActivatedAt.Equal(ev.ActivatedAt) {
			t.Errorf("unexpected body %s (%v)", msg.Body, err)
		}
	})

	t.Run("publish errors are returned", func(t *testing.T) {
		p := newAMQPPublisher(&mockConn{}, &mockChannel{err: errors.New("channel closed")}, "x", "k", &logger)
		if err := p.PublishPackageActivated(context.Background(), ev); err == nil {
			t.Fatal("expected an error")
		}
	})

	t.Run("close releases channel and connection", func(t *testing.T) {
		ch, conn := &mockChannel{}, &mockConn{}
		p := newAMQPPublisher(conn, ch, "x", "k", &logger)
		if err := p.Close(); err != nil || !ch.closed || !conn.closed {
			t.Errorf("expected both closed, got %v %v %v", err, ch.closed, conn.closed)
		}
	})
}
