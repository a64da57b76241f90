// Package rabbitmq publishes reservation events to RabbitMQ. Publishing is
// best effort: failures are logged and returned so callers can ignore them
// without interrupting the booking flow.
package rabbitmq

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"mane_reservas/internal/domain"
)

// ConfirmedQueue receives one message per newly confirmed reservation.
const ConfirmedQueue = "reservation.confirmed"

type Publisher struct {
	url string

	mu   sync.Mutex
	conn *amqp.Connection
}

func New(url string) *Publisher { return &Publisher{url: url} }

// channel opens a channel, redialing when the cached connection is gone.
func (p *Publisher) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil || p.conn.IsClosed() {
		conn, err := amqp.Dial(p.url)
		if err != nil {
			return nil, err
		}
		p.conn = conn
	}
	return p.conn.Channel()
}

func (p *Publisher) PublishReservationConfirmed(ctx context.Context, ev domain.ReservationConfirmedEvent) error {
	ch, err := p.channel()
	if err != nil {
		log.Warn().Err(err).Msg("rabbitmq: dial/channel failed")
		return err
	}
	defer func() { _ = ch.Close() }()

	// Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(ConfirmedQueue, true, false, false, false, nil); err != nil {
		log.Warn().Err(err).Msg("rabbitmq: queue declare failed")
		return err
	}

	body, err := Encode(ev)
	if err != nil {
		return err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		MessageId:    ev.ReservationID,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", ConfirmedQueue, false, false, pub); err != nil {
		log.Warn().Err(err).Str("reservation_id", ev.ReservationID).Msg("rabbitmq: publish failed")
		return err
	}
	log.Debug().Str("reservation_id", ev.ReservationID).Msg("reservation.confirmed published")
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}

// Encode is the wire form of the event.
func Encode(ev domain.ReservationConfirmedEvent) ([]byte, error) {
	return json.Marshal(ev)
}

// Nop drops events; used when no broker is configured.
type Nop struct{}

func (Nop) PublishReservationConfirmed(context.Context, domain.ReservationConfirmedEvent) error {
	return nil
}
