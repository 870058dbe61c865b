// Package publisher announces finished digests on RabbitMQ.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"digest_fetcher/internal/domain"
)

// MessageTypeDigestReady is set as the AMQP type of every digest message.
const MessageTypeDigestReady = "digest.ready"

var ErrNotConfirmed = errors.New("broker rejected message")

type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
	QueueName  string
}

// RabbitMQ publishes on a single confirm-mode channel. Publishes are
// serialised because an amqp channel is not safe for concurrent use.
type RabbitMQ struct {
	mu         sync.Mutex
	conn       *amqp.Connection
	channel    *amqp.Channel
	exchange   string
	routingKey string
	now        func() time.Time
	logger     *slog.Logger
}

// NewRabbitMQ connects, declares a durable direct exchange with one durable
// queue bound on the routing key, and puts the channel in confirm mode.
func NewRabbitMQ(cfg Config, logger *slog.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := setupChannel(ch, cfg); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	logger.Info("connected to rabbitmq",
		"exchange", cfg.Exchange,
		"queue", cfg.QueueName,
		"routing_key", cfg.RoutingKey,
	)

	return &RabbitMQ{
		conn:       conn,
		channel:    ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
		now:        time.Now,
		logger:     logger.With("component", "publisher"),
	}, nil
}

func setupChannel(ch *amqp.Channel, cfg Config) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}

	q, err := ch.QueueDeclare(cfg.QueueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", cfg.QueueName, err)
	}

	if err := ch.QueueBind(q.Name, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", q.Name, err)
	}

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("enable publisher confirms: %w", err)
	}
	return nil
}

// DigestMessage announces a digest that is ready for delivery.
type DigestMessage struct {
	DigestID     uuid.UUID `json:"digest_id"`
	Date         string    `json:"date"`
	ArticleCount int       `json:"article_count"`
	Timestamp    time.Time `json:"timestamp"`
}

func NewDigestMessage(d *domain.Digest, now time.Time) DigestMessage {
	return DigestMessage{
		DigestID:     d.ID,
		Date:         domain.DateKey(d.Date),
		ArticleCount: d.ArticleCount,
		Timestamp:    now.UTC(),
	}
}

func (m DigestMessage) publishing() (amqp.Publishing, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal digest message: %w", err)
	}
	return amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Type:         MessageTypeDigestReady,
		MessageId:    m.DigestID.String(),
		Timestamp:    m.Timestamp,
		Body:         body,
	}, nil
}

// PublishDigest sends the ready message and waits for the broker to confirm
// it. The message id is the digest id so consumers can drop redeliveries.
func (r *RabbitMQ) PublishDigest(ctx context.Context, digest *domain.Digest) error {
	msg := NewDigestMessage(digest, r.now())

	pub, err := msg.publishing()
	if err != nil {
		return err
	}

	r.mu.Lock()
	confirm, err := r.channel.PublishWithDeferredConfirmWithContext(ctx, r.exchange, r.routingKey, false, false, pub)
	r.mu.Unlock()
	if err != nil {
		return fmt.Errorf("publish digest %s: %w", digest.ID, err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm for digest %s: %w", digest.ID, err)
	}
	if !acked {
		return fmt.Errorf("publish digest %s: %w", digest.ID, ErrNotConfirmed)
	}

	r.logger.Debug("published digest",
		"digest_id", digest.ID,
		"date", msg.Date,
		"article_count", msg.ArticleCount,
	)

	return nil
}

func (r *RabbitMQ) Close() error {
	var errs []error
	if r.channel != nil {
		errs = append(errs, r.channel.Close())
	}
	if r.conn != nil {
		errs = append(errs, r.conn.Close())
	}
	return errors.Join(errs...)
}
