// Package publish forwards EncryptedResource messages to downstream systems.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/xebook/readium-encrypt/pkg/message"
)

const (
	DefaultExchange     = "messages"
	DefaultExchangeKind = "fanout"
	DefaultMessageType  = "EncryptedResource"

	HeaderType      = "type"
	HeaderSignature = "signature"
)

type Publisher interface {
	Publish(ctx context.Context, r message.EncryptedResource) error
	Close() error
}

type AMQPConfig struct {
	DSN          string
	Exchange     string
	ExchangeKind string
	RoutingKey   string
	MessageType  string
}

func (c *AMQPConfig) defaults() {
	if c.Exchange == "" {
		c.Exchange = DefaultExchange
	}
	if c.ExchangeKind == "" {
		c.ExchangeKind = DefaultExchangeKind
	}
	if c.MessageType == "" {
		c.MessageType = DefaultMessageType
	}
}

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type AMQPPublisher struct {
	cfg    AMQPConfig
	conn   io.Closer
	ch     channel
	signer *Signer
	logger *slog.Logger
}

type Option func(*AMQPPublisher)

func WithSigner(s *Signer) Option {
	return func(p *AMQPPublisher) {
		p.signer = s
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *AMQPPublisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewAMQPPublisher connects to the broker and declares a durable exchange.
func NewAMQPPublisher(cfg AMQPConfig, opts ...Option) (*AMQPPublisher, error) {
	if cfg.DSN == "" {
		return nil, errors.New("amqp dsn cannot be empty")
	}
	cfg.defaults()
	conn, err := amqp.Dial(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("could not connect to amqp broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("could not open amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, cfg.ExchangeKind, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("could not declare exchange %s: %w", cfg.Exchange, err)
	}
	return newAMQPPublisher(cfg, conn, ch, opts...), nil
}

func newAMQPPublisher(cfg AMQPConfig, conn io.Closer, ch channel, opts ...Option) *AMQPPublisher {
	cfg.defaults()
	p := &AMQPPublisher{cfg: cfg, conn: conn, ch: ch, logger: slog.Default()}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *AMQPPublisher) Publish(ctx context.Context, r message.EncryptedResource) error {
	body, err := json.Marshal(r)
	if err != nil {
		return err
	}
	headers := amqp.Table{HeaderType: p.cfg.MessageType}
	if p.signer != nil {
		sig, err := p.signer.Sign(r.ID(), body)
		if err != nil {
			return fmt.Errorf("could not sign message: %w", err)
		}
		headers[HeaderSignature] = string(sig)
	}
	msg := amqp.Publishing{
		Headers:      headers,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Type:         p.cfg.MessageType,
		Body:         body,
	}
	if err := p.ch.PublishWithContext(ctx, p.cfg.Exchange, p.cfg.RoutingKey, false, false, msg); err != nil {
		return fmt.Errorf("could not publish message: %w", err)
	}
	p.logger.Info("message published",
		slog.String("exchange", p.cfg.Exchange),
		slog.String("messageId", msg.MessageId),
		slog.String("contentId", r.ID()),
	)
	return nil
}

func (p *AMQPPublisher) Close() error {
	var errs []error
	if p.ch != nil {
		errs = append(errs, p.ch.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}
