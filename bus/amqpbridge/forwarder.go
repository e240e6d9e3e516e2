// Package amqpbridge forwards bus events to a RabbitMQ exchange so that
// out-of-process observers can follow cache changes.
package amqpbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/IvanBrykalov/syncache/bus"
	"github.com/IvanBrykalov/syncache/model"
)

// Channel is the subset of *amqp.Channel the forwarder needs.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

var _ Channel = (*amqp.Channel)(nil)

// Message is the JSON body published for each event.
type Message struct {
	Topic  string    `json:"topic"`
	Key    string    `json:"key,omitempty"`
	Reason string    `json:"reason,omitempty"`
	OpID   string    `json:"opId,omitempty"`
	Error  string    `json:"error,omitempty"`
	At     time.Time `json:"at"`
}

func messageFor(ev bus.Event) Message {
	m := Message{
		Topic:  string(ev.Topic),
		Reason: string(ev.Reason),
		OpID:   ev.OpID,
		At:     ev.At,
	}
	if ev.Key.Kind.Valid() {
		m.Key = ev.Key.String()
	}
	if ev.Err != nil {
		m.Error = ev.Err.Error()
	}
	return m
}

// Forwarder relays bus events to an exchange, routing key = topic.
type Forwarder struct {
	ch       Channel
	exchange string
	timeout  time.Duration
	logger   *zap.Logger

	sub  *bus.Subscription
	done chan struct{}
	once sync.Once
}

// Dial connects to url, opens a channel and returns a forwarder owning
// both. The connection is closed with the forwarder.
func Dial(url, exchange string, logger *zap.Logger) (*Forwarder, func() error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		logger.Error("amqp dial failed", zap.Error(err))
		return nil, nil, fmt.Errorf("amqpbridge: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("amqpbridge: open channel: %w", err)
	}
	f, err := New(ch, exchange, logger)
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return f, conn.Close, nil
}

// New declares a durable topic exchange on ch.
func New(ch Channel, exchange string, logger *zap.Logger) (*Forwarder, error) {
	if ch == nil {
		return nil, errors.New("amqpbridge: nil channel")
	}
	if exchange == "" {
		return nil, errors.New("amqpbridge: empty exchange name")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	err := ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("amqpbridge: declare exchange %q: %w", exchange, err)
	}
	return &Forwarder{
		ch:       ch,
		exchange: exchange,
		timeout:  5 * time.Second,
		logger:   logger.Named("amqpbridge").With(zap.String("exchange", exchange)),
		done:     make(chan struct{}),
	}, nil
}

// Start subscribes to topics on b (all topics when empty) and forwards
// until ctx ends, the subscription closes or Close is called.
func (f *Forwarder) Start(ctx context.Context, b *bus.Bus, topics ...model.Topic) {
	f.sub = b.Subscribe(topics...)
	go f.loop(ctx)
}

func (f *Forwarder) loop(ctx context.Context) {
	defer close(f.done)
	for {
		select {
		case <-ctx.Done():
			f.sub.Close()
			return
		case ev, ok := <-f.sub.Events():
			if !ok {
				return
			}
			if err := f.Forward(ctx, ev); err != nil {
				f.logger.Warn("forward failed", zap.String("topic", string(ev.Topic)), zap.Error(err))
			}
		}
	}
}

// Forward publishes one event.
func (f *Forwarder) Forward(ctx context.Context, ev bus.Event) error {
	body, err := json.Marshal(messageFor(ev))
	if err != nil {
		return fmt.Errorf("amqpbridge: marshal: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	err = f.ch.PublishWithContext(pctx,
		f.exchange,
		string(ev.Topic),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Timestamp:   ev.At,
			Body:        body,
		},
	)
	if err != nil {
		return fmt.Errorf("amqpbridge: publish %s: %w", ev.Topic, err)
	}
	f.logger.Debug("event forwarded", zap.String("topic", string(ev.Topic)), zap.String("reason", string(ev.Reason)))
	return nil
}

// Close stops forwarding and closes the channel.
func (f *Forwarder) Close() error {
	var err error
	f.once.Do(func() {
		if f.sub != nil {
			f.sub.Close()
			<-f.done
		}
		err = f.ch.Close()
	})
	return err
}
