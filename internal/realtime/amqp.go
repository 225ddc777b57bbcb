package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/ruralpay/playcard/internal/config"
)

const amqpPublishTimeout = 5 * time.Second

// amqpChannel is the subset of *amqp.Channel the mirror uses.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPObserver mirrors every event frame onto a topic exchange with routing
// key <prefix>.<type>.
type AMQPObserver struct {
	conn     *amqp.Connection
	channel  amqpChannel
	exchange string
	prefix   string
	queue    chan []byte
	done     chan struct{}
	stopped  chan struct{}
	once     sync.Once
	dropped  atomic.Uint64
	logger   *zap.Logger
}

var _ Observer = (*AMQPObserver)(nil)

// DialAMQP connects to the broker and declares the exchange.
func DialAMQP(cfg config.AMQPConfig, queueSize int, logger *zap.Logger) (*AMQPObserver, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	o, err := newAMQPObserver(conn, channel, cfg, queueSize, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return o, nil
}

func newAMQPObserver(conn *amqp.Connection, channel amqpChannel, cfg config.AMQPConfig, queueSize int, logger *zap.Logger) (*AMQPObserver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = 64
	}

	err := channel.ExchangeDeclare(
		cfg.Exchange, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		channel.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	o := &AMQPObserver{
		conn:     conn,
		channel:  channel,
		exchange: cfg.Exchange,
		prefix:   cfg.RoutingPrefix,
		queue:    make(chan []byte, queueSize),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		logger:   logger.Named("amqp"),
	}
	go o.run()

	o.logger.Info("AMQP mirror initialized", zap.String("exchange", cfg.Exchange), zap.String("prefix", cfg.RoutingPrefix))
	return o, nil
}

func (o *AMQPObserver) ID() string { return "amqp:" + o.exchange }

// Send enqueues a frame for the publisher goroutine. A full queue drops the
// frame instead of failing, so a slow broker never detaches the mirror.
func (o *AMQPObserver) Send(frame []byte) error {
	select {
	case <-o.done:
		return ErrObserverClosed
	default:
	}

	select {
	case o.queue <- frame:
	case <-o.done:
		return ErrObserverClosed
	default:
		o.dropped.Add(1)
		o.logger.Warn("Publish queue full, dropping event frame",
			zap.Int("queue_size", cap(o.queue)),
			zap.Uint64("dropped_total", o.dropped.Load()))
	}
	return nil
}

// Dropped reports how many frames were discarded because the queue was full.
func (o *AMQPObserver) Dropped() uint64 {
	return o.dropped.Load()
}

// Close stops accepting frames. Queued frames are still published in the
// background; Done reports when the connection has been released.
func (o *AMQPObserver) Close() {
	o.once.Do(func() {
		close(o.done)
	})
}

func (o *AMQPObserver) Done() <-chan struct{} {
	return o.stopped
}

func (o *AMQPObserver) run() {
	defer func() {
		if err := o.channel.Close(); err != nil {
			o.logger.Debug("Channel close", zap.Error(err))
		}
		if o.conn != nil {
			o.conn.Close()
		}
		close(o.stopped)
	}()

	for {
		select {
		case frame := <-o.queue:
			o.publish(frame)
		case <-o.done:
			for {
				select {
				case frame := <-o.queue:
					o.publish(frame)
				default:
					return
				}
			}
		}
	}
}

func (o *AMQPObserver) publish(frame []byte) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(frame, &head); err != nil || head.Type == "" {
		o.logger.Warn("Skipping frame without type")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), amqpPublishTimeout)
	defer cancel()

	key := o.routingKey(head.Type)
	err := o.channel.PublishWithContext(ctx,
		o.exchange, // exchange
		key,        // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         frame,
		},
	)
	if err != nil {
		o.logger.Error("Failed to publish event", zap.String("routing_key", key), zap.Error(err))
	}
}

func (o *AMQPObserver) routingKey(eventType string) string {
	if o.prefix == "" {
		return eventType
	}
	return o.prefix + "." + eventType
}
