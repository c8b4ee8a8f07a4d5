package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	logx "upgradebot/pkg/logx"
)

type RabbitConfig struct {
	URL      string
	Exchange string
	// DialAttempts defaults to 5, DialDelay to 1s (doubled per attempt, capped at maxDialDelay).
	DialAttempts int
	DialDelay    time.Duration
}

const maxDialDelay = time.Minute

// Rabbit publishes to a durable topic exchange on a single confirm-mode channel.
type Rabbit struct {
	exchange string
	log      logx.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func DialRabbit(ctx context.Context, cfg RabbitConfig, log logx.Logger) (*Rabbit, error) {
	if cfg.URL == "" {
		return nil, errors.New("events: url is required")
	}
	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	conn, err := dialWithRetry(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("events: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("events: declare exchange %q: %w", cfg.Exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("events: confirm mode: %w", err)
	}
	log.Info("rabbit connected", logx.String("exchange", cfg.Exchange))
	return &Rabbit{exchange: cfg.Exchange, log: log, conn: conn, ch: ch}, nil
}

func dialWithRetry(ctx context.Context, cfg RabbitConfig, log logx.Logger) (*amqp.Connection, error) {
	attempts := cfg.DialAttempts
	if attempts <= 0 {
		attempts = 5
	}
	delay := cfg.DialDelay
	if delay <= 0 {
		delay = time.Second
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		conn, err := amqp.Dial(cfg.URL)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if i == attempts {
			break
		}
		log.Warn("rabbit dial failed", logx.Int("attempt", i), logx.Duration("sleep", delay), logx.Err(err))
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, fmt.Errorf("events: dial cancelled: %w", ctx.Err())
		case <-t.C:
		}
		delay = min(delay*2, maxDialDelay)
	}
	return nil, fmt.Errorf("events: connect after %d attempts: %w", attempts, lastErr)
}

// Publish sends m persistently and waits for the broker confirm.
func (r *Rabbit) Publish(ctx context.Context, m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ch == nil {
		return errors.New("events: publisher closed")
	}
	conf, err := r.ch.PublishWithDeferredConfirmWithContext(ctx, r.exchange, m.Key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    m.ID,
		Timestamp:    m.Time,
		AppId:        Source,
		Body:         m.Body,
	})
	if err != nil {
		return fmt.Errorf("events: publish %s: %w", m.Key, err)
	}
	if conf == nil {
		return nil
	}
	ok, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("events: confirm %s: %w", m.Key, err)
	}
	if !ok {
		return fmt.Errorf("events: broker nacked %s", m.Key)
	}
	return nil
}

func (r *Rabbit) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	var errs []error
	if r.ch != nil {
		errs = append(errs, r.ch.Close())
	}
	errs = append(errs, r.conn.Close())
	r.ch, r.conn = nil, nil
	return errors.Join(errs...)
}
