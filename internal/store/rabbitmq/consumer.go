package rabbitmq

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// JobHandler processes one job. A returned error sends the job through the
// retry queue until MaxAttempts, then to the dead-letter queue.
type JobHandler func(ctx context.Context, jobID string) error

type ConsumerOptions struct {
	Concurrency int
	MaxAttempts int
	// RetryDelay is the wait before the first retry; it doubles per attempt.
	RetryDelay time.Duration
}

type Consumer struct {
	conn  *amqp.Connection
	queue string
	opts  ConsumerOptions
	log   zerolog.Logger

	mu sync.Mutex // guards publishes on ch
	ch *amqp.Channel
}

func NewConsumer(url, queue string, opts ConsumerOptions) (*Consumer, error) {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}

	conn, ch, err := dial(url)
	if err != nil {
		return nil, err
	}
	if err := declareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	// strict concurrency control
	if err := ch.Qos(opts.Concurrency, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, errors.Wrap(err, "qos")
	}

	return &Consumer{
		conn:  conn,
		ch:    ch,
		queue: queue,
		opts:  opts,
		log:   log.With().Str("component", "consumer").Str("queue", queue).Logger(),
	}, nil
}

func (c *Consumer) Close() error {
	_ = c.ch.Close()
	return c.conn.Close()
}

// Run feeds deliveries to a fixed pool of workers until ctx is done or the
// broker closes the delivery channel. In-flight jobs finish before it returns.
func (c *Consumer) Run(ctx context.Context, h JobHandler) error {
	msgs, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return errors.Wrap(err, "consume")
	}

	c.log.Info().Int("concurrency", c.opts.Concurrency).Msg("worker started")

	jobs := make(chan amqp.Delivery, c.opts.Concurrency*2)
	var wg sync.WaitGroup
	wg.Add(c.opts.Concurrency)
	for i := 0; i < c.opts.Concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				c.handle(ctx, workerID, d, h)
			}
		}(i)
	}

	defer func() {
		close(jobs)
		wg.Wait()
	}()

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("worker shutting down")
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			jobs <- d
		}
	}
}

func (c *Consumer) handle(ctx context.Context, workerID int, d amqp.Delivery, h JobHandler) {
	l := c.log.With().Int("worker", workerID).Logger()

	var m ReplyJobMessage
	if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
		l.Warn().Err(err).Msg("bad message")
		_ = d.Nack(false, false)
		return
	}
	l = l.With().Str("job_id", m.JobID).Logger()

	start := time.Now()
	err := h(ctx, m.JobID)
	if err == nil {
		if err := d.Ack(false); err != nil {
			l.Warn().Err(err).Msg("ack failed")
		}
		return
	}

	attempt := attemptOf(d.Headers) + 1
	if attempt >= c.opts.MaxAttempts {
		l.Error().Err(err).Int("attempt", attempt).Dur("cost", time.Since(start)).Msg("job failed, dead-lettering")
		_ = d.Nack(false, false)
		return
	}

	delay := retryDelay(c.opts.RetryDelay, attempt)
	l.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("job failed, retrying")
	if perr := c.retry(ctx, d, attempt, delay); perr != nil {
		l.Error().Err(perr).Msg("schedule retry")
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

func (c *Consumer) retry(ctx context.Context, d amqp.Delivery, attempt int, delay time.Duration) error {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch.PublishWithContext(cctx, "", retryQueueName(c.queue), false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		Body:         d.Body,
		Headers:      amqp.Table{attemptHeader: int32(attempt)},
		Expiration:   strconv.FormatInt(delay.Milliseconds(), 10),
		Timestamp:    time.Now(),
	})
}

// retryDelay doubles base per attempt, capped at one minute.
func retryDelay(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= time.Minute {
			return time.Minute
		}
	}
	return d
}
