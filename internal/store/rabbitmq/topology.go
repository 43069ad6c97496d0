package rabbitmq

import (
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ReplyJobMessage is the body of one reply job delivery.
type ReplyJobMessage struct {
	JobID string `json:"job_id"`
}

// attemptHeader counts how many times a job went through the retry queue.
const attemptHeader = "x-attempt"

func retryQueueName(queue string) string { return queue + ".retry" }

func deadQueueName(queue string) string { return queue + ".dlq" }

// declareTopology declares the main queue plus its retry and dead-letter
// queues. Publisher and consumer must agree on the arguments or the broker
// rejects the second declaration.
//
//	main  --nack(requeue=false)--> dlq
//	retry --per-message TTL------> main
func declareTopology(ch *amqp.Channel, queue string) error {
	if _, err := ch.QueueDeclare(deadQueueName(queue), true, false, false, false, nil); err != nil {
		return errors.Wrap(err, "declare dlq")
	}

	if _, err := ch.QueueDeclare(retryQueueName(queue), true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": queue,
	}); err != nil {
		return errors.Wrap(err, "declare retry queue")
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": deadQueueName(queue),
	}); err != nil {
		return errors.Wrap(err, "declare queue")
	}
	return nil
}

func dial(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, errors.Wrap(err, "rabbit dial")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, errors.Wrap(err, "rabbit channel")
	}
	return conn, ch, nil
}

// attemptOf reads the retry counter; amqp tables may carry any integer width.
func attemptOf(h amqp.Table) int {
	switch v := h[attemptHeader].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	}
	return 0
}
