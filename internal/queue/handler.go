package queue

import (
	"context"
	"errors"

	"github.com/pubgraph/backend/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const (
	RetriesHeader = "x-retries"
	MaxRetries    = 10
)

// Retries reads the retry counter of a delivery. Brokers and clients may hand
// the header back as any integer width.
func Retries(headers amqp091.Table) int {
	switch v := headers[RetriesHeader].(type) {
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
	default:
		return 0
	}
}

// HandleProcessingError moves a failed delivery to the _retry queue, or to the
// _dlq once it has been retried MaxRetries times. Messages that can never
// succeed go to the _dlq right away. The original delivery is acked after the
// copy was published and requeued if publishing failed.
func HandleProcessingError(ctx context.Context, ch Channel, msg amqp091.Delivery, queueName string, cause error) {
	retries := Retries(msg.Headers)

	target := queueName + "_retry"
	if retries >= MaxRetries || errors.Is(cause, ErrEmptyIngest) || errors.Is(cause, ErrInvalidID) || errors.Is(cause, ErrUnknownQueue) {
		target = queueName + "_dlq"
	}

	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[RetriesHeader] = int32(retries + 1)
	if cause != nil {
		headers["x-last-error"] = cause.Error()
	}

	logger.Info("[Queue] Rescheduling message", "queue", queueName, "target", target, "retries", retries)
	pubErr := ch.PublishWithContext(ctx, "", target, false, false, amqp091.Publishing{
		ContentType:  msg.ContentType,
		Body:         msg.Body,
		Headers:      headers,
		DeliveryMode: amqp091.Persistent,
	})
	if pubErr != nil {
		logger.Error("[Queue] Failed to reschedule message", "target", target, "err", pubErr)
		if err := msg.Nack(false, true); err != nil {
			logger.Error("[Queue] Failed to nack message", "err", err)
		}
		return
	}
	if err := msg.Ack(false); err != nil {
		logger.Error("[Queue] Failed to ack message", "err", err)
	}
}
