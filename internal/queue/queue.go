package queue

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/pubgraph/backend/internal/config"
	"github.com/pubgraph/backend/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

const (
	IngestQueue     = "ingest_queue"
	SimilarityQueue = "similarity_queue"
)

// Queues lists every work queue the worker consumes.
var Queues = []string{IngestQueue, SimilarityQueue}

// RetryDelay is how long a failed message waits in its _retry queue before it
// is dead-lettered back onto the work queue.
const RetryDelay = 10 * time.Second

// Channel is the part of *amqp091.Channel used for declaring and publishing.
type Channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

func URL(cfg config.QueueConfig) string {
	u := url.URL{
		Scheme: "amqp",
		Host:   fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Path:   "/",
	}
	if cfg.User != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	}
	return u.String()
}

func Init(cfg config.QueueConfig) *amqp091.Connection {
	conn, err := amqp091.Dial(URL(cfg))
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "host", cfg.Host, "err", err)
	}
	return conn
}

// SetupQueues declares every queue together with its _dlq and its _retry
// queue. Messages in _retry expire after RetryDelay and return to the work
// queue.
func SetupQueues(ch Channel, queueNames []string) error {
	for _, name := range queueNames {
		if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare %s: %w", name, err)
		}

		dlqName := name + "_dlq"
		if _, err := ch.QueueDeclare(dlqName, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare %s: %w", dlqName, err)
		}

		retryName := name + "_retry"
		_, err := ch.QueueDeclare(
			retryName,
			true,
			false,
			false,
			false,
			amqp091.Table{
				"x-message-ttl":             int32(RetryDelay / time.Millisecond),
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": name,
			},
		)
		if err != nil {
			return fmt.Errorf("declare %s: %w", retryName, err)
		}
	}
	return nil
}

func PublishFIFO(ctx context.Context, ch Channel, queueName string, data []byte) error {
	q, err := ch.QueueDeclare(
		queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	publishing := amqp091.Publishing{
		ContentType:  "application/json",
		Body:         data,
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
	}
	return ch.PublishWithContext(ctx, "", q.Name, false, false, publishing)
}
