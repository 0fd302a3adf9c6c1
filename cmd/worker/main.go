package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pubgraph/backend/internal/app"
	"github.com/pubgraph/backend/internal/queue"
	"github.com/pubgraph/backend/internal/timing"
	"github.com/pubgraph/backend/pkg/ai"
	"github.com/pubgraph/backend/pkg/loader"
	"github.com/pubgraph/backend/pkg/logger"
	"github.com/pubgraph/backend/pkg/pipeline"

	amqp "github.com/rabbitmq/amqp091-go"
)

func main() {
	cfg, err := app.LoadConfig("")
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	flush := app.InitLogger(cfg.Logging)
	defer flush()

	shutdownTracing := app.InitTelemetry(ctx, cfg.Telemetry, "worker")
	defer shutdownTracing(context.Background())

	// graph store
	graph, locker, err := app.OpenGraph(ctx, cfg)
	if err != nil {
		logger.Fatal("Unable to connect to graph database", "backend", cfg.Graph.Backend, "err", err)
	}
	defer graph.Close(context.Background())

	// encoder
	encoder, err := app.NewEncoder(cfg)
	if err != nil {
		logger.Fatal("Could not create encoder", "adapter", cfg.Encoder.Adapter, "err", err)
	}
	engine, closeCache, err := app.NewEngine(ctx, cfg, encoder)
	if err != nil {
		logger.Fatal("Could not create embedding engine", "err", err)
	}
	defer closeCache()

	// s3 reports and archive
	reports, err := app.NewReportStore(ctx, cfg)
	if err != nil {
		logger.Fatal("Could not create report storage", "err", err)
	}

	source, err := app.NewSource(ctx, cfg, reports)
	if err != nil {
		logger.Fatal("Could not create article source", "source", cfg.Source.Kind, "err", err)
	}

	runner, err := app.NewRunner(cfg, app.RunnerParams{
		Source: source,
		Engine: engine,
		Graph:  graph,
		Locker: locker,
	})
	if err != nil {
		logger.Fatal("Could not create pipeline", "err", err)
	}

	processor := &queue.Processor{Runner: runner}
	if s, ok := source.(loader.Searcher); ok {
		processor.Searcher = s
	}
	if reports != nil {
		processor.OnReport = func(ctx context.Context, r *pipeline.Report) {
			key, err := reports.PutReport(ctx, r)
			if err != nil {
				logger.Error("Failed to store run report", "run_id", r.RunID, "err", err)
				return
			}
			logger.Info("Run report stored", "run_id", r.RunID, "key", key)
		}
	}

	// Init rabbitmq
	conn := queue.Init(cfg.Queue)
	defer conn.Close()

	// Init rabbitmq queues if not exist
	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, queue.Queues); err != nil {
		logger.Fatal("Failed to setup queues", "err", err)
	}

	logger.Info("Listening for messages")

	// A single consumer channel with prefetch=1 delivers one message at a
	// time across all queues.
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	err = consumerCh.Qos(1, 0, true)
	if err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	type queuedMessage struct {
		msg       amqp.Delivery
		queueName string
	}

	messageChan := make(chan queuedMessage)

	for _, queueName := range queue.Queues {
		go func(qName string) {
			consumerTag := fmt.Sprintf("%s_consumer", qName)
			msgs, err := consumerCh.Consume(
				qName,
				consumerTag,
				false, // autoAck
				false, // exclusive
				false, // noLocal
				false, // noWait
				nil,   // args
			)
			if err != nil {
				logger.Fatal("Failed to start consuming", "queue", qName, "err", err)
			}

			for {
				select {
				case <-ctx.Done():
					logger.Info("Stopping consumer", "queue", qName)
					return
				case msg, ok := <-msgs:
					if !ok {
						logger.Info("Message channel closed", "queue", qName)
						return
					}
					messageChan <- queuedMessage{msg: msg, queueName: qName}
				}
			}
		}(queueName)
	}

	metrics, _ := encoder.(ai.MetricsReporter)

	go func() {
		for {
			select {
			case <-ctx.Done():
				logger.Info("Stopping message processor")
				return
			case qm := <-messageChan:
				startTime := time.Now()
				logger.Info("Received message", "queue", qm.queueName)

				processingErr := processor.Process(ctx, qm.queueName, qm.msg.Body)

				// On error send to retry or dead-letter, otherwise ack the message
				if processingErr != nil {
					logger.Error("Error processing message", "queue", qm.queueName, "err", processingErr)
					queue.HandleProcessingError(ctx, ch, qm.msg, qm.queueName, processingErr)
				} else {
					if err := qm.msg.Ack(false); err != nil {
						logger.Error("Failed to ack message", "err", err)
					}
					logger.Info("Message processed successfully", "queue", qm.queueName)
				}

				if metrics != nil {
					timing.LogEncoderMetrics(metrics.GetMetrics())
					metrics.ResetMetrics()
				}

				timing.LogProcessingTime(startTime)
				logger.Info("Waiting for next message")
			}
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, exiting...")
}

