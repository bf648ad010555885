package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"docuchat/internal/apperr"
	"docuchat/internal/ingest"
	"docuchat/internal/logger"
	"docuchat/internal/platform/rabbitmq"
)

// IngestWorker consumes jobs published by rabbitmq.JobPublisher and runs them
// through the pipeline. A job is acked once the pipeline has recorded its
// outcome on the task, whether it succeeded or not.
type IngestWorker struct {
	conn      *amqp.Connection
	runner    ingest.Runner
	queueName string
	prefetch  int
	timeout   time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewIngestWorker(conn *amqp.Connection, runner ingest.Runner, queueName string, prefetch int, timeout time.Duration) *IngestWorker {
	if prefetch <= 0 {
		prefetch = 1
	}
	return &IngestWorker{
		conn:      conn,
		runner:    runner,
		queueName: queueName,
		prefetch:  prefetch,
		timeout:   timeout,
	}
}

func (w *IngestWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	if err := rabbitmq.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		cancel()
		return err
	}

	if err := ch.Qos(w.prefetch, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	for i := 0; i < w.prefetch; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.consume(workerCtx, deliveries)
		}()
	}
	go func() {
		w.wg.Wait()
		_ = ch.Close()
	}()

	logger.Info("ingest worker started", "queue", w.queueName, "prefetch", w.prefetch)
	return nil
}

func (w *IngestWorker) consume(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			w.handle(ctx, d)
		}
	}
}

func (w *IngestWorker) handle(ctx context.Context, d amqp.Delivery) {
	var job ingest.Job
	if err := json.Unmarshal(d.Body, &job); err != nil {
		logger.Error("worker decode job failed", "error", err)
		_ = d.Nack(false, false)
		return
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if w.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, w.timeout)
	}
	defer cancel()

	// Task state lives in this process, so a redelivered job could never be
	// claimed again. Every job is acked once the pipeline returns.
	if err := w.runner.Run(runCtx, job); err != nil {
		logger.Debug("ingest job finished with error", "task_id", job.TaskID, "kind", apperr.KindOf(err))
	}
	_ = d.Ack(false)
}

func (w *IngestWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
