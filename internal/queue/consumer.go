package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/vesselwatch/internal/models"
)

type MessageHandler func(ctx context.Context, msg jetstream.Msg) error

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth redelivering. The message is terminated instead of NAKed.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

type ConsumerOptions struct {
	AckWait    time.Duration
	MaxDeliver int
}

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
	wg sync.WaitGroup
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js}, nil
}

// ConsumeTasks starts consuming process_file tasks from the TASKS stream.
// Exactly one task is in flight at a time: the durable consumer allows a
// single unacked message and the loop handles it before fetching the next.
func (c *Consumer) ConsumeTasks(ctx context.Context, consumerName string, opts ConsumerOptions, handler MessageHandler) error {
	if opts.AckWait <= 0 {
		opts.AckWait = 60 * time.Second
	}
	if opts.MaxDeliver == 0 {
		opts.MaxDeliver = 3
	}

	stream, err := c.js.Stream(ctx, TasksStreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", TasksStreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       opts.AckWait,
		MaxDeliver:    opts.MaxDeliver,
		MaxAckPending: 1,
		FilterSubject: models.TaskProcessFile,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	heartbeat := opts.AckWait / 3

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			batch, err := cons.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("fetch tasks error", "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				handle(ctx, msg, heartbeat, handler)
			}
		}
	}()

	slog.Info("task consumer started", "consumer", consumerName, "ack_wait", opts.AckWait)
	return nil
}

// handle runs handler while extending the ack deadline, then settles msg.
func handle(ctx context.Context, msg jetstream.Msg, heartbeat time.Duration, handler MessageHandler) {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := msg.InProgress(); err != nil {
					slog.Warn("extend ack deadline", "error", err)
				}
			}
		}
	}()

	err := handler(ctx, msg)
	close(stop)
	<-done

	switch {
	case err == nil:
		_ = msg.Ack()
	case IsPermanent(err):
		slog.Error("task failed permanently", "error", err, "subject", msg.Subject())
		_ = msg.Term()
	default:
		slog.Error("process task error", "error", err, "subject", msg.Subject())
		_ = msg.Nak()
	}
}

// Close waits for the fetch loop to exit and closes the connection.
// Cancel the context passed to ConsumeTasks first.
func (c *Consumer) Close() {
	c.wg.Wait()
	c.nc.Close()
}
