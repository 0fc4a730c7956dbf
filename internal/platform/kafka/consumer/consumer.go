// Package consumer drives a Kafka consumer group for registry events with
// at-least-once, in-order delivery per partition.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// Handler applies one message. A non-nil error leaves the message
// uncommitted and it is handed to Handle again after the retry delay.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

type Config struct {
	Brokers string
	GroupID string
	Topics  []string
	// AutoOffsetReset is "earliest" (the default) or "latest".
	AutoOffsetReset string
	RetryDelay      time.Duration
}

func (c Config) opts() ([]kgo.Opt, error) {
	var brokers []string
	for b := range strings.SplitSeq(c.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	switch {
	case len(brokers) == 0:
		return nil, errors.New("kafka brokers not configured")
	case c.GroupID == "":
		return nil, errors.New("kafka consumer group not configured")
	case len(c.Topics) == 0:
		return nil, errors.New("kafka consumer has no topics")
	}

	reset := kgo.NewOffset().AtStart()
	switch c.AutoOffsetReset {
	case "", "earliest":
	case "latest":
		reset = kgo.NewOffset().AtEnd()
	default:
		return nil, fmt.Errorf("unsupported auto offset reset %q", c.AutoOffsetReset)
	}

	return []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(c.GroupID),
		kgo.ConsumeTopics(c.Topics...),
		kgo.ConsumeResetOffset(reset),
		kgo.DisableAutoCommit(),
		// Partitions are not reassigned while a polled batch is in flight,
		// so a rebalance never hands the same records to two members.
		kgo.BlockRebalanceOnPoll(),
	}, nil
}

// Consumer commits a record only after its handler succeeded. When a
// handler fails the partition is rewound to that record, so later records
// on the partition are never applied ahead of it.
type Consumer struct {
	client     *kgo.Client
	handler    Handler
	logger     *slog.Logger
	retryDelay time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
	wg     sync.WaitGroup
}

func New(cfg Config, handler Handler, logger *slog.Logger) (*Consumer, error) {
	if handler == nil {
		return nil, errors.New("kafka consumer handler is required")
	}
	opts, err := cfg.opts()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	return &Consumer{client: client, handler: handler, logger: logger, retryDelay: retryDelay}, nil
}

// Start runs the loop in the background until Stop.
func (c *Consumer) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Go(func() {
		if err := c.Run(ctx); err != nil {
			c.logger.Error("kafka consumer stopped", "error", err)
		}
	})
}

// Run polls until ctx is cancelled or the client is closed.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			if !errors.Is(err, context.Canceled) {
				c.logger.Error("kafka fetch failed", "topic", topic, "partition", partition, "error", err)
			}
		})

		var stalled bool
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			stalled = !c.apply(ctx, p.Records) || stalled
		})
		c.client.AllowRebalance()

		if stalled {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.retryDelay):
			}
		}
	}
}

// apply hands records to the handler in order, commits the accepted prefix
// and reports whether every record was accepted.
func (c *Consumer) apply(ctx context.Context, records []*kgo.Record) bool {
	accepted := 0
	for _, r := range records {
		if err := c.handler.Handle(ctx, toMessage(r)); err != nil {
			c.logger.Error("kafka message rejected by handler",
				"topic", r.Topic,
				"partition", r.Partition,
				"offset", r.Offset,
				"error", err,
			)
			c.client.SetOffsets(map[string]map[int32]kgo.EpochOffset{
				r.Topic: {r.Partition: {Epoch: r.LeaderEpoch, Offset: r.Offset}},
			})
			break
		}
		accepted++
	}

	if accepted > 0 {
		if err := c.client.CommitRecords(ctx, records[:accepted]...); err != nil {
			last := records[accepted-1]
			c.logger.Error("kafka commit failed", "topic", last.Topic, "partition", last.Partition, "offset", last.Offset, "error", err)
		}
	}
	return accepted == len(records)
}

func toMessage(r *kgo.Record) *Message {
	headers := make(map[string]string, len(r.Headers))
	for _, h := range r.Headers {
		headers[h.Key] = string(h.Value)
	}
	return &Message{
		Topic:     r.Topic,
		Partition: r.Partition,
		Offset:    r.Offset,
		Key:       r.Key,
		Value:     r.Value,
		Headers:   headers,
		Timestamp: r.Timestamp,
	}
}

// Stop ends a loop started with Start, leaves the group and closes the
// client. It returns ctx's error if the loop does not finish in time.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	c.client.Close()
	return err
}

func (c *Consumer) Healthy(ctx context.Context) bool {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	return !closed && c.client.Ping(ctx) == nil
}
