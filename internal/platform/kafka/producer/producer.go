// Package producer publishes registry and issuance events to Kafka.
package producer

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

var ErrClosed = errors.New("producer is closed")

const flushTimeout = 30 * time.Second

type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

func (m *Message) record() *kgo.Record {
	r := &kgo.Record{Topic: m.Topic, Key: m.Key, Value: m.Value}
	for k, v := range m.Headers {
		r.Headers = append(r.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
	return r
}

type Config struct {
	Brokers string
	// Acks is "0", "1" or "all". Anything else means all.
	Acks            string
	Retries         int
	DeliveryTimeout time.Duration
	// Compression is "zstd", "snappy", "lz4", "gzip" or "none". Empty means zstd.
	Compression string
}

func (c Config) opts() ([]kgo.Opt, error) {
	brokers := splitBrokers(c.Brokers)
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers not configured")
	}
	codec, ok := codecs[strings.ToLower(c.Compression)]
	if !ok {
		return nil, fmt.Errorf("unsupported kafka compression %q", c.Compression)
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.RecordRetries(c.Retries),
		kgo.ProducerBatchCompression(codec),
		kgo.ProducerLinger(5 * time.Millisecond),
		kgo.AllowAutoTopicCreation(),
	}
	switch c.Acks {
	case "0":
		opts = append(opts, kgo.RequiredAcks(kgo.NoAck()), kgo.DisableIdempotentWrite())
	case "1":
		opts = append(opts, kgo.RequiredAcks(kgo.LeaderAck()), kgo.DisableIdempotentWrite())
	default:
		opts = append(opts, kgo.RequiredAcks(kgo.AllISRAcks()))
	}
	if c.DeliveryTimeout > 0 {
		opts = append(opts, kgo.RecordDeliveryTimeout(c.DeliveryTimeout))
	}
	return opts, nil
}

var codecs = map[string]kgo.CompressionCodec{
	"":       kgo.ZstdCompression(),
	"zstd":   kgo.ZstdCompression(),
	"snappy": kgo.SnappyCompression(),
	"lz4":    kgo.Lz4Compression(),
	"gzip":   kgo.GzipCompression(),
	"none":   kgo.NoCompression(),
}

// Producer writes messages synchronously. Messages sharing a key go to the
// same partition in the order they were passed.
type Producer struct {
	client *kgo.Client
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

func New(cfg Config, logger *slog.Logger) (*Producer, error) {
	opts, err := cfg.opts()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return &Producer{client: client, logger: logger}, nil
}

// Produce sends msgs as one batch and returns once every record is
// acknowledged or the first one fails.
func (p *Producer) Produce(ctx context.Context, msgs ...*Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	records := make([]*kgo.Record, len(msgs))
	for i, m := range msgs {
		records[i] = m.record()
	}
	if err := p.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce to kafka: %w", err)
	}
	return nil
}

// Close flushes buffered records and shuts the client down. Later calls are
// no-ops.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warn("kafka producer closed with unflushed records", "error", err)
	}
	p.client.Close()
	return nil
}

func (p *Producer) Healthy(ctx context.Context) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.closed && p.client.Ping(ctx) == nil
}

func splitBrokers(brokers string) []string {
	var out []string
	for b := range strings.SplitSeq(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
