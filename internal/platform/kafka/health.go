package kafka

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

// HealthChecker checks Kafka broker connectivity and that the topics the
// process depends on exist.
type HealthChecker struct {
	brokers []string
	topics  []string
	timeout time.Duration
}

// NewHealthChecker creates a new Kafka health checker.
func NewHealthChecker(brokers string, topics ...string) *HealthChecker {
	var list []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			list = append(list, b)
		}
	}
	return &HealthChecker{
		brokers: list,
		topics:  topics,
		timeout: 5 * time.Second,
	}
}

// Check returns nil when a broker answers a metadata request and every
// required topic is known to the cluster.
func (h *HealthChecker) Check(ctx context.Context) error {
	if len(h.brokers) == 0 {
		return fmt.Errorf("kafka brokers not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	client, err := kgo.NewClient(kgo.SeedBrokers(h.brokers...))
	if err != nil {
		return fmt.Errorf("create kafka client: %w", err)
	}
	defer client.Close()

	adm := kadm.NewClient(client)
	brokers, err := adm.ListBrokers(ctx)
	if err != nil {
		return fmt.Errorf("no kafka brokers reachable: %w", err)
	}
	if len(brokers) == 0 {
		return fmt.Errorf("kafka cluster reported no brokers")
	}

	if len(h.topics) == 0 {
		return nil
	}
	details, err := adm.ListTopics(ctx, h.topics...)
	if err != nil {
		return fmt.Errorf("list kafka topics: %w", err)
	}
	for _, topic := range h.topics {
		d, ok := details[topic]
		if !ok || d.Err != nil {
			return fmt.Errorf("kafka topic %q unavailable", topic)
		}
	}
	return nil
}

// Name returns the check name for health reporting.
func (h *HealthChecker) Name() string {
	return "kafka"
}
