// Package redis connects to the Redis instance that caches issuer keys.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"sumbandila/internal/platform/config"
)

const pingTimeout = 5 * time.Second

// Client is the key cache connection.
type Client struct {
	*redis.Client
}

// New dials cfg.URL and pings it. A nil client and nil error mean Redis is
// not configured.
func New(cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := options(cfg)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck // best-effort cleanup on init failure
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Client{Client: client}, nil
}

func options(cfg config.RedisConfig) (*redis.Options, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.MinIdleConns = cfg.MinIdleConns
	for dst, src := range map[*time.Duration]time.Duration{
		&opts.DialTimeout:  cfg.DialTimeout,
		&opts.ReadTimeout:  cfg.ReadTimeout,
		&opts.WriteTimeout: cfg.WriteTimeout,
	} {
		if src > 0 {
			*dst = src
		}
	}
	return opts, nil
}

func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

// RegisterMetrics exports the connection pool statistics. They are read on
// every scrape.
func (c *Client) RegisterMetrics(reg prometheus.Registerer) error {
	return reg.Register(poolCollector{stats: c.PoolStats})
}

var (
	poolHitsDesc     = prometheus.NewDesc("sumbandila_redis_pool_hits_total", "Connections found idle in the pool.", nil, nil)
	poolMissesDesc   = prometheus.NewDesc("sumbandila_redis_pool_misses_total", "Connections that had to be dialled.", nil, nil)
	poolTimeoutsDesc = prometheus.NewDesc("sumbandila_redis_pool_timeouts_total", "Waits for a pooled connection that timed out.", nil, nil)
	poolStaleDesc    = prometheus.NewDesc("sumbandila_redis_pool_stale_conns_total", "Stale connections removed from the pool.", nil, nil)
	poolTotalDesc    = prometheus.NewDesc("sumbandila_redis_pool_conns", "Connections currently held by the pool.", nil, nil)
	poolIdleDesc     = prometheus.NewDesc("sumbandila_redis_pool_idle_conns", "Idle connections in the pool.", nil, nil)
)

type poolCollector struct {
	stats func() *redis.PoolStats
}

func (poolCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{poolHitsDesc, poolMissesDesc, poolTimeoutsDesc, poolStaleDesc, poolTotalDesc, poolIdleDesc} {
		ch <- d
	}
}

func (p poolCollector) Collect(ch chan<- prometheus.Metric) {
	s := p.stats()
	ch <- prometheus.MustNewConstMetric(poolHitsDesc, prometheus.CounterValue, float64(s.Hits))
	ch <- prometheus.MustNewConstMetric(poolMissesDesc, prometheus.CounterValue, float64(s.Misses))
	ch <- prometheus.MustNewConstMetric(poolTimeoutsDesc, prometheus.CounterValue, float64(s.Timeouts))
	ch <- prometheus.MustNewConstMetric(poolStaleDesc, prometheus.CounterValue, float64(s.StaleConns))
	ch <- prometheus.MustNewConstMetric(poolTotalDesc, prometheus.GaugeValue, float64(s.TotalConns))
	ch <- prometheus.MustNewConstMetric(poolIdleDesc, prometheus.GaugeValue, float64(s.IdleConns))
}
