package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"oi-lot-manager/internal/errors"
	"oi-lot-manager/internal/models"
)

// Snapshots expire after a week; SQLite is the durable copy.
const ledgerTTL = 7 * 24 * time.Hour

// RedisConfig configures the Redis ledger mirror.
type RedisConfig struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
	Prefix   string
}

// RedisMirror publishes ledger snapshots for dashboards. Each snapshot is
// stored under <prefix>:ledger:<day>, <prefix>:ledger:latest points at the
// newest, and the JSON is published on <prefix>:ledger.
type RedisMirror struct {
	client  *goredis.Client
	prefix  string
	timeout time.Duration
}

// ledgerDoc is the JSON shape of a mirrored ledger.
type ledgerDoc struct {
	Day                  string `json:"day"`
	State                string `json:"state"`
	TradesTakenToday     int    `json:"trades_taken_today"`
	CapitalDeployedToday string `json:"capital_deployed_today"`
	RealizedPnLToday     string `json:"realized_pnl_today"`
	UpdatedAt            int64  `json:"updated_at"`
}

// NewRedisMirror connects and pings the server.
func NewRedisMirror(cfg RedisConfig) (*RedisMirror, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "oilm"
	}
	return &RedisMirror{client: client, prefix: prefix, timeout: 2 * time.Second}, nil
}

func (r *RedisMirror) ledgerKey(day string) string {
	return r.prefix + ":ledger:" + day
}

func (r *RedisMirror) channel() string {
	return r.prefix + ":ledger"
}

func encodeLedger(ledger models.DailyLedger, now time.Time) ([]byte, error) {
	return json.Marshal(ledgerDoc{
		Day:                  ledger.Day,
		State:                string(ledger.State),
		TradesTakenToday:     ledger.TradesTakenToday,
		CapitalDeployedToday: ledger.CapitalDeployedToday.StringFixed(2),
		RealizedPnLToday:     ledger.RealizedPnLToday.StringFixed(2),
		UpdatedAt:            now.UnixMilli(),
	})
}

// SaveLedger implements budget.Persister.
func (r *RedisMirror) SaveLedger(ledger models.DailyLedger) error {
	body, err := encodeLedger(ledger, time.Now())
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.ledgerKey(ledger.Day), body, ledgerTTL)
	pipe.Set(ctx, r.ledgerKey("latest"), body, ledgerTTL)
	pipe.Publish(ctx, r.channel(), body)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(errors.ErrDatabaseError, "redis mirror: %v", err)
	}
	return nil
}

// Close closes the Redis connection.
func (r *RedisMirror) Close() error {
	return r.client.Close()
}
