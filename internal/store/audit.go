package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/netriage/config"
	core "github.com/mohammad-safakhou/netriage/internal/agent/core"
)

const auditKeyPrefix = "audit:incident:"

// AuditStore keeps raw worker payloads in redis, keyed per incident. The
// triage flow never reads these back; they exist for operators digging into
// what a worker actually saw.
type AuditStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

// NewAuditStore connects to the configured redis and verifies the connection
// up front, so a broken audit sink surfaces at startup.
func NewAuditStore(ctx context.Context, cfg config.AuditConfig) (*AuditStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to audit redis at %s: %w", cfg.RedisAddr, err)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &AuditStore{
		client: client,
		ttl:    ttl,
		logger: log.New(log.Writer(), "[AUDIT] ", log.LstdFlags),
	}, nil
}

// RecordResult stores one worker result under its incident hash. Each write
// refreshes the incident's TTL.
func (s *AuditStore) RecordResult(ctx context.Context, incidentID string, res core.WorkerResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshalling worker result: %w", err)
	}
	key := auditKeyPrefix + incidentID
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, res.WorkerName, data)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("writing audit record for %s/%s: %w", incidentID, res.WorkerName, err)
	}
	return nil
}

// Results returns every stored worker result for an incident. An unknown
// incident yields an empty map, not an error.
func (s *AuditStore) Results(ctx context.Context, incidentID string) (map[string]core.WorkerResult, error) {
	raw, err := s.client.HGetAll(ctx, auditKeyPrefix+incidentID).Result()
	if err != nil {
		return nil, fmt.Errorf("reading audit records for %s: %w", incidentID, err)
	}
	out := make(map[string]core.WorkerResult, len(raw))
	for worker, data := range raw {
		var res core.WorkerResult
		if err := json.Unmarshal([]byte(data), &res); err != nil {
			s.logger.Printf("skipping corrupt audit record %s/%s: %v", incidentID, worker, err)
			continue
		}
		out[worker] = res
	}
	return out, nil
}

// Close releases the redis connection.
func (s *AuditStore) Close() error {
	return s.client.Close()
}
