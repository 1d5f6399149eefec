package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mohammad-safakhou/netriage/config"
	core "github.com/mohammad-safakhou/netriage/internal/agent/core"
	"github.com/mohammad-safakhou/netriage/internal/store"
)

func TestAuditStoreRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	redisC, err := tcRedis.RunContainer(ctx, testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")))
	if err != nil {
		t.Fatalf("redis container: %v", err)
	}
	defer func() { _ = redisC.Terminate(ctx) }()

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}

	s, err := store.NewAuditStore(ctx, config.AuditConfig{
		RedisAddr: fmt.Sprintf("%s:%s", host, port.Port()),
		TTL:       time.Hour,
	})
	if err != nil {
		t.Fatalf("NewAuditStore: %v", err)
	}
	defer func() { _ = s.Close() }()

	res := core.WorkerResult{
		WorkerName: "fabric",
		RawData:    map[string]any{"calls": []any{map[string]any{"tool": "fabric_health", "status_code": float64(200)}}},
		Summary:    "fabric is healthy",
		Status:     core.StatusSuccess,
	}
	if err := s.RecordResult(ctx, "incident-1", res); err != nil {
		t.Fatalf("RecordResult: %v", err)
	}
	if err := s.RecordResult(ctx, "incident-1", core.WorkerResult{WorkerName: "firewall", Summary: "no denies", Status: core.StatusSuccess}); err != nil {
		t.Fatalf("RecordResult: %v", err)
	}

	got, err := s.Results(ctx, "incident-1")
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got["fabric"].Summary != "fabric is healthy" || got["fabric"].Status != core.StatusSuccess {
		t.Fatalf("unexpected fabric record: %+v", got["fabric"])
	}

	empty, err := s.Results(ctx, "no-such-incident")
	if err != nil {
		t.Fatalf("Results for unknown incident: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("unknown incident should yield no records, got %d", len(empty))
	}
}
