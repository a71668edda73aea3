package liveness

import (
	"context"
	"fmt"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts Redis in a container. Runs only with TEST_INTEGRATION set.
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("skipping integration test: TEST_INTEGRATION not set")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "docker.io/redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to stop redis container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("failed to get container port: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = client.Close() })
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("failed to ping redis: %v", err)
	}
	return client
}

func TestRedisStore(t *testing.T) {
	client := setupRedis(t)
	store := NewRedisStore(client, "test:liveness")
	ctx := context.Background()
	base := time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)

	if _, ok, err := store.LastSeen(ctx, 4); err != nil || ok {
		t.Fatalf("expected no entry, got ok=%v err=%v", ok, err)
	}

	if err := store.Touch(ctx, 4, base.Add(time.Minute)); err != nil {
		t.Fatalf("Touch returned error: %v", err)
	}
	if err := store.Touch(ctx, 4, base); err != nil {
		t.Fatalf("Touch returned error: %v", err)
	}
	seen, ok, err := store.LastSeen(ctx, 4)
	if err != nil || !ok {
		t.Fatalf("LastSeen returned ok=%v err=%v", ok, err)
	}
	if !seen.Equal(base.Add(time.Minute)) {
		t.Fatalf("expected the newer instant to win, got %v", seen)
	}

	if err := store.Touch(ctx, 9, base); err != nil {
		t.Fatalf("Touch returned error: %v", err)
	}
	snapshot, err := store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot returned error: %v", err)
	}
	if len(snapshot) != 2 || !snapshot[9].Equal(base) {
		t.Fatalf("unexpected snapshot %v", snapshot)
	}

	for _, id := range []int64{9, 4} {
		if err := store.AddPending(ctx, id); err != nil {
			t.Fatalf("AddPending returned error: %v", err)
		}
	}
	if err := store.RemovePending(ctx, 9); err != nil {
		t.Fatalf("RemovePending returned error: %v", err)
	}
	pending, err := store.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending returned error: %v", err)
	}
	if !slices.Equal(pending, []int64{4}) {
		t.Fatalf("expected [4], got %v", pending)
	}
}
