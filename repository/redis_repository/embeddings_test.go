package redis_repository

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mohammad-safakhou/agentrouter/provider/hashembed"
)

func TestVectorRoundTrip(t *testing.T) {
	in := []float32{0, 1.5, -2.25, 3e-7}
	out, err := DecodeVector(EncodeVector(in))
	if err != nil {
		t.Fatalf("DecodeVector: %v", err)
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("index %d: %v != %v", i, in[i], out[i])
		}
	}
	if _, err := DecodeVector([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected corrupt encoding error")
	}
}

func TestEmbeddingKeyIsNamespacedByModel(t *testing.T) {
	a := EmbeddingKey("m1", "hello")
	if a != EmbeddingKey("m1", "hello") {
		t.Fatalf("key not deterministic")
	}
	if a == EmbeddingKey("m2", "hello") {
		t.Fatalf("models must not share keys")
	}
	if len(a) != len(embeddingKeyPrefix)+64 {
		t.Fatalf("unexpected key %q", a)
	}
}

type countingEmbedder struct {
	inner *hashembed.Embedder
	calls atomic.Int32
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	return c.inner.Embed(ctx, text)
}

func startRedis(t *testing.T, ctx context.Context) *redis.Client {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(60 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Fatalf("redis container: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(ctx) })
	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := c.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	client, err := Conn(ctx, host, port.Port(), "", 0, 5*time.Second)
	if err != nil {
		t.Fatalf("Conn: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestEmbeddingCacheAndLockerIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	client := startRedis(t, ctx)

	inner := &countingEmbedder{inner: hashembed.New(64)}
	cache := NewEmbeddingCache(client, inner, "hash-64", time.Minute, nil)

	first, err := cache.EmbedBatch(ctx, []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if got := inner.calls.Load(); got != 2 {
		t.Fatalf("expected 2 inner calls, got %d", got)
	}
	again, err := cache.Embed(ctx, "beta")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if got := inner.calls.Load(); got != 2 {
		t.Fatalf("cache miss on second lookup: %d calls", got)
	}
	if fmt.Sprint(again) != fmt.Sprint(first[1]) {
		t.Fatalf("cached vector differs")
	}

	locker := NewLocker(client)
	ok, release, err := locker.TryLock(ctx, "nightly", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first TryLock: %v %v", ok, err)
	}
	if ok2, _, _ := locker.TryLock(ctx, "nightly", time.Minute); ok2 {
		t.Fatalf("second holder acquired the lock")
	}
	release()
	if ok3, _, _ := locker.TryLock(ctx, "nightly", time.Minute); !ok3 {
		t.Fatalf("lock not released")
	}
}
