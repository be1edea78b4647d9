package redisstore

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis 启动 redis 容器；Docker 不可用或 -short 时跳过。
func setupRedis(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() { container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}
	return host + ":" + port.Port()
}

func TestRedisConnLifecycle(t *testing.T) {
	addr := setupRedis(t)
	ctx := context.Background()

	raw, err := Opener(addr, 0, "blog")(ctx)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	conn := raw.(*Conn)
	defer conn.Close()

	t0 := time.UnixMilli(1_700_000_000_000)
	conn.Put(ctx, "https://blog.example.com/a", t0)
	conn.Put(ctx, "https://blog.example.com/b", t0.Add(time.Millisecond))
	conn.Put(ctx, "https://blog.example.com/c", t0.Add(time.Hour))

	got, ok, err := conn.Get(ctx, "https://blog.example.com/c")
	if err != nil || !ok || !got.Equal(t0.Add(time.Hour)) {
		t.Fatalf("get: %v %v %v", got, ok, err)
	}
	if _, ok, err := conn.Get(ctx, "https://blog.example.com/missing"); ok || err != nil {
		t.Fatalf("missing member: %v %v", ok, err)
	}

	keys, err := conn.DeleteExpiredBefore(ctx, t0.Add(time.Millisecond))
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "https://blog.example.com/a" || keys[1] != "https://blog.example.com/b" {
		t.Fatalf("expired keys = %v", keys)
	}

	verify := redis.NewClient(&redis.Options{Addr: addr})
	defer verify.Close()
	remaining, err := verify.ZCard(ctx, Key("blog")).Result()
	if err != nil || remaining != 1 {
		t.Fatalf("remaining members = %d (%v)", remaining, err)
	}
}

func TestOpenerFailsWithoutServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := Opener("127.0.0.1:1", 0, "blog")(ctx); err == nil {
		t.Fatalf("expected ping failure")
	}
}
