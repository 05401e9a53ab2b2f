package utils

import (
	"context"
	"testing"
	"time"
)

func TestLockScriptsInitialized(t *testing.T) {
	if lockAcquireScript == nil || lockReleaseScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}

func TestAcquireLockRejectsNilClient(t *testing.T) {
	if err := AcquireLock(context.Background(), nil, "k", "o", time.Second, 0); err == nil {
		t.Fatalf("expected error for nil client")
	}
	if err := ReleaseLock(context.Background(), nil, "k", "o"); err == nil {
		t.Fatalf("expected error for nil client")
	}
}

func TestRedisConfigDefaults(t *testing.T) {
	c := RedisConfig{}.withDefaults()
	if c.PoolSize != 20 || c.PingTimeout != 2*time.Second {
		t.Fatalf("unexpected defaults: %+v", c)
	}
}
