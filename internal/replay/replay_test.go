package replay

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestMemoryGuard(t *testing.T) {
	g := NewMemoryGuard(100, time.Minute)
	ctx := context.Background()

	fresh, err := g.Remember(ctx, "alice", "n-1")
	if err != nil || !fresh {
		t.Fatalf("первый nonce: fresh=%v err=%v", fresh, err)
	}
	if fresh, _ := g.Remember(ctx, "alice", "n-1"); fresh {
		t.Error("повтор nonce должен быть обнаружен")
	}
	// Тот же nonce другого запрашивающего — не повтор
	if fresh, _ := g.Remember(ctx, "bob", "n-1"); !fresh {
		t.Error("nonce другого запрашивающего не является повтором")
	}
}

func TestMemoryGuard_Expiry(t *testing.T) {
	g := NewMemoryGuard(100, 50*time.Millisecond)
	ctx := context.Background()

	_, _ = g.Remember(ctx, "alice", "n-1")
	time.Sleep(150 * time.Millisecond)
	if fresh, _ := g.Remember(ctx, "alice", "n-1"); !fresh {
		t.Error("после TTL nonce должен быть забыт")
	}
}

func TestMemoryGuard_Concurrent(t *testing.T) {
	g := NewMemoryGuard(100, time.Minute)
	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if fresh, _ := g.Remember(context.Background(), "alice", "same"); fresh {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()
	if accepted.Load() != 1 {
		t.Errorf("nonce принят %d раз, ожидался 1", accepted.Load())
	}
}

func TestNonceKey_Unambiguous(t *testing.T) {
	if nonceKey("ab", "c") == nonceKey("a", "bc") {
		t.Error("ключи разных пар не должны совпадать")
	}
}

// TestMemoryGuard_FullRejects — заполненный guard не вытесняет
// неистёкшие nonce, а отклоняет новые.
func TestMemoryGuard_FullRejects(t *testing.T) {
	g := NewMemoryGuard(3, 10*time.Minute)
	ctx := context.Background()

	for _, n := range []string{"n-0", "n-1", "n-2"} {
		if fresh, err := g.Remember(ctx, "alice", n); err != nil || !fresh {
			t.Fatalf("%s: fresh=%v err=%v", n, fresh, err)
		}
	}

	if fresh, err := g.Remember(ctx, "alice", "n-3"); !errors.Is(err, ErrGuardFull) || fresh {
		t.Errorf("переполнение: fresh=%v err=%v, ожидалась ErrGuardFull", fresh, err)
	}
	if fresh, _ := g.Remember(ctx, "alice", "n-0"); fresh {
		t.Error("повтор nonce в пределах TTL принят как новый")
	}
}

// TestMemoryGuard_FreesAfterExpiry — после TTL место освобождается.
func TestMemoryGuard_FreesAfterExpiry(t *testing.T) {
	g := NewMemoryGuard(1, 50*time.Millisecond)
	ctx := context.Background()

	_, _ = g.Remember(ctx, "alice", "n-0")
	time.Sleep(150 * time.Millisecond)
	if fresh, err := g.Remember(ctx, "alice", "n-1"); err != nil || !fresh {
		t.Errorf("после TTL: fresh=%v err=%v", fresh, err)
	}
}

// TestRedisGuard_Unavailable — при недоступном Redis nonce не принимается.
func TestRedisGuard_Unavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	g := NewRedisGuard(client, time.Minute, testLogger())
	defer g.Close()
	ctx := context.Background()

	if err := g.Ping(ctx); err == nil {
		t.Fatal("Ping недоступного Redis должен вернуть ошибку")
	}

	fresh, err := g.Remember(ctx, "alice", "n-1")
	if err == nil || fresh {
		t.Errorf("недоступный Redis: fresh=%v err=%v, ожидалась ошибка", fresh, err)
	}
}
