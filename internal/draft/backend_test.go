package draft

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// exerciseBackend runs the Backend contract against b.
func exerciseBackend(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	if _, found, err := b.Get(ctx, "absent"); err != nil || found {
		t.Fatalf("Get(absent) = found %v, err %v", found, err)
	}

	if err := b.Put(ctx, "k", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := b.Put(ctx, "k", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("Put(overwrite) error = %v", err)
	}

	got, found, err := b.Get(ctx, "k")
	if err != nil || !found {
		t.Fatalf("Get() = found %v, err %v", found, err)
	}
	if string(got) != `{"v":2}` {
		t.Errorf("Get() = %s, want {\"v\":2}", got)
	}

	if err := b.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := b.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete(absent) error = %v", err)
	}
	if _, found, _ := b.Get(ctx, "k"); found {
		t.Error("Get() after Delete() found value")
	}
}

func TestMemoryBackend(t *testing.T) {
	exerciseBackend(t, NewMemoryBackend(0))
}

func TestMemoryBackend_copiesValues(t *testing.T) {
	b := NewMemoryBackend(0)
	ctx := context.Background()

	value := []byte("abc")
	_ = b.Put(ctx, "k", value)
	value[0] = 'X'

	got, _, _ := b.Get(ctx, "k")
	if string(got) != "abc" {
		t.Errorf("stored value aliased caller slice: %s", got)
	}
}

func TestMemoryBackend_ttl(t *testing.T) {
	b := NewMemoryBackend(time.Hour)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	ctx := context.Background()

	_ = b.Put(ctx, "k", []byte("v"))
	now = now.Add(59 * time.Minute)
	if _, found, _ := b.Get(ctx, "k"); !found {
		t.Fatal("draft expired early")
	}
	now = now.Add(2 * time.Minute)
	if _, found, _ := b.Get(ctx, "k"); found {
		t.Error("draft should have expired")
	}
	if b.Len() != 0 {
		t.Errorf("expired entry not evicted, Len() = %d", b.Len())
	}
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	return mr, client
}

func TestRedisBackend(t *testing.T) {
	_, client := newTestRedis(t)
	exerciseBackend(t, NewRedisBackend(client, "portdesk:draft:", 0))
}

func TestRedisBackend_prefixAndTTL(t *testing.T) {
	mr, client := newTestRedis(t)
	b := NewRedisBackend(client, "portdesk:draft:", time.Hour)
	ctx := context.Background()

	if err := b.Put(ctx, "pdaDraft", []byte(`{}`)); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if !mr.Exists("portdesk:draft:pdaDraft") {
		t.Fatal("expected prefixed key in redis")
	}
	if ttl := mr.TTL("portdesk:draft:pdaDraft"); ttl != time.Hour {
		t.Errorf("TTL = %v, want 1h", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if _, found, _ := b.Get(ctx, "pdaDraft"); found {
		t.Error("draft should have expired")
	}
}

func TestRedisBackend_unavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	b := NewRedisBackend(client, "", 0)

	ctx := context.Background()
	if _, _, err := b.Get(ctx, "k"); err == nil {
		t.Error("Get() on closed redis should fail")
	}
	if err := b.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() on closed redis should fail")
	}

	// The store degrades instead of failing the caller.
	store := NewStore(b, nil, nil)
	var got any
	if store.Load(ctx, "k", &got) {
		t.Error("Store.Load() on closed redis = true")
	}
}

func TestSQLiteBackend(t *testing.T) {
	b, err := OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	exerciseBackend(t, b)
	if err := b.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() = %v", err)
	}
}

func TestSQLiteBackend_survivesReopen(t *testing.T) {
	path := t.TempDir() + "/drafts.db"
	ctx := context.Background()

	b, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	store := NewStore(b, nil, nil)
	if err := store.Save(ctx, "pdaDraft", map[string]any{"date": "2026-03-01"}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	_ = b.Close()

	b2, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	t.Cleanup(func() { _ = b2.Close() })

	var got map[string]any
	if !NewStore(b2, nil, nil).Load(ctx, "pdaDraft", &got) {
		t.Fatal("draft lost across reopen")
	}
	if got["date"] != "2026-03-01" {
		t.Errorf("date = %v", got["date"])
	}
}

func TestSQLiteBackend_migrateIdempotent(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	db.SetMaxOpenConns(1)

	b := NewSQLiteBackend(db)
	for i := 0; i < 2; i++ {
		if err := b.Migrate(context.Background()); err != nil {
			t.Fatalf("Migrate() #%d error = %v", i+1, err)
		}
	}
}

// TestPgBackend runs against a real PostgreSQL when PORTDESK_TEST_PG_DSN is set.
func TestPgBackend(t *testing.T) {
	dsn := os.Getenv("PORTDESK_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("PORTDESK_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New() error = %v", err)
	}
	t.Cleanup(pool.Close)

	b := NewPgBackend(pool)
	if err := b.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	exerciseBackend(t, b)
}
