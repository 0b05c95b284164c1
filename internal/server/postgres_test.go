package server

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/myclass/attendsync/internal/remote"
)

// TestPostgresRepository needs a disposable database in
// MYCLASS_TEST_DATABASE_URL.
func TestPostgresRepository(t *testing.T) {
	dsn := os.Getenv("MYCLASS_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("MYCLASS_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	repo, err := OpenRepository(ctx, KindPostgres, dsn)
	if err != nil {
		t.Fatalf("OpenRepository(postgres) failed: %v", err)
	}
	defer repo.Close()

	owner := "pg-test-" + uuid.NewString()
	defer repo.DeleteByOwner(ctx, owner)

	day := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	for i, at := range []time.Time{day, day.Add(time.Hour), day.Add(48 * time.Hour)} {
		if err := repo.Create(ctx, owner+"-"+string(rune('a'+i)), at, sampleRequest(owner)); err != nil {
			t.Fatalf("Create() failed: %v", err)
		}
	}

	all, err := repo.List(ctx, owner, nil)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(all) != 3 || all[0].ID != owner+"-c" {
		t.Fatalf("List() = %v, want 3 newest first", ids(all))
	}
	if all[0].Subject == nil || all[0].Subject.Code != "CS501" || len(all[0].Students) != 2 {
		t.Errorf("round-tripped record = %+v", all[0])
	}

	onDay, err := repo.List(ctx, owner, remote.DayRange(day, time.UTC))
	if err != nil {
		t.Fatalf("List(day) failed: %v", err)
	}
	if len(onDay) != 2 {
		t.Errorf("List(day) = %v, want 2", ids(onDay))
	}

	if ok, err := repo.Delete(ctx, "1712345678901-abcdef0123", ""); err != nil || ok {
		t.Errorf("Delete(local id) = %v, %v; want false, nil", ok, err)
	}
	if ok, err := repo.Delete(ctx, owner+"-a", "someone-else"); err != nil || ok {
		t.Errorf("Delete(other owner) = %v, %v; want false, nil", ok, err)
	}
	n, err := repo.DeleteByOwner(ctx, owner)
	if err != nil || n != 3 {
		t.Errorf("DeleteByOwner() = %d, %v; want 3", n, err)
	}
}

// TestRedisWindow needs a Redis in MYCLASS_TEST_REDIS_ADDR.
func TestRedisWindow(t *testing.T) {
	addr := os.Getenv("MYCLASS_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("MYCLASS_TEST_REDIS_ADDR not set")
	}
	client := NewRedisClient(addr)
	defer client.Close()

	l := NewRedisWindow(client, 2)
	l.prefix = "attendsync-test:" + uuid.NewString()
	ctx := context.Background()

	var got []bool
	for range 3 {
		ok, err := l.Allow(ctx, "10.0.0.1")
		if err != nil {
			t.Fatalf("Allow() failed: %v", err)
		}
		got = append(got, ok)
	}
	if !got[0] || !got[1] || got[2] {
		t.Errorf("Allow() sequence = %v, want [true true false]", got)
	}
}
