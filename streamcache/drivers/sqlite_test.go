package drivers

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/echokit/echokit/streamcache"
)

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "streams.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	stack := []streamcache.Stream{
		{Token: "tok-1", URL: "https://example.com/1.mp3", OffsetInMilliseconds: 10},
		{Token: "tok-2", URL: "https://example.com/2.mp3"},
	}
	if err := store.Set(ctx, "dave", stack); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := store.Get(ctx, "dave")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got) != 2 || got[0] != stack[0] || got[1] != stack[1] {
		t.Fatalf("round trip mismatch: %v", got)
	}

	// Overwrite in place.
	if err := store.Set(ctx, "dave", stack[:1]); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _ = store.Get(ctx, "dave")
	if len(got) != 1 {
		t.Fatalf("expected single entry after overwrite, got %v", got)
	}

	if err := store.Delete(ctx, "dave"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err = store.Get(ctx, "dave")
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil stack after delete, got %v", got)
	}
}

func TestMemoryGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	if err := store.Set(ctx, "dave", []streamcache.Stream{{Token: "tok"}}); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, _ := store.Get(ctx, "dave")
	got[0].Token = "mutated"

	again, _ := store.Get(ctx, "dave")
	if again[0].Token != "tok" {
		t.Fatal("store handed out its internal slice")
	}
}
