package blob

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestKeyLayout(t *testing.T) {
	receivedAt := time.Date(2026, time.February, 10, 9, 30, 0, 0, time.UTC)
	key := Key("run-1", receivedAt, "evt-1")
	want := "run-1/2026/02/10/1770715800-evt-1.json"
	if key != want {
		t.Fatalf("expected %s, got %s", want, key)
	}
}

func TestKeyNormalisesToUTC(t *testing.T) {
	loc := time.FixedZone("AEST", 10*3600)
	local := time.Date(2026, time.February, 11, 5, 0, 0, 0, loc)
	key := Key("run-1", local, "evt-1")
	if !strings.HasPrefix(key, "run-1/2026/02/10/") {
		t.Fatalf("expected UTC date path, got %s", key)
	}
}

func TestFSStoreRoundTrip(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	location, err := store.Put(ctx, "run-1/2026/02/10/1-evt-1.json", []byte(`{"id":"evt-1"}`))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if !strings.HasPrefix(location, "file://") {
		t.Fatalf("expected file:// location, got %s", location)
	}
	data, err := store.Get(ctx, location)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(data) != `{"id":"evt-1"}` {
		t.Fatalf("unexpected blob contents: %s", data)
	}
}

func TestFSStoreGetMissing(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.Get(context.Background(), "file:///nope/missing.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
