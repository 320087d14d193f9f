package snapshot

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/torosent/mechafeed/internal/collection"
	"github.com/torosent/mechafeed/internal/record"
	"github.com/torosent/mechafeed/internal/source"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "snap.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func mech(pos uint64, name string) record.Record {
	return record.Record{Position: pos, Name: name, Attributes: map[string]string{"class": "scout"}}
}

func TestSaveAndReplay(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	recs := []record.Record{mech(0, "atlas"), mech(1, "brute"), mech(2, "cinder")}
	if err := store.Save(ctx, recs...); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	total, err := store.TotalCount(ctx)
	if err != nil || total != 3 {
		t.Fatalf("TotalCount() = %d, %v, want 3", total, err)
	}

	var names []string
	for rec, err := range collection.New(store).All(ctx) {
		if err != nil {
			t.Fatalf("All() error = %v", err)
		}
		if got, _ := rec.Attribute("class"); got != "scout" {
			t.Errorf("record %d class = %q", rec.Position, got)
		}
		names = append(names, rec.Name)
	}
	if strings.Join(names, ",") != "atlas,brute,cinder" {
		t.Errorf("names = %v", names)
	}
}

func TestSaveIgnoresDuplicatePositions(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	if err := store.Save(ctx, mech(0, "atlas")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Save(ctx, mech(0, "impostor"), mech(1, "brute")); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	names, err := store.Names(ctx)
	if err != nil {
		t.Fatalf("Names() error = %v", err)
	}
	if strings.Join(names, ",") != "atlas,brute" {
		t.Errorf("names = %v, want the first write to win", names)
	}
	if err := store.Save(ctx); err != nil {
		t.Errorf("Save() with no records error = %v", err)
	}
}

func TestRawDataAtMissing(t *testing.T) {
	store := openStore(t)
	_, err := store.RawDataAt(context.Background(), 4)
	if !errors.Is(err, source.ErrPositionOutOfRange) {
		t.Fatalf("RawDataAt(4) error = %v, want ErrPositionOutOfRange", err)
	}
}

func TestSnapshotIsLocked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if _, err := Open(path); !errors.Is(err, ErrLocked) {
		t.Fatalf("second Open() error = %v, want ErrLocked", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	again, err := Open(path)
	if err != nil {
		t.Fatalf("Open() after Close error = %v", err)
	}
	_ = again.Close()
}

func TestSnapshotSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "snap.db")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	for i := uint64(0); i < 7; i++ {
		if err := store.Save(ctx, mech(i, fmt.Sprintf("m%d", i))); err != nil {
			t.Fatalf("Save(%d) error = %v", i, err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	store, err = Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer store.Close()

	raw, err := store.RawDataAt(ctx, 6)
	if err != nil {
		t.Fatalf("RawDataAt(6) error = %v", err)
	}
	rec, err := record.FromRaw(raw)
	if err != nil {
		t.Fatalf("FromRaw() error = %v", err)
	}
	if rec.Name != "m6" || store.Path() != path {
		t.Errorf("record = %+v path = %q", rec, store.Path())
	}
}

func TestSaveKeepsAttributeJSONTypes(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)

	rec, err := record.FromRaw(record.RawData{Position: 0, Payload: []byte(`{"name":"atlas","level":7,"parts":{"arm":"laser"}}`)})
	if err != nil {
		t.Fatalf("FromRaw() error = %v", err)
	}
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	raw, err := store.RawDataAt(ctx, 0)
	if err != nil {
		t.Fatalf("RawDataAt(0) error = %v", err)
	}
	for _, want := range []string{`"level":7`, `"parts":{"arm":"laser"}`} {
		if !strings.Contains(string(raw.Payload), want) {
			t.Errorf("stored payload %s missing %s", raw.Payload, want)
		}
	}
}
