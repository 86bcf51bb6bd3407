package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTest(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestOpenCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	c, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer c.Close()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Fatalf("database file was not created")
	}
}

func TestUpsertAndGet(t *testing.T) {
	c := openTest(t)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c.now = func() time.Time { return base }

	if err := c.Upsert(Entry{VideoID: "abc", FileSize: 10, Container: "webm", Strategy: "invidious", Source: "https://inv"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	c.now = func() time.Time { return base.Add(time.Hour) }
	if err := c.Upsert(Entry{VideoID: "abc", FileSize: 12, Container: "m4a", Strategy: "cobalt", Source: "https://cob"}); err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}

	e, err := c.Get("abc")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if e.FileSize != 12 || e.Strategy != "cobalt" || e.Container != "m4a" {
		t.Fatalf("entry not updated: %+v", e)
	}
	if !e.CreatedAt.Equal(base) || !e.UpdatedAt.Equal(base.Add(time.Hour)) {
		t.Fatalf("unexpected timestamps: created %v updated %v", e.CreatedAt, e.UpdatedAt)
	}
	count, err := c.Count()
	if err != nil || count != 1 {
		t.Fatalf("Count = %d, %v", count, err)
	}
}

func TestGetMissing(t *testing.T) {
	c := openTest(t)
	if _, err := c.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpsertRequiresID(t *testing.T) {
	c := openTest(t)
	if err := c.Upsert(Entry{}); err == nil {
		t.Fatalf("expected error for empty id")
	}
}

func TestEnsureKeepsExisting(t *testing.T) {
	c := openTest(t)
	if err := c.Upsert(Entry{VideoID: "abc", FileSize: 10, Strategy: "piped"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	added, err := c.Ensure(Entry{VideoID: "abc", FileSize: 99})
	if err != nil || added {
		t.Fatalf("Ensure on existing id = %v, %v", added, err)
	}
	added, err = c.Ensure(Entry{VideoID: "def", FileSize: 5})
	if err != nil || !added {
		t.Fatalf("Ensure on new id = %v, %v", added, err)
	}
	e, _ := c.Get("abc")
	if e.FileSize != 10 || e.Strategy != "piped" {
		t.Fatalf("Ensure overwrote entry: %+v", e)
	}
}

func TestListOrderAndPaging(t *testing.T) {
	c := openTest(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		at := base.Add(time.Duration(i) * time.Minute)
		c.now = func() time.Time { return at }
		if err := c.Upsert(Entry{VideoID: id}); err != nil {
			t.Fatalf("Upsert %s failed: %v", id, err)
		}
	}

	all, err := c.List(0, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 || all[0].VideoID != "c" || all[2].VideoID != "a" {
		t.Fatalf("unexpected order: %+v", all)
	}

	page, err := c.List(1, 1)
	if err != nil {
		t.Fatalf("List page failed: %v", err)
	}
	if len(page) != 1 || page[0].VideoID != "b" {
		t.Fatalf("unexpected page: %+v", page)
	}

	empty, err := c.List(10, 10)
	if err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil page, got %#v, %v", empty, err)
	}
}

func TestNilCatalog(t *testing.T) {
	var c *Catalog
	if err := c.Close(); err != nil {
		t.Fatalf("Close on nil: %v", err)
	}
	if _, err := c.List(1, 0); err == nil {
		t.Fatalf("expected error from nil catalog")
	}
}
