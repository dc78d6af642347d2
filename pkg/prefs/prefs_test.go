package prefs

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/codeGROOVE-dev/playlock/pkg/dom/htmldom"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "prefs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetPut(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	var got map[string]int
	ok, err := s.Get(ctx, "missing", &got)
	if err != nil || ok {
		t.Fatalf("Get(missing) = %v, %v", ok, err)
	}
	if err := s.Put(ctx, "k", map[string]int{"a": 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.Put(ctx, "k", map[string]int{"a": 2}); err != nil {
		t.Fatal(err)
	}
	if ok, err := s.Get(ctx, "k", &got); err != nil || !ok || got["a"] != 2 {
		t.Errorf("Get(k) = %v, %v, %v", got, ok, err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.Get(ctx, "k", &got); ok {
		t.Error("key survived Delete")
	}
	if err := s.Put(ctx, "bad", func() {}); err == nil {
		t.Error("Put accepted an unencodable value")
	}
}

func TestReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "prefs.db")
	s, err := Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetVolume(ctx, "Example.com", 0.35); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	v, ok, err := s.Volume(ctx, "example.com")
	if err != nil || !ok || v != 0.35 {
		t.Errorf("Volume after reopen = %v, %v, %v", v, ok, err)
	}
}

func TestVolume(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	if _, ok, err := s.Volume(ctx, "a.test"); ok || err != nil {
		t.Errorf("Volume(unset) = %v, %v", ok, err)
	}
	for _, tt := range []struct{ in, want float64 }{{0.5, 0.5}, {1.7, 1}, {-3, 0}} {
		if err := s.SetVolume(ctx, "a.test", tt.in); err != nil {
			t.Fatal(err)
		}
		if v, _, _ := s.Volume(ctx, "a.test"); v != tt.want {
			t.Errorf("SetVolume(%v) stored %v, want %v", tt.in, v, tt.want)
		}
	}
}

func TestSpaceID(t *testing.T) {
	tests := []struct {
		path string
		want string
		ok   bool
	}{
		{"/space/abc-123_X", "abc-123_X", true},
		{"/en/space/q1?tab=files", "q1", true},
		{"/spaces", "", false},
		{"/search/xyz", "", false},
	}
	for _, tt := range tests {
		got, ok := SpaceID(tt.path)
		if got != tt.want || ok != tt.ok {
			t.Errorf("SpaceID(%q) = %q, %v; want %q, %v", tt.path, got, ok, tt.want, tt.ok)
		}
	}
}

func TestVisitSpace(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}

	h, err := s.VisitSpace(ctx, "abcdefghijk", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if h[0].Name != "Space abcdefgh" || h[0].URL != "/space/abcdefghijk" || h[0].AccessCount != 1 {
		t.Errorf("first visit = %+v", h[0])
	}

	for i := range 12 {
		if _, err := s.VisitSpace(ctx, fmt.Sprintf("s%d", i), fmt.Sprintf("Space %d", i), ""); err != nil {
			t.Fatal(err)
		}
	}
	h, err = s.VisitSpace(ctx, "s5", "Renamed", "/space/s5")
	if err != nil {
		t.Fatal(err)
	}
	if len(h) != MaxSpaces {
		t.Fatalf("history length = %d, want %d", len(h), MaxSpaces)
	}
	if h[0].ID != "s5" || h[0].Name != "Renamed" || h[0].AccessCount != 2 {
		t.Errorf("most recent = %+v, want s5 visited twice", h[0])
	}
	if h[1].ID != "s11" || h[MaxSpaces-1].ID != "s2" {
		t.Errorf("order = %s ... %s, want s11 ... s2", h[1].ID, h[MaxSpaces-1].ID)
	}
	seen := map[string]bool{}
	for _, sp := range h {
		if seen[sp.ID] {
			t.Errorf("duplicate entry %s", sp.ID)
		}
		seen[sp.ID] = true
	}

	stored, err := s.Spaces(ctx)
	if err != nil || len(stored) != MaxSpaces || stored[0].ID != "s5" {
		t.Errorf("Spaces() = %d entries, %v", len(stored), err)
	}
	if _, err := s.VisitSpace(ctx, "", "", ""); err == nil {
		t.Error("empty id accepted")
	}
}

func TestSpaceName(t *testing.T) {
	doc, err := htmldom.ParseString(`<html><body><header><h1> Research notes </h1></header>
<div class="space-title"></div></body></html>`)
	if err != nil {
		t.Fatal(err)
	}
	if got := SpaceName(doc); got != "Research notes" {
		t.Errorf("SpaceName = %q", got)
	}
}
