package msgcat

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEmbeddedDefaults(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.ErrorText("not_your_turn"); got != "It's not your turn." {
		t.Fatalf("unexpected text %q", got)
	}
	got := c.Text("result.resigned", map[string]string{"Name": "alice"}, "")
	if got != "alice resigned." {
		t.Fatalf("unexpected resign text %q", got)
	}
	if got := c.Text("result.resigned", nil, "fallback"); got != "fallback" {
		t.Fatalf("missing data must fall back, got %q", got)
	}
	if got := c.ErrorText("no_such_code"); got != "no_such_code" {
		t.Fatalf("unknown code must echo, got %q", got)
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("error:\n  illegal_move: \"Nope.\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.ErrorText("illegal_move"); got != "Nope." {
		t.Fatalf("override not applied: %q", got)
	}
	if !c.Has("error.game_not_found") {
		t.Fatalf("defaults must survive overrides")
	}
}

func TestDuplicateOverrideKeys(t *testing.T) {
	dir := t.TempDir()
	body := []byte("error:\n  internal: \"x\"\n")
	_ = os.WriteFile(filepath.Join(dir, "a.yaml"), body, 0o644)
	_ = os.WriteFile(filepath.Join(dir, "b.yml"), body, 0o644)
	_, err := New(dir)
	if err == nil || !strings.Contains(err.Error(), "duplicate override key") {
		t.Fatalf("expected duplicate key error, got %v", err)
	}
}

func TestNilCatalogText(t *testing.T) {
	var c *Catalog
	if got := c.Text("error.internal", nil, "def"); got != "def" {
		t.Fatalf("nil catalog must return default, got %q", got)
	}
}
