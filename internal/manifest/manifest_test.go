package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFixture(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile %s: %v", name, err)
	}
	return path
}

func TestBuildSortsItemsByPath(t *testing.T) {
	dir := t.TempDir()
	b := writeFixture(t, dir, "bravo.json", "bravo")
	a := writeFixture(t, dir, "alpha.bin", "alpha")

	m, err := Build([]string{b, a})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(m.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(m.Items))
	}
	if m.Items[0].Path != "alpha.bin" || m.Items[1].Path != "bravo.json" {
		t.Fatalf("items not sorted: %+v", m.Items)
	}
	for _, item := range m.Items {
		if item.Sha256 == "" || item.Size == 0 {
			t.Fatalf("incomplete item: %+v", item)
		}
	}
}

func TestBuildRejectsEmptyInput(t *testing.T) {
	if _, err := Build(nil); err == nil {
		t.Fatal("Build(nil) succeeded, want error")
	}
}

func TestDigestIgnoresTimestampAndSignature(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, "artifact.bin", "payload")

	first, err := Build([]string{path})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	second := first
	second.CreatedAt = first.CreatedAt.Add(48 * time.Hour)
	second.Signature = &SignatureInfo{Algorithm: "RS256", SignedAt: time.Now()}

	if first.Digest() != second.Digest() {
		t.Fatalf("digest changed with timestamp/signature: %s != %s", first.Digest(), second.Digest())
	}
	if first.Digest() == "" {
		t.Fatal("empty digest")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, "input.bin", "round trip")
	m, err := Build([]string{path})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	out := filepath.Join(dir, "manifest.json")
	if err := Save(m, out); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(out)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Digest() != m.Digest() {
		t.Fatalf("digest mismatch after reload: %s != %s", loaded.Digest(), m.Digest())
	}
	if loaded.ShaAlgo != "sha256" {
		t.Fatalf("shaAlgo = %q", loaded.ShaAlgo)
	}
}
