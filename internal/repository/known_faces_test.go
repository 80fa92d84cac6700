package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}

func TestListFiltersAndOrdersSamples(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"zoe.png", "alice.jpg", "notes.txt", ".hidden.jpg", "bob.jpeg", "CAPS.JPG"} {
		writeFile(t, dir, name, name)
	}
	if err := os.Mkdir(filepath.Join(dir, "nested.jpg"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	repo := NewKnownFaceRepository(dir, zap.NewNop())
	samples, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"alice", "bob", "zoe"}
	if len(samples) != len(want) {
		t.Fatalf("expected %v, got %+v", want, samples)
	}
	for i, s := range samples {
		if s.Name != want[i] {
			t.Fatalf("sample %d: expected %s, got %s", i, want[i], s.Name)
		}
	}

	data, err := repo.Read(context.Background(), samples[0])
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}
	if string(data) != "alice.jpg" {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestListMissingDirectory(t *testing.T) {
	repo := NewKnownFaceRepository(filepath.Join(t.TempDir(), "missing"), zap.NewNop())
	if _, err := repo.List(context.Background()); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestSaveReplacesSiblingsWithSameStem(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "carol.png", "old png")
	writeFile(t, dir, "carol.jpeg", "old jpeg")
	writeFile(t, dir, "dave.png", "untouched")

	repo := NewKnownFaceRepository(dir, zap.NewNop())
	rev, err := repo.Save(context.Background(), "carol", []byte("new jpeg"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := rev.Commit(); err != nil {
		t.Fatalf("unexpected commit error: %v", err)
	}

	samples, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(samples) != 2 || samples[0].Path != filepath.Join(dir, "carol.jpg") || samples[1].Name != "dave" {
		t.Fatalf("unexpected samples after save: %+v", samples)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "carol.jpg"))
	if string(data) != "new jpeg" {
		t.Fatalf("unexpected saved content %q", data)
	}
	assertDirEntries(t, dir, "carol.jpg", "dave.png")
}

func TestSaveRollbackRestoresPreviousImages(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "carol.jpg", "old jpg")
	writeFile(t, dir, "carol.png", "old png")

	repo := NewKnownFaceRepository(dir, zap.NewNop())
	rev, err := repo.Save(context.Background(), "carol", []byte("new jpeg"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	samples, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(samples) != 1 || samples[0].Path != filepath.Join(dir, "carol.jpg") {
		t.Fatalf("expected only the new image before commit, got %+v", samples)
	}

	if err := rev.Rollback(); err != nil {
		t.Fatalf("unexpected rollback error: %v", err)
	}
	assertDirEntries(t, dir, "carol.jpg", "carol.png")
	for name, want := range map[string]string{"carol.jpg": "old jpg", "carol.png": "old png"} {
		data, _ := os.ReadFile(filepath.Join(dir, name))
		if string(data) != want {
			t.Fatalf("expected %s to hold %q, got %q", name, want, data)
		}
	}
}

func TestSaveRollbackOfNewName(t *testing.T) {
	dir := t.TempDir()
	repo := NewKnownFaceRepository(dir, zap.NewNop())
	rev, err := repo.Save(context.Background(), "frank", []byte("jpeg"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := rev.Rollback(); err != nil {
		t.Fatalf("unexpected rollback error: %v", err)
	}
	assertDirEntries(t, dir)
}

func assertDirEntries(t *testing.T, dir string, want ...string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	got := make([]string, 0, len(entries))
	for _, e := range entries {
		got = append(got, e.Name())
	}
	if len(got) != len(want) {
		t.Fatalf("expected entries %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected entries %v, got %v", want, got)
		}
	}
}

func TestSaveCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "known_faces")
	repo := NewKnownFaceRepository(dir, zap.NewNop())
	if _, err := repo.Save(context.Background(), "erin", []byte("jpeg")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "erin.jpg")); err != nil {
		t.Fatalf("expected saved file: %v", err)
	}
}

func TestSaveRejectsTraversal(t *testing.T) {
	repo := NewKnownFaceRepository(t.TempDir(), zap.NewNop())
	_, err := repo.Save(context.Background(), "../escape", []byte("jpeg"))
	if !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"  Alice  ", "Alice"},
		{"Jir\u030ci\u0301", "Ji\u0159\u00ed"},
		{"Bob\tSmith\n", "BobSmith"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := NormalizeName(tt.input); got != tt.expected {
				t.Errorf("NormalizeName(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestValidateName(t *testing.T) {
	for _, bad := range []string{"", ".", "..", "a/b", `a\b`, ".secret"} {
		if err := ValidateName(bad); !errors.Is(err, ErrInvalidName) {
			t.Errorf("ValidateName(%q) = %v, want ErrInvalidName", bad, err)
		}
	}
	for _, good := range []string{"Alice", "Jan Novák", "o'brien"} {
		if err := ValidateName(good); err != nil {
			t.Errorf("ValidateName(%q) = %v, want nil", good, err)
		}
	}
}
