package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAtomicWriteFile(t *testing.T) {
	t.Run("successful write", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "record")

		if err := AtomicWriteFile(path, []byte("hello"), 0o600); err != nil {
			t.Fatalf("AtomicWriteFile: %v", err)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("ReadFile: %v", err)
		}
		if string(data) != "hello" {
			t.Errorf("content = %q, want %q", data, "hello")
		}
	})

	t.Run("overwrites existing file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "record")
		if err := os.WriteFile(path, []byte("old"), 0o600); err != nil {
			t.Fatal(err)
		}

		if err := AtomicWriteFile(path, []byte("new"), 0o600); err != nil {
			t.Fatalf("AtomicWriteFile: %v", err)
		}

		data, _ := os.ReadFile(path)
		if string(data) != "new" {
			t.Errorf("content = %q, want %q", data, "new")
		}
	})

	t.Run("leaves no temp files behind", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "record")

		if err := AtomicWriteFile(path, []byte("x"), 0o600); err != nil {
			t.Fatalf("AtomicWriteFile: %v", err)
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatal(err)
		}
		for _, e := range entries {
			if strings.HasPrefix(e.Name(), ".tmp-") {
				t.Errorf("temp file %q left behind", e.Name())
			}
		}
	})
}

func TestLastLogin(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		rec := NewLastLogin(filepath.Join(t.TempDir(), "last_login"))

		if err := rec.Write("user@example.com"); err != nil {
			t.Fatalf("Write: %v", err)
		}
		if got := rec.Read(); got != "user@example.com" {
			t.Errorf("Read = %q, want %q", got, "user@example.com")
		}
	})

	t.Run("missing record reads empty", func(t *testing.T) {
		rec := NewLastLogin(filepath.Join(t.TempDir(), "absent"))
		if got := rec.Read(); got != "" {
			t.Errorf("Read = %q, want empty", got)
		}
	})

	t.Run("later write wins", func(t *testing.T) {
		rec := NewLastLogin(filepath.Join(t.TempDir(), "last_login"))
		if err := rec.Write("first@example.com"); err != nil {
			t.Fatal(err)
		}
		if err := rec.Write("second@example.com"); err != nil {
			t.Fatal(err)
		}
		if got := rec.Read(); got != "second@example.com" {
			t.Errorf("Read = %q, want %q", got, "second@example.com")
		}
	})
}
