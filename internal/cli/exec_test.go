package cli

import (
	"os"
	"path/filepath"
	"testing"
)

func TestReadCode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snippet.py")
	if err := os.WriteFile(path, []byte("result = 1\n"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	t.Run("inline code", func(t *testing.T) {
		code, err := readCode(nil, "result = 2")
		if err != nil {
			t.Fatalf("readCode failed: %v", err)
		}
		if code != "result = 2" {
			t.Errorf("code = %q", code)
		}
	})

	t.Run("from file", func(t *testing.T) {
		code, err := readCode([]string{path}, "")
		if err != nil {
			t.Fatalf("readCode failed: %v", err)
		}
		if code != "result = 1\n" {
			t.Errorf("code = %q", code)
		}
	})

	t.Run("inline and file conflict", func(t *testing.T) {
		if _, err := readCode([]string{path}, "result = 2"); err == nil {
			t.Error("expected error for combined sources")
		}
	})

	t.Run("no source", func(t *testing.T) {
		if _, err := readCode(nil, ""); err == nil {
			t.Error("expected error for missing source")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := readCode([]string{filepath.Join(dir, "absent.py")}, ""); err == nil {
			t.Error("expected error for missing file")
		}
	})
}
