package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewLocalStorage(t *testing.T) {
	t.Run("creates directory if not exists", func(t *testing.T) {
		tempDir := filepath.Join(os.TempDir(), "longtrack_test_"+randomSuffix())
		defer func() { _ = os.RemoveAll(tempDir) }()

		storage, err := NewLocalStorage(tempDir)
		if err != nil {
			t.Fatalf("NewLocalStorage() error = %v", err)
		}

		if storage.TempDir() != tempDir {
			t.Errorf("TempDir() = %v, want %v", storage.TempDir(), tempDir)
		}

		info, err := os.Stat(tempDir)
		if err != nil {
			t.Fatalf("directory not created: %v", err)
		}
		if !info.IsDir() {
			t.Error("expected directory, got file")
		}
	})

	t.Run("uses default directory when empty", func(t *testing.T) {
		storage, err := NewLocalStorage("")
		if err != nil {
			t.Fatalf("NewLocalStorage() error = %v", err)
		}

		expected := filepath.Join(os.TempDir(), "longtrack")
		if storage.TempDir() != expected {
			t.Errorf("TempDir() = %v, want %v", storage.TempDir(), expected)
		}
	})
}

func TestLocalStorage_CreateTemp(t *testing.T) {
	storage := setupTestStorage(t)

	t.Run("reserves an empty file", func(t *testing.T) {
		ctx := context.Background()

		path, err := storage.CreateTemp(ctx, "track", ".wav")
		if err != nil {
			t.Fatalf("CreateTemp() error = %v", err)
		}
		defer func() { _ = os.Remove(path) }()

		if !strings.HasPrefix(filepath.Base(path), "track_") {
			t.Errorf("path %s should start with 'track_'", path)
		}
		if filepath.Ext(path) != ".wav" {
			t.Errorf("path %s should end with .wav", path)
		}
		if filepath.Dir(path) != storage.TempDir() {
			t.Errorf("path %s should be inside %s", path, storage.TempDir())
		}

		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("reserved file missing: %v", err)
		}
		if info.Size() != 0 {
			t.Errorf("expected empty file, got %d bytes", info.Size())
		}
	})

	t.Run("adds missing dot to extension", func(t *testing.T) {
		path, err := storage.CreateTemp(context.Background(), "track", "flac")
		if err != nil {
			t.Fatalf("CreateTemp() error = %v", err)
		}
		defer func() { _ = os.Remove(path) }()

		if filepath.Ext(path) != ".flac" {
			t.Errorf("path %s should end with .flac", path)
		}
	})

	t.Run("unique paths", func(t *testing.T) {
		a, _ := storage.CreateTemp(context.Background(), "track", ".wav")
		b, _ := storage.CreateTemp(context.Background(), "track", ".wav")
		defer func() { _ = os.Remove(a); _ = os.Remove(b) }()

		if a == b {
			t.Errorf("expected unique paths, got %s twice", a)
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := storage.CreateTemp(ctx, "track", ".wav")
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

// writeTemp reserves a temp file and fills it with data.
func writeTemp(t *testing.T, s Storage, name, data string) string {
	t.Helper()
	path, err := s.CreateTemp(context.Background(), name, ".wav")
	if err != nil {
		t.Fatalf("CreateTemp() error = %v", err)
	}
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	return path
}

func TestLocalStorage_LoadTemp(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	t.Run("loads saved file", func(t *testing.T) {
		path := writeTemp(t, storage, "load_test", "load data")
		defer func() { _ = os.Remove(path) }()

		reader, err := storage.LoadTemp(ctx, path)
		if err != nil {
			t.Fatalf("LoadTemp() error = %v", err)
		}
		defer func() { _ = reader.Close() }()

		content, err := io.ReadAll(reader)
		if err != nil {
			t.Fatalf("failed to read: %v", err)
		}
		if string(content) != "load data" {
			t.Errorf("got %q, want %q", string(content), "load data")
		}
	})

	t.Run("returns error for non-existent file", func(t *testing.T) {
		_, err := storage.LoadTemp(ctx, "/non/existent/file")
		if err == nil {
			t.Error("expected error for non-existent file")
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := storage.LoadTemp(ctx, "/some/path")
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestLocalStorage_CleanupTemp(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	t.Run("removes files", func(t *testing.T) {
		var paths []string
		for i := 0; i < 3; i++ {
			path := writeTemp(t, storage, "cleanup", "data")
			paths = append(paths, path)
		}

		err := storage.CleanupTemp(ctx, paths)
		if err != nil {
			t.Fatalf("CleanupTemp() error = %v", err)
		}

		for _, p := range paths {
			if _, err := os.Stat(p); !os.IsNotExist(err) {
				t.Errorf("file %s still exists", p)
			}
		}
	})

	t.Run("ignores non-existent files", func(t *testing.T) {
		err := storage.CleanupTemp(ctx, []string{"/non/existent/file"})
		if err != nil {
			t.Errorf("CleanupTemp() should ignore non-existent files, got %v", err)
		}
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := storage.CleanupTemp(ctx, []string{"/some/path"})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}

func TestLocalStorage_UploadToS3(t *testing.T) {
	storage := setupTestStorage(t)
	ctx := context.Background()

	_, err := storage.UploadToS3(ctx, "key", bytes.NewReader([]byte("data")))
	if !errors.Is(err, ErrS3NotConfigured) {
		t.Errorf("expected ErrS3NotConfigured, got %v", err)
	}
}

func setupTestStorage(t *testing.T) *LocalStorage {
	t.Helper()
	tempDir := filepath.Join(os.TempDir(), "longtrack_test_"+randomSuffix())
	t.Cleanup(func() { _ = os.RemoveAll(tempDir) })

	storage, err := NewLocalStorage(tempDir)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	return storage
}

func randomSuffix() string {
	return time.Now().Format("20060102150405.000000000")
}
