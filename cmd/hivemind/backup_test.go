package main

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 bytes"},
		{512, "512 bytes"},
		{1023, "1023 bytes"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1073741824, "1.0 GB"},
		{1610612736, "1.5 GB"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := formatSize(tt.bytes)
			if got != tt.want {
				t.Errorf("formatSize(%d) = %q, want %q", tt.bytes, got, tt.want)
			}
		})
	}
}

func writeTestData(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	srcDir := t.TempDir()
	writeTestData(t, srcDir, map[string]string{
		"hivemind.db":        "sqlite bytes",
		"nats/jetstream/1.s": "stream state",
	})

	archive := filepath.Join(t.TempDir(), "backup.tar.zst")
	if err := runBackup([]string{"-f", archive, "-dir", srcDir}); err != nil {
		t.Fatalf("backup: %v", err)
	}

	dstDir := filepath.Join(t.TempDir(), "restored")
	if err := runRestore([]string{"-f", archive, "-dir", dstDir}); err != nil {
		t.Fatalf("restore: %v", err)
	}

	for name, want := range map[string]string{
		"hivemind.db":        "sqlite bytes",
		"nats/jetstream/1.s": "stream state",
	} {
		got, err := os.ReadFile(filepath.Join(dstDir, filepath.FromSlash(name)))
		if err != nil {
			t.Fatalf("read restored %s: %v", name, err)
		}
		if string(got) != want {
			t.Errorf("%s: expected %q, got %q", name, want, got)
		}
	}
}

func TestRestoreRefusesNonEmptyDir(t *testing.T) {
	srcDir := t.TempDir()
	writeTestData(t, srcDir, map[string]string{"hivemind.db": "x"})

	archive := filepath.Join(t.TempDir(), "backup.tar.zst")
	if err := runBackup([]string{"-f", archive, "-dir", srcDir}); err != nil {
		t.Fatalf("backup: %v", err)
	}

	dstDir := t.TempDir()
	writeTestData(t, dstDir, map[string]string{"existing.db": "keep me"})

	if err := runRestore([]string{"-f", archive, "-dir", dstDir}); err == nil {
		t.Fatal("expected refusal for non-empty dir")
	}

	if err := runRestore([]string{"-f", archive, "-dir", dstDir, "-overwrite"}); err != nil {
		t.Fatalf("restore with overwrite: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dstDir, "hivemind.db")); err != nil {
		t.Errorf("expected restored file, got %v", err)
	}
}

func TestRestoreRejectsTraversal(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "evil.tar.zst")
	f, err := os.Create(archive)
	if err != nil {
		t.Fatalf("create archive: %v", err)
	}
	zw, err := zstd.NewWriter(f)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	tw := tar.NewWriter(zw)

	content := []byte("pwned")
	if err := tw.WriteHeader(&tar.Header{
		Name: "../escape.txt",
		Mode: 0o644,
		Size: int64(len(content)),
	}); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatalf("write content: %v", err)
	}
	tw.Close()
	zw.Close()
	f.Close()

	dstDir := filepath.Join(t.TempDir(), "restored")
	if err := runRestore([]string{"-f", archive, "-dir", dstDir}); err == nil {
		t.Fatal("expected traversal rejection")
	}
}

func TestBackupMissingFlags(t *testing.T) {
	if err := runBackup(nil); err == nil {
		t.Error("expected error without -f")
	}
	if err := runBackup([]string{"-f"}); err == nil {
		t.Error("expected error for dangling -f")
	}
	if err := runRestore([]string{"-f", filepath.Join(t.TempDir(), "missing.tar.zst")}); err == nil {
		t.Error("expected error for missing archive")
	}
}

// Guard against archives that record absolute paths.
func TestRestoreRejectsAbsolutePath(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "abs.tar.zst")
	f, _ := os.Create(archive)
	zw, _ := zstd.NewWriter(f)
	tw := tar.NewWriter(zw)

	content := []byte("x")
	_ = tw.WriteHeader(&tar.Header{Name: "/etc/evil", Mode: 0o644, Size: int64(len(content))})
	_, _ = io.WriteString(tw, "x")
	tw.Close()
	zw.Close()
	f.Close()

	dstDir := filepath.Join(t.TempDir(), "restored")
	if err := runRestore([]string{"-f", archive, "-dir", dstDir}); err == nil {
		t.Fatal("expected absolute path rejection")
	}
}
