package cas

import (
	"bytes"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zeebo/blake3"
)

func readBlob(t *testing.T, s *Store, hash string) ([]byte, error) {
	t.Helper()
	rc, err := s.Open(hash)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func TestFingerprintReader(t *testing.T) {
	fp, err := FingerprintReader(strings.NewReader("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := fp.SHA256, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"; got != want {
		t.Errorf("SHA256 = %s, want %s", got, want)
	}
	if sum := blake3.Sum256([]byte("hello")); fp.BLAKE3 != hex.EncodeToString(sum[:]) {
		t.Errorf("streamed BLAKE3 %s differs from one-shot hash", fp.BLAKE3)
	}
	if fp.Size != 5 {
		t.Errorf("Size = %d, want 5", fp.Size)
	}
}

func TestStorePutOpenRemove(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	data := []byte("START=10.0 STEPSIZE=0.02 COUNT=5")
	fp, err := s.Put(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if !s.Exists(fp.BLAKE3) {
		t.Fatal("Exists() = false after Put")
	}
	again, err := s.Put(bytes.NewReader(data))
	if err != nil || again != fp {
		t.Errorf("second Put() = %+v, %v; want %+v", again, err, fp)
	}
	got, err := readBlob(t, s, fp.BLAKE3)
	if err != nil || !bytes.Equal(got, data) {
		t.Errorf("Open() content = %q, %v", got, err)
	}

	if err := s.Remove(fp.BLAKE3); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Open(fp.BLAKE3); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("Open() after Remove error = %v", err)
	}
	if err := s.Remove(fp.BLAKE3); err != nil {
		t.Errorf("Remove() of missing blob error = %v", err)
	}
}

func TestStoreInvalidHash(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	for _, h := range []string{"", "abc", strings.Repeat("G", 64), "../" + strings.Repeat("a", 61)} {
		if _, err := s.Open(h); !errors.Is(err, ErrInvalidHash) {
			t.Errorf("Open(%q) error = %v, want ErrInvalidHash", h, err)
		}
		if s.Exists(h) {
			t.Errorf("Exists(%q) = true", h)
		}
	}
}

func TestStoreRenameFailure(t *testing.T) {
	s, _ := NewStore(t.TempDir())
	old := osRename
	osRename = func(string, string) error { return errors.New("disk full") }
	defer func() { osRename = old }()

	if _, err := s.Put(strings.NewReader("x")); err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("Put() error = %v, want rename failure", err)
	}
	leftovers, _ := filepath.Glob(filepath.Join(s.root, "blobs", ".blob-*"))
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func TestPutFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scan.xy")
	if err := os.WriteFile(path, []byte("10 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, _ := NewStore(filepath.Join(dir, "store"))
	fp, err := s.PutFile(path)
	if err != nil {
		t.Fatal(err)
	}
	direct, _ := FingerprintFile(path)
	if fp != direct {
		t.Errorf("PutFile() = %+v, FingerprintFile() = %+v", fp, direct)
	}
	if _, err := s.PutFile(filepath.Join(dir, "missing")); err == nil {
		t.Error("PutFile(missing) should fail")
	}
}
