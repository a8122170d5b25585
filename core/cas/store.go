// Package cas provides content-addressed storage for original instrument files.
// Blobs are stored under their BLAKE3 hash; the SHA-256 digest is computed
// alongside so fingerprints can be checked with common tools.
package cas

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/zeebo/blake3"
)

// osRename is a variable to allow testing of rename errors.
var osRename = os.Rename

// ErrBlobNotFound is returned when a blob with the given hash does not exist.
var ErrBlobNotFound = errors.New("blob not found")

// ErrInvalidHash is returned when a hash string is not a 64 character lowercase hex string.
var ErrInvalidHash = errors.New("invalid hash format")

var hashPattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

// Fingerprint identifies file content.
type Fingerprint struct {
	BLAKE3 string `json:"blake3"`
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// FingerprintReader hashes everything read from r.
func FingerprintReader(r io.Reader) (Fingerprint, error) {
	b3 := blake3.New()
	s2 := sha256.New()
	n, err := io.Copy(io.MultiWriter(b3, s2), r)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("hash content: %w", err)
	}
	return Fingerprint{
		BLAKE3: hex.EncodeToString(b3.Sum(nil)),
		SHA256: hex.EncodeToString(s2.Sum(nil)),
		Size:   n,
	}, nil
}

// FingerprintFile hashes the file at path.
func FingerprintFile(path string) (Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return Fingerprint{}, err
	}
	defer f.Close()
	return FingerprintReader(f)
}

// Store is a directory of blobs addressed by BLAKE3 hash.
type Store struct {
	root string
}

// NewStore creates a store rooted at root, creating the directory layout if needed.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(root, "blobs", "blake3"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	return &Store{root: root}, nil
}

// Put streams r into the store. Storing identical content twice is a no-op.
func (s *Store) Put(r io.Reader) (Fingerprint, error) {
	tmpDir := filepath.Join(s.root, "blobs")
	tmp, err := os.CreateTemp(tmpDir, ".blob-*")
	if err != nil {
		return Fingerprint{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	fp, err := FingerprintReader(io.TeeReader(r, tmp))
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close temp file: %w", cerr)
	}
	if err != nil {
		return Fingerprint{}, err
	}

	blobPath := s.pathForHash(fp.BLAKE3)
	if _, err := os.Stat(blobPath); err == nil {
		return fp, nil
	}
	if err := os.MkdirAll(filepath.Dir(blobPath), 0o755); err != nil {
		return Fingerprint{}, fmt.Errorf("failed to create prefix directory: %w", err)
	}
	if err := osRename(tmpPath, blobPath); err != nil {
		return Fingerprint{}, fmt.Errorf("failed to rename blob: %w", err)
	}
	return fp, nil
}

// PutFile stores the file at path.
func (s *Store) PutFile(path string) (Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return Fingerprint{}, err
	}
	defer f.Close()
	return s.Put(f)
}

// Open returns a reader for the blob with the given BLAKE3 hash.
func (s *Store) Open(hash string) (io.ReadCloser, error) {
	if !hashPattern.MatchString(hash) {
		return nil, ErrInvalidHash
	}
	f, err := os.Open(s.pathForHash(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}
	return f, nil
}

// Exists checks if a blob with the given hash exists in the store.
func (s *Store) Exists(hash string) bool {
	if !hashPattern.MatchString(hash) {
		return false
	}
	_, err := os.Stat(s.pathForHash(hash))
	return err == nil
}

// Remove deletes a blob. Removing a missing blob is not an error.
func (s *Store) Remove(hash string) error {
	if !hashPattern.MatchString(hash) {
		return ErrInvalidHash
	}
	if err := os.Remove(s.pathForHash(hash)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Blobs are stored at <root>/blobs/blake3/<first2>/<hash>.
func (s *Store) pathForHash(hash string) string {
	return filepath.Join(s.root, "blobs", "blake3", hash[:2], hash)
}
