package importer

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"
)

// Compression suffixes recognised on input files.
const (
	CompressionNone = ""
	CompressionXZ   = ".xz"
	CompressionGzip = ".gz"
)

// Source is a file to import, possibly wrapped in xz or gzip compression.
type Source struct {
	Path        string
	Compression string
	ext         string
}

// NewSource classifies path by its (lower-cased) extension.
func NewSource(path string) *Source {
	lower := strings.ToLower(path)
	src := &Source{Path: path}
	switch {
	case strings.HasSuffix(lower, CompressionXZ):
		src.Compression = CompressionXZ
		lower = strings.TrimSuffix(lower, CompressionXZ)
	case strings.HasSuffix(lower, CompressionGzip):
		src.Compression = CompressionGzip
		lower = strings.TrimSuffix(lower, CompressionGzip)
	}
	src.ext = filepath.Ext(lower)
	return src
}

// Ext is the lower-cased extension of the uncompressed name, including the dot.
func (s *Source) Ext() string { return s.ext }

// Name is the base name of the path.
func (s *Source) Name() string { return filepath.Base(s.Path) }

// Open returns the decompressed content. The caller must close it.
func (s *Source) Open() (io.ReadCloser, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	switch s.Compression {
	case CompressionXZ:
		xzr, err := xz.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("xz reader: %w", err)
		}
		return readCloser{Reader: xzr, closers: []io.Closer{f}}, nil
	case CompressionGzip:
		gzr, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		return readCloser{Reader: gzr, closers: []io.Closer{gzr, f}}, nil
	}
	return f, nil
}

// Materialize returns a plain file path holding the decompressed content, for
// collaborators that need a path rather than a stream. The cleanup function
// must always be called.
func (s *Source) Materialize() (string, func(), error) {
	if s.Compression == CompressionNone {
		return s.Path, func() {}, nil
	}
	rc, err := s.Open()
	if err != nil {
		return "", func() {}, err
	}
	defer rc.Close()

	tmp, err := os.CreateTemp("", "onexrd-*"+s.ext)
	if err != nil {
		return "", func() {}, err
	}
	cleanup := func() { os.Remove(tmp.Name()) }
	if _, err := io.Copy(tmp, rc); err != nil {
		tmp.Close()
		cleanup()
		return "", func() {}, err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", func() {}, err
	}
	return tmp.Name(), cleanup, nil
}

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (r readCloser) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
