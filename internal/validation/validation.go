// Package validation checks user-supplied paths and scan files before they
// reach the readers: containment under a data root, filename hygiene, size
// limits and a magic-byte sanity check of the claimed format.
package validation

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// Limits on accepted input.
const (
	// MaxFileSize is the largest scan file accepted (256 MB).
	MaxFileSize = 256 << 20
	// MaxFilenameLength is the maximum allowed filename length.
	MaxFilenameLength = 255
	// MaxPathLength is the maximum allowed path length.
	MaxPathLength = 4096
)

// Common validation errors.
var (
	ErrPathTraversal    = errors.New("path traversal detected")
	ErrInvalidFilename  = errors.New("invalid filename")
	ErrPathTooLong      = errors.New("path too long")
	ErrFilenameTooLong  = errors.New("filename too long")
	ErrInvalidCharacter = errors.New("invalid character in path")
	ErrEmptyPath        = errors.New("path cannot be empty")
	ErrNotRegular       = errors.New("not a regular file")
	ErrFileTooLarge     = errors.New("file too large")
)

// SanitizePath cleans a relative user path and verifies it stays inside
// baseDir. It returns the cleaned relative path.
func SanitizePath(baseDir, userPath string) (string, error) {
	if err := ValidatePath(userPath); err != nil {
		return "", err
	}

	cleanPath := filepath.Clean(userPath)
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	if filepath.IsAbs(cleanPath) {
		return "", fmt.Errorf("%w: absolute path not allowed", ErrPathTraversal)
	}

	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base directory: %w", err)
	}
	absPath, err := filepath.Abs(filepath.Join(baseDir, cleanPath))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	if !within(absBase, absPath) {
		return "", ErrPathTraversal
	}
	return cleanPath, nil
}

// ResolveInRoot maps a user path onto the data root and returns the absolute
// path. Relative paths are joined to root; absolute paths are accepted only
// when they already lie inside it. An empty root disables confinement.
func ResolveInRoot(root, userPath string) (string, error) {
	if err := ValidatePath(userPath); err != nil {
		return "", err
	}
	if root == "" {
		return filepath.Abs(userPath)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve data root: %w", err)
	}
	if filepath.IsAbs(userPath) {
		clean := filepath.Clean(userPath)
		if !within(absRoot, clean) {
			return "", fmt.Errorf("%w: %s is outside the data root", ErrPathTraversal, userPath)
		}
		return clean, nil
	}
	rel, err := SanitizePath(absRoot, userPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(absRoot, rel), nil
}

func within(base, path string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// ValidateFilename rejects names with separators, control characters,
// reserved names and leading hyphens.
func ValidateFilename(filename string) error {
	if filename == "" {
		return ErrInvalidFilename
	}
	if len(filename) > MaxFilenameLength {
		return ErrFilenameTooLong
	}
	if filename == "." || filename == ".." {
		return fmt.Errorf("%w: reserved name", ErrInvalidFilename)
	}
	if strings.ContainsAny(filename, "/\\") {
		return fmt.Errorf("%w: path separator not allowed", ErrInvalidFilename)
	}
	for _, r := range filename {
		if r == 0 || unicode.IsControl(r) {
			return fmt.Errorf("%w: control character not allowed", ErrInvalidFilename)
		}
	}
	// Would be read as a flag by the CLI.
	if strings.HasPrefix(filename, "-") {
		return fmt.Errorf("%w: filename cannot start with hyphen", ErrInvalidFilename)
	}
	return nil
}

// ValidatePath checks length and characters of a path without resolving it.
func ValidatePath(path string) error {
	if path == "" {
		return ErrEmptyPath
	}
	if len(path) > MaxPathLength {
		return ErrPathTooLong
	}
	for _, r := range path {
		if r == 0 || unicode.IsControl(r) {
			return fmt.Errorf("%w: control character not allowed", ErrInvalidCharacter)
		}
	}
	return nil
}

// ValidateScanFile checks that path names an existing regular file no larger
// than MaxFileSize.
func ValidateScanFile(path string) (os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s", ErrNotRegular, path)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("%w: %s is %d bytes (limit %d)", ErrFileTooLarge, path, info.Size(), MaxFileSize)
	}
	return info, nil
}

// FileType is the container or encoding detected for a scan file.
type FileType string

const (
	FileTypeXZ      FileType = "xz"
	FileTypeGzip    FileType = "gzip"
	FileTypeBruker  FileType = "bruker-raw"
	FileTypeXML     FileType = "xml"
	FileTypeText    FileType = "text"
	FileTypeUnknown FileType = "unknown"
)

var magicBytes = []struct {
	fileType FileType
	magic    []byte
}{
	{FileTypeGzip, []byte{0x1f, 0x8b}},
	{FileTypeXZ, []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}},
	{FileTypeBruker, []byte("RAW")},
	{FileTypeXML, []byte("<?xml")},
}

// sniffLen covers a whole Bruker RAW header block.
const sniffLen = 2048

// brukerTokens are the header keys every RAW scan carries, wherever the
// header text starts.
var brukerTokens = [][]byte{[]byte("START="), []byte("COUNT=")}

// ValidateFileType sniffs the first bytes of r and checks them against the
// type implied by filename. It returns the detected type. Compressed files
// are accepted whatever they wrap; their content is checked by the reader.
func ValidateFileType(r io.Reader, filename string) (FileType, error) {
	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return FileTypeUnknown, fmt.Errorf("failed to read file header: %w", err)
	}
	buf = buf[:n]

	detected := detectFileTypeFromMagic(buf)
	if detected == FileTypeUnknown && isLikelyText(buf) {
		detected = FileTypeText
	}
	expected := detectFileTypeFromExtension(filename)

	switch {
	case expected == FileTypeUnknown, detected == expected:
		return detected, nil
	case expected == FileTypeXML && detected == FileTypeText:
		// XRDML without a declaration.
		return FileTypeXML, nil
	case detected == FileTypeUnknown && expected == FileTypeBruker:
		return FileTypeUnknown, fmt.Errorf("file type mismatch: %s has no RAW header", filename)
	case detected == FileTypeUnknown:
		return expected, nil
	}
	return FileTypeUnknown, fmt.Errorf("file type mismatch: extension suggests %s but content is %s", expected, detected)
}

func detectFileTypeFromMagic(buf []byte) FileType {
	for _, sig := range magicBytes {
		if bytes.HasPrefix(buf, sig.magic) {
			return sig.fileType
		}
	}
	if hasBrukerHeader(buf) {
		return FileTypeBruker
	}
	return FileTypeUnknown
}

func hasBrukerHeader(buf []byte) bool {
	for _, tok := range brukerTokens {
		if !bytes.Contains(buf, tok) {
			return false
		}
	}
	return true
}

func detectFileTypeFromExtension(filename string) FileType {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xz":
		return FileTypeXZ
	case ".gz":
		return FileTypeGzip
	case ".raw":
		return FileTypeBruker
	case ".xrdml", ".xml":
		return FileTypeXML
	case ".xy", ".csv", ".txt", ".dat", ".cif":
		return FileTypeText
	default:
		return FileTypeUnknown
	}
}

// isLikelyText reports whether more than 95% of buf is printable ASCII or
// whitespace and it contains no NUL byte.
func isLikelyText(buf []byte) bool {
	if len(buf) == 0 || bytes.IndexByte(buf, 0) != -1 {
		return false
	}
	printable, control := 0, 0
	for _, b := range buf {
		switch {
		case b >= 0x20 && b <= 0x7e, b == '\t', b == '\n', b == '\r':
			printable++
		case b < 0x20:
			control++
		}
	}
	return printable > 0 && float64(printable)/float64(printable+control) > 0.95
}
