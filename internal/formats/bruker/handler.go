// Package bruker provides the reader for Bruker RAW v4 scans: a 2048-byte
// text header followed by little-endian float32 intensities.
package bruker

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"regexp"
	"strconv"

	"golang.org/x/text/encoding/charmap"

	xerrors "github.com/FocuswithJustin/onexrd/core/errors"
	"github.com/FocuswithJustin/onexrd/core/importer"
	"github.com/FocuswithJustin/onexrd/core/xrd"
	"github.com/FocuswithJustin/onexrd/internal/formats/base"
)

// HeaderSize is the fixed length of the text header block.
const HeaderSize = 2048

// MaxCount bounds the point count a header may declare.
const MaxCount = 1 << 26

const number = `([-+]?(?:[0-9]+\.?[0-9]*|\.[0-9]+)(?:[eE][-+]?[0-9]+)?)`

var (
	startRe = regexp.MustCompile(`\bSTART=\s*` + number)
	stepRe  = regexp.MustCompile(`\bSTEPSIZE=\s*` + number)
	countRe = regexp.MustCompile(`\bCOUNT=\s*([0-9]+)`)
)

// Format returns the registry entry for this reader.
func Format() *importer.Format {
	return &importer.Format{
		ID:         "bruker",
		Name:       "Bruker RAW",
		Extensions: []string{".raw"},
		Read:       Read,
	}
}

func init() {
	importer.Register(Format())
}

// Header holds the scan parameters parsed from the text block.
type Header struct {
	Start    float64
	StepSize float64
	Count    int
}

// ParseHeader extracts START, STEPSIZE and COUNT from a raw header block.
// The block is decoded as ISO-8859-1 so every byte maps to one rune.
func ParseHeader(path string, block []byte) (Header, error) {
	text, err := charmap.ISO8859_1.NewDecoder().Bytes(block)
	if err != nil {
		return Header{}, &xerrors.ImportError{Kind: xerrors.ErrMalformed, Path: path, Message: "cannot decode header", Err: err}
	}

	var h Header
	var missing []string
	if m := startRe.FindSubmatch(text); m != nil {
		h.Start, _ = strconv.ParseFloat(string(m[1]), 64)
	} else {
		missing = append(missing, "START")
	}
	if m := stepRe.FindSubmatch(text); m != nil {
		h.StepSize, _ = strconv.ParseFloat(string(m[1]), 64)
	} else {
		missing = append(missing, "STEPSIZE")
	}
	if m := countRe.FindSubmatch(text); m != nil {
		n, err := strconv.ParseInt(string(m[1]), 10, 64)
		if err != nil || n > MaxCount {
			return Header{}, xerrors.NewImport(xerrors.ErrMalformed, path, "COUNT=%s exceeds the supported maximum of %d", m[1], MaxCount)
		}
		h.Count = int(n)
	} else {
		missing = append(missing, "COUNT")
	}
	if len(missing) > 0 {
		return Header{}, xerrors.NewImport(xerrors.ErrMalformed, path, "could not find %v in header", missing)
	}
	return h, nil
}

// Read implements importer.ReadFunc.
func Read(ctx context.Context, src *importer.Source, _ importer.Options) (*xrd.Series, error) {
	rc, err := src.Open()
	if err != nil {
		return nil, &xerrors.ImportError{Kind: xerrors.ErrMalformed, Path: src.Path, Message: "cannot open file", Err: err}
	}
	defer rc.Close()
	return Decode(src.Path, rc)
}

// Decode reads a header block and payload from r.
func Decode(path string, r io.Reader) (*xrd.Series, error) {
	block := make([]byte, HeaderSize)
	n, err := io.ReadFull(r, block)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, &xerrors.ImportError{Kind: xerrors.ErrMalformed, Path: path, Message: "cannot read header", Err: err}
	}
	h, err := ParseHeader(path, block[:n])
	if err != nil {
		return nil, err
	}
	if h.Count == 0 {
		return nil, xerrors.NewImport(xerrors.ErrEmpty, path, "header specifies COUNT=0")
	}

	// Grows with the data actually present rather than the declared count.
	payload, err := io.ReadAll(io.LimitReader(r, int64(h.Count)*4))
	if err != nil {
		return nil, &xerrors.ImportError{Kind: xerrors.ErrMalformed, Path: path, Message: "cannot read payload", Err: err}
	}
	if read := len(payload) / 4; read < h.Count {
		return nil, xerrors.NewImport(xerrors.ErrSizeMismatch, path,
			"header specified %d points, but only %d could be read", h.Count, read)
	}

	angles := make([]float64, h.Count)
	intensities := make([]float64, h.Count)
	for i := range angles {
		angles[i] = h.Start + float64(i)*h.StepSize
		intensities[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(payload[i*4:])))
	}
	return base.Series(path, angles, intensities)
}

// Encode writes a RAW v4 file with the given header and intensities. It is
// the inverse of Decode and is used to produce fixtures and exports.
func Encode(w io.Writer, h Header, intensities []float32) error {
	block := make([]byte, HeaderSize)
	text := "RAW4.00\nSTART=" + strconv.FormatFloat(h.Start, 'f', -1, 64) +
		"\nSTEPSIZE=" + strconv.FormatFloat(h.StepSize, 'f', -1, 64) +
		"\nCOUNT=" + strconv.Itoa(len(intensities)) + "\n"
	copy(block, text)
	if _, err := w.Write(block); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, intensities)
}
