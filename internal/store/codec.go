package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/ulikunitz/xz"
)

// encodeArray packs values as little-endian float64 and compresses them with xz.
func encodeArray(values []float64) ([]byte, error) {
	raw := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(raw[i*8:], math.Float64bits(v))
	}
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("create xz writer: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("compress array: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close xz writer: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeArray reverses encodeArray.
func decodeArray(blob []byte) ([]float64, error) {
	r, err := xz.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("create xz reader: %w", err)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompress array: %w", err)
	}
	if len(raw)%8 != 0 {
		return nil, fmt.Errorf("array payload of %d bytes is not a whole number of float64 values", len(raw))
	}
	out := make([]float64, len(raw)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	return out, nil
}
