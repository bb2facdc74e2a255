package statuslist

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"
)

// Bitstring is a revocation bitmap with one bit per status index. Index 0 is
// the most significant bit of the first byte.
type Bitstring struct {
	bits   []byte
	length int
}

// NewBitstring creates a zeroed bitmap of length bits. length must be a
// positive multiple of 8.
func NewBitstring(length int) (*Bitstring, error) {
	if length <= 0 || length%8 != 0 {
		return nil, fmt.Errorf("status list length %d must be a positive multiple of 8", length)
	}
	return &Bitstring{bits: make([]byte, length/8), length: length}, nil
}

// Len returns the number of bits.
func (b *Bitstring) Len() int {
	return b.length
}

// Set flags index as revoked.
func (b *Bitstring) Set(index int) error {
	if index < 0 || index >= b.length {
		return fmt.Errorf("status index %d outside list of length %d", index, b.length)
	}
	b.bits[index/8] |= 0x80 >> (index % 8)
	return nil
}

// Get reports whether index is flagged.
func (b *Bitstring) Get(index int) bool {
	if index < 0 || index >= b.length {
		return false
	}
	return b.bits[index/8]&(0x80>>(index%8)) != 0
}

// Encode gzips the bitmap and returns it base64 encoded.
func (b *Bitstring) Encode() (string, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(b.bits); err != nil {
		return "", fmt.Errorf("compress status list: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("compress status list: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode reverses Encode.
func Decode(encoded string) (*Bitstring, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode status list: %w", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decompress status list: %w", err)
	}
	defer zr.Close()
	bits, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress status list: %w", err)
	}
	return &Bitstring{bits: bits, length: len(bits) * 8}, nil
}

// SetIndexes returns the flagged indexes in ascending order.
func (b *Bitstring) SetIndexes() []int {
	var out []int
	for i := range b.length {
		if b.Get(i) {
			out = append(out, i)
		}
	}
	return out
}
