package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
)

// CalculateFileSHA256Checksum calculates the SHA-256 checksum of a file
func CalculateFileSHA256Checksum(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	sum, _, err := SHA256Reader(file)
	return sum, err
}

// SHA256Reader hashes everything read from r and returns the hex digest and byte count
func SHA256Reader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, fmt.Errorf("failed to calculate checksum: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// HashingWriter hashes every byte written through it
type HashingWriter struct {
	w    io.Writer
	h    hash.Hash
	size int64
}

// NewHashingWriter wraps w with SHA-256 hashing
func NewHashingWriter(w io.Writer) *HashingWriter {
	return &HashingWriter{w: w, h: sha256.New()}
}

func (hw *HashingWriter) Write(p []byte) (int, error) {
	n, err := hw.w.Write(p)
	hw.h.Write(p[:n])
	hw.size += int64(n)
	return n, err
}

// Sum returns the hex digest of the bytes written so far
func (hw *HashingWriter) Sum() string {
	return hex.EncodeToString(hw.h.Sum(nil))
}

// Size returns the number of bytes written so far
func (hw *HashingWriter) Size() int64 {
	return hw.size
}
