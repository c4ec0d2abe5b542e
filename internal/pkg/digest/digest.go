// Package digest computes the content hash used as the image dedup key.
package digest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
)

const (
	// Size is the length of a hex encoded digest
	Size = sha256.Size * 2

	bufferSize = 8192
)

// Reader hashes r incrementally with a fixed-size buffer and returns the lowercase hex digest
func Reader(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, bufferSize)
	if _, err := io.CopyBuffer(h, onlyReader{r}, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Bytes hashes an in-memory buffer
func Bytes(b []byte) string {
	// bytes.Reader never fails
	sum, _ := Reader(bytes.NewReader(b))
	return sum
}

// Valid reports whether s has the shape of a digest produced by this package
func Valid(s string) bool {
	if len(s) != Size {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// onlyReader hides WriterTo so io.CopyBuffer actually uses the bounded buffer
type onlyReader struct {
	io.Reader
}
