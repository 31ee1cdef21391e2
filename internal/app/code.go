package app

import (
	"crypto/rand"
	"fmt"
	"io"
)

// codeAlphabet drops the characters that are easy to confuse on paper (0/O, 1/I/L).
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const (
	amoeCodeLength     = 12
	referralCodeLength = 8

	// maxCodeAttempts bounds the retries on a unique-index collision.
	maxCodeAttempts = 8
)

// rejectionLimit is the largest multiple of len(codeAlphabet) below 256.
// Bytes at or above it are discarded to keep the distribution uniform.
var rejectionLimit = byte(256 - 256%len(codeAlphabet))

// CodeGenerator mints random codes from codeAlphabet.
type CodeGenerator func(length int) (string, error)

func randomCode(length int) (string, error) {
	return randomCodeFrom(rand.Reader, length)
}

func randomCodeFrom(r io.Reader, length int) (string, error) {
	out := make([]byte, 0, length)
	buf := make([]byte, length*2)
	for len(out) < length {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf {
			if b >= rejectionLimit {
				continue
			}
			out = append(out, codeAlphabet[int(b)%len(codeAlphabet)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}
