package random

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
)

// Source abstracts the CSPRNG so that tests can inject a deterministic
// byte stream and assert on generated credentials.
type Source interface {
	Read(p []byte) (int, error)
}

type cryptoSource struct{}

func (cryptoSource) Read(p []byte) (int, error) { return rand.Read(p) }

// Crypto returns the operating system CSPRNG.
func Crypto() Source { return cryptoSource{} }

// Hex returns n bytes of randomness encoded as 2n lowercase hex chars.
func Hex(src Source, n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(src, buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Base64URL returns n bytes of randomness encoded as unpadded
// base64url. 16 bytes yields 22 characters.
func Base64URL(src Source, n int) (string, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(src, buf); err != nil {
		return "", fmt.Errorf("reading random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Deterministic is a test source producing a repeating byte pattern.
type Deterministic struct {
	next byte
}

func NewDeterministic(seed byte) *Deterministic { return &Deterministic{next: seed} }

func (d *Deterministic) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = d.next
		d.next++
	}
	return len(p), nil
}
