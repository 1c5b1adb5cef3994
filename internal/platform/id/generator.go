package id

import (
	"crypto/rand"
	"fmt"
)

const (
	analysisIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	analysisIDLength   = 8
)

// Generator creates opaque IDs suitable for external references.
type Generator interface {
	NewID() (string, error)
}

// RandomGenerator emits short lowercase-alphanumeric IDs from a
// cryptographic source. Eight characters over a 36-symbol alphabet is
// plenty for a registry that sweeps terminal entries within a day.
type RandomGenerator struct{}

func NewRandomGenerator() *RandomGenerator {
	return &RandomGenerator{}
}

func (g *RandomGenerator) NewID() (string, error) {
	buf := make([]byte, analysisIDLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}

	out := make([]byte, analysisIDLength)
	for i, b := range buf {
		out[i] = analysisIDAlphabet[int(b)%len(analysisIDAlphabet)]
	}

	return string(out), nil
}
