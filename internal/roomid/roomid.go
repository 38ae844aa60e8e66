// Package roomid generates short, human-typeable room codes such as "K7M-2QX".
package roomid

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

const (
	// Alphabet has 32 symbols and leaves out 0/O and 1/I.
	Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	GroupLen    = 3
	Separator   = '-'
	Length      = 2*GroupLen + 1
	MaxAttempts = 10
)

// ErrExhausted is returned when every attempt produced a taken code.
var ErrExhausted = errors.New("room id space exhausted")

// Generator draws codes from an entropy source. The zero value is not usable;
// use New.
type Generator struct {
	src io.Reader
}

// New returns a generator reading from src. A nil src means crypto/rand.
func New(src io.Reader) *Generator {
	if src == nil {
		src = rand.Reader
	}
	return &Generator{src: src}
}

// Generate returns a code for which taken reports false, retrying up to
// MaxAttempts times.
func (g *Generator) Generate(taken func(id string) bool) (string, error) {
	for range MaxAttempts {
		id, err := g.next()
		if err != nil {
			return "", err
		}
		if taken == nil || !taken(id) {
			return id, nil
		}
	}
	return "", ErrExhausted
}

func (g *Generator) next() (string, error) {
	var raw [2 * GroupLen]byte
	if _, err := io.ReadFull(g.src, raw[:]); err != nil {
		return "", fmt.Errorf("read entropy: %w", err)
	}

	out := make([]byte, 0, Length)
	for i, b := range raw {
		if i == GroupLen {
			out = append(out, Separator)
		}
		// len(Alphabet) divides 256, so masking keeps the draw uniform.
		out = append(out, Alphabet[int(b)&(len(Alphabet)-1)])
	}
	return string(out), nil
}

// Valid reports whether id has the XXX-XXX shape over Alphabet.
func Valid(id string) bool {
	if len(id) != Length {
		return false
	}
	for i := 0; i < len(id); i++ {
		if i == GroupLen {
			if id[i] != Separator {
				return false
			}
			continue
		}
		if !inAlphabet(id[i]) {
			return false
		}
	}
	return true
}

func inAlphabet(c byte) bool {
	for i := 0; i < len(Alphabet); i++ {
		if Alphabet[i] == c {
			return true
		}
	}
	return false
}
