// Package passphrase generates recovery passphrases.
//
// A recovery passphrase is a run of diceware words. It is the key of the
// vault database, so it is returned in a secure.Buffer and never as a string.
package passphrase

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/sethvargo/go-diceware/diceware"

	"github.com/forest6511/keylight/pkg/secure"
)

const (
	// DefaultWords is the number of words in a recovery passphrase.
	DefaultWords = 24

	// DefaultSeparator joins the words.
	DefaultSeparator = "~"

	// MinWords is the smallest passphrase Generate will produce.
	MinWords = 12
)

// ErrTooFewWords indicates a requested passphrase shorter than MinWords.
var ErrTooFewWords = errors.New("passphrase: too few words")

// Options control passphrase generation.
type Options struct {
	Words     int
	Separator string
}

// DefaultOptions returns 24 words joined by "~".
func DefaultOptions() Options {
	return Options{Words: DefaultWords, Separator: DefaultSeparator}
}

// Generate returns a new recovery passphrase.
//
// The first word is capitalized with probability 1/2 and every following
// word with probability 1/5, which adds entropy without making the words
// harder to write down.
func Generate(opts Options) (*secure.Buffer, error) {
	if opts.Words == 0 {
		opts.Words = DefaultWords
	}
	if opts.Separator == "" {
		opts.Separator = DefaultSeparator
	}
	if opts.Words < MinWords {
		return nil, fmt.Errorf("%w: %d < %d", ErrTooFewWords, opts.Words, MinWords)
	}

	words, err := diceware.Generate(opts.Words)
	if err != nil {
		return nil, fmt.Errorf("passphrase: failed to generate words: %w", err)
	}

	size := len(opts.Separator) * (len(words) - 1)
	for _, w := range words {
		size += len(w)
	}
	out := secure.New(size)
	b := out.Bytes()[:0]

	for i, w := range words {
		if i > 0 {
			b = append(b, opts.Separator...)
		}
		start := len(b)
		b = append(b, w...)

		odds := int64(5)
		if i == 0 {
			odds = 2
		}
		hit, err := chance(odds)
		if err != nil {
			out.Wipe()
			return nil, err
		}
		if hit && b[start] >= 'a' && b[start] <= 'z' {
			b[start] -= 'a' - 'A'
		}
	}
	return out, nil
}

// chance returns true with probability 1/n.
func chance(n int64) (bool, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return false, fmt.Errorf("passphrase: failed to read randomness: %w", err)
	}
	return v.Sign() == 0, nil
}

// Split returns the words of a passphrase for display.
func Split(p *secure.Buffer, sep string) []string {
	if sep == "" {
		sep = DefaultSeparator
	}
	parts := bytes.Split(p.Bytes(), []byte(sep))
	words := make([]string, len(parts))
	for i, w := range parts {
		words[i] = string(w)
	}
	return words
}
