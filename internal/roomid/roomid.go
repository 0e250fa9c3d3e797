// Package roomid generates memorable room identifiers and validates
// identifiers supplied by clients.
package roomid

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"unicode"
)

// MaxLength bounds client-supplied room ids.
const MaxLength = 128

const (
	wordsPerID  = 4
	maxAttempts = 64
)

// ErrExhausted is returned when no unused id was found.
var ErrExhausted = errors.New("roomid: no unused id found")

// Generate returns a random id of the form word-word-word-word
// (e.g. "kitten-waffle-stardust-happy"), each word taken from a
// different pool. inUse may be nil; otherwise ids it reports as taken
// are skipped.
func Generate(inUse func(string) bool) (string, error) {
	for range maxAttempts {
		id, err := candidate()
		if err != nil {
			return "", err
		}
		if inUse == nil || !inUse(id) {
			return id, nil
		}
	}
	return "", ErrExhausted
}

func candidate() (string, error) {
	order := make([]int, len(pools))
	for i := range order {
		order[i] = i
	}
	// Partial Fisher-Yates picks wordsPerID distinct pools.
	for i := 0; i < wordsPerID; i++ {
		j, err := randomIndex(len(order) - i)
		if err != nil {
			return "", err
		}
		order[i], order[i+j] = order[i+j], order[i]
	}

	words := make([]string, wordsPerID)
	for i := range words {
		pool := pools[order[i]]
		n, err := randomIndex(len(pool))
		if err != nil {
			return "", err
		}
		words[i] = pool[n]
	}
	return strings.Join(words, "-"), nil
}

// randomIndex returns a cryptographically secure random index in [0, max).
func randomIndex(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return int(n.Int64()), nil
}

// Valid reports whether id can name a room: non-empty, at most MaxLength
// bytes, and free of whitespace and control characters.
func Valid(id string) bool {
	if id == "" || len(id) > MaxLength {
		return false
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) || r == unicode.ReplacementChar {
			return false
		}
	}
	return true
}
