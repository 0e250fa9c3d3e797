package roomid

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateShape(t *testing.T) {
	for range 50 {
		id, err := Generate(nil)
		require.NoError(t, err)

		parts := strings.Split(id, "-")
		require.Len(t, parts, wordsPerID)
		require.True(t, Valid(id))

		// Each word comes from a different pool.
		seen := map[int]bool{}
		for _, word := range parts {
			idx := poolOf(word)
			require.NotEqual(t, -1, idx, "word %q not in any pool", word)
			require.False(t, seen[idx], "pool %d used twice in %q", idx, id)
			seen[idx] = true
		}
	}
}

func TestGenerateSkipsIDsInUse(t *testing.T) {
	taken := map[string]bool{}
	calls := 0
	id, err := Generate(func(candidate string) bool {
		calls++
		if calls < 3 {
			taken[candidate] = true
			return true
		}
		return false
	})
	require.NoError(t, err)
	assert.False(t, taken[id])
	assert.Equal(t, 3, calls)
}

func TestGenerateExhausted(t *testing.T) {
	_, err := Generate(func(string) bool { return true })
	require.ErrorIs(t, err, ErrExhausted)
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("r1"))
	assert.True(t, Valid("kitten-waffle-alice-happy"))
	assert.False(t, Valid(""))
	assert.False(t, Valid("has space"))
	assert.False(t, Valid("tab\there"))
	assert.False(t, Valid(strings.Repeat("a", MaxLength+1)))
	assert.False(t, Valid("bad\xffbyte"))
}

func poolOf(word string) int {
	for i, pool := range pools {
		for _, w := range pool {
			if w == word {
				return i
			}
		}
	}
	return -1
}
