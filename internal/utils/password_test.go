package utils

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fast keeps the suite quick; production cost is covered by the timing test.
var fast = NewPasswordHasher(1024)

func TestHash_NormalizesUnicode(t *testing.T) {
	salt, err := GenerateSalt()
	require.NoError(t, err)

	composed := "caf\u00e9"    // é as one code point
	decomposed := "cafe\u0301" // e + combining acute accent
	require.NotEqual(t, composed, decomposed)

	a, err := fast.Hash(composed, salt)
	require.NoError(t, err)
	b, err := fast.Hash(decomposed, salt)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a, 128)
}

func TestHash_Deterministic(t *testing.T) {
	a, err := fast.Hash("hunter22", "00ff")
	require.NoError(t, err)
	b, err := fast.Hash("hunter22", "00ff")
	require.NoError(t, err)
	c, err := fast.Hash("hunter22", "00fe")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestHash_EmptyPassword(t *testing.T) {
	_, err := fast.Hash("", "salt")
	assert.ErrorIs(t, err, ErrEmptyPassword)
}

func TestVerify(t *testing.T) {
	salt, err := GenerateSalt()
	require.NoError(t, err)
	hash, err := fast.Hash("correct horse", salt)
	require.NoError(t, err)

	tests := []struct {
		name     string
		password string
		want     bool
	}{
		{name: "correct", password: "correct horse", want: true},
		{name: "first char altered", password: "Correct horse", want: false},
		{name: "last char altered", password: "correct horsE", want: false},
		{name: "truncated", password: "correct hors", want: false},
		{name: "empty", password: "", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fast.Verify(tt.password, salt, hash))
		})
	}

	assert.False(t, fast.Verify("correct horse", salt, hash[:10]), "short expected hash")
}

func TestGenerateSalt(t *testing.T) {
	a, err := GenerateSalt()
	require.NoError(t, err)
	b, err := GenerateSalt()
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}

func TestNewPasswordHasher_RejectsBadCost(t *testing.T) {
	assert.Equal(t, DefaultScryptN, NewPasswordHasher(0).N)
	assert.Equal(t, DefaultScryptN, NewPasswordHasher(1000).N)
	assert.Equal(t, 2048, NewPasswordHasher(2048).N)
}

// Mismatches in the first and in the last digest byte must cost the same:
// the medians of both distributions should sit close together.
func TestVerify_TimingDoesNotDependOnMismatchPosition(t *testing.T) {
	if testing.Short() {
		t.Skip("timing test")
	}
	h := NewPasswordHasher(4096)
	salt := "0123456789abcdef"
	hash, err := h.Hash("timing-test", salt)
	require.NoError(t, err)

	early := []byte(hash)
	early[0] ^= 0x01
	late := []byte(hash)
	late[len(late)-1] ^= 0x01

	const rounds = 15
	measure := func(expected string) time.Duration {
		samples := make([]time.Duration, 0, rounds)
		for i := 0; i < rounds; i++ {
			start := time.Now()
			assert.False(t, h.Verify("timing-test", salt, expected))
			samples = append(samples, time.Since(start))
		}
		sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
		return samples[rounds/2]
	}

	earlyMedian := measure(string(early))
	lateMedian := measure(string(late))

	ratio := float64(earlyMedian) / float64(lateMedian)
	assert.InDelta(t, 1.0, ratio, 0.5, "early=%s late=%s", earlyMedian, lateMedian)
}
