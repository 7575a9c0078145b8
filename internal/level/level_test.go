package level

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorrectKnownValues(t *testing.T) {
	tests := []struct {
		raw  int
		want uint8
	}{
		{raw: 0, want: 0},
		{raw: 1, want: 8},
		{raw: 128, want: 92},
		{raw: 239, want: 126},
		{raw: 240, want: 127},
		{raw: 255, want: 127},
	}

	for _, tt := range tests {
		assert.Equalf(t, tt.want, Correct(tt.raw), "Correct(%d)", tt.raw)
	}
}

// TestCorrectRangeAndMonotonic walks the whole sensor range.
func TestCorrectRangeAndMonotonic(t *testing.T) {
	prev := Correct(0)
	for raw := 0; raw <= RawMax; raw++ {
		got := Correct(raw)
		require.LessOrEqualf(t, got, uint8(Max), "Correct(%d) out of range", raw)
		require.GreaterOrEqualf(t, got, prev, "Correct(%d) decreased", raw)
		prev = got
	}
}

func TestCorrectClampsOutOfRange(t *testing.T) {
	assert.Equal(t, uint8(0), Correct(-1))
	assert.Equal(t, uint8(0), Correct(-100000))
	assert.Equal(t, uint8(Max), Correct(1<<20))
}

// TestCorrectTruncates pins the floor behavior: 92.79 must become 92, not 93.
func TestCorrectTruncates(t *testing.T) {
	assert.Equal(t, uint8(92), Correct(128))
	assert.Equal(t, uint8(8), Correct(1)) // 8.20
	assert.Equal(t, uint8(11), Correct(2)) // 11.60
}
