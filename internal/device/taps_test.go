package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTap(t *testing.T) {
	t.Parallel()

	x, y, skip, err := ParseTap("tap 540 1200")
	require.NoError(t, err)
	assert.False(t, skip)
	assert.Equal(t, 540, x)
	assert.Equal(t, 1200, y)

	// Surrounding whitespace is tolerated.
	x, y, skip, err = ParseTap("  tap 10 20  ")
	require.NoError(t, err)
	assert.False(t, skip)
	assert.Equal(t, 10, x)
	assert.Equal(t, 20, y)
}

func TestParseTap_SkipsBlankAndComments(t *testing.T) {
	t.Parallel()

	for _, line := range []string{"", "   ", "# login button", "  # indented comment"} {
		_, _, skip, err := ParseTap(line)
		require.NoError(t, err, line)
		assert.True(t, skip, line)
	}
}

func TestParseTap_Malformed(t *testing.T) {
	t.Parallel()

	for _, line := range []string{
		"tap 540",
		"tap 540 1200 9000",
		"swipe 10 20",
		"tap ten twenty",
		"tap 10 twenty",
	} {
		_, _, skip, err := ParseTap(line)
		assert.Error(t, err, line)
		assert.False(t, skip, line)
	}
}
