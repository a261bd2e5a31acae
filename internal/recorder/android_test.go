package recorder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEventValue(t *testing.T) {
	t.Parallel()

	v, err := parseEventValue("/dev/input/event2: EV_ABS ABS_MT_POSITION_X 000002f3")
	require.NoError(t, err)
	assert.Equal(t, 0x2f3, v)

	v, err = parseEventValue("/dev/input/event2: EV_ABS ABS_MT_POSITION_Y 00000000")
	require.NoError(t, err)
	assert.Equal(t, 0, v)
}

func TestParseEventValue_Malformed(t *testing.T) {
	t.Parallel()

	_, err := parseEventValue("")
	assert.Error(t, err)

	_, err = parseEventValue("/dev/input/event2: EV_KEY BTN_TOUCH DOWN")
	assert.Error(t, err)
}
