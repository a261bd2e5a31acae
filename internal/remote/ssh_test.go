package remote

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appcap/appcap/internal/config"
)

func TestTransportError(t *testing.T) {
	t.Parallel()

	inner := errors.New("connection refused")
	err := &TransportError{Host: "192.168.1.20", Op: "connect", Err: inner}

	assert.Equal(t, "connect on 192.168.1.20 failed: connection refused", err.Error())
	assert.ErrorIs(t, err, inner)

	var te *TransportError
	assert.ErrorAs(t, fmt.Errorf("iteration capture: %w", err), &te)
}

func TestDial_MissingKeyFile(t *testing.T) {
	t.Parallel()

	_, err := Dial(config.SSHConfig{
		Host:     "192.168.1.20",
		Port:     22,
		Username: "mobile",
		KeyPath:  "/nonexistent/id_ed25519",
	})
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "read ssh key", te.Op)
}
