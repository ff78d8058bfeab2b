package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindSurvivesWrapping(t *testing.T) {
	base := errors.New("connection refused")
	err := fmt.Errorf("pull: %w", E(Transport, "GET /pull", base))

	assert.Equal(t, Transport, KindOf(err))
	assert.True(t, Is(Transport, err))
	assert.False(t, Is(Protocol, err))
	assert.ErrorIs(t, err, base)
	assert.True(t, Retriable(err))
}

func TestConfigurationIsNotRetriable(t *testing.T) {
	err := Errorf(Configuration, "resolve profile", "server %q does not exist", "prod")
	require.EqualError(t, err, `resolve profile: server "prod" does not exist`)
	assert.False(t, Retriable(err))
	assert.False(t, Retriable(E(Protocol, "pull", errors.New("unexpected status 403 Forbidden"))))
	assert.False(t, Retriable(errors.New("plain")))
	assert.Equal(t, Other, KindOf(nil))
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "codec error", E(Codec, "", nil).Error())
	assert.Equal(t, "unpack: codec error", E(Codec, "unpack", nil).Error())
	assert.Equal(t, "boom", E(Storage, "", errors.New("boom")).Error())
}
