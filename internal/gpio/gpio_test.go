package gpio

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSwitchWritesOnlyOnChange(t *testing.T) {
	relay := NewFakeRelay()
	s := NewSwitch(relay)

	changed, err := s.Apply(false)
	require.NoError(t, err)
	assert.True(t, changed, "first apply always writes")

	changed, err = s.Apply(false)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = s.Apply(true)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, s.On())

	_, _ = s.Apply(true)
	_, _ = s.Apply(false)

	assert.Equal(t, []bool{false, true, false}, relay.Writes())
	assert.False(t, relay.On)
}

func TestSwitchRetriesAfterError(t *testing.T) {
	relay := NewFakeRelay()
	s := NewSwitch(relay)

	relay.SetError = errors.New("line busy")
	_, err := s.Apply(true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line busy")
	assert.False(t, s.On())

	relay.SetError = nil
	changed, err := s.Apply(true)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, s.On())
}

func TestFakeRelayClose(t *testing.T) {
	relay := NewFakeRelay()
	require.NoError(t, relay.Set(true))
	require.NoError(t, relay.Close())

	assert.True(t, relay.Closed)
	assert.False(t, relay.On)
}
