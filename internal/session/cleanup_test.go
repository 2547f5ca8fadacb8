package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunCleanup_NothingRegistered(t *testing.T) {
	assert.False(t, RunCleanup())
}

func TestRunCleanup_RunsOnce(t *testing.T) {
	calls := 0
	unregister := RegisterCleanup(func() { calls++ })
	defer unregister()

	assert.True(t, RunCleanup())
	assert.True(t, RunCleanup())
	assert.Equal(t, 1, calls)
}

func TestRegisterCleanup_ReplacesAndUnregisters(t *testing.T) {
	var got []string
	first := RegisterCleanup(func() { got = append(got, "first") })
	second := RegisterCleanup(func() { got = append(got, "second") })

	// A stale unregister leaves the newer hook in place.
	first()
	assert.True(t, RunCleanup())
	assert.Equal(t, []string{"second"}, got)

	second()
	assert.False(t, RunCleanup())
}
