package uuid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewGeneratesValidV4(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := New()
		require.True(t, IsValid(id), "generated UUID should be valid v4: %s", id)
		require.False(t, seen[id], "generated UUIDs should be unique")
		seen[id] = true
	}
}

func TestIsValid(t *testing.T) {
	require.True(t, IsValid("a9f4c3f2-91ab-4c7e-8f2d-0123456789ab"))

	// v1 version digit
	require.False(t, IsValid("a9f4c3f2-91ab-1c7e-8f2d-0123456789ab"))
	// wrong variant bits
	require.False(t, IsValid("a9f4c3f2-91ab-4c7e-0f2d-0123456789ab"))
	// missing dashes
	require.False(t, IsValid("a9f4c3f291ab4c7e8f2d0123456789ab"))
	require.False(t, IsValid(""))
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate("a9f4c3f2-91ab-4c7e-8f2d-0123456789ab"))
	require.Error(t, Validate("not-a-uuid"))
}
