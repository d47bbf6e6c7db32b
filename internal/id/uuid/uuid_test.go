package uuid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := NewUUIDGenerator()
	id1, err := gen.NewID()
	require.NoError(t, err)
	id2, err := gen.NewID()
	require.NoError(t, err)

	require.NotEqual(t, id1, id2)
	require.True(t, Valid(id1))
	require.True(t, Valid(id2))
}

func TestValidRejectsJunk(t *testing.T) {
	t.Parallel()

	require.False(t, Valid("acme"))
	require.False(t, Valid(""))
}
