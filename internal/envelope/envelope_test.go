package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knightpfhor/lokad-cloud/internal/codec"
)

func TestWrapAndUnwrapRoundTrip(t *testing.T) {
	s := codec.YAMLSerializer{}

	data, err := Wrap(s, 3, []byte("hello"))
	require.NoError(t, err)

	env, ok := TryUnwrap(s, data)
	require.True(t, ok)
	assert.Equal(t, int64(3), env.DequeueCount)
	assert.Equal(t, []byte("hello"), env.RawMessage)
}

func TestTryUnwrapRejectsPlainPayload(t *testing.T) {
	s := codec.YAMLSerializer{}
	_, ok := TryUnwrap(s, []byte("just some bytes, not an envelope"))
	assert.False(t, ok)
}

func TestTryUnwrapRejectsUnrelatedYAML(t *testing.T) {
	s := codec.YAMLSerializer{}
	_, ok := TryUnwrap(s, []byte("name: bolt\ncount: 3\n"))
	assert.False(t, ok, "a document without rawMessage must not be mistaken for an envelope")
}
