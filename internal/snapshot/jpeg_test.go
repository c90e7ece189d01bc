package snapshot

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeRejectsMismatchedBufferSize(t *testing.T) {
	e := New()
	_, err := e.Encode(make([]byte, 10), 4, 4, 80)
	require.Error(t, err)
}
