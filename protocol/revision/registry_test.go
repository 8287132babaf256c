package revision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dustywill/open-protocol-emulator/protocol"
)

func TestNegotiate_ClampsToMax(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, 6, r.Negotiate(protocol.MIDCommunicationStartAck, 99))
	assert.Equal(t, 4, r.Negotiate(protocol.MIDCommunicationStartAck, 4))
	assert.Equal(t, 1, r.Negotiate(protocol.MIDCommunicationStartAck, 0))
}

func TestMaxRev_UnlistedMidDefaultsToOne(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, 1, r.MaxRev(protocol.MIDKeepAlive))
}

func TestSetMaxRev_RejectsZero(t *testing.T) {
	r := NewRegistry()
	err := r.SetMaxRev(protocol.MIDResult, 0)
	assert.ErrorIs(t, err, ErrInvalidMaxRev)
}

func TestSetMaxRev_TakesEffectForNegotiate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.SetMaxRev(protocol.MIDResult, 2))
	assert.Equal(t, 2, r.Negotiate(protocol.MIDResult, 7))
}

func TestSnapshot_IsACopy(t *testing.T) {
	r := NewRegistry()
	snap := r.Snapshot()
	snap[protocol.MIDResult] = 1
	assert.NotEqual(t, 1, r.MaxRev(protocol.MIDResult))
}
