package controller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestState() *State {
	return NewState("OpenProtocolSim", 1, 1, Identification{})
}

func TestBeginSession_RejectsSecond(t *testing.T) {
	s := newTestState()
	require.NoError(t, s.BeginSession())
	assert.ErrorIs(t, s.BeginSession(), ErrAlreadyActive)
}

func TestEndSession_ResetsSubscriptions(t *testing.T) {
	s := newTestState()
	require.NoError(t, s.BeginSession())
	require.NoError(t, s.Subscribe(StreamResult, 5, true))
	s.EndSession()

	for stream := Stream(0); stream < streamCount; stream++ {
		sub := s.Subscription(stream)
		assert.False(t, sub.Active)
		assert.Equal(t, 1, sub.Rev)
	}
}

func TestSubscribe_AtMostOne(t *testing.T) {
	s := newTestState()
	require.NoError(t, s.Subscribe(StreamVin, 2, false))
	assert.ErrorIs(t, s.Subscribe(StreamVin, 1, false), ErrAlreadySubscribed)
}

func TestUnsubscribe_RequiresActive(t *testing.T) {
	s := newTestState()
	assert.ErrorIs(t, s.Unsubscribe(StreamResult), ErrNotSubscribed)
	require.NoError(t, s.Subscribe(StreamResult, 1, false))
	require.NoError(t, s.Unsubscribe(StreamResult))
}

func TestUnsubscribeThenSubscribe_NewRevisionSticks(t *testing.T) {
	s := newTestState()
	require.NoError(t, s.Subscribe(StreamResult, 3, false))
	require.NoError(t, s.Unsubscribe(StreamResult))
	require.NoError(t, s.Subscribe(StreamResult, 5, true))
	sub := s.Subscription(StreamResult)
	assert.True(t, sub.Active)
	assert.Equal(t, 5, sub.Rev)
	assert.True(t, sub.NoAck)
}

func allowAll(id string) bool { return id == "001" }
func isNone(id string) bool   { return id == "0" || id == "000" }

func TestSelectPset_InvalidID(t *testing.T) {
	s := newTestState()
	err := s.SelectPset("999", time.Now(), allowAll, isNone)
	assert.ErrorIs(t, err, ErrInvalidPset)
}

func TestSelectPset_Deselect(t *testing.T) {
	s := newTestState()
	require.NoError(t, s.SelectPset("001", time.Now(), allowAll, isNone))
	require.NoError(t, s.SelectPset("000", time.Now(), allowAll, isNone))
	assert.Equal(t, "0", s.Snapshot().CurrentPset)
}

func TestDownloadVIN_ResetsBatchCounter(t *testing.T) {
	s := newTestState()
	s.NoteTighteningOutcome(true, 5)
	require.Equal(t, 1, s.Snapshot().BatchCounter)

	vin, ok := s.DownloadVIN("XYZ7")
	assert.True(t, ok)
	assert.Equal(t, "XYZ", vin.Prefix)
	assert.Equal(t, 0, s.Snapshot().BatchCounter)
}

func TestDownloadVIN_FailedParseLeavesBatchCounterUntouched(t *testing.T) {
	s := newTestState()
	s.NoteTighteningOutcome(true, 5)
	require.Equal(t, 1, s.Snapshot().BatchCounter)

	vin, ok := s.DownloadVIN("NODIGITS")
	assert.False(t, ok)
	assert.Equal(t, "NODIGITS0", vin.Raw)
	assert.Equal(t, 1, s.Snapshot().BatchCounter)
}

func TestNoteTighteningOutcome_BatchCompletion(t *testing.T) {
	s := newTestState()
	_, _, complete := s.NoteTighteningOutcome(true, 2)
	assert.False(t, complete)
	_, _, complete = s.NoteTighteningOutcome(true, 2)
	assert.True(t, complete)
	assert.Equal(t, 0, s.Snapshot().BatchCounter)
}

func TestNoteTighteningOutcome_TargetZeroNeverCompletes(t *testing.T) {
	s := newTestState()
	for i := 0; i < 10; i++ {
		_, _, complete := s.NoteTighteningOutcome(true, 0)
		assert.False(t, complete)
	}
	assert.Equal(t, 0, s.Snapshot().BatchCounter)
}

func TestNextTighteningID_WrapsAt10e10(t *testing.T) {
	s := newTestState()
	s.tighteningID = tighteningIDModulus - 1
	assert.Equal(t, uint64(0), s.NextTighteningID())
}

func TestBeginSession_ResetsTighteningID(t *testing.T) {
	s := newTestState()
	s.NoteTighteningOutcome(true, 0)
	s.tighteningID = 42
	require.NoError(t, s.BeginSession())
	assert.Equal(t, uint64(0), s.Snapshot().TighteningID)
}
