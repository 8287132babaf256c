package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribe_ReturnsCurrentStatus(t *testing.T) {
	s := NewSubsystem()
	status, err := s.Subscribe(10, false)
	require.NoError(t, err)
	assert.Equal(t, 0, status)
}

func TestSubscribe_Duplicate(t *testing.T) {
	s := NewSubsystem()
	_, err := s.Subscribe(10, false)
	require.NoError(t, err)
	_, err = s.Subscribe(10, false)
	assert.ErrorIs(t, err, ErrAlreadySubscribed)
}

func TestUnsubscribe_RequiresActive(t *testing.T) {
	s := NewSubsystem()
	assert.ErrorIs(t, s.Unsubscribe(10), ErrNotSubscribed)
}

func TestToggle_PushesOnChange(t *testing.T) {
	s := NewSubsystem()
	s.ApplyRelayMappings(map[string]int{"trigger": 10})
	var pushes [][2]int
	s.SetPushHandler(func(functionID, status int, noAck bool) {
		pushes = append(pushes, [2]int{functionID, status})
	})
	_, err := s.Subscribe(10, true)
	require.NoError(t, err)
	require.NoError(t, s.Toggle("01", 10, 1))

	require.Len(t, pushes, 1)
	assert.Equal(t, [2]int{10, 1}, pushes[0])
}

func TestApplyRelayMappings_Idempotent(t *testing.T) {
	s := NewSubsystem()
	s.ApplyRelayMappings(map[string]int{"trigger": 900})
	s.ApplyRelayMappings(map[string]int{"trigger": 900})

	d, ok := s.Device("01")
	require.True(t, ok)
	count := 0
	for _, slot := range d.Relays {
		if slot.Function == 900 {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestToggle_UnknownDevice(t *testing.T) {
	s := NewSubsystem()
	assert.ErrorIs(t, s.Toggle("99", 1, 1), ErrDeviceUnknown)
}
