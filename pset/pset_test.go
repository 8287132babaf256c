package pset

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValid_RejectsInvertedTorqueRange(t *testing.T) {
	p := Pset{TorqueMin: 10, TorqueMax: 5, AngleMin: 0, AngleMax: 10}
	assert.ErrorIs(t, p.Valid(), ErrInvalidRange)
}

func TestValid_RejectsInvertedAngleRange(t *testing.T) {
	p := Pset{TorqueMin: 5, TorqueMax: 10, AngleMin: 10, AngleMax: 0}
	assert.ErrorIs(t, p.Valid(), ErrInvalidRange)
}

func TestValid_AcceptsWellFormed(t *testing.T) {
	p := Pset{TorqueMin: 5, TorqueMax: 10, AngleMin: 0, AngleMax: 10}
	assert.NoError(t, p.Valid())
}

func TestIsNone(t *testing.T) {
	assert.True(t, IsNone("0"))
	assert.True(t, IsNone("000"))
	assert.False(t, IsNone("001"))
}

func TestIsAllowed(t *testing.T) {
	assert.True(t, IsAllowed("001"))
	assert.True(t, IsAllowed("105"))
	assert.False(t, IsAllowed("999"))
	assert.False(t, IsAllowed("0"))
}
