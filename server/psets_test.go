package server

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dustywill/open-protocol-emulator/clog"
	"github.com/dustywill/open-protocol-emulator/pset"
)

func TestNewPsetTable_NilStoreStartsEmpty(t *testing.T) {
	table := NewPsetTable(nil, clog.NewLogger("test"))
	_, ok := table.Lookup("001")
	assert.False(t, ok)
}

func TestPsetTable_SetThenLookup(t *testing.T) {
	table := NewPsetTable(nil, clog.NewLogger("test"))
	p := pset.Pset{TargetTorque: 10, TorqueMin: 8, TorqueMax: 12}
	table.Set("001", p)

	got, ok := table.Lookup("001")
	require.True(t, ok)
	assert.Equal(t, p, got)
}

func TestPsetTable_SetPersists(t *testing.T) {
	store := pset.JSONFileStore{Path: filepath.Join(t.TempDir(), "psets.json")}
	table := NewPsetTable(store, clog.NewLogger("test"))
	table.Set("001", pset.Pset{TargetTorque: 42})

	reloaded := NewPsetTable(store, clog.NewLogger("test"))
	got, ok := reloaded.Lookup("001")
	require.True(t, ok)
	assert.Equal(t, 42.0, got.TargetTorque)
}
