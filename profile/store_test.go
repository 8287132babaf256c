package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dustywill/open-protocol-emulator/protocol"
)

func TestDecodeEncode_RoundTrip(t *testing.T) {
	raw := []byte(`{
		"name": "custom",
		"description": "a custom profile",
		"revisions": {"61": 5, "101": 3},
		"relay_mappings": {"trigger": 10}
	}`)
	p, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "custom", p.Name)
	assert.Equal(t, 5, p.Revisions[protocol.MIDResult])
	assert.Equal(t, 3, p.Revisions[protocol.MIDMultiSpindleResult])
	assert.Equal(t, 10, p.RelayMappings["trigger"])

	out, err := Encode(p)
	require.NoError(t, err)
	roundTripped, err := Decode(out)
	require.NoError(t, err)
	assert.Equal(t, p, roundTripped)
}

func TestDecode_NonNumericMidKey(t *testing.T) {
	_, err := Decode([]byte(`{"name": "bad", "revisions": {"not-a-mid": 1}}`))
	assert.Error(t, err)
}

func TestFileLoader_SaveThenLoad(t *testing.T) {
	dir := t.TempDir()
	loader := FileLoader{Dir: dir}

	p, err := Decode([]byte(`{"name": "roundtrip", "revisions": {"2": 4}}`))
	require.NoError(t, err)

	require.NoError(t, loader.Save(p))
	loaded, err := loader.Load("roundtrip")
	require.NoError(t, err)
	assert.Equal(t, p.Name, loaded.Name)
	assert.Equal(t, 4, loaded.Revisions[protocol.MIDCommunicationStartAck])
}

func TestFileLoader_LoadMissing(t *testing.T) {
	loader := FileLoader{Dir: t.TempDir()}
	_, err := loader.Load("missing")
	assert.Error(t, err)
}
