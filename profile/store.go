// Package profile loads and saves controller-profile JSON documents —
// the "plain configuration loader" companion spec §1 treats as an
// external collaborator of the protocol engine, feeding the revision
// registry described in §4.2. The wire shape is fixed by §6 ("Profile
// file format (JSON)"), so this package speaks encoding/json directly
// rather than through a generic config-merging library.
package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/dustywill/open-protocol-emulator/protocol"
	"github.com/dustywill/open-protocol-emulator/protocol/revision"
)

// fileDoc is the on-disk JSON shape from companion spec §6.
type fileDoc struct {
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	Revisions     map[string]int `json:"revisions"`
	RelayMappings map[string]int `json:"relay_mappings,omitempty"`
}

// Loader reads a named controller profile. The built-in profiles never
// touch disk; Loader is only consulted for names that are not one of
// "legacy", "pf6000-basic", "pf6000-full".
type Loader interface {
	Load(name string) (revision.Profile, error)
}

// FileLoader loads profile JSON documents named "<Dir>/<name>.json".
type FileLoader struct {
	Dir string
}

var _ Loader = FileLoader{}

// Load reads and parses the named profile file.
func (f FileLoader) Load(name string) (revision.Profile, error) {
	path := fmt.Sprintf("%s/%s.json", f.Dir, name)
	raw, err := os.ReadFile(path)
	if err != nil {
		return revision.Profile{}, fmt.Errorf("profile: reading %s: %w", path, err)
	}
	return Decode(raw)
}

// Decode parses one profile JSON document.
func Decode(raw []byte) (revision.Profile, error) {
	var doc fileDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return revision.Profile{}, fmt.Errorf("profile: decoding: %w", err)
	}
	revs := make(map[protocol.MID]int, len(doc.Revisions))
	for k, v := range doc.Revisions {
		n, err := strconv.Atoi(k)
		if err != nil {
			return revision.Profile{}, fmt.Errorf("profile: non-numeric MID key %q: %w", k, err)
		}
		revs[protocol.MID(n)] = v
	}
	return revision.Profile{
		Name:          doc.Name,
		Description:   doc.Description,
		Revisions:     revs,
		RelayMappings: doc.RelayMappings,
	}, nil
}

// Encode renders a profile back to its wire JSON shape.
func Encode(p revision.Profile) ([]byte, error) {
	revs := make(map[string]int, len(p.Revisions))
	for mid, n := range p.Revisions {
		revs[strconv.Itoa(int(mid))] = n
	}
	doc := fileDoc{
		Name:          p.Name,
		Description:   p.Description,
		Revisions:     revs,
		RelayMappings: p.RelayMappings,
	}
	return json.MarshalIndent(doc, "", "  ")
}

// Save writes a profile to "<Dir>/<name>.json".
func (f FileLoader) Save(p revision.Profile) error {
	raw, err := Encode(p)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("%s/%s.json", f.Dir, p.Name)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("profile: writing %s: %w", path, err)
	}
	return nil
}
