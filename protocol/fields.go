// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package protocol

// Builder accumulates fixed-width ASCII fields for one MID payload. It
// plays the role the teacher's ASDU.AppendBytes/AppendInfoObjAddr pair
// plays for binary ASDUs, generalized to Open Protocol's all-ASCII
// fields.
type Builder struct {
	buf []byte
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Num appends v zero-padded decimal, width digits wide.
func (b *Builder) Num(width, v int) *Builder {
	b.buf = appendNum(b.buf, width, v)
	return b
}

// Str appends s space-padded (or truncated) to exactly width bytes.
func (b *Builder) Str(width int, s string) *Builder {
	b.buf = appendStr(b.buf, width, s)
	return b
}

// Tag appends a literal numbered-field tag, e.g. "01", "02" — the
// 2-digit identifiers MID payloads use from revision 2 onward to mark
// which numbered field follows.
func (b *Builder) Tag(tag string) *Builder {
	b.buf = append(b.buf, tag...)
	return b
}

// Raw appends bytes verbatim.
func (b *Builder) Raw(p []byte) *Builder {
	b.buf = append(b.buf, p...)
	return b
}

// Bytes returns the accumulated payload.
func (b *Builder) Bytes() []byte {
	return b.buf
}

// FieldSpec is one entry of a revision-tiered payload: a MID's field
// table is an ordered list of these. A field is emitted only when the
// negotiated revision is >= MinRev. This is the "dynamic field table"
// the companion spec's design notes (§9) call for: it replaces a
// cascade of "if rev >= N" conditionals with a declarative table that
// revision limits, field widths and ordering can be read straight off
// of.
type FieldSpec struct {
	// Tag is the literal numbered-field prefix ("01", "02", ...)
	// emitted before Write's bytes. Empty for untagged rev-1 fields.
	Tag string
	// MinRev is the lowest revision at which this field appears.
	MinRev int
	// Write appends this field's bytes to b.
	Write func(b *Builder)
}

// BuildRevisioned renders a MID payload from a field table, including
// only the fields whose MinRev is satisfied by rev.
func BuildRevisioned(rev int, specs []FieldSpec) []byte {
	b := NewBuilder()
	for _, s := range specs {
		if rev < s.MinRev {
			continue
		}
		if s.Tag != "" {
			b.Tag(s.Tag)
		}
		s.Write(b)
	}
	return b.Bytes()
}

// TrimLeftSpace trims leading ASCII spaces, used when reading
// left-trimmed inbound payload fields (e.g. the MID 0018 Pset id).
func TrimLeftSpace(s string) string {
	i := 0
	for i < len(s) && s[i] == ' ' {
		i++
	}
	return s[i:]
}
