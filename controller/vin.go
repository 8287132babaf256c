// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package controller

import (
	"fmt"
	"regexp"
)

// vinPattern splits a VIN into a head and a trailing decimal run. The
// head is matched lazily, so the trailing run is the longest suffix that
// is all digits ("AB123000" splits as "AB" + "123000"). See companion
// spec §3 "VIN".
var vinPattern = regexp.MustCompile(`^(.*?)(\d+)$`)

// VIN is a parsed vehicle identification number: prefix + zero-padded
// numeric tail. The invariant `Raw == Prefix + zero-pad(Numeric, Pad)`
// holds for every VIN this package produces.
type VIN struct {
	Raw     string
	Prefix  string
	Numeric string
	Pad     int
}

// ParseVIN decomposes raw into prefix/numeric/pad. If raw has no
// trailing digit run, parsing fails: the returned VIN still has a valid
// Raw (raw + "0"), with Prefix = raw and Numeric = "0", matching the
// fallback-storage behavior companion spec §4.5 "MID 0050" requires
// even on parse failure.
func ParseVIN(raw string) (VIN, bool) {
	m := vinPattern.FindStringSubmatch(raw)
	if m == nil {
		return VIN{Raw: raw + "0", Prefix: raw, Numeric: "0", Pad: 1}, false
	}
	prefix, numeric := m[1], m[2]
	return VIN{
		Raw:     prefix + numeric,
		Prefix:  prefix,
		Numeric: numeric,
		Pad:     len(numeric),
	}, true
}

// Increment advances the numeric part by one, re-padding to the same
// width; an overflow into one more digit widens the pad, per companion
// spec §3 "Increment".
func (v VIN) Increment() VIN {
	n := 0
	for _, c := range v.Numeric {
		n = n*10 + int(c-'0')
	}
	n++
	numeric := fmt.Sprintf("%0*d", v.Pad, n)
	if len(numeric) > v.Pad {
		v.Pad = len(numeric)
	}
	return VIN{
		Raw:     v.Prefix + numeric,
		Prefix:  v.Prefix,
		Numeric: numeric,
		Pad:     v.Pad,
	}
}
