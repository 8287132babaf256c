// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package protocol

import "errors"

// Decode failure modes. See companion spec §4.1.
var (
	// ErrMalformedLength means the LLLL header field did not parse as a
	// non-negative decimal integer. Forces a one-time buffer reset: the
	// stream cannot be trusted to resynchronize on its own.
	ErrMalformedLength = errors.New("protocol: malformed length field")

	// ErrTruncated means fewer than LLLL+1 bytes are currently available.
	// Non-fatal: the caller retains the buffer and retries after the next
	// read.
	ErrTruncated = errors.New("protocol: truncated frame")

	// ErrBadMid means the MMMM header field did not parse as a decimal
	// integer.
	ErrBadMid = errors.New("protocol: malformed MID field")

	// ErrBadRevision means the RRR header field was non-numeric and
	// non-blank.
	ErrBadRevision = errors.New("protocol: malformed revision field")

	// ErrNotAscii means the frame contains a byte outside the 7-bit ASCII
	// range.
	ErrNotAscii = errors.New("protocol: non-ASCII byte in frame")

	// ErrMissingNul means the byte at offset LLLL (just past the length
	// LLLL counts) was not the 0x00 terminator the length promised.
	ErrMissingNul = errors.New("protocol: missing NUL terminator")

	// ErrFrameTooShort means the decoded frame is shorter than the fixed
	// header (LLLL MMMM RRR A SS PP FFFF), so it cannot be dispatched.
	ErrFrameTooShort = errors.New("protocol: frame shorter than fixed header")
)
