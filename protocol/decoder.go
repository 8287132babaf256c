// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package protocol

import "strconv"

// Decoder consumes a byte stream and extracts framed messages. It is
// restartable: partial data is retained across calls so the caller can
// feed arbitrarily-sized reads from a socket. See companion spec §4.1
// "Decode" / "Streaming invariant".
type Decoder struct {
	buf []byte
}

// NewDecoder returns an empty Decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends newly-read bytes to the decoder's retained buffer.
func (d *Decoder) Feed(b []byte) {
	d.buf = append(d.buf, b...)
}

// Buffered reports how many bytes are currently retained, unconsumed.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Next extracts one frame from the retained buffer.
//
// On success it returns the frame and consumes its bytes. If fewer than
// LLLL+1 bytes are currently available it returns ErrTruncated and
// consumes nothing — the caller should read more and call Next again.
// A non-numeric LLLL is unrecoverable mid-stream: Next returns
// ErrMalformedLength and discards the entire retained buffer, which is
// the decoder's one at-most-once resynchronization point. Any other
// decode failure (ErrBadMid, ErrBadRevision, ErrNotAscii,
// ErrFrameTooShort) consumes only the offending frame's bytes — the
// length field was trustworthy, so the stream stays in sync.
func (d *Decoder) Next() (Frame, error) {
	if len(d.buf) < lengthWidth {
		return Frame{}, ErrTruncated
	}

	lenField := d.buf[:lengthWidth]
	total, err := strconv.Atoi(string(lenField))
	if err != nil || total < lengthWidth {
		d.buf = nil
		return Frame{}, ErrMalformedLength
	}

	if len(d.buf) < total+1 {
		return Frame{}, ErrTruncated
	}

	frameBytes := d.buf[:total+1]
	body := frameBytes[lengthWidth:total]
	nul := frameBytes[total]

	// Always consume exactly this frame's bytes before returning any
	// further error: the length told us how much to skip.
	d.buf = d.buf[total+1:]

	for _, c := range frameBytes[:total] {
		if c > 0x7f {
			return Frame{}, ErrNotAscii
		}
	}

	if nul != 0x00 {
		return Frame{}, ErrMissingNul
	}

	if len(body) < HeaderSize {
		return Frame{}, ErrFrameTooShort
	}

	off := 0
	midStr := string(body[off : off+midWidth])
	off += midWidth
	revStr := string(body[off : off+revWidth])
	off += revWidth
	ackByte := body[off]
	off += ackWidth
	stationStr := string(body[off : off+stationWidth])
	off += stationWidth
	spindleStr := string(body[off : off+spindleWidth])
	off += spindleWidth
	off += spareWidth
	data := body[off:]

	mid, err := strconv.Atoi(midStr)
	if err != nil {
		return Frame{}, ErrBadMid
	}

	rev, err := parseRevision(revStr)
	if err != nil {
		return Frame{}, ErrBadRevision
	}

	station, _ := strconv.Atoi(stationStr)
	spindle, _ := strconv.Atoi(spindleStr)

	return Frame{
		MID:     mid,
		Rev:     rev,
		NoAck:   ackByte == '1',
		Station: station,
		Spindle: spindle,
		Data:    append([]byte(nil), data...),
	}, nil
}

// parseRevision parses the RRR header field. Empty or all-space is
// treated as revision 1, per companion spec §4.1 / §8.
func parseRevision(s string) (int, error) {
	trimmed := trimSpace(s)
	if trimmed == "" {
		return 1, nil
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && s[start] == ' ' {
		start++
	}
	for end > start && s[end-1] == ' ' {
		end--
	}
	return s[start:end]
}
