// Copyright 2020 thinkgos (thinkgo@aliyun.com).  All rights reserved.
// Use of this source code is governed by a version 3 of the GNU General
// Public License, license that can be found in the LICENSE file.

package protocol

import "fmt"

// MID is an Open Protocol message identifier. See companion spec §4.5
// and the GLOSSARY.
type MID int

// The MIDs this engine implements. Reproducing the full Open Protocol
// catalogue is explicitly out of scope (spec.md §1 Non-goals); only
// these are in scope.
const (
	MIDCommunicationStart       MID = 1
	MIDCommunicationStartAck    MID = 2
	MIDCommunicationStop        MID = 3
	MIDCommandError             MID = 4
	MIDCommandAccepted          MID = 5
	MIDParameterSetSubscribe    MID = 14
	MIDParameterSetSelected     MID = 15
	MIDParameterSetSubscribeOff MID = 16
	MIDParameterSetUnsubscribe  MID = 17
	MIDParameterSetSelect       MID = 18
	MIDToolDataRequest          MID = 40
	MIDToolData                 MID = 41
	MIDToolDisable              MID = 42
	MIDToolEnable               MID = 43
	MIDVinUpload                MID = 50
	MIDVinSubscribe             MID = 51
	MIDVin                      MID = 52
	MIDVinSubscribeOff          MID = 53
	MIDVinUnsubscribe           MID = 54
	MIDResultSubscribe          MID = 60
	MIDResult                   MID = 61
	MIDResultSubscribeOff       MID = 62
	MIDResultUnsubscribe        MID = 63
	MIDSetTime                  MID = 82
	MIDMultiSpindleSubscribe    MID = 100
	MIDMultiSpindleResult       MID = 101
	MIDMultiSpindleSubscribeOff MID = 102
	MIDMultiSpindleUnsubscribe  MID = 103
	MIDDeviceStatusRequest      MID = 214
	MIDDeviceStatus             MID = 215
	MIDRelaySubscribe           MID = 216
	MIDRelayStatus              MID = 217
	MIDRelaySubscribeOff        MID = 218
	MIDRelayUnsubscribe         MID = 219
	MIDKeepAlive                MID = 9999
)

// ErrorCode is one of the numeric codes MID 0004 carries in its
// failing-MID + error-code payload. See companion spec §4.5.1.
type ErrorCode int

const (
	ErrDeviceUnknown      ErrorCode = 1
	ErrInvalidPset        ErrorCode = 2
	ErrAlreadySubscribed  ErrorCode = 6
	ErrNotSubscribed      ErrorCode = 7
	ErrResultAlreadySub   ErrorCode = 9
	ErrResultNotSub       ErrorCode = 10
	ErrBadTime            ErrorCode = 20
	ErrAlreadyConnected   ErrorCode = 96
	ErrUnsupportedRev     ErrorCode = 97
	ErrUnknownOrParse     ErrorCode = 99
)

func (m MID) String() string {
	return fmt.Sprintf("MID %04d", int(m))
}
