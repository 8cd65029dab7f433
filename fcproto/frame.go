package fcproto

import (
	"encoding/binary"
	"github.com/jd3nn1s/groundstation/telemetry"
)

const (
	FrameSize   = 20
	PayloadSize = 16

	payloadOffset  = 3
	checksumOffset = FrameSize - 1
)

// Sync markers. Frames from the flight controller start with "FC", frames
// towards it with "GS".
const (
	SyncFC0 byte = 0x46
	SyncFC1 byte = 0x43
	SyncGS0 byte = 0x47
	SyncGS1 byte = 0x53
)

var le = binary.LittleEndian

// Frame is one fixed size protocol unit: sync marker, message type, payload
// and checksum.
type Frame [FrameSize]byte

func (f *Frame) Type() telemetry.Kind {
	return telemetry.Kind(f[2])
}

func (f *Frame) Payload() []byte {
	return f[payloadOffset:checksumOffset]
}

func (f *Frame) Checksum() byte {
	return f[checksumOffset]
}

// Valid reports whether the frame carries the controller sync marker and a
// matching checksum.
func (f *Frame) Valid() bool {
	return f[0] == SyncFC0 && f[1] == SyncFC1 && Checksum(f[:checksumOffset]) == f[checksumOffset]
}

// Checksum is 0xFF minus the byte sum of b, modulo 256.
func Checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return 0xFF - sum
}

// newFrame fills in sync marker, type and checksum around payload.
func newFrame(kind telemetry.Kind, payload []byte) Frame {
	var f Frame
	f[0] = SyncFC0
	f[1] = SyncFC1
	f[2] = byte(kind)
	copy(f[payloadOffset:checksumOffset], payload)
	f[checksumOffset] = Checksum(f[:checksumOffset])
	return f
}
