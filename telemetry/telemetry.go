package telemetry

import (
	"fmt"
	"time"
)

// Kind identifies a record variant. The values match the message type byte
// the flight controller puts on the wire.
type Kind uint8

const (
	KindAttitude    Kind = 0x10
	KindGPSBasic    Kind = 0x11
	KindBattery     Kind = 0x12
	KindMotors      Kind = 0x13
	KindFlightMode  Kind = 0x14
	KindGPSEnhanced Kind = 0x15
)

// Kinds lists every record variant in wire order.
var Kinds = []Kind{
	KindAttitude,
	KindGPSBasic,
	KindBattery,
	KindMotors,
	KindFlightMode,
	KindGPSEnhanced,
}

func (k Kind) String() string {
	switch k {
	case KindAttitude:
		return "attitude"
	case KindGPSBasic:
		return "gps"
	case KindBattery:
		return "battery"
	case KindMotors:
		return "motors"
	case KindFlightMode:
		return "flight_mode"
	case KindGPSEnhanced:
		return "gps_enhanced"
	}
	return fmt.Sprintf("kind(0x%02x)", uint8(k))
}

// Valid reports whether k is one of the known variants.
func (k Kind) Valid() bool {
	return k >= KindAttitude && k <= KindGPSEnhanced
}

// Record is a decoded telemetry message. Implementations are value types and
// are never modified once handed to the pipeline.
type Record interface {
	Kind() Kind
	Time() time.Time
}

// Header holds the fields shared by all records.
type Header struct {
	Timestamp time.Time `json:"timestamp" cbor:"ts"`
}

func (h Header) Time() time.Time {
	return h.Timestamp
}
