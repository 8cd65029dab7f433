package telemetry

import (
	"fmt"
	"github.com/pkg/errors"
)

// Attitude is the AHRS output of the flight controller.
type Attitude struct {
	Header
	Roll     float64 `json:"roll" cbor:"roll"`         // degrees
	Pitch    float64 `json:"pitch" cbor:"pitch"`       // degrees
	Yaw      float64 `json:"yaw" cbor:"yaw"`           // degrees, 0-360
	Altitude float64 `json:"altitude" cbor:"altitude"` // barometric, meters

	RollSetpoint     float64 `json:"roll_setpoint" cbor:"roll_sp"`
	PitchSetpoint    float64 `json:"pitch_setpoint" cbor:"pitch_sp"`
	YawSetpoint      float64 `json:"yaw_setpoint" cbor:"yaw_sp"`
	AltitudeSetpoint float64 `json:"altitude_setpoint" cbor:"alt_sp"`
}

func (Attitude) Kind() Kind { return KindAttitude }

type FailsafeStatus uint8

const (
	FailsafeNormal FailsafeStatus = iota
	FailsafeTriggered
	FailsafeNoRC
)

func (f FailsafeStatus) String() string {
	switch f {
	case FailsafeNormal:
		return "NORMAL"
	case FailsafeTriggered:
		return "TRIGGERED"
	case FailsafeNoRC:
		return "NO_RC"
	}
	return fmt.Sprintf("FAILSAFE(%d)", uint8(f))
}

func (f FailsafeStatus) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f *FailsafeStatus) UnmarshalText(text []byte) error {
	return parseEnum(f, text, FailsafeNormal, FailsafeNoRC)
}

// GPSBasic is the high rate position report. The flight controller also
// reports its battery voltage in it.
type GPSBasic struct {
	Header
	Latitude    float64        `json:"latitude" cbor:"lat"`
	Longitude   float64        `json:"longitude" cbor:"lon"`
	Altitude    float64        `json:"altitude" cbor:"alt"`    // meters
	GroundSpeed float64        `json:"ground_speed" cbor:"gs"` // m/s
	Voltage     float64        `json:"voltage" cbor:"volt"`
	SwitchA     uint8          `json:"switch_a" cbor:"swa"` // 0 up, 1 down
	SwitchC     uint8          `json:"switch_c" cbor:"swc"` // 0 up, 1 mid, 2 down
	Failsafe    FailsafeStatus `json:"failsafe" cbor:"failsafe"`
}

func (GPSBasic) Kind() Kind { return KindGPSBasic }

// Battery is the power system report. Consumed, FlightTime and LowBattery
// are filled in by the derived value engine.
type Battery struct {
	Header
	Cells       uint8   `json:"cells" cbor:"cells"`
	CellVoltage float64 `json:"cell_voltage" cbor:"cell_v"`
	PackVoltage float64 `json:"pack_voltage" cbor:"pack_v"`
	Current     float64 `json:"current" cbor:"current"` // amps

	// As reported by the flight controller.
	ReportedConsumed  uint32 `json:"reported_consumed_mah" cbor:"fc_consumed"`
	ReportedRemaining uint16 `json:"reported_remaining_mah" cbor:"fc_remaining"`

	Consumed   float64 `json:"consumed_mah" cbor:"consumed"`
	FlightTime float64 `json:"flight_time_min" cbor:"flight_time"`
	LowBattery bool    `json:"low_battery" cbor:"low"`
}

func (Battery) Kind() Kind { return KindBattery }

// MotorCount is the number of ESC slots in a motors report.
const MotorCount = 4

type ESC struct {
	Temperature float64 `json:"temperature" cbor:"temp"` // celsius
	Voltage     float64 `json:"voltage" cbor:"volt"`
	Current     float64 `json:"current" cbor:"curr"`
	RPM         int     `json:"rpm" cbor:"rpm"`
}

type Motors struct {
	Header
	ESC [MotorCount]ESC `json:"esc" cbor:"esc"`
}

func (Motors) Kind() Kind { return KindMotors }

type Mode uint8

const (
	ModeManual Mode = iota
	ModeStabilize
	ModeAltHold
	ModeAuto
	ModeRTL
	ModeLand
)

func (m Mode) Valid() bool {
	return m <= ModeLand
}

func (m Mode) String() string {
	switch m {
	case ModeManual:
		return "MANUAL"
	case ModeStabilize:
		return "STABILIZE"
	case ModeAltHold:
		return "ALT_HOLD"
	case ModeAuto:
		return "AUTO"
	case ModeRTL:
		return "RTL"
	case ModeLand:
		return "LAND"
	}
	return fmt.Sprintf("MODE(%d)", uint8(m))
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	return parseEnum(m, text, ModeManual, ModeLand)
}

type ArmingState uint8

const (
	ArmingStandby ArmingState = iota
	ArmingArming
	ArmingArmed
	ArmingDisarming
)

func (a ArmingState) String() string {
	switch a {
	case ArmingStandby:
		return "STANDBY"
	case ArmingArming:
		return "ARMING"
	case ArmingArmed:
		return "ARMED"
	case ArmingDisarming:
		return "DISARMING"
	}
	return fmt.Sprintf("ARMING(%d)", uint8(a))
}

func (a ArmingState) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *ArmingState) UnmarshalText(text []byte) error {
	return parseEnum(a, text, ArmingStandby, ArmingDisarming)
}

// parseEnum sets *v to the value between lo and hi whose name is text.
func parseEnum[E interface {
	~uint8
	String() string
}](v *E, text []byte, lo, hi E) error {
	for e := lo; e <= hi; e++ {
		if e.String() == string(text) {
			*v = e
			return nil
		}
	}
	return errors.Errorf("unknown value %q", text)
}

type FlightMode struct {
	Header
	Mode        Mode        `json:"mode" cbor:"mode"`
	Armed       bool        `json:"armed" cbor:"armed"`
	ArmingState ArmingState `json:"arming_state" cbor:"arming"`
}

func (FlightMode) Kind() Kind { return KindFlightMode }

// MaxFixType is the highest GNSS fix type the receiver reports
// (0 no fix, 1 dead reckoning, 2 2D, 3 3D, 4 GNSS+DR, 5 time only, 6 RTK).
const MaxFixType = 6

// GPSEnhanced is the 1 Hz receiver quality and home report.
// DistanceToHome, BearingToHome and HomeVectorValid are filled in by the
// derived value engine.
type GPSEnhanced struct {
	Header
	FixType    uint8   `json:"fix_type" cbor:"fix"`
	Satellites uint8   `json:"satellites" cbor:"sats"`
	HDOP       float64 `json:"hdop" cbor:"hdop"`
	VDOP       float64 `json:"vdop" cbor:"vdop"`

	HomeSet       bool    `json:"home_set" cbor:"home_set"`
	HomeLatitude  float64 `json:"home_lat" cbor:"home_lat"`
	HomeLongitude float64 `json:"home_lon" cbor:"home_lon"`
	HomeAltitude  float64 `json:"home_alt" cbor:"home_alt"`

	DistanceToHome  float64 `json:"distance_home" cbor:"dist_home"` // meters
	BearingToHome   float64 `json:"bearing_home" cbor:"brg_home"`   // degrees true
	HomeVectorValid bool    `json:"home_vector_valid" cbor:"home_vec"`
}

func (GPSEnhanced) Kind() Kind { return KindGPSEnhanced }
