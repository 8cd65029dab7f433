package fcproto

import (
	"github.com/jd3nn1s/groundstation/telemetry"
	"github.com/pkg/errors"
	"math"
	"time"
)

var (
	ErrUnknownType = errors.New("unknown message type")
	ErrMalformed   = errors.New("malformed payload")
)

// Decoder turns validated frames into typed records. Each record is stamped
// with the decode time; timestamps from one Decoder are strictly increasing.
type Decoder struct {
	now  func() time.Time
	last time.Time
}

func NewDecoder() *Decoder {
	return NewDecoderWithClock(time.Now)
}

func NewDecoderWithClock(now func() time.Time) *Decoder {
	return &Decoder{now: now}
}

func (d *Decoder) Decode(f Frame) (telemetry.Record, error) {
	if !f.Valid() {
		return nil, errors.Wrap(ErrMalformed, "frame failed validation")
	}
	kind := f.Type()
	p := f.Payload()

	var rec telemetry.Record
	var err error
	switch kind {
	case telemetry.KindAttitude:
		rec, err = decodeAttitude(p, d.header())
	case telemetry.KindGPSBasic:
		rec, err = decodeGPSBasic(p, d.header())
	case telemetry.KindBattery:
		rec, err = decodeBattery(p, d.header())
	case telemetry.KindMotors:
		rec, err = decodeMotors(p, d.header())
	case telemetry.KindFlightMode:
		rec, err = decodeFlightMode(p, d.header())
	case telemetry.KindGPSEnhanced:
		rec, err = decodeGPSEnhanced(p, d.header())
	default:
		return nil, errors.Wrapf(ErrUnknownType, "type 0x%02x", uint8(kind))
	}
	if err != nil {
		return nil, errors.Wrap(err, kind.String())
	}
	return rec, nil
}

func (d *Decoder) header() telemetry.Header {
	ts := d.now()
	if !ts.After(d.last) {
		ts = d.last.Add(time.Nanosecond)
	}
	d.last = ts
	return telemetry.Header{Timestamp: ts}
}

func i16(p []byte, off int, scale float64) float64 {
	return float64(int16(le.Uint16(p[off:]))) / scale
}

func u16(p []byte, off int, scale float64) float64 {
	return float64(le.Uint16(p[off:])) / scale
}

func i32(p []byte, off int, scale float64) float64 {
	return float64(int32(le.Uint32(p[off:]))) / scale
}

func decodeAttitude(p []byte, h telemetry.Header) (telemetry.Attitude, error) {
	a := telemetry.Attitude{
		Header:           h,
		Roll:             i16(p, 0, 100),
		Pitch:            i16(p, 2, 100),
		Yaw:              u16(p, 4, 100),
		Altitude:         i16(p, 6, 10),
		RollSetpoint:     i16(p, 8, 100),
		PitchSetpoint:    i16(p, 10, 100),
		YawSetpoint:      u16(p, 12, 100),
		AltitudeSetpoint: i16(p, 14, 10),
	}
	if math.Abs(a.Roll) > 180 || math.Abs(a.Pitch) > 180 || a.Yaw > 360 {
		return a, errors.Wrapf(ErrMalformed, "attitude out of range roll=%.2f pitch=%.2f yaw=%.2f",
			a.Roll, a.Pitch, a.Yaw)
	}
	return a, nil
}

func decodeGPSBasic(p []byte, h telemetry.Header) (telemetry.GPSBasic, error) {
	g := telemetry.GPSBasic{
		Header:      h,
		Latitude:    i32(p, 0, 1e7),
		Longitude:   i32(p, 4, 1e7),
		Voltage:     u16(p, 8, 100),
		SwitchA:     p[10],
		SwitchC:     p[11],
		Failsafe:    telemetry.FailsafeStatus(p[12]),
		Altitude:    i16(p, 13, 10),
		GroundSpeed: float64(p[15]) / 10,
	}
	if math.Abs(g.Latitude) > 90 || math.Abs(g.Longitude) > 180 {
		return g, errors.Wrapf(ErrMalformed, "position out of range %.7f,%.7f", g.Latitude, g.Longitude)
	}
	if g.Failsafe > telemetry.FailsafeNoRC {
		return g, errors.Wrapf(ErrMalformed, "failsafe status %d", uint8(g.Failsafe))
	}
	return g, nil
}

func decodeBattery(p []byte, h telemetry.Header) (telemetry.Battery, error) {
	b := telemetry.Battery{
		Header:            h,
		PackVoltage:       u16(p, 0, 100),
		Current:           i16(p, 2, 100),
		ReportedConsumed:  le.Uint32(p[4:]),
		Cells:             p[8],
		ReportedRemaining: le.Uint16(p[9:]),
	}
	if b.Cells == 0 {
		return b, errors.Wrap(ErrMalformed, "zero cell count")
	}
	b.CellVoltage = b.PackVoltage / float64(b.Cells)
	return b, nil
}

const motorRPMOffset = 12

func decodeMotors(p []byte, h telemetry.Header) (telemetry.Motors, error) {
	m := telemetry.Motors{Header: h}
	// three byte blocks per ESC, then one RPM byte per ESC from offset 12
	for i := range m.ESC {
		b := p[i*3:]
		m.ESC[i] = telemetry.ESC{
			Temperature: float64(b[0]),
			Voltage:     float64(b[1]) / 10,
			Current:     float64(b[2]) / 10,
			RPM:         int(p[motorRPMOffset+i]) * 100,
		}
	}
	return m, nil
}

func decodeFlightMode(p []byte, h telemetry.Header) (telemetry.FlightMode, error) {
	fm := telemetry.FlightMode{
		Header:      h,
		Mode:        telemetry.Mode(p[0]),
		Armed:       p[1]&0x01 != 0,
		ArmingState: telemetry.ArmingState((p[1] >> 1) & 0x03),
	}
	if !fm.Mode.Valid() {
		return fm, errors.Wrapf(ErrMalformed, "flight mode %d", uint8(fm.Mode))
	}
	return fm, nil
}

func decodeGPSEnhanced(p []byte, h telemetry.Header) (telemetry.GPSEnhanced, error) {
	g := telemetry.GPSEnhanced{
		Header:        h,
		FixType:       p[0],
		Satellites:    p[1],
		HDOP:          u16(p, 2, 100),
		VDOP:          u16(p, 4, 100),
		HomeLatitude:  i32(p, 6, 1e7),
		HomeLongitude: i32(p, 10, 1e7),
		HomeAltitude:  i16(p, 14, 10),
	}
	// a home position of 0,0 means none has been recorded
	g.HomeSet = g.HomeLatitude != 0 && g.HomeLongitude != 0
	if g.FixType > telemetry.MaxFixType {
		return g, errors.Wrapf(ErrMalformed, "fix type %d", g.FixType)
	}
	if math.Abs(g.HomeLatitude) > 90 || math.Abs(g.HomeLongitude) > 180 {
		return g, errors.Wrapf(ErrMalformed, "home out of range %.7f,%.7f", g.HomeLatitude, g.HomeLongitude)
	}
	return g, nil
}
