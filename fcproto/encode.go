package fcproto

import (
	"github.com/jd3nn1s/groundstation/telemetry"
	"github.com/pkg/errors"
	"math"
)

// Encode builds the wire frame for rec. Derived fields are not encoded.
// Values that do not fit their wire field return ErrMalformed.
func Encode(rec telemetry.Record) (Frame, error) {
	w := &payloadWriter{}
	switch r := rec.(type) {
	case telemetry.Attitude:
		w.int16(0, r.Roll, 100)
		w.int16(2, r.Pitch, 100)
		w.uint16(4, r.Yaw, 100)
		w.int16(6, r.Altitude, 10)
		w.int16(8, r.RollSetpoint, 100)
		w.int16(10, r.PitchSetpoint, 100)
		w.uint16(12, r.YawSetpoint, 100)
		w.int16(14, r.AltitudeSetpoint, 10)
	case telemetry.GPSBasic:
		w.int32(0, r.Latitude, 1e7)
		w.int32(4, r.Longitude, 1e7)
		w.uint16(8, r.Voltage, 100)
		w.p[10] = r.SwitchA
		w.p[11] = r.SwitchC
		w.p[12] = byte(r.Failsafe)
		w.int16(13, r.Altitude, 10)
		w.uint8(15, r.GroundSpeed, 10)
	case telemetry.Battery:
		w.uint16(0, r.PackVoltage, 100)
		w.int16(2, r.Current, 100)
		le.PutUint32(w.p[4:], r.ReportedConsumed)
		w.p[8] = r.Cells
		le.PutUint16(w.p[9:], r.ReportedRemaining)
	case telemetry.Motors:
		for i, esc := range r.ESC {
			off := i * 3
			w.uint8(off, esc.Temperature, 1)
			w.uint8(off+1, esc.Voltage, 10)
			w.uint8(off+2, esc.Current, 10)
			w.uint8(motorRPMOffset+i, float64(esc.RPM), 0.01)
		}
	case telemetry.FlightMode:
		w.p[0] = byte(r.Mode)
		var flags byte
		if r.Armed {
			flags |= 0x01
		}
		flags |= byte(r.ArmingState&0x03) << 1
		w.p[1] = flags
	case telemetry.GPSEnhanced:
		// HomeSet is implied by non-zero home coordinates
		w.p[0] = r.FixType
		w.p[1] = r.Satellites
		w.uint16(2, r.HDOP, 100)
		w.uint16(4, r.VDOP, 100)
		w.int32(6, r.HomeLatitude, 1e7)
		w.int32(10, r.HomeLongitude, 1e7)
		w.int16(14, r.HomeAltitude, 10)
	default:
		return Frame{}, errors.Wrapf(ErrUnknownType, "cannot encode %T", rec)
	}
	if w.err != nil {
		return Frame{}, errors.Wrap(w.err, rec.Kind().String())
	}
	return newFrame(rec.Kind(), w.p[:]), nil
}

// payloadWriter scales values into fixed point fields and keeps the first
// range error.
type payloadWriter struct {
	p   [PayloadSize]byte
	err error
}

func (w *payloadWriter) scaled(v, scale, lo, hi float64) (float64, bool) {
	r := math.Round(v * scale)
	if math.IsNaN(r) || r < lo || r > hi {
		w.fail("value", v)
		return 0, false
	}
	return r, true
}

func (w *payloadWriter) fail(what string, v float64) {
	if w.err == nil {
		w.err = errors.Wrapf(ErrMalformed, "%s %v does not fit field", what, v)
	}
}

func (w *payloadWriter) int16(off int, v, scale float64) {
	if r, ok := w.scaled(v, scale, math.MinInt16, math.MaxInt16); ok {
		le.PutUint16(w.p[off:], uint16(int16(r)))
	}
}

func (w *payloadWriter) uint16(off int, v, scale float64) {
	if r, ok := w.scaled(v, scale, 0, math.MaxUint16); ok {
		le.PutUint16(w.p[off:], uint16(r))
	}
}

func (w *payloadWriter) int32(off int, v, scale float64) {
	if r, ok := w.scaled(v, scale, math.MinInt32, math.MaxInt32); ok {
		le.PutUint32(w.p[off:], uint32(int32(r)))
	}
}

func (w *payloadWriter) uint8(off int, v, scale float64) {
	if r, ok := w.scaled(v, scale, 0, math.MaxUint8); ok {
		w.p[off] = byte(r)
	}
}
