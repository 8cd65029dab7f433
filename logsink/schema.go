package logsink

import (
	"fmt"
	"github.com/jd3nn1s/groundstation/telemetry"
	"strconv"
	"time"
)

type columnType int

const (
	typeText columnType = iota
	typeReal
	typeInteger
)

func (t columnType) sql() string {
	switch t {
	case typeReal:
		return "REAL"
	case typeInteger:
		return "INTEGER"
	}
	return "TEXT"
}

type column struct {
	name string
	typ  columnType
}

func reals(names ...string) []column {
	return typed(typeReal, names...)
}

func ints(names ...string) []column {
	return typed(typeInteger, names...)
}

func texts(names ...string) []column {
	return typed(typeText, names...)
}

func typed(t columnType, names ...string) []column {
	cols := make([]column, len(names))
	for i, n := range names {
		cols[i] = column{name: n, typ: t}
	}
	return cols
}

func concat(parts ...[]column) []column {
	cols := texts("timestamp")
	for _, p := range parts {
		cols = append(cols, p...)
	}
	return cols
}

// schema is the column order of every log target. The timestamp is always
// the first column.
var schema = map[telemetry.Kind][]column{
	telemetry.KindAttitude: concat(
		reals("roll", "pitch", "yaw", "altitude",
			"roll_setpoint", "pitch_setpoint", "yaw_setpoint", "altitude_setpoint"),
	),
	telemetry.KindGPSBasic: concat(
		reals("latitude", "longitude", "altitude", "ground_speed", "voltage"),
		ints("switch_a", "switch_c"),
		texts("failsafe"),
	),
	telemetry.KindBattery: concat(
		reals("pack_voltage", "current"),
		ints("cells"),
		reals("cell_voltage", "consumed_mah", "flight_time_min"),
		ints("low_battery", "reported_consumed_mah", "reported_remaining_mah"),
	),
	telemetry.KindMotors: concat(motorColumns()...),
	telemetry.KindFlightMode: concat(
		texts("mode"),
		ints("armed"),
		texts("arming_state"),
	),
	telemetry.KindGPSEnhanced: concat(
		ints("fix_type", "satellites"),
		reals("hdop", "vdop"),
		ints("home_set"),
		reals("home_lat", "home_lon", "home_alt", "distance_home", "bearing_home"),
	),
}

func motorColumns() [][]column {
	var cols [][]column
	for i := 1; i <= telemetry.MotorCount; i++ {
		p := fmt.Sprintf("esc%d_", i)
		cols = append(cols, reals(p+"temp", p+"volt", p+"curr"), ints(p+"rpm"))
	}
	return cols
}

// Columns returns the column names for kind, timestamp first.
func Columns(kind telemetry.Kind) []string {
	cols := schema[kind]
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
	}
	return names
}

// values returns the row for rec in schema order.
func values(rec telemetry.Record) []any {
	row := []any{rec.Time().UTC().Format(time.RFC3339Nano)}
	switch r := rec.(type) {
	case telemetry.Attitude:
		row = append(row, r.Roll, r.Pitch, r.Yaw, r.Altitude,
			r.RollSetpoint, r.PitchSetpoint, r.YawSetpoint, r.AltitudeSetpoint)
	case telemetry.GPSBasic:
		row = append(row, r.Latitude, r.Longitude, r.Altitude, r.GroundSpeed,
			r.Voltage, int64(r.SwitchA), int64(r.SwitchC), r.Failsafe.String())
	case telemetry.Battery:
		row = append(row, r.PackVoltage, r.Current, int64(r.Cells),
			r.CellVoltage, r.Consumed, r.FlightTime,
			r.LowBattery, int64(r.ReportedConsumed), int64(r.ReportedRemaining))
	case telemetry.Motors:
		for _, esc := range r.ESC {
			row = append(row, esc.Temperature, esc.Voltage, esc.Current, int64(esc.RPM))
		}
	case telemetry.FlightMode:
		row = append(row, r.Mode.String(), r.Armed, r.ArmingState.String())
	case telemetry.GPSEnhanced:
		row = append(row, int64(r.FixType), int64(r.Satellites), r.HDOP, r.VDOP,
			r.HomeSet, r.HomeLatitude, r.HomeLongitude, r.HomeAltitude,
			r.DistanceToHome, r.BearingToHome)
	}
	return row
}

func format(v any) string {
	switch v := v.(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		if v {
			return "1"
		}
		return "0"
	case string:
		return v
	}
	return fmt.Sprint(v)
}
