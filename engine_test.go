package groundstation

import (
	"encoding/binary"
	"github.com/jd3nn1s/groundstation/fcproto"
	"github.com/jd3nn1s/groundstation/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"testing"
	"time"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) telemetry.Header {
	return telemetry.Header{Timestamp: t0.Add(d)}
}

func TestEngineHomeLatch(t *testing.T) {
	e := NewEngine(EngineConfig{})
	e.Enrich(telemetry.GPSBasic{Header: at(0), Latitude: 37.5700, Longitude: 126.9800})

	g := e.Enrich(telemetry.GPSEnhanced{Header: at(time.Second), FixType: 3}).(telemetry.GPSEnhanced)
	assert.False(t, g.HomeVectorValid)
	_, ok := e.Home()
	assert.False(t, ok)

	g = e.Enrich(telemetry.GPSEnhanced{
		Header:        at(2 * time.Second),
		HomeSet:       true,
		HomeLatitude:  37.5665,
		HomeLongitude: 126.9780,
		HomeAltitude:  45.0,
	}).(telemetry.GPSEnhanced)
	assert.True(t, g.HomeVectorValid)
	assert.Greater(t, g.DistanceToHome, 0.0)
	home, ok := e.Home()
	assert.True(t, ok)
	assert.Equal(t, HomePosition{Latitude: 37.5665, Longitude: 126.9780, Altitude: 45.0}, home)
	first := g

	// clearing the flag or reporting a new home does not move the latch
	g = e.Enrich(telemetry.GPSEnhanced{Header: at(3 * time.Second), HomeLatitude: 1, HomeLongitude: 1}).(telemetry.GPSEnhanced)
	assert.True(t, g.HomeVectorValid)
	assert.InDelta(t, first.DistanceToHome, g.DistanceToHome, 1e-9)
	assert.InDelta(t, first.BearingToHome, g.BearingToHome, 1e-9)
	home, _ = e.Home()
	assert.Equal(t, 37.5665, home.Latitude)

	// south-west of the fix
	assert.Greater(t, g.BearingToHome, 180.0)
	assert.Less(t, g.BearingToHome, 270.0)
	assert.InDelta(t, 427, g.DistanceToHome, 2)
}

// wireFrame builds a controller frame from raw payload bytes.
func wireFrame(kind telemetry.Kind, payload []byte) fcproto.Frame {
	var f fcproto.Frame
	f[0], f[1], f[2] = fcproto.SyncFC0, fcproto.SyncFC1, byte(kind)
	copy(f[3:fcproto.FrameSize-1], payload)
	f[fcproto.FrameSize-1] = fcproto.Checksum(f[:fcproto.FrameSize-1])
	return f
}

func TestEngineHomeFromFrames(t *testing.T) {
	dec := fcproto.NewDecoder()
	e := NewEngine(EngineConfig{})

	fix := make([]byte, fcproto.PayloadSize)
	binary.LittleEndian.PutUint32(fix[0:], uint32(int32(375700000)))
	binary.LittleEndian.PutUint32(fix[4:], uint32(int32(1269800000)))
	rec, err := dec.Decode(wireFrame(telemetry.KindGPSBasic, fix))
	require.NoError(t, err)
	e.Enrich(rec)

	// fix type 3, no home yet
	status := make([]byte, fcproto.PayloadSize)
	status[0], status[1] = 3, 12
	rec, err = dec.Decode(wireFrame(telemetry.KindGPSEnhanced, status))
	require.NoError(t, err)
	g := e.Enrich(rec).(telemetry.GPSEnhanced)
	assert.False(t, g.HomeSet)
	assert.False(t, g.HomeVectorValid)

	binary.LittleEndian.PutUint32(status[6:], uint32(int32(375665000)))
	binary.LittleEndian.PutUint32(status[10:], uint32(int32(1269780000)))
	binary.LittleEndian.PutUint16(status[14:], 450)
	rec, err = dec.Decode(wireFrame(telemetry.KindGPSEnhanced, status))
	require.NoError(t, err)
	g = e.Enrich(rec).(telemetry.GPSEnhanced)
	assert.True(t, g.HomeSet)
	assert.True(t, g.HomeVectorValid)
	assert.InDelta(t, 427, g.DistanceToHome, 2)

	home, ok := e.Home()
	assert.True(t, ok)
	assert.Equal(t, HomePosition{Latitude: 37.5665, Longitude: 126.978, Altitude: 45}, home)
}

func TestEngineNoFixNoVector(t *testing.T) {
	e := NewEngine(EngineConfig{})
	g := e.Enrich(telemetry.GPSEnhanced{HomeSet: true, HomeLatitude: 37.5665, HomeLongitude: 126.9780}).(telemetry.GPSEnhanced)
	assert.False(t, g.HomeVectorValid)
	assert.Zero(t, g.DistanceToHome)
}

func TestEngineLowBattery(t *testing.T) {
	e := NewEngine(EngineConfig{})
	b := e.Enrich(telemetry.Battery{Cells: 4, PackVoltage: 14.0, CellVoltage: 3.5}).(telemetry.Battery)
	assert.True(t, b.LowBattery)

	b = e.Enrich(telemetry.Battery{Cells: 4, PackVoltage: 15.2, CellVoltage: 3.8}).(telemetry.Battery)
	assert.False(t, b.LowBattery)

	e = NewEngine(EngineConfig{LowCellVoltage: 3.9})
	b = e.Enrich(telemetry.Battery{Cells: 4, CellVoltage: 3.8}).(telemetry.Battery)
	assert.True(t, b.LowBattery)
}

func TestEngineFlightTime(t *testing.T) {
	e := NewEngine(EngineConfig{Capacity: 3000})

	b := e.Enrich(telemetry.Battery{Header: at(0), Cells: 4, CellVoltage: 4, Current: 2}).(telemetry.Battery)
	assert.Zero(t, b.Consumed)
	assert.InDelta(t, 90.0, b.FlightTime, 1e-9)

	b = e.Enrich(telemetry.Battery{Header: at(15 * time.Minute), Cells: 4, CellVoltage: 4, Current: 2}).(telemetry.Battery)
	assert.InDelta(t, 500.0, b.Consumed, 1e-9)
	assert.InDelta(t, 75.0, b.FlightTime, 1e-9)
	assert.InDelta(t, 500.0, e.Consumed(), 1e-9)

	b = e.Enrich(telemetry.Battery{Header: at(16 * time.Minute), Cells: 4, CellVoltage: 4, Current: 0}).(telemetry.Battery)
	assert.Zero(t, b.FlightTime)
}

func TestEngineConsumedNeverNegative(t *testing.T) {
	e := NewEngine(EngineConfig{})
	e.Enrich(telemetry.Battery{Header: at(0), Cells: 4, Current: -5})
	b := e.Enrich(telemetry.Battery{Header: at(time.Hour), Cells: 4, Current: -5}).(telemetry.Battery)
	assert.Zero(t, b.Consumed)
	assert.Zero(t, b.FlightTime)
}

func TestFlightTime(t *testing.T) {
	assert.Equal(t, 75.0, FlightTime(3000, 500, 2000))
	assert.Zero(t, FlightTime(3000, 500, 0))
	assert.Zero(t, FlightTime(3000, 500, -100))
	assert.Zero(t, FlightTime(3000, 3500, 2000))
}

func TestEngineReset(t *testing.T) {
	e := NewEngine(EngineConfig{})
	e.Enrich(telemetry.GPSBasic{Latitude: 1, Longitude: 1})
	e.Enrich(telemetry.GPSEnhanced{HomeSet: true, HomeLatitude: 1, HomeLongitude: 1})
	e.Enrich(telemetry.Battery{Header: at(0), Cells: 1, Current: 10})
	e.Enrich(telemetry.Battery{Header: at(time.Hour), Cells: 1, Current: 10})
	assert.Greater(t, e.Consumed(), 0.0)

	e.Reset()
	_, ok := e.Home()
	assert.False(t, ok)
	assert.Zero(t, e.Consumed())

	// the first battery record after a reset integrates nothing
	b := e.Enrich(telemetry.Battery{Header: at(2 * time.Hour), Cells: 1, Current: 10}).(telemetry.Battery)
	assert.Zero(t, b.Consumed)
}

func TestEnginePassThrough(t *testing.T) {
	e := NewEngine(EngineConfig{})
	a := telemetry.Attitude{Header: at(0), Roll: 10}
	assert.Equal(t, a, e.Enrich(a))
	fm := telemetry.FlightMode{Mode: telemetry.ModeAuto}
	assert.Equal(t, fm, e.Enrich(fm))
}

func TestGeo(t *testing.T) {
	// one degree of longitude on the equator
	assert.InDelta(t, 111195, distance(0, 0, 0, 1), 1)
	assert.InDelta(t, 90, bearing(0, 0, 0, 1), 1e-9)
	assert.InDelta(t, 0, bearing(0, 0, 1, 0), 1e-9)
	assert.InDelta(t, 180, bearing(1, 0, 0, 0), 1e-9)
	assert.InDelta(t, 270, bearing(0, 1, 0, 0), 1e-9)
	assert.Zero(t, distance(37.5665, 126.9780, 37.5665, 126.9780))
}
