package groundstation

import (
	"github.com/jd3nn1s/groundstation/telemetry"
	log "github.com/sirupsen/logrus"
	"sync"
	"time"
)

const (
	DefaultCapacity       = 5000.0 // mAh
	DefaultLowCellVoltage = 3.6
)

type EngineConfig struct {
	Capacity       float64 // rated pack capacity, mAh
	LowCellVoltage float64
}

type HomePosition struct {
	Latitude  float64
	Longitude float64
	Altitude  float64
}

// Engine attaches values that depend on more than one record: consumed
// capacity, flight time estimate, low battery flag and the vector to home.
// Enrich is called from the decode loop only; the accessors may be called
// from anywhere.
type Engine struct {
	cfg EngineConfig

	mu          sync.Mutex
	home        HomePosition
	homeSet     bool
	fix         telemetry.GPSBasic
	fixSet      bool
	consumed    float64
	lastBattery time.Time
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.LowCellVoltage <= 0 {
		cfg.LowCellVoltage = DefaultLowCellVoltage
	}
	return &Engine{cfg: cfg}
}

// Enrich returns rec with derived fields filled in. rec itself is not
// modified.
func (e *Engine) Enrich(rec telemetry.Record) telemetry.Record {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch r := rec.(type) {
	case telemetry.Battery:
		return e.battery(r)
	case telemetry.GPSBasic:
		e.fix = r
		e.fixSet = true
	case telemetry.GPSEnhanced:
		return e.gpsEnhanced(r)
	}
	return rec
}

func (e *Engine) battery(b telemetry.Battery) telemetry.Battery {
	if !e.lastBattery.IsZero() {
		dt := b.Timestamp.Sub(e.lastBattery)
		if dt > 0 {
			e.consumed += b.Current * 1000 * dt.Hours()
		}
	}
	if e.consumed < 0 {
		e.consumed = 0
	}
	e.lastBattery = b.Timestamp

	b.Consumed = e.consumed
	b.FlightTime = FlightTime(e.cfg.Capacity, e.consumed, b.Current*1000)
	b.LowBattery = b.CellVoltage < e.cfg.LowCellVoltage
	return b
}

func (e *Engine) gpsEnhanced(g telemetry.GPSEnhanced) telemetry.GPSEnhanced {
	if g.HomeSet && !e.homeSet {
		e.home = HomePosition{
			Latitude:  g.HomeLatitude,
			Longitude: g.HomeLongitude,
			Altitude:  g.HomeAltitude,
		}
		e.homeSet = true
		log.WithFields(log.Fields{
			"lat": e.home.Latitude,
			"lon": e.home.Longitude,
			"alt": e.home.Altitude,
		}).Info("home position set")
	}
	if e.homeSet && e.fixSet {
		g.DistanceToHome = distance(e.fix.Latitude, e.fix.Longitude, e.home.Latitude, e.home.Longitude)
		g.BearingToHome = bearing(e.fix.Latitude, e.fix.Longitude, e.home.Latitude, e.home.Longitude)
		g.HomeVectorValid = true
	}
	return g
}

// FlightTime estimates the minutes left at the present draw. It is zero when
// no current is drawn and never negative.
func FlightTime(capacity, consumed, currentMA float64) float64 {
	if currentMA <= 0 {
		return 0
	}
	t := (capacity - consumed) / currentMA * 60
	if t < 0 {
		return 0
	}
	return t
}

// Reset clears all per session state.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.home = HomePosition{}
	e.homeSet = false
	e.fix = telemetry.GPSBasic{}
	e.fixSet = false
	e.consumed = 0
	e.lastBattery = time.Time{}
}

func (e *Engine) Home() (HomePosition, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.home, e.homeSet
}

// Consumed returns the integrated consumption in mAh.
func (e *Engine) Consumed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.consumed
}
