package groundstation

import (
	"context"
	"github.com/jd3nn1s/groundstation/fcproto"
	"github.com/jd3nn1s/groundstation/telemetry"
	log "github.com/sirupsen/logrus"
	"io"
	"math"
	"sync"
	"time"
)

const (
	simHomeLatitude  = 37.5665
	simHomeLongitude = 126.9780
	simHomeAltitude  = 45.0
	simHomeDelay     = 3 // seconds before the controller reports home
)

// Simulator is a fake flight controller. It emits encoded frames at the
// nominal rate of each message type and is read like a serial port.
type Simulator struct {
	r      *io.PipeReader
	w      *io.PipeWriter
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	step    int
	roll    float64
	yaw     float64
	lat     float64
	lon     float64
	voltage float64
	mode    telemetry.Mode
	started time.Time
	noise   bool
	garbled int
}

type SimulatorConfig struct {
	// Noise inserts a stray byte before every tenth attitude frame.
	Noise bool
}

func NewSimulator(cfg SimulatorConfig) *Simulator {
	ctx, cancel := context.WithCancel(context.Background())
	r, w := io.Pipe()
	s := &Simulator{
		r:       r,
		w:       w,
		cancel:  cancel,
		lat:     simHomeLatitude,
		lon:     simHomeLongitude,
		voltage: 16.8,
		mode:    telemetry.ModeStabilize,
		started: time.Now(),
		noise:   cfg.Noise,
	}

	s.every(ctx, 20*time.Millisecond, s.attitude)
	s.every(ctx, 100*time.Millisecond, s.gpsBasic)
	s.every(ctx, 200*time.Millisecond, s.motors)
	s.every(ctx, 500*time.Millisecond, s.battery)
	s.every(ctx, time.Second, s.flightMode)
	s.every(ctx, time.Second, s.gpsEnhanced)
	log.Info("flight controller simulator started")
	return s
}

func (s *Simulator) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

func (s *Simulator) Close() error {
	s.cancel()
	_ = s.w.CloseWithError(io.EOF)
	s.wg.Wait()
	return s.r.Close()
}

func (s *Simulator) every(ctx context.Context, d time.Duration, next func() telemetry.Record) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
			if err := s.send(next()); err != nil {
				return
			}
		}
	}()
}

func (s *Simulator) send(rec telemetry.Record) error {
	f, err := fcproto.Encode(rec)
	if err != nil {
		log.WithField("err", err).Warn("simulator: unable to encode record")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.noise && rec.Kind() == telemetry.KindAttitude {
		s.garbled++
		if s.garbled%10 == 0 {
			if _, err := s.w.Write([]byte{0x00}); err != nil {
				return err
			}
		}
	}
	_, err = s.w.Write(f[:])
	return err
}

func (s *Simulator) attitude() telemetry.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.step++
	s.roll = 15 * math.Sin(float64(s.step)/50)
	s.yaw = math.Mod(s.yaw+0.5, 360)
	return telemetry.Attitude{
		Roll:             s.roll,
		Pitch:            5 * math.Cos(float64(s.step)/40),
		Yaw:              s.yaw,
		Altitude:         50 + 5*math.Sin(float64(s.step)/100),
		RollSetpoint:     s.roll,
		YawSetpoint:      s.yaw,
		AltitudeSetpoint: 50,
	}
}

func (s *Simulator) gpsBasic() telemetry.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	// a slow circle of roughly 200 m around home
	t := time.Since(s.started).Seconds() / 60
	s.lat = simHomeLatitude + 0.0018*math.Sin(t)
	s.lon = simHomeLongitude + 0.0022*math.Cos(t) - 0.0022
	return telemetry.GPSBasic{
		Latitude:    s.lat,
		Longitude:   s.lon,
		Altitude:    simHomeAltitude + 50,
		GroundSpeed: 12.5,
		Voltage:     s.voltage,
		SwitchC:     1,
	}
}

func (s *Simulator) motors() telemetry.Record {
	m := telemetry.Motors{}
	for i := range m.ESC {
		m.ESC[i] = telemetry.ESC{
			Temperature: 40 + float64(i),
			Voltage:     16.0,
			Current:     12.5,
			RPM:         5400 + i*100,
		}
	}
	return m
}

func (s *Simulator) battery() telemetry.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.voltage > 13.6 {
		s.voltage -= 0.002
	}
	elapsed := time.Since(s.started).Hours()
	consumed := uint32(50000 * elapsed)
	return telemetry.Battery{
		Cells:             4,
		PackVoltage:       s.voltage,
		Current:           50,
		ReportedConsumed:  consumed,
		ReportedRemaining: uint16(max(0, 5000-int(consumed))),
	}
}

func (s *Simulator) flightMode() telemetry.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if time.Since(s.started) > 10*time.Second {
		s.mode = telemetry.ModeAuto
	}
	return telemetry.FlightMode{
		Mode:        s.mode,
		Armed:       true,
		ArmingState: telemetry.ArmingArmed,
	}
}

func (s *Simulator) gpsEnhanced() telemetry.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := telemetry.GPSEnhanced{
		FixType:    3,
		Satellites: 14,
		HDOP:       0.9,
		VDOP:       1.3,
	}
	if time.Since(s.started) >= simHomeDelay*time.Second {
		g.HomeSet = true
		g.HomeLatitude = simHomeLatitude
		g.HomeLongitude = simHomeLongitude
		g.HomeAltitude = simHomeAltitude
	}
	return g
}
