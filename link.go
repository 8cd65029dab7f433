package groundstation

import (
	"context"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.bug.st/serial"
	"io"
	"sync"
	"time"
)

const (
	DefaultBaudRate    = 115200
	DefaultReadTimeout = 500 * time.Millisecond
)

var portOpen = func(name string, mode *serial.Mode) (serial.Port, error) {
	return serial.Open(name, mode)
}

type LinkConfig struct {
	Port        string
	BaudRate    int
	ReadTimeout time.Duration
}

// Link is the serial connection to the flight controller. It is a Source for
// the station and a Retryable that runs one station connection per Start.
type Link struct {
	cfg     LinkConfig
	station *Station

	mu   sync.Mutex
	port serial.Port
}

func NewLink(cfg LinkConfig, st *Station) *Link {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	return &Link{cfg: cfg, station: st}
}

func (l *Link) Name() string {
	return "serial " + l.cfg.Port
}

func (l *Link) Open() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port != nil {
		return nil
	}

	port, err := portOpen(l.cfg.Port, &serial.Mode{
		BaudRate: l.cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return errors.Wrapf(err, "unable to open %s", l.cfg.Port)
	}
	// a finite timeout keeps Read from blocking past a disconnect
	if err := port.SetReadTimeout(l.cfg.ReadTimeout); err != nil {
		_ = port.Close()
		return errors.Wrap(err, "unable to set read timeout")
	}
	l.port = port
	log.WithFields(log.Fields{
		"port": l.cfg.Port,
		"baud": l.cfg.BaudRate,
	}).Info("serial port opened")
	return nil
}

func (l *Link) Read(p []byte) (int, error) {
	l.mu.Lock()
	port := l.port
	l.mu.Unlock()
	if port == nil {
		return 0, io.ErrClosedPipe
	}
	return port.Read(p)
}

// Close releases the port. Closing a closed link is a no-op.
func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return nil
	}
	err := l.port.Close()
	l.port = nil
	return err
}

// Start runs a station connection over the open port until it ends.
func (l *Link) Start(ctx context.Context) error {
	return l.station.Run(ctx, l)
}
