package groundstation

import (
	"context"
	"github.com/jd3nn1s/groundstation/telemetry"
	"io"
)

// Source is the byte stream from the flight controller. A read returning
// zero bytes and a nil error is a read timeout.
type Source interface {
	io.Reader
	io.Closer
}

// Recorder is the durable logging path. Write may block but must not drop.
// A storage failure is reported once on Errors.
type Recorder interface {
	Open(sessionID string) error
	Write(rec telemetry.Record) error
	Close() error
	Errors() <-chan error
}

// Subscriber is a live consumer of updates. Deliver is called from a
// goroutine owned by the hub, one update at a time.
type Subscriber interface {
	Name() string
	Deliver(ctx context.Context, u Update) error
}

// Update is either a telemetry record or, when Record is nil, a session
// state change.
type Update struct {
	Record telemetry.Record
	State  SessionState
}

func (u Update) IsState() bool {
	return u.Record == nil
}
