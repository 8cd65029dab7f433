package logsink

import (
	"github.com/jd3nn1s/groundstation/telemetry"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"sync"
	"sync/atomic"
)

const DefaultQueueSize = 256

var (
	ErrNotOpen     = errors.New("log sink not open")
	ErrAlreadyOpen = errors.New("log sink already open")
)

// Backend creates the storage for one logging session.
type Backend interface {
	Begin(sessionID string) (Journal, error)
}

// Journal appends records of a session. It creates one target per record
// kind on first use. Journals are used from a single goroutine.
type Journal interface {
	Append(rec telemetry.Record) error
	Close() error
}

// Sink queues records for a writer goroutine that appends them to the
// backend. Write blocks when the queue is full; records are never dropped.
// After a storage failure every Write returns that failure and the error is
// sent once on Errors.
type Sink struct {
	backend Backend
	size    int
	errc    chan error
	logged  atomic.Uint64

	mu    sync.RWMutex
	queue chan telemetry.Record
	done  chan struct{}
	id    string

	errMu    sync.Mutex
	err      error
	closeErr error
}

func New(backend Backend, queueSize int) *Sink {
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	return &Sink{
		backend: backend,
		size:    queueSize,
		errc:    make(chan error, 1),
	}
}

func (s *Sink) Open(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue != nil {
		return errors.Wrapf(ErrAlreadyOpen, "session %s", s.id)
	}

	j, err := s.backend.Begin(sessionID)
	if err != nil {
		return errors.Wrapf(err, "unable to begin session %s", sessionID)
	}

	s.errMu.Lock()
	s.err = nil
	s.closeErr = nil
	s.errMu.Unlock()
	select {
	case <-s.errc:
	default:
	}
	s.logged.Store(0)

	s.id = sessionID
	s.queue = make(chan telemetry.Record, s.size)
	s.done = make(chan struct{})
	go s.run(j, s.queue, s.done)
	log.WithField("session", sessionID).Debug("log sink opened")
	return nil
}

func (s *Sink) Write(rec telemetry.Record) error {
	if err := s.failure(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.queue == nil {
		return ErrNotOpen
	}
	s.queue <- rec
	return nil
}

// Close drains the queue and releases the journal. Closing a closed sink is a
// no-op.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.queue == nil {
		s.mu.Unlock()
		return nil
	}
	close(s.queue)
	done := s.done
	s.queue = nil
	s.done = nil
	s.mu.Unlock()

	<-done
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.closeErr
}

// Errors delivers the first storage failure of a session.
func (s *Sink) Errors() <-chan error {
	return s.errc
}

// Logged returns the number of records appended in the current or last
// session.
func (s *Sink) Logged() uint64 {
	return s.logged.Load()
}

func (s *Sink) failure() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Sink) fail(err error) {
	s.errMu.Lock()
	first := s.err == nil
	if first {
		s.err = err
	}
	s.errMu.Unlock()
	if !first {
		return
	}
	log.WithField("err", err).Error("log storage failed")
	select {
	case s.errc <- err:
	default:
	}
}

func (s *Sink) run(j Journal, queue <-chan telemetry.Record, done chan<- struct{}) {
	defer close(done)
	for rec := range queue {
		// keep draining after a failure so that blocked writers return
		if s.failure() != nil {
			continue
		}
		if err := j.Append(rec); err != nil {
			s.fail(errors.Wrapf(err, "unable to append %s record", rec.Kind()))
			continue
		}
		s.logged.Add(1)
	}
	if err := j.Close(); err != nil {
		s.errMu.Lock()
		s.closeErr = errors.Wrap(err, "unable to close journal")
		s.errMu.Unlock()
	}
}
