package groundstation

import (
	"context"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/jd3nn1s/groundstation/fcproto"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

const (
	readSize     = 256
	chunkBacklog = 16
)

var (
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected")
	ErrNoRecorder       = errors.New("no recorder configured")
)

var newSessionID = func() string {
	return uuid.NewString()
}

type StationConfig struct {
	Engine EngineConfig

	// Recorder receives every published record while logging. May be nil.
	Recorder Recorder

	// AutoLog starts logging as soon as the first frame arrives.
	AutoLog bool

	// Clock stamps decoded records. Defaults to time.Now.
	Clock func() time.Time
}

// Station owns the connection lifecycle. It reads the source, runs frames
// through the decoder and engine, and publishes records to the hub. All state
// changes of a connection happen on its decode goroutine.
type Station struct {
	cfg    StationConfig
	engine *Engine
	hub    *Hub
	stats  counters

	mu        sync.Mutex
	state     SessionState
	sessionID string
	conn      *connection
}

type connection struct {
	src       Source
	cancel    context.CancelFunc
	requested atomic.Bool
	cmds      chan command
	done      chan struct{}

	// owned by the decode goroutine
	logging *loggingSession
}

type loggingSession struct {
	id      string
	started time.Time
	records uint64
}

type commandOp int

const (
	cmdStartLogging commandOp = iota
	cmdStopLogging
)

type command struct {
	op    commandOp
	reply chan commandResult
}

type commandResult struct {
	sessionID string
	err       error
}

func NewStation(cfg StationConfig, hub *Hub) *Station {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Station{
		cfg:    cfg,
		engine: NewEngine(cfg.Engine),
		hub:    hub,
	}
}

func (s *Station) Engine() *Engine {
	return s.engine
}

func (s *Station) Hub() *Hub {
	return s.hub
}

func (s *Station) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionID returns the id of the active logging session, or "" when not
// logging.
func (s *Station) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *Station) Stats() Stats {
	return s.stats.snapshot()
}

// Connect starts reading src. The returned channel receives the error that
// ended the connection, nil after Disconnect, and is then closed.
func (s *Station) Connect(ctx context.Context, src Source) (<-chan error, error) {
	s.mu.Lock()
	if s.conn != nil {
		s.mu.Unlock()
		return nil, ErrAlreadyConnected
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c := &connection{
		src:    src,
		cancel: cancel,
		cmds:   make(chan command),
		done:   make(chan struct{}),
	}
	s.conn = c
	s.mu.Unlock()

	s.setState(Connecting, "")

	result := make(chan error, 1)
	chunks := make(chan []byte, chunkBacklog)
	readErr := make(chan error, 1)
	go s.read(loopCtx, src, chunks, readErr)
	go s.loop(loopCtx, c, chunks, readErr, result)
	return result, nil
}

// Run connects to src and blocks until the connection ends.
func (s *Station) Run(ctx context.Context, src Source) error {
	done, err := s.Connect(ctx, src)
	if err != nil {
		return err
	}
	return <-done
}

// Disconnect ends the connection and waits for it to be torn down. It is a
// no-op when not connected.
func (s *Station) Disconnect() error {
	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	c.requested.Store(true)
	c.cancel()
	<-c.done
	return nil
}

// StartLogging opens a new logging session and returns its id. When already
// logging the current id is returned.
func (s *Station) StartLogging() (string, error) {
	r := s.do(cmdStartLogging)
	return r.sessionID, r.err
}

// StopLogging closes the logging session. It is a no-op when not logging.
func (s *Station) StopLogging() error {
	r := s.do(cmdStopLogging)
	if errors.Is(r.err, ErrNotConnected) {
		return nil
	}
	return r.err
}

func (s *Station) do(op commandOp) commandResult {
	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()
	if c == nil {
		return commandResult{err: ErrNotConnected}
	}

	cmd := command{op: op, reply: make(chan commandResult, 1)}
	select {
	case c.cmds <- cmd:
	case <-c.done:
		return commandResult{err: ErrNotConnected}
	}
	return <-cmd.reply
}

func (s *Station) setState(state SessionState, sessionID string) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.sessionID = sessionID
	s.mu.Unlock()

	if prev != state {
		log.WithFields(log.Fields{
			"from": prev,
			"to":   state,
		}).Info("session state changed")
		s.hub.PublishState(state)
	}
}

// read only does I/O so that a blocked Read never stalls decoding.
func (s *Station) read(ctx context.Context, src Source, chunks chan<- []byte, errc chan<- error) {
	for {
		buf := make([]byte, readSize)
		n, err := src.Read(buf)
		if n > 0 {
			s.stats.bytesRead.Add(uint64(n))
			select {
			case chunks <- buf[:n]:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			errc <- err
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Station) loop(ctx context.Context, c *connection, chunks <-chan []byte, readErr <-chan error, result chan<- error) {
	var sessionErr error
	defer func() {
		s.teardown(c)
		result <- sessionErr
		close(result)
	}()

	syncer := fcproto.NewSynchronizer()
	dec := fcproto.NewDecoderWithClock(s.cfg.Clock)
	process := func(p []byte) {
		for f, err := range syncer.Feed(p) {
			if err != nil {
				s.stats.syncError(err)
				continue
			}
			s.frame(c, dec, f)
		}
	}

	for {
		var storageErrs <-chan error
		if c.logging != nil {
			storageErrs = s.cfg.Recorder.Errors()
		}

		select {
		case <-ctx.Done():
			if !c.requested.Load() {
				sessionErr = ctx.Err()
			}
			return
		case p := <-chunks:
			process(p)
		case err := <-readErr:
			// the reader hands over every chunk before its error
			for drained := false; !drained; {
				select {
				case p := <-chunks:
					process(p)
				default:
					drained = true
				}
			}
			if err == io.EOF {
				log.Info("source closed")
			} else {
				log.WithField("err", err).Error("unable to read from source")
			}
			sessionErr = errors.Wrap(err, "read")
			return
		case cmd := <-c.cmds:
			cmd.reply <- s.handle(c, cmd.op)
		case err := <-storageErrs:
			s.storageFailed(c, err)
		}
	}
}

func (s *Station) frame(c *connection, dec *fcproto.Decoder, f fcproto.Frame) {
	s.stats.frames.Add(1)
	if s.State() == Connecting {
		s.setState(Connected, "")
		if s.cfg.AutoLog && s.cfg.Recorder != nil {
			if _, err := s.startLogging(c); err != nil {
				log.WithField("err", err).Error("unable to start logging")
			}
		}
	}

	rec, err := dec.Decode(f)
	if err != nil {
		s.stats.decodeError(err)
		return
	}
	s.stats.decoded.Add(1)

	rec = s.engine.Enrich(rec)
	// subscribers get the record even when the recorder rejects it
	err = s.hub.Publish(rec)
	s.stats.published.Add(1)
	if err != nil {
		s.storageFailed(c, err)
		return
	}
	if c.logging != nil {
		c.logging.records++
	}
}

func (s *Station) handle(c *connection, op commandOp) commandResult {
	switch op {
	case cmdStartLogging:
		id, err := s.startLogging(c)
		return commandResult{sessionID: id, err: err}
	case cmdStopLogging:
		return commandResult{err: s.stopLogging(c)}
	}
	return commandResult{err: errors.Errorf("unknown command %d", op)}
}

func (s *Station) startLogging(c *connection) (string, error) {
	if c.logging != nil {
		return c.logging.id, nil
	}
	if s.State() != Connected {
		return "", ErrNotConnected
	}
	if s.cfg.Recorder == nil {
		return "", ErrNoRecorder
	}

	id := newSessionID()
	if err := s.cfg.Recorder.Open(id); err != nil {
		return "", errors.Wrap(err, "unable to open recorder")
	}
	s.engine.Reset()
	s.hub.SetRecorder(s.cfg.Recorder)
	c.logging = &loggingSession{id: id, started: time.Now()}
	s.setState(Logging, id)
	log.WithField("session", id).Info("logging started")
	return id, nil
}

func (s *Station) stopLogging(c *connection) error {
	if c.logging == nil {
		return nil
	}
	l := c.logging
	c.logging = nil
	s.hub.SetRecorder(nil)
	err := s.cfg.Recorder.Close()
	s.setState(Connected, "")

	log.WithFields(log.Fields{
		"session":  l.id,
		"duration": time.Since(l.started).Round(time.Second),
		"records":  humanize.Comma(int64(l.records)),
	}).Info("logging stopped")
	if err != nil {
		return errors.Wrap(err, "unable to close recorder")
	}
	return nil
}

// storageFailed ends logging after a recorder error. The connection stays up.
func (s *Station) storageFailed(c *connection, err error) {
	if c.logging == nil {
		return
	}
	s.stats.storageErrors.Add(1)
	log.WithField("err", err).Warn("storage failure, stopping logging")
	if err := s.stopLogging(c); err != nil {
		log.WithField("err", err).Warn("unable to close recorder")
	}
}

func (s *Station) teardown(c *connection) {
	if err := s.stopLogging(c); err != nil {
		log.WithField("err", err).Warn("unable to stop logging on disconnect")
	}
	if err := c.src.Close(); err != nil {
		log.WithField("err", err).Debug("unable to close source")
	}
	c.cancel()
	s.engine.Reset()
	s.hub.Flush()

	s.setState(Disconnected, "")
	s.mu.Lock()
	s.conn = nil
	s.mu.Unlock()
	log.WithFields(s.Stats().Fields()).Info("disconnected")
	close(c.done)
}
