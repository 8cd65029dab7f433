package groundstation

import (
	"context"
	"github.com/jd3nn1s/groundstation/fcproto"
	"github.com/jd3nn1s/groundstation/telemetry"
	"github.com/pkg/errors"
	"io"
	"sync"
	"testing"
)

// pipeSource is a Source fed by the test through w.
type pipeSource struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func newPipeSource() *pipeSource {
	r, w := io.Pipe()
	return &pipeSource{r: r, w: w}
}

func (p *pipeSource) Read(b []byte) (int, error) {
	return p.r.Read(b)
}

func (p *pipeSource) Close() error {
	return p.r.Close()
}

func (p *pipeSource) write(t *testing.T, recs ...telemetry.Record) {
	t.Helper()
	for _, rec := range recs {
		f, err := fcproto.Encode(rec)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := p.w.Write(f[:]); err != nil {
			t.Fatal(err)
		}
	}
}

type memRecorder struct {
	mu       sync.Mutex
	opened   []string
	closes   int
	records  []telemetry.Record
	writeErr error
	errc     chan error
}

func newMemRecorder() *memRecorder {
	return &memRecorder{errc: make(chan error, 1)}
}

func (m *memRecorder) Open(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = append(m.opened, id)
	return nil
}

func (m *memRecorder) Write(rec telemetry.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memRecorder) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return nil
}

func (m *memRecorder) Errors() <-chan error {
	return m.errc
}

func (m *memRecorder) fail(err error) {
	m.mu.Lock()
	m.writeErr = err
	m.mu.Unlock()
}

func (m *memRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func (m *memRecorder) closeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

// chanSubscriber hands every update to the test.
type chanSubscriber struct {
	updates chan Update
}

func newChanSubscriber() *chanSubscriber {
	return &chanSubscriber{updates: make(chan Update, 1024)}
}

func (c *chanSubscriber) Name() string {
	return "chan"
}

func (c *chanSubscriber) Deliver(ctx context.Context, u Update) error {
	select {
	case c.updates <- u:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// stallSubscriber blocks in Deliver until released.
type stallSubscriber struct {
	entered chan struct{}
	release chan struct{}

	mu  sync.Mutex
	got []Update
}

func newStallSubscriber() *stallSubscriber {
	return &stallSubscriber{
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (s *stallSubscriber) Name() string {
	return "stall"
}

func (s *stallSubscriber) Deliver(ctx context.Context, u Update) error {
	select {
	case s.entered <- struct{}{}:
	default:
	}
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	s.got = append(s.got, u)
	s.mu.Unlock()
	return nil
}

func (s *stallSubscriber) received() []Update {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Update(nil), s.got...)
}

type failingSubscriber struct{}

func (failingSubscriber) Name() string {
	return "failing"
}

func (failingSubscriber) Deliver(context.Context, Update) error {
	return errors.New("broken pipe")
}
