package groundstation

import (
	"context"
	"github.com/jd3nn1s/groundstation/telemetry"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"sync"
	"sync/atomic"
)

const DefaultSubscriberBuffer = 32

var ErrUnknownSubscriber = errors.New("unknown subscriber")

type SubscriberStats struct {
	Delivered uint64
	Dropped   uint64
	Failed    uint64
}

// Hub fans decoded records out to the recorder and to live subscribers.
// The recorder is written synchronously and never loses records. Each
// subscriber has a bounded queue that drops its oldest update when full,
// so a slow subscriber cannot hold up the others or the decode loop.
type Hub struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	recorder Recorder
	subs     map[int]*subscription
	nextID   int
}

func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[int]*subscription),
	}
}

// SetRecorder attaches r to the publish path. A nil r detaches it.
func (h *Hub) SetRecorder(r Recorder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recorder = r
}

// Subscribe registers sub and starts its delivery goroutine. buffer is the
// queue length; values below one use DefaultSubscriberBuffer.
func (h *Hub) Subscribe(sub Subscriber, buffer int) int {
	if buffer < 1 {
		buffer = DefaultSubscriberBuffer
	}
	ctx, cancel := context.WithCancel(h.ctx)
	s := &subscription{
		sub:    sub,
		size:   buffer,
		queue:  make([]Update, 0, buffer),
		notify: make(chan struct{}, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	h.nextID++
	s.id = h.nextID
	h.subs[s.id] = s
	total := len(h.subs)
	h.mu.Unlock()

	go s.run(ctx)
	log.WithFields(log.Fields{
		"subscriber": sub.Name(),
		"id":         s.id,
		"total":      total,
	}).Info("subscriber registered")
	return s.id
}

// Unsubscribe removes the subscriber and waits for its goroutine to exit.
func (h *Hub) Unsubscribe(id int) error {
	h.mu.Lock()
	s, ok := h.subs[id]
	delete(h.subs, id)
	h.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrUnknownSubscriber, "id %d", id)
	}

	s.cancel()
	<-s.done
	log.WithFields(log.Fields{
		"subscriber": s.sub.Name(),
		"id":         id,
	}).Info("subscriber removed")
	return nil
}

// Publish writes rec to the recorder, blocking if it is busy, and then queues
// it for every subscriber. Subscribers receive rec even when the recorder
// fails; the recorder error is returned.
func (h *Hub) Publish(rec telemetry.Record) error {
	h.mu.RLock()
	r := h.recorder
	h.mu.RUnlock()

	var err error
	if r != nil {
		if err = r.Write(rec); err != nil {
			err = errors.Wrap(err, "recorder")
		}
	}
	h.enqueue(Update{Record: rec})
	return err
}

// PublishState queues a session state change for every subscriber.
func (h *Hub) PublishState(state SessionState) {
	h.enqueue(Update{State: state})
}

func (h *Hub) enqueue(u Update) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if s.push(u) {
			log.WithField("subscriber", s.sub.Name()).Debug("subscriber queue full, dropped oldest update")
		}
	}
}

// Flush discards all queued updates. Subscribers stay registered.
func (h *Hub) Flush() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		s.flush()
	}
}

func (h *Hub) Stats(id int) (SubscriberStats, bool) {
	h.mu.RLock()
	s, ok := h.subs[id]
	h.mu.RUnlock()
	if !ok {
		return SubscriberStats{}, false
	}
	return s.stats(), true
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close stops every delivery goroutine and waits for them. Queued updates
// are discarded.
func (h *Hub) Close() {
	h.cancel()
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[int]*subscription)
	h.mu.Unlock()
	for _, s := range subs {
		<-s.done
	}
}

type subscription struct {
	id     int
	sub    Subscriber
	size   int
	cancel context.CancelFunc
	done   chan struct{}
	notify chan struct{}

	mu    sync.Mutex
	queue []Update

	delivered atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// push appends u, evicting the oldest update when the queue is full.
func (s *subscription) push(u Update) (dropped bool) {
	s.mu.Lock()
	if len(s.queue) == s.size {
		copy(s.queue, s.queue[1:])
		s.queue = s.queue[:len(s.queue)-1]
		dropped = true
	}
	s.queue = append(s.queue, u)
	s.mu.Unlock()

	if dropped {
		s.dropped.Add(1)
	}
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return dropped
}

func (s *subscription) pop() (Update, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Update{}, false
	}
	u := s.queue[0]
	copy(s.queue, s.queue[1:])
	s.queue[len(s.queue)-1] = Update{}
	s.queue = s.queue[:len(s.queue)-1]
	return u, true
}

func (s *subscription) flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.queue)
	s.queue = s.queue[:0]
}

func (s *subscription) stats() SubscriberStats {
	return SubscriberStats{
		Delivered: s.delivered.Load(),
		Dropped:   s.dropped.Load(),
		Failed:    s.failed.Load(),
	}
}

func (s *subscription) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.notify:
		}
		for ctx.Err() == nil {
			u, ok := s.pop()
			if !ok {
				break
			}
			if err := s.sub.Deliver(ctx, u); err != nil {
				s.failed.Add(1)
				log.WithFields(log.Fields{
					"subscriber": s.sub.Name(),
					"err":        err,
				}).Warn("unable to deliver update")
				continue
			}
			s.delivered.Add(1)
		}
	}
}
