package fcproto

import (
	"bytes"
	"fmt"
	"github.com/jd3nn1s/groundstation/telemetry"
	"github.com/pkg/errors"
	"iter"
)

type SyncErrorKind int

const (
	// SyncLoss means bytes were skipped while looking for a sync marker.
	SyncLoss SyncErrorKind = iota
	// ChecksumMismatch means a candidate frame failed validation. Only its
	// first byte is dropped before scanning resumes.
	ChecksumMismatch
)

func (k SyncErrorKind) String() string {
	switch k {
	case SyncLoss:
		return "sync loss"
	case ChecksumMismatch:
		return "checksum mismatch"
	}
	return fmt.Sprintf("sync error(%d)", int(k))
}

type SyncError struct {
	Kind      SyncErrorKind
	Discarded int // bytes dropped from the buffer

	// Set for ChecksumMismatch.
	Type telemetry.Kind
	Got  byte
	Want byte
}

func (e *SyncError) Error() string {
	if e.Kind == ChecksumMismatch {
		return fmt.Sprintf("%s: type 0x%02x checksum 0x%02x, expected 0x%02x", e.Kind, uint8(e.Type), e.Got, e.Want)
	}
	return fmt.Sprintf("%s: %d bytes discarded", e.Kind, e.Discarded)
}

var (
	syncMarker  = []byte{SyncFC0, SyncFC1}
	errNeedMore = errors.New("need more data")
)

// Synchronizer finds validated frames in a byte stream delivered in chunks of
// any size. It is not safe for concurrent use.
type Synchronizer struct {
	buf []byte
	off int
}

func NewSynchronizer() *Synchronizer {
	return &Synchronizer{buf: make([]byte, 0, 4*FrameSize)}
}

// Feed appends p to the internal buffer and returns the frames and sync errors
// that can be produced from the buffered bytes. The sequence ends when more
// input is needed; anything not consumed stays buffered for the next call.
func (s *Synchronizer) Feed(p []byte) iter.Seq2[Frame, error] {
	s.compact()
	s.buf = append(s.buf, p...)
	return func(yield func(Frame, error) bool) {
		for {
			f, err := s.next()
			if err == errNeedMore {
				return
			}
			if !yield(f, err) {
				return
			}
		}
	}
}

// Buffered returns the number of bytes held waiting for more input.
func (s *Synchronizer) Buffered() int {
	return len(s.buf) - s.off
}

func (s *Synchronizer) Reset() {
	s.buf = s.buf[:0]
	s.off = 0
}

func (s *Synchronizer) next() (Frame, error) {
	var f Frame
	pending := s.buf[s.off:]

	i := bytes.Index(pending, syncMarker)
	if i < 0 {
		n := len(pending)
		// a trailing first marker byte may be completed by the next chunk
		if n > 0 && pending[n-1] == SyncFC0 {
			n--
		}
		if n == 0 {
			return f, errNeedMore
		}
		s.off += n
		return f, &SyncError{Kind: SyncLoss, Discarded: n}
	}
	if i > 0 {
		s.off += i
		return f, &SyncError{Kind: SyncLoss, Discarded: i}
	}
	if len(pending) < FrameSize {
		return f, errNeedMore
	}

	copy(f[:], pending[:FrameSize])
	if want := Checksum(f[:checksumOffset]); f[checksumOffset] != want {
		s.off++
		return Frame{}, &SyncError{
			Kind:      ChecksumMismatch,
			Discarded: 1,
			Type:      f.Type(),
			Got:       f[checksumOffset],
			Want:      want,
		}
	}
	s.off += FrameSize
	return f, nil
}

func (s *Synchronizer) compact() {
	if s.off == 0 {
		return
	}
	n := copy(s.buf, s.buf[s.off:])
	s.buf = s.buf[:n]
	s.off = 0
}
