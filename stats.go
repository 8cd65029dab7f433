package groundstation

import (
	"github.com/dustin/go-humanize"
	"github.com/jd3nn1s/groundstation/fcproto"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"sync/atomic"
)

// Stats is a snapshot of the pipeline counters. Counters only grow over the
// lifetime of a Station.
type Stats struct {
	BytesRead        uint64
	Frames           uint64
	SyncLossBytes    uint64
	ChecksumFailures uint64
	UnknownTypes     uint64
	Malformed        uint64
	Decoded          uint64
	Published        uint64
	StorageErrors    uint64
}

type counters struct {
	bytesRead        atomic.Uint64
	frames           atomic.Uint64
	syncLossBytes    atomic.Uint64
	checksumFailures atomic.Uint64
	unknownTypes     atomic.Uint64
	malformed        atomic.Uint64
	decoded          atomic.Uint64
	published        atomic.Uint64
	storageErrors    atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		BytesRead:        c.bytesRead.Load(),
		Frames:           c.frames.Load(),
		SyncLossBytes:    c.syncLossBytes.Load(),
		ChecksumFailures: c.checksumFailures.Load(),
		UnknownTypes:     c.unknownTypes.Load(),
		Malformed:        c.malformed.Load(),
		Decoded:          c.decoded.Load(),
		Published:        c.published.Load(),
		StorageErrors:    c.storageErrors.Load(),
	}
}

// syncError counts a synchronizer fault.
func (c *counters) syncError(err error) {
	var serr *fcproto.SyncError
	if !errors.As(err, &serr) {
		return
	}
	switch serr.Kind {
	case fcproto.SyncLoss:
		c.syncLossBytes.Add(uint64(serr.Discarded))
	case fcproto.ChecksumMismatch:
		c.checksumFailures.Add(1)
	}
	log.WithField("err", err).Debug("frame sync")
}

// decodeError counts a rejected frame.
func (c *counters) decodeError(err error) {
	switch {
	case errors.Is(err, fcproto.ErrUnknownType):
		c.unknownTypes.Add(1)
	case errors.Is(err, fcproto.ErrMalformed):
		c.malformed.Add(1)
	}
	log.WithField("err", err).Debug("unable to decode frame")
}

func (s Stats) Fields() log.Fields {
	return log.Fields{
		"bytes":     humanize.Bytes(s.BytesRead),
		"frames":    humanize.Comma(int64(s.Frames)),
		"decoded":   humanize.Comma(int64(s.Decoded)),
		"sync_loss": humanize.Comma(int64(s.SyncLossBytes)),
		"checksum":  humanize.Comma(int64(s.ChecksumFailures)),
		"unknown":   humanize.Comma(int64(s.UnknownTypes)),
		"malformed": humanize.Comma(int64(s.Malformed)),
	}
}
