package groundstation

import (
	"context"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"time"
)

const (
	DefaultRetryAttempts = 5
	DefaultRetryDelay    = 2 * time.Second
)

var ErrRetriesExhausted = errors.New("retries exhausted")

type Retryable interface {
	Open() error
	Close() error
	Start(ctx context.Context) error
	Name() string
}

// Retry opens r and runs it until ctx is done. When Start fails r is closed
// and reopened after delay. attempts bounds the number of consecutive failed
// opens; zero or less retries forever.
func Retry(ctx context.Context, r Retryable, attempts int, delay time.Duration) error {
	errStarting := errors.New("starting")
	err := errStarting
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			if err != errStarting {
				log.WithField("err", err).Errorf("%s: reconnecting due to error", r.Name())
				if err := r.Close(); err != nil {
					log.WithField("err", err).Warnf("%s: unable to close", r.Name())
				}
				if !sleep(ctx, delay) {
					return ctx.Err()
				}
			}
			err = r.Open()
			if err != nil {
				failures++
				if attempts > 0 && failures >= attempts {
					return errors.Wrapf(ErrRetriesExhausted, "%s: %d attempts, last error %v", r.Name(), failures, err)
				}
				continue
			}
			failures = 0
		}
		err = r.Start(ctx)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
