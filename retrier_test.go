package groundstation

import (
	"context"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"sync"
	"testing"
)

type retryable struct {
	open        bool
	hasClosed   bool
	opens       int
	openErr     error
	startedChan chan struct{}
	stopChan    chan error
}

func (r *retryable) Open() error {
	r.opens++
	if r.openErr != nil {
		return r.openErr
	}
	r.open = true
	return nil
}

func (r *retryable) Close() error {
	r.open = false
	r.hasClosed = true
	return nil
}

func (r *retryable) Start(ctx context.Context) error {
	r.startedChan <- struct{}{}
	select {
	case <-ctx.Done():
		r.open = false
		return ctx.Err()
	case err := <-r.stopChan:
		return err
	}
}

func (r *retryable) Name() string {
	return "retryable-test"
}

func TestRetry(t *testing.T) {
	r := retryable{
		startedChan: make(chan struct{}),
		stopChan:    make(chan error),
	}

	wg := sync.WaitGroup{}
	wg.Add(1)
	ctx, cancel := context.WithCancel(context.Background())
	var retryErr error
	go func() {
		retryErr = Retry(ctx, &r, 3, 0)
		wg.Done()
	}()
	// wait for start to be called
	<-r.startedChan
	assert.True(t, r.open)

	// trigger start to exit with no error
	r.stopChan <- nil
	<-r.startedChan
	assert.True(t, r.open)
	assert.Equal(t, 1, r.opens)

	// emulate an error being returned from start
	r.stopChan <- errors.New("fake error")
	<-r.startedChan
	// check that it was closed and re-opened
	assert.True(t, r.hasClosed)
	assert.True(t, r.open)
	assert.Equal(t, 2, r.opens)

	cancel()
	wg.Wait()
	assert.Equal(t, context.Canceled, retryErr)
}

func TestRetryExhausted(t *testing.T) {
	r := retryable{openErr: errors.New("no such port")}

	err := Retry(context.Background(), &r, 3, 0)
	assert.True(t, errors.Is(err, ErrRetriesExhausted))
	assert.Equal(t, 3, r.opens)
}
