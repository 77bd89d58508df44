package core

// poller.go drives repeated job status checks for one run.
//
// A poller owns one goroutine, so status requests are issued strictly one
// after another: the next interval starts only after the previous tick
// returned. stop only cancels; stale results are filtered by the workflow's
// generation check, so stop never has to wait while the workflow lock is held.

import (
	"context"
	"time"
)

// DefaultPollInterval is the status polling period.
const DefaultPollInterval = 2 * time.Second

// tickFunc performs one poll. Returning true ends the loop.
type tickFunc func(ctx context.Context) (done bool)

type poller struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// startPoller calls tick every interval until tick reports done or the
// poller is stopped.
func startPoller(parent context.Context, interval time.Duration, tick tickFunc) *poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ctx, cancel := context.WithCancel(parent)
	p := &poller{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(p.done)
		defer cancel()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if tick(ctx) {
					return
				}
				// Measure the next interval from the end of this request.
				ticker.Reset(interval)
			}
		}
	}()

	return p
}

// stop cancels the poller. It does not block.
func (p *poller) stop() {
	if p != nil {
		p.cancel()
	}
}

// wait blocks until the poller goroutine has exited.
func (p *poller) wait() {
	if p != nil {
		<-p.done
	}
}
