package memo

import (
	"context"
	"sync"
	"time"

	"github.com/mirkobrombin/go-herd/v1/lock"
	"github.com/mirkobrombin/go-herd/v1/logging"
)

// heartbeat keeps a computation lock's lease alive by renewing it every
// leaseTTL/2. The first renewal failure ends it; halt reports that error.
type heartbeat struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
	err  error
}

func startHeartbeat(lk *lock.Lock, leaseTTL time.Duration, log logging.Logger) *heartbeat {
	interval := leaseTTL / 2
	if interval <= 0 {
		interval = leaseTTL
	}
	hb := &heartbeat{stop: make(chan struct{}), done: make(chan struct{})}
	ticker := time.NewTicker(interval)
	go func() {
		defer close(hb.done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := lk.Renew(context.Background()); err != nil {
					log.Printf("memo %q: renew: %v", lk.Key(), err)
					hb.err = err
					return
				}
			case <-hb.stop:
				return
			}
		}
	}()
	return hb
}

// halt stops the heartbeat and waits for its goroutine to exit, then
// returns the renewal error, if one occurred. Safe to call more than once.
func (hb *heartbeat) halt() error {
	hb.once.Do(func() { close(hb.stop) })
	<-hb.done
	return hb.err
}
