package lock

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotHeld is returned by Renew when the handle no longer owns the lock:
// the lease expired, another holder took over, or the lock was released.
var ErrNotHeld = errors.New("lock not held")

// TimeoutError reports an acquisition that exhausted its wait budget while
// the lock stayed held elsewhere.
type TimeoutError struct {
	Key      string
	Elapsed  time.Duration
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("lock %q: timed out after %s (%d attempts)",
		e.Key, e.Elapsed.Round(time.Millisecond), e.Attempts)
}
