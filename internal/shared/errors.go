package shared

import "errors"

// ErrLockNotAcquired occurs when a critical section is held elsewhere.
var ErrLockNotAcquired = errors.New("lock not acquired")
