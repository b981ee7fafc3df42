package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// AttemptStore is the append-only login attempt log.
type AttemptStore interface {
	Record(ctx context.Context, userID int64, success bool, ip string, at time.Time) error
	CountFailuresSince(ctx context.Context, userID int64, since time.Time) (int, error)
}

// Throttle locks a user out of credential checks after max failures inside
// window. The lock lifts on its own as failures age out of the window.
type Throttle struct {
	attempts AttemptStore
	max      int
	window   time.Duration
	clock    clockwork.Clock
}

func NewThrottle(attempts AttemptStore, max int, window time.Duration, clock clockwork.Clock) *Throttle {
	if max <= 0 {
		max = 5
	}
	if window <= 0 {
		window = 10 * time.Minute
	}
	return &Throttle{attempts: attempts, max: max, window: window, clock: clock}
}

// Check returns ErrTooManyAttempts while the user is locked out.
func (t *Throttle) Check(ctx context.Context, userID int64) error {
	n, err := t.attempts.CountFailuresSince(ctx, userID, t.clock.Now().Add(-t.window))
	if err != nil {
		return fmt.Errorf("count failed attempts: %w", err)
	}
	if n >= t.max {
		return ErrTooManyAttempts
	}
	return nil
}

func (t *Throttle) Record(ctx context.Context, userID int64, success bool, ip string) error {
	if err := t.attempts.Record(ctx, userID, success, ip, t.clock.Now()); err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}
