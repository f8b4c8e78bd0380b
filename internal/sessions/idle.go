package sessions

import (
	"context"
	"time"

	"github.com/paigeai/paige/internal/events"
	"github.com/paigeai/paige/pkg/models"
)

// idleWatch cancels a session after a period with no user-initiated action.
// It runs one goroutine subscribed to the action bus; any user-initiated
// action for the watched session rearms the timer.
type idleWatch struct {
	done chan struct{}
	sub  <-chan events.Action
}

func (r *Registry) armIdleWatch(sessionID int64) *idleWatch {
	if r.cfg.IdleTimeout <= 0 {
		return nil
	}

	w := &idleWatch{
		done: make(chan struct{}),
		sub:  r.bus.Subscribe(64),
	}

	go func() {
		defer r.bus.Unsubscribe(w.sub)

		timer := time.NewTimer(r.cfg.IdleTimeout)
		defer timer.Stop()

		for {
			select {
			case <-w.done:
				return

			case action, ok := <-w.sub:
				if !ok {
					return
				}
				if action.SessionID != sessionID || !models.IsUserInitiated(action.Type) {
					continue
				}
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(r.cfg.IdleTimeout)

			case <-timer.C:
				// End clears the registry's idle reference; stop() on this
				// watch afterwards is a no-op close guard via the done check
				// below, so ending from here is safe.
				ctx := context.Background()
				if _, err := r.End(ctx, models.SessionCancelled); err != nil {
					r.logger.Warn(ctx, "idle cancellation failed", "session_id", sessionID, "error", err)
				}
				return
			}
		}
	}()
	return w
}

func (w *idleWatch) stop() {
	select {
	case <-w.done:
	default:
		close(w.done)
	}
}
