package monitoring

import (
	"context"
	"time"

	"audiocast/internal/core/ports"
)

// AddStoreCheck fails when the document store cannot be reached.
func (h *HealthChecker) AddStoreCheck(ping func(ctx context.Context) error, interval, timeout time.Duration) {
	h.AddCheck("store", func(ctx context.Context) (bool, error) {
		if err := ping(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddSessionStoreCheck lists sessions to prove the session collection is
// readable.
func (h *HealthChecker) AddSessionStoreCheck(sessions ports.SessionRepository, interval, timeout time.Duration) {
	h.AddCheck("sessions", func(ctx context.Context) (bool, error) {
		if _, err := sessions.List(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}
