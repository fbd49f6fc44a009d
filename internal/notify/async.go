package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mnuddindev/disasterlink/pkg/logger"
	"github.com/mnuddindev/disasterlink/pkg/utils"
)

// Async runs the wrapped notifier in the background and logs failures.
type Async struct {
	next    Notifier
	log     *logger.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewAsync wraps next. Each delivery gets its own timeout detached from the request.
func NewAsync(next Notifier, log *logger.Logger, timeout time.Duration) *Async {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Async{next: next, log: log, timeout: timeout}
}

func (a *Async) Notify(ctx context.Context, recipients []uuid.UUID, e Event) error {
	if len(recipients) == 0 {
		return nil
	}
	ids := append([]uuid.UUID(nil), recipients...)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.timeout)
		defer cancel()
		if err := a.next.Notify(dctx, ids, e); err != nil {
			a.log.Warn(dctx).WithMeta(utils.Map{
				"event":        string(e.Type),
				"subject_kind": string(e.Subject.Kind),
				"subject_id":   e.Subject.ID.String(),
			}).WithError(utils.DependencyFailure("notification", err)).Logs("Notification delivery failed")
		}
	}()
	return nil
}

// Wait blocks until in-flight deliveries finish.
func (a *Async) Wait() {
	a.wg.Wait()
}
