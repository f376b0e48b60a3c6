package session

import (
	"context"
	"time"
)

// CombineContext returns a context that carries the values of primary (the
// chromedp tab context) and is cancelled as soon as either primary or op is
// done. Deadlines on op are honoured through cancellation, so the combined
// context reports context.Canceled rather than DeadlineExceeded in that case.
func CombineContext(primary, op context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)
	stop := context.AfterFunc(op, cancel)
	return combined, func() {
		stop()
		cancel()
	}
}

// detached keeps the values of its parent but none of its cancellation.
type detached struct {
	context.Context
}

func (detached) Deadline() (time.Time, bool) { return time.Time{}, false }
func (detached) Done() <-chan struct{}       { return nil }
func (detached) Err() error                  { return nil }

// Detach returns a context with ctx's values that is never cancelled. It lets
// CDP calls that must finish (fetching a request body after the caller moved
// on, closing the tab) keep the connection information ctx carries.
func Detach(ctx context.Context) context.Context {
	return detached{ctx}
}
