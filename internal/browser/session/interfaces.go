package session

import (
	"context"

	"github.com/chromedp/chromedp"
)

// ActionExecutor runs chromedp actions against a live tab. The harvester uses
// it to issue CDP commands without holding the Session itself.
type ActionExecutor interface {
	// RunActions runs actions bounded by ctx on the session's tab.
	RunActions(ctx context.Context, actions ...chromedp.Action) error
	// RunBackgroundActions runs actions that must not be cut short when the
	// session's own context is cancelled; only ctx bounds them.
	RunBackgroundActions(ctx context.Context, actions ...chromedp.Action) error
}
