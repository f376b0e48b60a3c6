package archive

import (
	"context"
	"image"
	"net/http"
	"time"

	"github.com/xkilldash9x/adarchive/api/schemas"
	"github.com/xkilldash9x/adarchive/internal/browser/session"
	"github.com/xkilldash9x/adarchive/internal/capture"
)

// Browser is the slice of the browser session the pipeline drives.
// *session.Session satisfies it.
type Browser interface {
	ID() string
	Navigate(ctx context.Context, url string) error
	WaitFor(ctx context.Context, timeout time.Duration, probe session.Probe) error
	WaitQuiescent(ctx context.Context) error

	Query(ctx context.Context, selector string) (schemas.ElementHandle, bool, error)
	QueryAll(ctx context.Context, selector string) ([]schemas.ElementHandle, error)
	QueryXPath(ctx context.Context, scope schemas.ElementHandle, expr string) ([]schemas.ElementHandle, error)
	Children(ctx context.Context, h schemas.ElementHandle) ([]schemas.ElementHandle, error)
	ComputedStyle(ctx context.Context, h schemas.ElementHandle, property string) (string, error)
	Attribute(ctx context.Context, h schemas.ElementHandle, name string) (string, bool, error)
	OuterHTML(ctx context.Context, h schemas.ElementHandle) (string, error)
	BoundingBox(ctx context.Context, h schemas.ElementHandle) (schemas.Rect, error)

	SetStyle(ctx context.Context, h schemas.ElementHandle, props map[string]string) error
	ExtendBottomMargin(ctx context.Context, h schemas.ElementHandle) error
	Click(ctx context.Context, h schemas.ElementHandle) error
	Type(ctx context.Context, h schemas.ElementHandle, text string) error
	PressKey(ctx context.Context, key string) error

	ScrollTo(ctx context.Context, y float64) error
	ScrollHeight(ctx context.Context) (float64, error)
	Metrics(ctx context.Context) (capture.Metrics, error)
	CaptureViewport(ctx context.Context) (image.Image, error)

	Cookies(ctx context.Context) ([]*http.Cookie, error)
	RequestLog() []schemas.NetworkLogEntry
}

var _ Browser = (*session.Session)(nil)
