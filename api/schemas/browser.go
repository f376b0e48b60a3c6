package schemas

// -- Browser Schemas --

// ElementHandle is an opaque reference to a live DOM element. It wraps the
// backend node id, which stays stable for as long as the document is not
// replaced, so handles are comparable and usable as map keys.
type ElementHandle struct {
	BackendNodeID int64
}

// IsZero reports whether the handle refers to nothing.
func (h ElementHandle) IsZero() bool {
	return h.BackendNodeID == 0
}

// Rect is a bounding box in CSS pixels, relative to the top of the document.
type Rect struct {
	Top    float64 `json:"top"`
	Left   float64 `json:"left"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Bottom returns Top + Height.
func (r Rect) Bottom() float64 { return r.Top + r.Height }

// Right returns Left + Width.
func (r Rect) Right() float64 { return r.Left + r.Width }

// NetworkLogEntry is one outgoing request observed by the browser session.
// Seq is the harvest order, starting at 1.
type NetworkLogEntry struct {
	Seq       int               `json:"seq"`
	RequestID string            `json:"request_id"`
	Method    string            `json:"method"`
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers"`
	Body      []byte            `json:"body,omitempty"`
}
