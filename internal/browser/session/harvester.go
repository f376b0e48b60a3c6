package session

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/adarchive/api/schemas"
)

const (
	networkIdleCheckFrequency = 100 * time.Millisecond
	postDataFetchTimeout      = 10 * time.Second
)

// Harvester records every outgoing request the tab makes, in arrival order,
// and tracks in-flight requests for network idle detection.
type Harvester struct {
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *zap.Logger
	executor ActionExecutor

	mu       sync.RWMutex
	entries  []*schemas.NetworkLogEntry
	inflight map[network.RequestID]struct{}
	seq      int

	wg sync.WaitGroup
}

// NewHarvester creates a harvester. executor is used for follow-up CDP calls
// such as fetching post bodies that were too large to ship with the event.
func NewHarvester(ctx context.Context, logger *zap.Logger, executor ActionExecutor) *Harvester {
	if executor == nil {
		panic("session: harvester created with nil ActionExecutor")
	}
	hCtx, cancel := context.WithCancel(ctx)
	return &Harvester{
		ctx:      hCtx,
		cancel:   cancel,
		logger:   logger.Named("harvester"),
		executor: executor,
		inflight: make(map[network.RequestID]struct{}),
	}
}

// Start subscribes to network events on the tab behind ctx. The Network
// domain must be enabled separately.
func (h *Harvester) Start(ctx context.Context) {
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		select {
		case <-h.ctx.Done():
			return
		default:
		}

		switch ev := ev.(type) {
		case *network.EventRequestWillBeSent:
			h.handleRequestWillBeSent(ev)
		case *network.EventLoadingFinished:
			h.finish(ev.RequestID)
		case *network.EventLoadingFailed:
			h.finish(ev.RequestID)
		}
	})
}

// Stop detaches the harvester and waits for pending body fetches, bounded by ctx.
func (h *Harvester) Stop(ctx context.Context) {
	h.cancel()
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		h.logger.Warn("Harvester stopped before all post bodies were fetched", zap.Error(ctx.Err()))
	}
}

// Entries returns a copy of the request log ordered by Seq.
func (h *Harvester) Entries() []schemas.NetworkLogEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]schemas.NetworkLogEntry, len(h.entries))
	for i, e := range h.entries {
		c := *e
		c.Headers = make(map[string]string, len(e.Headers))
		for k, v := range e.Headers {
			c.Headers[k] = v
		}
		c.Body = append([]byte(nil), e.Body...)
		if len(c.Body) == 0 {
			c.Body = nil
		}
		out[i] = c
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Inflight reports the number of requests that have started but not finished.
func (h *Harvester) Inflight() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.inflight)
}

// WaitNetworkIdle blocks until no request has been in flight for quietPeriod.
func (h *Harvester) WaitNetworkIdle(ctx context.Context, quietPeriod time.Duration) error {
	ticker := time.NewTicker(networkIdleCheckFrequency)
	defer ticker.Stop()

	var idleSince time.Time
	for {
		if h.Inflight() > 0 {
			idleSince = time.Time{}
		} else {
			if idleSince.IsZero() {
				idleSince = time.Now()
			}
			if time.Since(idleSince) >= quietPeriod {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-h.ctx.Done():
			return h.ctx.Err()
		case <-ticker.C:
		}
	}
}

func (h *Harvester) handleRequestWillBeSent(ev *network.EventRequestWillBeSent) {
	if ev.Request == nil || strings.HasPrefix(ev.Request.URL, "data:") {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.inflight[ev.RequestID] = struct{}{}
	h.seq++
	entry := &schemas.NetworkLogEntry{
		Seq:       h.seq,
		RequestID: string(ev.RequestID),
		Method:    ev.Request.Method,
		URL:       requestURL(ev.Request),
		Headers:   flattenHeaders(ev.Request.Headers),
	}
	h.entries = append(h.entries, entry)

	if !ev.Request.HasPostData {
		return
	}
	if len(ev.Request.PostDataEntries) > 0 {
		body, err := decodePostDataEntries(ev.Request.PostDataEntries)
		if err != nil {
			h.logger.Debug("Post data entry is not base64; keeping raw bytes",
				zap.String("request_id", entry.RequestID), zap.Error(err))
		}
		entry.Body = body
		return
	}
	h.fetchPostBody(ev.RequestID, entry)
}

func (h *Harvester) finish(id network.RequestID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.inflight, id)
}

// fetchPostBody asks the browser for a request body the event left out.
func (h *Harvester) fetchPostBody(id network.RequestID, entry *schemas.NetworkLogEntry) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		fetchCtx, cancel := context.WithTimeout(context.Background(), postDataFetchTimeout)
		defer cancel()

		var postData string
		err := h.executor.RunBackgroundActions(fetchCtx, chromedp.ActionFunc(func(c context.Context) error {
			var err error
			postData, err = network.GetRequestPostData(id).Do(c)
			return err
		}))

		h.mu.Lock()
		defer h.mu.Unlock()
		if err != nil {
			if h.ctx.Err() == nil && !strings.Contains(err.Error(), "No post data") {
				h.logger.Debug("Failed to fetch request post data", zap.String("request_id", string(id)), zap.Error(err))
			}
			return
		}
		entry.Body = []byte(postData)
	}()
}

// requestURL rebuilds the full URL; CDP splits long fragments off.
func requestURL(r *network.Request) string {
	return r.URL + r.URLFragment
}

func flattenHeaders(in network.Headers) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
			out[k] = ""
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

// decodePostDataEntries concatenates base64 post data chunks. A chunk that
// does not decode is kept verbatim and the first such error is returned
// alongside the assembled body.
func decodePostDataEntries(entries []*network.PostDataEntry) ([]byte, error) {
	var (
		buf      bytes.Buffer
		firstErr error
	)
	for _, e := range entries {
		if e == nil {
			continue
		}
		decoded, err := base64.StdEncoding.DecodeString(e.Bytes)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			buf.WriteString(e.Bytes)
			continue
		}
		buf.Write(decoded)
	}
	return buf.Bytes(), firstErr
}
