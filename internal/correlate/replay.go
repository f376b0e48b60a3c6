package correlate

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/adarchive/api/schemas"
)

// Headers the browser reports that must not be copied onto a replay. The
// transport computes its own framing and negotiates only the encodings it can
// decode, and the session cookies are attached separately.
var skippedHeaders = map[string]struct{}{
	"accept-encoding":   {},
	"content-length":    {},
	"host":              {},
	"connection":        {},
	"cookie":            {},
	"transfer-encoding": {},
}

// Replayer re-issues harvested requests from outside the browser with the
// session's cookies. Calls are paced and never retried.
type Replayer struct {
	client  *resty.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewReplayer wraps hc. pacing is the minimum gap between two replays; zero disables pacing.
func NewReplayer(hc *http.Client, pacing time.Duration, logger *zap.Logger) *Replayer {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("replayer")

	limit := rate.Inf
	if pacing > 0 {
		limit = rate.Every(pacing)
	}

	client := resty.NewWithClient(hc).
		SetRetryCount(0).
		SetLogger(logger.Sugar())

	return &Replayer{
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

// Replay sends entry again and returns the response body. A non-2xx status
// yields a *ReplayError.
func (r *Replayer) Replay(ctx context.Context, entry schemas.NetworkLogEntry, cookies []*http.Cookie) ([]byte, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("replay pacing interrupted: %w", err)
	}

	req := r.client.R().
		SetContext(ctx).
		SetHeaders(replayHeaders(entry.Headers)).
		SetCookies(cookies)
	if len(entry.Body) > 0 {
		req.SetBody(entry.Body)
	}

	method := entry.Method
	if method == "" {
		method = http.MethodGet
	}

	start := time.Now()
	resp, err := req.Execute(method, entry.URL)
	if err != nil {
		return nil, fmt.Errorf("replay of %s %s failed: %w", method, entry.URL, err)
	}
	r.logger.Debug("Replayed request",
		zap.Int("seq", entry.Seq),
		zap.String("method", method),
		zap.String("url", entry.URL),
		zap.Int("status", resp.StatusCode()),
		zap.Int("bytes", len(resp.Body())),
		zap.Duration("elapsed", time.Since(start)),
	)

	if !resp.IsSuccess() {
		return nil, &ReplayError{Method: method, URL: entry.URL, Status: resp.StatusCode()}
	}
	return resp.Body(), nil
}

func replayHeaders(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		lk := strings.ToLower(k)
		if strings.HasPrefix(lk, ":") {
			continue
		}
		if _, skip := skippedHeaders[lk]; skip {
			continue
		}
		out[k] = v
	}
	return out
}
