// Package correlate turns the requests a browser session made into ad
// records: it replays the interesting ones, decodes their payloads and joins
// creative data with performance data on the archive id.
package correlate

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"go.uber.org/zap"

	"github.com/xkilldash9x/adarchive/api/schemas"
	"github.com/xkilldash9x/adarchive/internal/config"
)

// PayloadSink persists each replayed payload before it is merged. seq is the
// 1-based position of the payload within its category.
type PayloadSink interface {
	WritePayload(category string, seq int, body []byte) (string, error)
}

// Options configure an Engine.
type Options struct {
	Categories    []Category
	FramingPrefix string
}

// Result is the outcome of a correlation pass.
type Result struct {
	Records []schemas.AdRecord
	// Replayed counts replayed payloads per category.
	Replayed map[string]int
}

// Engine runs categorise → replay → decode → merge over a request log.
type Engine struct {
	replayer   *Replayer
	sink       PayloadSink
	categories []Category
	framing    string
	logger     *zap.Logger
}

// NewEngine creates an engine. sink may be nil, in which case payloads are not persisted.
func NewEngine(replayer *Replayer, sink PayloadSink, opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		replayer:   replayer,
		sink:       sink,
		categories: opts.Categories,
		framing:    opts.FramingPrefix,
		logger:     logger.Named("correlate"),
	}
}

// Correlate replays every categorised entry strictly in harvest order and
// merges the decoded payloads. Any replay, decode or join failure is fatal.
func (e *Engine) Correlate(ctx context.Context, entries []schemas.NetworkLogEntry, cookies []*http.Cookie) (*Result, error) {
	ordered := make([]schemas.NetworkLogEntry, len(entries))
	copy(ordered, entries)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Seq < ordered[j].Seq })

	res := &Result{Replayed: make(map[string]int)}
	var (
		creatives []Creative
		perfs     []Performance
	)

	for _, entry := range ordered {
		category, ok := Classify(entry.URL, e.categories)
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		body, err := e.replayer.Replay(ctx, entry, cookies)
		if err != nil {
			return nil, err
		}
		payload := StripFraming(body, e.framing)

		res.Replayed[category]++
		seq := res.Replayed[category]
		source := fmt.Sprintf("%s #%d", category, seq)

		var artifact string
		if e.sink != nil {
			artifact, err = e.sink.WritePayload(category, seq, payload)
			if err != nil {
				return nil, fmt.Errorf("failed to persist %s payload: %w", source, err)
			}
		}

		switch category {
		case config.CategoryCreative:
			batch, err := DecodeCreative(payload, source)
			if err != nil {
				return nil, err
			}
			creatives = append(creatives, batch...)
		case config.CategoryPerformance:
			perf, err := DecodePerformance(payload, source)
			if err != nil {
				return nil, err
			}
			perf.Artifact = artifact
			perfs = append(perfs, perf)
		default:
			e.logger.Debug("Payload persisted without decoding", zap.String("category", category))
		}
	}

	records, err := Merge(creatives, perfs, e.logger)
	if err != nil {
		return nil, err
	}
	res.Records = records

	e.logger.Info("Correlation complete",
		zap.Int("records", len(records)),
		zap.Int("creative_payloads", res.Replayed[config.CategoryCreative]),
		zap.Int("performance_payloads", res.Replayed[config.CategoryPerformance]),
	)
	return res, nil
}
