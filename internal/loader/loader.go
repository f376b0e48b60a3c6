// Package loader walks an incrementally revealed list of containers, handing
// each one to a processor exactly once until the list stops growing or the
// configured limit is hit.
package loader

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/adarchive/api/schemas"
)

// State is a step of the loader's state machine.
type State int

const (
	StateIdle State = iota
	StateRevealing
	StateProcessing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRevealing:
		return "revealing"
	case StateProcessing:
		return "processing"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Page is the live document the loader drives.
type Page interface {
	// QueryAll returns every element matching selector, in document order.
	QueryAll(ctx context.Context, selector string) ([]schemas.ElementHandle, error)
	// ExtendBottomMargin pads below h by one viewport height so the stitcher
	// can scroll h to the top of the viewport.
	ExtendBottomMargin(ctx context.Context, h schemas.ElementHandle) error
	// Reveal asks the page for more content and returns once it has settled.
	Reveal(ctx context.Context) error
}

// Processor handles one container. seq starts at 1 and counts processed containers.
type Processor func(ctx context.Context, seq int, h schemas.ElementHandle) error

// Result summarises a finished run.
type Result struct {
	Processed int
	// Passes counts reveal rounds, including the initial query.
	Passes int
	// LimitReached is true when the run stopped on the limit rather than on an empty reveal.
	LimitReached bool
}

// Loader is single use; create one per page walk.
type Loader struct {
	page     Page
	selector string
	limit    int
	process  Processor
	logger   *zap.Logger

	state     State
	processed *ProcessedSet
}

// New builds a loader over containers matching selector. A limit <= 0 walks
// until the page stops growing.
func New(page Page, selector string, limit int, process Processor, logger *zap.Logger) (*Loader, error) {
	if page == nil || process == nil {
		return nil, errors.New("loader: page and processor are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		page:      page,
		selector:  selector,
		limit:     limit,
		process:   process,
		logger:    logger.Named("loader"),
		state:     StateIdle,
		processed: NewProcessedSet(),
	}, nil
}

// State returns the current state.
func (l *Loader) State() State { return l.state }

// Processed exposes the set of containers handled so far.
func (l *Loader) Processed() *ProcessedSet { return l.processed }

// Run drives Idle → Revealing → Processing → (Revealing | Done). There is no
// iteration cap; termination relies on a reveal producing nothing new or the
// limit being reached.
func (l *Loader) Run(ctx context.Context) (Result, error) {
	if l.state != StateIdle {
		return Result{}, fmt.Errorf("loader: Run called in state %s", l.state)
	}

	var (
		res   Result
		batch []schemas.ElementHandle
	)
	l.transition(StateRevealing)

	for l.state != StateDone {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		switch l.state {
		case StateRevealing:
			if res.Passes > 0 {
				if err := l.page.Reveal(ctx); err != nil {
					return res, fmt.Errorf("reveal failed after %d containers: %w", l.processed.Len(), err)
				}
			}
			res.Passes++

			snapshot, err := l.page.QueryAll(ctx, l.selector)
			if err != nil {
				return res, fmt.Errorf("failed to query containers: %w", err)
			}
			batch = l.processed.Delta(snapshot)
			l.logger.Debug("Revealed containers",
				zap.Int("pass", res.Passes),
				zap.Int("visible", len(snapshot)),
				zap.Int("new", len(batch)),
			)
			if len(batch) == 0 {
				l.transition(StateDone)
				continue
			}
			l.transition(StateProcessing)

		case StateProcessing:
			if err := l.page.ExtendBottomMargin(ctx, batch[len(batch)-1]); err != nil {
				return res, fmt.Errorf("failed to pad last container: %w", err)
			}
			for _, h := range batch {
				seq := l.processed.Len() + 1
				if err := l.process(ctx, seq, h); err != nil {
					return res, fmt.Errorf("failed to process container %d: %w", seq, err)
				}
				l.processed.Add(h)
				res.Processed = l.processed.Len()

				if l.limit > 0 && res.Processed >= l.limit {
					res.LimitReached = true
					l.transition(StateDone)
					break
				}
			}
			if l.state == StateProcessing {
				l.transition(StateRevealing)
			}
		}
	}

	l.logger.Info("Pagination finished",
		zap.Int("processed", res.Processed),
		zap.Int("passes", res.Passes),
		zap.Bool("limit_reached", res.LimitReached),
	)
	return res, nil
}

func (l *Loader) transition(to State) {
	l.logger.Debug("Loader state change", zap.Stringer("from", l.state), zap.Stringer("to", to))
	l.state = to
}
