package archive

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/adarchive/api/schemas"
	"github.com/xkilldash9x/adarchive/internal/loader"
)

// listPage adapts a Browser to the loader. Reveal clicks the "load more"
// link when there is one, otherwise scrolls to the bottom so infinite
// scrolling kicks in, then waits for the page to settle.
type listPage struct {
	b             Browser
	loadMoreXPath string
	logger        *zap.Logger
}

var _ loader.Page = (*listPage)(nil)

func (p *listPage) QueryAll(ctx context.Context, selector string) ([]schemas.ElementHandle, error) {
	return p.b.QueryAll(ctx, selector)
}

func (p *listPage) ExtendBottomMargin(ctx context.Context, h schemas.ElementHandle) error {
	return p.b.ExtendBottomMargin(ctx, h)
}

func (p *listPage) Reveal(ctx context.Context) error {
	var links []schemas.ElementHandle
	if p.loadMoreXPath != "" {
		var err error
		links, err = p.b.QueryXPath(ctx, schemas.ElementHandle{}, p.loadMoreXPath)
		if err != nil {
			return fmt.Errorf("failed to look for the load more link: %w", err)
		}
	}

	if len(links) > 0 {
		p.logger.Debug("Clicking load more link")
		if err := p.b.Click(ctx, links[len(links)-1]); err != nil {
			return fmt.Errorf("failed to click load more link: %w", err)
		}
	} else {
		height, err := p.b.ScrollHeight(ctx)
		if err != nil {
			return err
		}
		p.logger.Debug("No load more link; scrolling to bottom", zap.Float64("scroll_height", height))
		if err := p.b.ScrollTo(ctx, height); err != nil {
			return err
		}
	}
	return p.b.WaitQuiescent(ctx)
}
