// Package records exports ad records: a CSV file in AdRecord column order and
// a terminal summary table.
package records

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/xkilldash9x/adarchive/api/schemas"
)

// WriteCSV writes a header row followed by one row per record. Unset fields are empty cells.
func WriteCSV(w io.Writer, recs []schemas.AdRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(schemas.AdRecordColumns); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for i, rec := range recs {
		if err := cw.Write(Row(rec)); err != nil {
			return fmt.Errorf("failed to write csv row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Row renders rec as cells in AdRecordColumns order.
func Row(rec schemas.AdRecord) []string {
	return []string{
		str(rec.ArchiveID),
		str(rec.Screenshot),
		str(rec.PerformanceLog),
		str(rec.Impressions),
		str(rec.Spend),
		ts(rec.StartDate),
		ts(rec.EndDate),
		ts(rec.CreationTime),
		boolean(rec.IsActive),
		boolean(rec.IsPromotedNews),
		str(rec.PageID),
		str(rec.PageName),
		str(rec.HTML),
		str(rec.Byline),
		str(rec.Caption),
		str(rec.Title),
		str(rec.LinkDescription),
		str(rec.DisplayFormat),
		str(rec.RelatedAccountName),
		integer(rec.PageLikeCount),
	}
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func ts(p *time.Time) string {
	if p == nil {
		return ""
	}
	return p.UTC().Format(time.RFC3339)
}

func boolean(p *bool) string {
	if p == nil {
		return ""
	}
	return strconv.FormatBool(*p)
}

func integer(p *int64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatInt(*p, 10)
}
