package records

import (
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/xkilldash9x/adarchive/api/schemas"
)

const maxCell = 40

// NewTable returns a rounded table writer mirrored to w.
func NewTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(w)
	return t
}

// RenderSummary prints one row per record with the columns a reader scans first.
func RenderSummary(w io.Writer, recs []schemas.AdRecord) {
	t := NewTable(w)
	t.AppendHeader(table.Row{"#", "Archive ID", "Page", "Active", "Started", "Impressions", "Spend", "Screenshot"})
	for i, rec := range recs {
		page := str(rec.PageName)
		if page == "" {
			page = str(rec.Title)
		}
		started := ""
		if rec.StartDate != nil {
			started = rec.StartDate.Format("2006-01-02")
		}
		t.AppendRow(table.Row{
			i + 1,
			str(rec.ArchiveID),
			truncate(page),
			boolean(rec.IsActive),
			started,
			str(rec.Impressions),
			str(rec.Spend),
			str(rec.Screenshot),
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "", "Total", len(recs)})
	t.Render()
}

func truncate(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= maxCell {
		return s
	}
	return string(r[:maxCell-1]) + "…"
}
