package schemas

import (
	"time"
)

// -- Ad Record Schemas --

// AdRecord is one advertisement as emitted by a run. Every field is optional;
// a nil pointer means the source never supplied it. The field order below is
// the column order of the CSV export and must stay in sync with AdRecordColumns.
type AdRecord struct {
	ArchiveID          *string    `json:"archive_id,omitempty"`
	Screenshot         *string    `json:"screenshot,omitempty"`
	PerformanceLog     *string    `json:"performance_log,omitempty"`
	Impressions        *string    `json:"impressions,omitempty"`
	Spend              *string    `json:"spend,omitempty"`
	StartDate          *time.Time `json:"start_date,omitempty"`
	EndDate            *time.Time `json:"end_date,omitempty"`
	CreationTime       *time.Time `json:"creation_time,omitempty"`
	IsActive           *bool      `json:"is_active,omitempty"`
	IsPromotedNews     *bool      `json:"is_promoted_news,omitempty"`
	PageID             *string    `json:"page_id,omitempty"`
	PageName           *string    `json:"page_name,omitempty"`
	HTML               *string    `json:"html,omitempty"`
	Byline             *string    `json:"byline,omitempty"`
	Caption            *string    `json:"caption,omitempty"`
	Title              *string    `json:"title,omitempty"`
	LinkDescription    *string    `json:"link_description,omitempty"`
	DisplayFormat      *string    `json:"display_format,omitempty"`
	RelatedAccountName *string    `json:"related_account_name,omitempty"`
	PageLikeCount      *int64     `json:"page_like_count,omitempty"`
}

// AdRecordColumns lists the export columns in AdRecord field order.
var AdRecordColumns = []string{
	"archive_id",
	"screenshot",
	"performance_log",
	"impressions",
	"spend",
	"start_date",
	"end_date",
	"creation_time",
	"is_active",
	"is_promoted_news",
	"page_id",
	"page_name",
	"html",
	"byline",
	"caption",
	"title",
	"link_description",
	"display_format",
	"related_account_name",
	"page_like_count",
}

// Ptr returns a pointer to v. Handy for filling optional record fields.
func Ptr[T any](v T) *T {
	return &v
}
