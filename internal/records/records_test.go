package records

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/adarchive/api/schemas"
)

func sample() []schemas.AdRecord {
	start := time.Date(2018, 7, 1, 0, 0, 0, 0, time.UTC)
	return []schemas.AdRecord{
		{
			ArchiveID:     schemas.Ptr("111"),
			Screenshot:    schemas.Ptr("ad-0001.png"),
			Impressions:   schemas.Ptr("1K-5K"),
			StartDate:     &start,
			IsActive:      schemas.Ptr(false),
			PageName:      schemas.Ptr("Clean Air Now"),
			HTML:          schemas.Ptr("<p>Vote, \"yes\"\non 12</p>"),
			PageLikeCount: schemas.Ptr(int64(1200)),
		},
		{ArchiveID: schemas.Ptr("222")},
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sample()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, schemas.AdRecordColumns, rows[0])
	col := func(name string) int {
		for i, c := range schemas.AdRecordColumns {
			if c == name {
				return i
			}
		}
		t.Fatalf("no column %s", name)
		return -1
	}

	first := rows[1]
	assert.Equal(t, "111", first[col("archive_id")])
	assert.Equal(t, "ad-0001.png", first[col("screenshot")])
	assert.Equal(t, "2018-07-01T00:00:00Z", first[col("start_date")])
	assert.Equal(t, "false", first[col("is_active")])
	assert.Equal(t, "<p>Vote, \"yes\"\non 12</p>", first[col("html")], "markup survives quoting")
	assert.Equal(t, "1200", first[col("page_like_count")])
	assert.Equal(t, "", first[col("end_date")], "unset fields are empty")

	second := rows[2]
	assert.Equal(t, "222", second[0])
	for _, cell := range second[1:] {
		assert.Empty(t, cell)
	}
}

func TestWriteCSVNoRecords(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil))
	assert.Equal(t, strings.Join(schemas.AdRecordColumns, ",")+"\n", buf.String())
}

func TestRowMatchesColumns(t *testing.T) {
	assert.Len(t, Row(schemas.AdRecord{}), len(schemas.AdRecordColumns))
}

func TestRenderSummary(t *testing.T) {
	recs := sample()
	recs[1].Title = schemas.Ptr(strings.Repeat("long title ", 10))

	var buf bytes.Buffer
	RenderSummary(&buf, recs)
	out := buf.String()

	assert.Contains(t, out, "ARCHIVE ID")
	assert.Contains(t, out, "Clean Air Now")
	assert.Contains(t, out, "2018-07-01")
	assert.Contains(t, out, "…", "long page names are shortened")
	assert.Contains(t, out, "TOTAL")
}
