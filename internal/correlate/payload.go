package correlate

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/adarchive/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultFramingPrefix is the anti-hijacking guard the archive prepends to its JSON responses.
const DefaultFramingPrefix = ")]}',\n"

// StripFraming removes prefix from the front of body when present.
func StripFraming(body []byte, prefix string) []byte {
	if prefix == "" {
		return body
	}
	return bytes.TrimPrefix(body, []byte(prefix))
}

// flexString accepts a JSON string or number. Archive ids show up as both.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	lit := string(bytes.TrimSpace(data))
	if _, err := strconv.ParseFloat(lit, 64); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*f = flexString(lit)
	return nil
}

// rangeValue is either a preformatted string ("1K-5K") or a
// {"lower_bound":..,"upper_bound":..} object.
type rangeValue string

func (r *rangeValue) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*r = rangeValue(s)
		return nil
	}
	var bounds struct {
		Lower *flexString `json:"lower_bound"`
		Upper *flexString `json:"upper_bound"`
	}
	if err := json.Unmarshal(data, &bounds); err != nil {
		return fmt.Errorf("expected range string or bounds object: %w", err)
	}
	switch {
	case bounds.Lower != nil && bounds.Upper != nil:
		*r = rangeValue(string(*bounds.Lower) + "-" + string(*bounds.Upper))
	case bounds.Lower != nil:
		*r = rangeValue(">" + string(*bounds.Lower))
	case bounds.Upper != nil:
		*r = rangeValue("<" + string(*bounds.Upper))
	default:
		return fmt.Errorf("range has neither lower_bound nor upper_bound")
	}
	return nil
}

type creativeEnvelope struct {
	Payload *struct {
		Results []creativeResult `json:"results"`
	} `json:"payload"`
}

type creativeResult struct {
	AdArchiveID    *flexString `json:"adArchiveID"`
	PageID         *flexString `json:"pageID"`
	PageName       *string     `json:"pageName"`
	StartDate      *int64      `json:"startDate"`
	EndDate        *int64      `json:"endDate"`
	CreationTime   *int64      `json:"creationTime"`
	IsActive       *bool       `json:"isActive"`
	IsPromotedNews *bool       `json:"isPromotedNews"`
	Snapshot       *snapshot   `json:"snapshot"`
}

type snapshot struct {
	Body *struct {
		Markup *struct {
			HTML *string `json:"__html"`
		} `json:"markup"`
	} `json:"body"`
	Byline             *string `json:"byline"`
	Caption            *string `json:"caption"`
	Title              *string `json:"title"`
	LinkDescription    *string `json:"link_description"`
	DisplayFormat      *string `json:"display_format"`
	InstagramActorName *string `json:"instagram_actor_name"`
	PageLikeCount      *int64  `json:"page_like_count"`
}

type performanceEnvelope struct {
	Payload *struct {
		AdArchiveID *flexString `json:"adArchiveID"`
		Impressions *rangeValue `json:"impressions"`
		Spend       *rangeValue `json:"spend"`
	} `json:"payload"`
}

// Creative is one ad as described by a creative payload.
type Creative struct {
	ArchiveID string
	Record    schemas.AdRecord
}

// Performance is the delivery data from one performance payload.
type Performance struct {
	// ArchiveID is empty when the payload does not name its ad; it is then
	// matched by position.
	ArchiveID   string
	Impressions string
	Spend       string
	// Artifact is where the raw payload was written, if anywhere.
	Artifact string
}

// DecodeCreative parses a creative payload. Every result must carry an
// archive id, page id, page name, start date and active flag. The end date,
// creation time and snapshot details are optional.
func DecodeCreative(data []byte, source string) ([]Creative, error) {
	var env creativeEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &SchemaError{Source: source, Field: "", Err: err}
	}
	if env.Payload == nil {
		return nil, &SchemaError{Source: source, Field: "payload"}
	}

	out := make([]Creative, 0, len(env.Payload.Results))
	for i, res := range env.Payload.Results {
		path := func(field string) string { return fmt.Sprintf("payload.results[%d].%s", i, field) }
		switch {
		case res.AdArchiveID == nil || *res.AdArchiveID == "":
			return nil, &SchemaError{Source: source, Field: path("adArchiveID")}
		case res.PageID == nil:
			return nil, &SchemaError{Source: source, Field: path("pageID")}
		case res.PageName == nil:
			return nil, &SchemaError{Source: source, Field: path("pageName")}
		case res.StartDate == nil:
			return nil, &SchemaError{Source: source, Field: path("startDate")}
		case res.IsActive == nil:
			return nil, &SchemaError{Source: source, Field: path("isActive")}
		}

		id := string(*res.AdArchiveID)
		rec := schemas.AdRecord{
			ArchiveID:      schemas.Ptr(id),
			PageID:         schemas.Ptr(string(*res.PageID)),
			PageName:       res.PageName,
			StartDate:      unixTime(res.StartDate),
			EndDate:        unixTime(res.EndDate),
			CreationTime:   unixTime(res.CreationTime),
			IsActive:       res.IsActive,
			IsPromotedNews: res.IsPromotedNews,
		}
		if s := res.Snapshot; s != nil {
			if s.Body != nil && s.Body.Markup != nil {
				rec.HTML = s.Body.Markup.HTML
			}
			rec.Byline = s.Byline
			rec.Caption = s.Caption
			rec.Title = s.Title
			rec.LinkDescription = s.LinkDescription
			rec.DisplayFormat = s.DisplayFormat
			rec.RelatedAccountName = s.InstagramActorName
			rec.PageLikeCount = s.PageLikeCount
		}
		out = append(out, Creative{ArchiveID: id, Record: rec})
	}
	return out, nil
}

// DecodePerformance parses a performance payload. Impressions and spend are
// required; the archive id is optional.
func DecodePerformance(data []byte, source string) (Performance, error) {
	var env performanceEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Performance{}, &SchemaError{Source: source, Err: err}
	}
	p := env.Payload
	switch {
	case p == nil:
		return Performance{}, &SchemaError{Source: source, Field: "payload"}
	case p.Impressions == nil:
		return Performance{}, &SchemaError{Source: source, Field: "payload.impressions"}
	case p.Spend == nil:
		return Performance{}, &SchemaError{Source: source, Field: "payload.spend"}
	}

	perf := Performance{
		Impressions: string(*p.Impressions),
		Spend:       string(*p.Spend),
	}
	if p.AdArchiveID != nil {
		perf.ArchiveID = strings.TrimSpace(string(*p.AdArchiveID))
	}
	return perf, nil
}

func unixTime(sec *int64) *time.Time {
	if sec == nil || *sec == 0 {
		return nil
	}
	t := time.Unix(*sec, 0).UTC()
	return &t
}
