// Package markup reads ad details out of a container's rendered HTML. It is
// the fallback source of records when the archive's own payloads were not
// observed.
package markup

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/adarchive/api/schemas"
)

const (
	bylinePrefix   = "Paid for by "
	startedPrefix  = "Started running on "
	rangeSeparator = " - "
	activeLabel    = "Active"
	performanceCTA = "See Ad Performance"
	sponsoredLabel = "Sponsored"

	// DateLayout is how the archive prints run dates, e.g. "Jul 1, 2018".
	DateLayout = "Jan 2, 2006"
)

// Ad is what can be read from one container.
type Ad struct {
	Title  string
	Byline string
	// Active is nil when the status line was missing.
	Active *bool
	// Start and End are the run dates as printed; End is empty for ads still running.
	Start string
	End   string
	Text  string
}

// Extract parses a container's outer HTML.
//
// Text-bearing divs are read positionally: the first is the status line, the
// second the run dates, and the rest body text (skipping the performance link
// and a leading "Sponsored" label).
func Extract(outerHTML string) (Ad, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(outerHTML))
	if err != nil {
		return Ad{}, fmt.Errorf("failed to parse container markup: %w", err)
	}

	var ad Ad
	doc.Find("a").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if hasDirectText(s) {
			ad.Title = normalize(s.Text())
			return false
		}
		return true
	})

	doc.Find("span").Each(func(_ int, s *goquery.Selection) {
		if !hasDirectText(s) {
			return
		}
		if t := normalize(s.Text()); strings.HasPrefix(t, bylinePrefix) {
			ad.Byline = strings.TrimPrefix(t, bylinePrefix)
		}
	})

	var body []string
	pos := 0
	doc.Find("div").Each(func(_ int, s *goquery.Selection) {
		if !hasDirectText(s) {
			return
		}
		t := normalize(s.Text())
		switch {
		case pos == 0:
			active := t == activeLabel
			ad.Active = &active
		case pos == 1:
			if strings.HasPrefix(t, startedPrefix) {
				ad.Start = strings.TrimPrefix(t, startedPrefix)
			} else if start, end, ok := strings.Cut(t, rangeSeparator); ok {
				ad.Start, ad.End = start, end
			} else {
				ad.Start = t
			}
		case strings.Contains(t, performanceCTA):
		case pos == 2 && strings.HasPrefix(t, sponsoredLabel):
		default:
			body = append(body, t)
		}
		pos++
	})
	ad.Text = strings.Join(body, " ")
	return ad, nil
}

// Record converts the extracted fields to an AdRecord. Unparseable dates are left unset.
func (a Ad) Record(outerHTML string) schemas.AdRecord {
	rec := schemas.AdRecord{
		IsActive:  a.Active,
		StartDate: parseDate(a.Start),
		EndDate:   parseDate(a.End),
	}
	if a.Title != "" {
		rec.Title = schemas.Ptr(a.Title)
	}
	if a.Byline != "" {
		rec.Byline = schemas.Ptr(a.Byline)
	}
	if outerHTML != "" {
		rec.HTML = schemas.Ptr(outerHTML)
	}
	return rec
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	return &t
}

// hasDirectText mirrors the XPath test `[text()]`: the element has a
// non-blank text node as an immediate child.
func hasDirectText(s *goquery.Selection) bool {
	for _, n := range s.Nodes {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode && strings.TrimSpace(c.Data) != "" {
				return true
			}
		}
	}
	return false
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
