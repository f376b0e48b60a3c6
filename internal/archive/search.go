package archive

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/xkilldash9x/adarchive/internal/config"
)

// SearchURL builds the archive search address for cfg.
func SearchURL(cfg config.ScrapeConfig) (string, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base url %q: %w", cfg.BaseURL, err)
	}
	q := u.Query()
	q.Set("q", cfg.Query)
	if cfg.ActiveStatus != "" {
		q.Set("active_status", cfg.ActiveStatus)
	}
	if cfg.Country != "" {
		q.Set("country", cfg.Country)
	}
	if cfg.AdType != "" {
		q.Set("ad_type", cfg.AdType)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// textXPath matches any element whose own text contains s.
func textXPath(s string) string {
	return fmt.Sprintf("//*[text()[contains(., %s)]]", xpathLiteral(s))
}

// xpathLiteral quotes s for XPath 1.0, which has no escape sequences.
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	parts := strings.Split(s, `"`)
	quoted := make([]string, 0, 2*len(parts))
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `'"'`)
		}
		if p != "" {
			quoted = append(quoted, `"`+p+`"`)
		}
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
