package correlate

import (
	"sort"
	"strings"

	"github.com/xkilldash9x/adarchive/api/schemas"
)

// Category names a class of payload and the literal URL prefix that identifies it.
type Category struct {
	Name   string
	Prefix string
}

// CategoriesFromMap turns a name→prefix map into a deterministic list, longest
// prefix first so a more specific prefix wins over one it extends.
func CategoriesFromMap(m map[string]string) []Category {
	out := make([]Category, 0, len(m))
	for name, prefix := range m {
		if prefix == "" {
			continue
		}
		out = append(out, Category{Name: name, Prefix: prefix})
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].Prefix) != len(out[j].Prefix) {
			return len(out[i].Prefix) > len(out[j].Prefix)
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Classify returns the first category whose prefix begins url.
func Classify(url string, categories []Category) (string, bool) {
	for _, c := range categories {
		if strings.HasPrefix(url, c.Prefix) {
			return c.Name, true
		}
	}
	return "", false
}

// Categorize splits entries by category, preserving harvest order inside
// each. Entries matching no category are dropped.
func Categorize(entries []schemas.NetworkLogEntry, categories []Category) map[string][]schemas.NetworkLogEntry {
	out := make(map[string][]schemas.NetworkLogEntry, len(categories))
	for _, e := range entries {
		if name, ok := Classify(e.URL, categories); ok {
			out[name] = append(out[name], e)
		}
	}
	return out
}
