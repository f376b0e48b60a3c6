// browser/dom/locator.go
package dom

import (
	"context"
	"fmt"
	"strings"

	"github.com/xkilldash9x/adarchive/api/schemas"
)

// Tree is the slice of the live DOM the locator needs. Session implements it.
type Tree interface {
	// Children returns the direct div children of h in document order.
	Children(ctx context.Context, h schemas.ElementHandle) ([]schemas.ElementHandle, error)
	// ComputedStyle returns the resolved value of a CSS property on h.
	ComputedStyle(ctx context.Context, h schemas.ElementHandle, property string) (string, error)
}

// StyleLookup reads one computed property of the element under test.
type StyleLookup func(property string) (string, error)

// Predicate decides whether an element matches, using only its computed style.
type Predicate func(style StyleLookup) (bool, error)

// PropertyEquals matches elements whose computed property equals value exactly.
func PropertyEquals(property, value string) Predicate {
	return func(style StyleLookup) (bool, error) {
		got, err := style(property)
		if err != nil {
			return false, err
		}
		return got == value, nil
	}
}

// FindFirst walks the div subtree under root breadth first and returns the
// first element satisfying pred. The root itself is tested first. found is
// false when nothing matches; callers decide whether that is fatal.
func FindFirst(ctx context.Context, tree Tree, root schemas.ElementHandle, pred Predicate) (h schemas.ElementHandle, found bool, err error) {
	matches, err := FindAll(ctx, tree, root, pred, 1)
	if err != nil || len(matches) == 0 {
		return schemas.ElementHandle{}, false, err
	}
	return matches[0], true, nil
}

// FindAll is FindFirst generalised to collect up to limit matches, in BFS
// order. A limit of zero or less collects every match.
func FindAll(ctx context.Context, tree Tree, root schemas.ElementHandle, pred Predicate, limit int) ([]schemas.ElementHandle, error) {
	var matches []schemas.ElementHandle
	queue := []schemas.ElementHandle{root}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		node := queue[0]
		queue = queue[1:]

		ok, err := pred(func(property string) (string, error) {
			return tree.ComputedStyle(ctx, node, property)
		})
		if err != nil {
			return nil, fmt.Errorf("style predicate failed on node %d: %w", node.BackendNodeID, err)
		}
		if ok {
			matches = append(matches, node)
			if limit > 0 && len(matches) >= limit {
				return matches, nil
			}
		}

		children, err := tree.Children(ctx, node)
		if err != nil {
			return nil, fmt.Errorf("failed to list children of node %d: %w", node.BackendNodeID, err)
		}
		queue = append(queue, children...)
	}
	return matches, nil
}

// ClassSelector turns a class attribute value into a compound CSS selector,
// e.g. "a  b" becomes ".a.b". An empty attribute yields "".
func ClassSelector(classAttr string) string {
	fields := strings.Fields(classAttr)
	if len(fields) == 0 {
		return ""
	}
	return "." + strings.Join(fields, ".")
}
