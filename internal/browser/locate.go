package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/jakopako/goverify/internal/types"
	"github.com/jakopako/goverify/internal/utils"
)

// Resolve finds exactly one element for the locator. Zero matches result in
// ErrElementNotFound, several matches without nth in ErrAmbiguousElement.
func Resolve(ctx context.Context, p Page, loc types.Locator) (Element, error) {
	if loc.IsZero() {
		return nil, fmt.Errorf("%w: empty locator", ErrElementNotFound)
	}
	els, err := p.Find(ctx, loc)
	if err != nil {
		return nil, err
	}
	if loc.Nth != nil {
		n := *loc.Nth
		if n < 0 || n >= len(els) {
			return nil, fmt.Errorf("%w: %s, %d matching elements", ErrElementNotFound, loc, len(els))
		}
		return els[n], nil
	}
	switch len(els) {
	case 0:
		return nil, notFound(ctx, p, loc)
	case 1:
		return els[0], nil
	default:
		return nil, fmt.Errorf("%w: %d elements match %s", ErrAmbiguousElement, len(els), loc)
	}
}

func notFound(ctx context.Context, p Page, loc types.Locator) error {
	if loc.Role == "" || loc.Name == "" {
		return fmt.Errorf("%w: %s", ErrElementNotFound, loc)
	}
	names, err := p.AccessibleNames(ctx, loc.Role)
	if err != nil || len(names) == 0 {
		return fmt.Errorf("%w: %s", ErrElementNotFound, loc)
	}
	if s, ok := utils.ClosestString(loc.Name, names); ok {
		return fmt.Errorf("%w: %s (did you mean %q?)", ErrElementNotFound, loc, s)
	}
	return fmt.Errorf("%w: %s", ErrElementNotFound, loc)
}

// NameMatches reports whether an accessible name matches the wanted one.
// Whitespace is normalized, contains does a case-insensitive substring match.
func NameMatches(name, want string, contains bool) bool {
	name = normalizeSpace(name)
	want = normalizeSpace(want)
	if want == "" {
		return true
	}
	if contains {
		return strings.Contains(strings.ToLower(name), strings.ToLower(want))
	}
	return name == want
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func testIDSelector(id string) string {
	return fmt.Sprintf(`[data-testid=%q]`, id)
}
