package verify

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/antchfx/jsonquery"
	"github.com/jakopako/goverify/internal/browser"
	"github.com/jakopako/goverify/internal/types"
)

func (r *Runner) navigate(ctx context.Context, page browser.Page, st types.Step) error {
	u, err := r.resolveURL(st.URL)
	if err != nil {
		return err
	}
	return page.Navigate(ctx, u)
}

func (r *Runner) upload(ctx context.Context, page browser.Page, st types.Step) error {
	path, err := checkFile(st.File, st.Require)
	if err != nil {
		return err
	}
	el, err := r.find(ctx, page, st.Locator)
	if err != nil {
		return err
	}
	return page.SetInputFiles(ctx, el, []string{path})
}

// checkFile makes sure the file exists and satisfies all required json path
// expressions. It returns the absolute path of the file.
func checkFile(file string, require []string) (string, error) {
	if file == "" {
		return "", fmt.Errorf("%w: no file given", ErrFileNotFound)
	}
	path, err := filepath.Abs(file)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrFileNotFound, file, err)
	}
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return "", fmt.Errorf("%w: %w", ErrInvalidFile, err)
	}
	if fi.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrInvalidFile, path)
	}
	if len(require) == 0 {
		return path, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidFile, err)
	}
	defer f.Close()
	doc, err := jsonquery.Parse(f)
	if err != nil {
		return "", fmt.Errorf("%w: %s is not valid json: %w", ErrInvalidFile, path, err)
	}
	var missing []string
	for _, expr := range require {
		n, err := jsonquery.Query(doc, expr)
		if err != nil {
			return "", fmt.Errorf("%w: invalid expression %q: %w", ErrInvalidFile, expr, err)
		}
		if n == nil {
			missing = append(missing, expr)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("%w: %s has no match for %s", ErrInvalidFile, path, strings.Join(missing, ", "))
	}
	return path, nil
}

// find resolves the locator, retrying until the element exists or ctx is
// done. Ambiguous locators fail immediately.
func (r *Runner) find(ctx context.Context, page browser.Page, loc types.Locator) (browser.Element, error) {
	var el browser.Element
	err := r.poll(ctx, func() (bool, error) {
		var err error
		el, err = browser.Resolve(ctx, page, loc)
		if err != nil {
			return errors.Is(err, browser.ErrAmbiguousElement), err
		}
		return true, nil
	})
	return el, err
}

// findVisible is like find but additionally waits for the element to be
// visible.
func (r *Runner) findVisible(ctx context.Context, page browser.Page, loc types.Locator) (browser.Element, error) {
	var el browser.Element
	err := r.poll(ctx, func() (bool, error) {
		var err error
		el, err = browser.Resolve(ctx, page, loc)
		if err != nil {
			return errors.Is(err, browser.ErrAmbiguousElement), err
		}
		ok, err := page.Visible(ctx, el)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, fmt.Errorf("%s is not visible", loc)
		}
		return true, nil
	})
	return el, err
}

func (r *Runner) click(ctx context.Context, page browser.Page, st types.Step) error {
	el, err := r.findVisible(ctx, page, st.Locator)
	if err != nil {
		return err
	}
	return page.Click(ctx, el)
}

func (r *Runner) assertURL(ctx context.Context, page browser.Page, st types.Step) error {
	match, err := urlMatcher(st.Expected, st.Match)
	if err != nil {
		return err
	}
	var current string
	err = r.poll(ctx, func() (bool, error) {
		u, err := page.URL(ctx)
		if err != nil {
			return false, err
		}
		current = u
		return match(u), nil
	})
	if err != nil {
		if ctx.Err() != nil && current != "" {
			m := st.Match
			if m == "" {
				m = types.URLMatchExact
			}
			return fmt.Errorf("%w: url %q does not match %s %q", ErrAssertionFailed, current, m, st.Expected)
		}
		return err
	}
	return nil
}

func urlMatcher(expected string, m types.URLMatch) (func(string) bool, error) {
	switch m {
	case "", types.URLMatchExact:
		return func(u string) bool { return u == expected }, nil
	case types.URLMatchSuffix:
		return func(u string) bool { return strings.HasSuffix(u, expected) }, nil
	case types.URLMatchPattern:
		re, err := regexp.Compile(expected)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid pattern %q: %w", ErrAssertionFailed, expected, err)
		}
		return re.MatchString, nil
	default:
		return nil, fmt.Errorf("%w: unknown url match %q", ErrAssertionFailed, m)
	}
}

func (r *Runner) assertVisible(ctx context.Context, page browser.Page, st types.Step) error {
	el, err := browser.Resolve(ctx, page, st.Locator)
	if err != nil {
		return err
	}
	ok, err := page.Visible(ctx, el)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s is not visible", ErrAssertionFailed, st.Locator)
	}
	return nil
}

func (r *Runner) waitForVisible(ctx context.Context, page browser.Page, st types.Step, timeout time.Duration) error {
	var state string
	err := r.poll(ctx, func() (bool, error) {
		el, err := browser.Resolve(ctx, page, st.Locator)
		if err != nil {
			if ctx.Err() == nil {
				state = "not present"
			}
			return errors.Is(err, browser.ErrAmbiguousElement), err
		}
		ok, err := page.Visible(ctx, el)
		if err != nil {
			return false, err
		}
		state = "present but hidden"
		return ok, nil
	})
	if err != nil && ctx.Err() != nil && !errors.Is(err, browser.ErrAmbiguousElement) {
		if state == "" {
			state = "unknown"
		}
		return fmt.Errorf("%w: %s not visible within %s, last state: %s", context.DeadlineExceeded, st.Locator, timeout, state)
	}
	return err
}

func (r *Runner) screenshot(ctx context.Context, page browser.Page, st types.Step) (string, error) {
	el, err := r.find(ctx, page, st.Locator)
	if err != nil {
		return "", err
	}
	buf, err := page.Screenshot(ctx, el)
	if err != nil {
		return "", err
	}
	if err := r.save(buf, st.Output); err != nil {
		return "", err
	}
	if abs, err := filepath.Abs(st.Output); err == nil {
		return abs, nil
	}
	return st.Output, nil
}
