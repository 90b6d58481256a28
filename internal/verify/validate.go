package verify

import (
	"errors"
	"fmt"
	"regexp"
	"slices"

	"github.com/jakopako/goverify/internal/types"
)

// Validate checks that every step of the script carries the parameters its
// kind needs. All problems found are returned joined.
func Validate(script Script) error {
	if len(script.Steps) == 0 {
		return errors.New("script has no steps")
	}
	var errs []error
	for i, st := range script.Steps {
		if err := validateStep(st); err != nil {
			errs = append(errs, fmt.Errorf("step %d (%s): %w", i, st.Describe(), err))
		}
	}
	return errors.Join(errs...)
}

func validateStep(st types.Step) error {
	if !slices.Contains(types.StepKinds, st.Kind) {
		return fmt.Errorf("unknown kind %q", st.Kind)
	}
	if st.Timeout < 0 {
		return fmt.Errorf("negative timeout %d", st.Timeout)
	}
	switch st.Kind {
	case types.StepKindNavigate:
		if st.URL == "" {
			return errors.New("url is required")
		}
		return nil
	case types.StepKindAssertURL:
		if st.Expected == "" {
			return errors.New("expected is required")
		}
		switch st.Match {
		case "", types.URLMatchExact, types.URLMatchSuffix:
		case types.URLMatchPattern:
			if _, err := regexp.Compile(st.Expected); err != nil {
				return fmt.Errorf("invalid pattern: %w", err)
			}
		default:
			return fmt.Errorf("unknown match %q", st.Match)
		}
		return nil
	case types.StepKindUpload:
		if st.File == "" {
			return errors.New("file is required")
		}
	case types.StepKindScreenshot:
		if st.Output == "" {
			return errors.New("output is required")
		}
	}
	return validateLocator(st.Locator)
}

func validateLocator(l types.Locator) error {
	n := 0
	for _, s := range []string{l.Role, l.Selector, l.TestID} {
		if s != "" {
			n++
		}
	}
	switch {
	case n == 0:
		return errors.New("locator is required")
	case n > 1:
		return errors.New("locator must set exactly one of role, selector and test_id")
	case l.Name != "" && l.Role == "":
		return errors.New("locator name requires a role")
	case l.Nth != nil && *l.Nth < 0:
		return fmt.Errorf("negative nth %d", *l.Nth)
	}
	return nil
}
