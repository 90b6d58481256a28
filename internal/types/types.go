// Package types defines shared types used across the application.
package types

import (
	"fmt"
	"strings"
	"time"
)

// StepKind is the kind of a single interaction or assertion.
type StepKind string

const (
	StepKindNavigate       StepKind = "navigate"
	StepKindUpload         StepKind = "upload"
	StepKindClick          StepKind = "click"
	StepKindAssertURL      StepKind = "assert-url"
	StepKindAssertVisible  StepKind = "assert-visible"
	StepKindWaitForVisible StepKind = "wait-for-visible"
	StepKindScreenshot     StepKind = "screenshot"
)

// StepKinds lists all supported step kinds in the order they are documented.
var StepKinds = []StepKind{
	StepKindNavigate,
	StepKindUpload,
	StepKindClick,
	StepKindAssertURL,
	StepKindAssertVisible,
	StepKindWaitForVisible,
	StepKindScreenshot,
}

// URLMatch defines how assert-url compares the current url.
type URLMatch string

const (
	URLMatchExact   URLMatch = "exact"
	URLMatchSuffix  URLMatch = "suffix"
	URLMatchPattern URLMatch = "pattern"
)

// Locator describes how to resolve a live element when a step executes.
// Exactly one of role, selector or test_id is expected to be set.
type Locator struct {
	Role     string `yaml:"role,omitempty" json:"role,omitempty"`
	Name     string `yaml:"name,omitempty" json:"name,omitempty"`
	Contains bool   `yaml:"contains,omitempty" json:"contains,omitempty"` // match name as case-insensitive substring
	Selector string `yaml:"selector,omitempty" json:"selector,omitempty"`
	TestID   string `yaml:"test_id,omitempty" json:"testId,omitempty"`
	Nth      *int   `yaml:"nth,omitempty" json:"nth,omitempty"`
}

func (l Locator) IsZero() bool {
	return l.Role == "" && l.Selector == "" && l.TestID == ""
}

func (l Locator) String() string {
	var s string
	switch {
	case l.Role != "":
		s = fmt.Sprintf("role=%s", l.Role)
		if l.Name != "" {
			s += fmt.Sprintf("[name=%q]", l.Name)
		}
	case l.TestID != "":
		s = fmt.Sprintf("test_id=%s", l.TestID)
	case l.Selector != "":
		s = fmt.Sprintf("css=%s", l.Selector)
	default:
		return "<none>"
	}
	if l.Nth != nil {
		s += fmt.Sprintf(" nth=%d", *l.Nth)
	}
	return s
}

// Step represents one atomic browser interaction or assertion.
type Step struct {
	Name     string   `yaml:"name,omitempty"`
	Kind     StepKind `yaml:"kind"`
	Locator  Locator  `yaml:"locator,omitempty"`
	URL      string   `yaml:"url,omitempty"`      // navigate
	File     string   `yaml:"file,omitempty"`     // upload
	Require  []string `yaml:"require,omitempty"`  // upload, json path expressions the file must match
	Expected string   `yaml:"expected,omitempty"` // assert-url
	Match    URLMatch `yaml:"match,omitempty"`    // assert-url
	Output   string   `yaml:"output,omitempty"`   // screenshot
	Timeout  int      `yaml:"timeout,omitempty"`  // milliseconds
}

// TimeoutDuration returns the step's explicit timeout or 0 if none is set.
func (s Step) TimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Millisecond
}

// Describe returns a short human readable description of the step.
func (s Step) Describe() string {
	if s.Name != "" {
		return s.Name
	}
	parts := []string{string(s.Kind)}
	switch s.Kind {
	case StepKindNavigate:
		parts = append(parts, s.URL)
	case StepKindUpload:
		parts = append(parts, s.File, "into", s.Locator.String())
	case StepKindAssertURL:
		m := s.Match
		if m == "" {
			m = URLMatchExact
		}
		parts = append(parts, string(m), s.Expected)
	case StepKindScreenshot:
		parts = append(parts, s.Locator.String(), "to", s.Output)
	default:
		parts = append(parts, s.Locator.String())
	}
	return strings.Join(parts, " ")
}
