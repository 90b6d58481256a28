// Package browser provides the session controller and the page drivers
// that the verification runner steps are executed against.
package browser

import (
	"context"
	"errors"
	"fmt"

	"github.com/jakopako/goverify/internal/types"
)

var (
	ErrSession          = errors.New("browser session error")
	ErrNavigation       = errors.New("navigation failed")
	ErrElementNotFound  = errors.New("element not found")
	ErrAmbiguousElement = errors.New("ambiguous element")
	ErrCapture          = errors.New("capture failed")
)

// Element is a live element handle resolved from a locator. Handles are
// only valid for the page that returned them.
type Element interface {
	String() string
}

// A Page is the single browsing context a run interacts with. Implementations
// never wait for elements to appear in Find, waiting is up to the caller.
type Page interface {
	// Navigate loads the url and returns once the load event settled.
	Navigate(ctx context.Context, url string) error
	// URL returns the current url of the page.
	URL(ctx context.Context) (string, error)
	// Find returns all elements currently matching the locator, ignoring
	// the locator's nth field.
	Find(ctx context.Context, loc types.Locator) ([]Element, error)
	// AccessibleNames returns the accessible names of all elements with the
	// given role. It is used for error hints only.
	AccessibleNames(ctx context.Context, role string) ([]string, error)
	Click(ctx context.Context, el Element) error
	SetInputFiles(ctx context.Context, el Element, files []string) error
	Visible(ctx context.Context, el Element) (bool, error)
	// Screenshot captures the region covered by the element as png.
	Screenshot(ctx context.Context, el Element) ([]byte, error)
	Close() error
}

// DriverType encapsulates the type of a page driver.
// See below constants for possible types
type DriverType string

const (
	CHROME_DRIVER_TYPE DriverType = "chrome"
	MOCK_DRIVER_TYPE   DriverType = "mock"
)

func DefaultDriverType() DriverType {
	return CHROME_DRIVER_TYPE
}

// MockPage is a static page served by the mock driver.
type MockPage struct {
	URL  string `yaml:"url"`
	HTML string `yaml:"html"`
}

// Config defines the parameters needed to launch a browser session.
type Config struct {
	Type         DriverType `yaml:"type" env:"GOVERIFY_BROWSER" env-default:"chrome"`
	ExecPath     string     `yaml:"exec_path,omitempty" env:"GOVERIFY_CHROME_PATH"`
	UserAgent    string     `yaml:"user_agent,omitempty"`
	WindowWidth  int        `yaml:"window_width,omitempty"`
	WindowHeight int        `yaml:"window_height,omitempty"`
	DebugDir     string     `yaml:"debug_dir,omitempty"`
	MockPages    []MockPage `yaml:"mock_pages,omitempty"`
	// Headless is set from the top level configuration.
	Headless bool `yaml:"-"`
}

func (c *Config) defaults() {
	if c.Type == "" {
		c.Type = DefaultDriverType()
	}
	if c.WindowWidth == 0 {
		c.WindowWidth = 1920 // desktop view, some pages hide elements on mobile
	}
	if c.WindowHeight == 0 {
		c.WindowHeight = 1080
	}
}

func newPage(ctx context.Context, c *Config) (Page, error) {
	switch c.Type {
	case CHROME_DRIVER_TYPE:
		p, err := newChromePage(ctx, c)
		if err != nil {
			return nil, err
		}
		return p, nil
	case MOCK_DRIVER_TYPE:
		p, err := newMockPage(c)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("driver of type '%s' not implemented", c.Type)
	}
}
