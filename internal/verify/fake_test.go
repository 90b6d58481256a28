package verify

import (
	"context"
	"errors"

	"github.com/jakopako/goverify/internal/browser"
	"github.com/jakopako/goverify/internal/types"
)

type fakeElement string

func (e fakeElement) String() string {
	return string(e)
}

// fakePage is a scripted page that records every call made to it.
type fakePage struct {
	url         string
	navigateErr error
	elements    map[string][]browser.Element
	hidden      map[string]bool
	shot        []byte
	calls       []string
	files       []string
}

func newFakePage() *fakePage {
	return &fakePage{
		url:      "about:blank",
		elements: map[string][]browser.Element{},
		hidden:   map[string]bool{},
		shot:     []byte("\x89PNG fake"),
	}
}

func (f *fakePage) add(loc types.Locator, names ...string) {
	for _, n := range names {
		f.elements[loc.String()] = append(f.elements[loc.String()], fakeElement(n))
	}
}

func (f *fakePage) Navigate(ctx context.Context, url string) error {
	f.calls = append(f.calls, "navigate")
	if f.navigateErr != nil {
		return f.navigateErr
	}
	f.url = url
	return nil
}

func (f *fakePage) URL(ctx context.Context) (string, error) {
	f.calls = append(f.calls, "url")
	return f.url, nil
}

func (f *fakePage) Find(ctx context.Context, loc types.Locator) ([]browser.Element, error) {
	f.calls = append(f.calls, "find")
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.elements[loc.String()], nil
}

func (f *fakePage) AccessibleNames(ctx context.Context, role string) ([]string, error) {
	return nil, nil
}

func (f *fakePage) Click(ctx context.Context, el browser.Element) error {
	f.calls = append(f.calls, "click")
	return nil
}

func (f *fakePage) SetInputFiles(ctx context.Context, el browser.Element, files []string) error {
	f.calls = append(f.calls, "setInputFiles")
	f.files = files
	return nil
}

func (f *fakePage) Visible(ctx context.Context, el browser.Element) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return !f.hidden[el.String()], nil
}

func (f *fakePage) Screenshot(ctx context.Context, el browser.Element) ([]byte, error) {
	f.calls = append(f.calls, "screenshot")
	return f.shot, nil
}

func (f *fakePage) Close() error {
	f.calls = append(f.calls, "close")
	return nil
}

func (f *fakePage) called(name string) int {
	n := 0
	for _, c := range f.calls {
		if c == name {
			n++
		}
	}
	return n
}

// fakeSession hands out a fixed page and counts releases.
type fakeSession struct {
	page       browser.Page
	acquireErr error
	releaseErr error
	releases   int
}

func (s *fakeSession) Acquire(ctx context.Context) (browser.Page, error) {
	if s.acquireErr != nil {
		return nil, s.acquireErr
	}
	return s.page, nil
}

func (s *fakeSession) Release() error {
	s.releases++
	return s.releaseErr
}

var errLaunch = errors.New("chrome not found")
