package browser

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/jakopako/goverify/internal/types"
	"golang.org/x/net/html"
)

// The mock driver serves static pages from the configuration. A few data
// attributes emulate dynamic behavior:
//
//	data-mock-goto="url"       clicking the element (or uploading into it) loads url
//	data-mock-delay-ms="n"     the element only exists n ms after the page loaded
//	data-mock-width="n"        screenshot width, default 100
//	data-mock-height="n"       screenshot height, default 50
const (
	attrGoto   = "data-mock-goto"
	attrDelay  = "data-mock-delay-ms"
	attrWidth  = "data-mock-width"
	attrHeight = "data-mock-height"
)

type mockElement struct {
	node *html.Node
	desc string
}

func (e *mockElement) String() string {
	return e.desc
}

type mockPage struct {
	*Config
	pages map[string]string
	now   func() time.Time

	mu       sync.Mutex
	url      string
	doc      *goquery.Document
	loadedAt time.Time
	files    map[*html.Node][]string
}

func newMockPage(c *Config) (*mockPage, error) {
	mp := &mockPage{
		Config: c,
		pages:  map[string]string{},
		now:    time.Now,
		url:    "about:blank",
		files:  map[*html.Node][]string{},
	}
	for _, p := range c.MockPages {
		if p.URL == "" {
			return nil, fmt.Errorf("mock page without url")
		}
		mp.pages[p.URL] = p.HTML
	}
	return mp, nil
}

func (m *mockPage) Navigate(ctx context.Context, urlStr string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(urlStr)
}

func (m *mockPage) load(urlStr string) error {
	p, ok := m.pages[urlStr]
	if !ok {
		return fmt.Errorf("%w: %s: page not found", ErrNavigation, urlStr)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(p))
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNavigation, urlStr, err)
	}
	m.url = urlStr
	m.doc = doc
	m.loadedAt = m.now()
	m.files = map[*html.Node][]string{}
	return nil
}

func (m *mockPage) URL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.url, nil
}

func (m *mockPage) Find(ctx context.Context, loc types.Locator) ([]Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	els := []Element{}
	if m.doc == nil {
		return els, nil
	}
	switch {
	case loc.Role != "":
		m.doc.Find("*").Each(func(_ int, s *goquery.Selection) {
			n := s.Get(0)
			if !m.present(n) || !accessible(n) || ariaRole(n) != loc.Role {
				return
			}
			name := m.accessibleName(s)
			if NameMatches(name, loc.Name, loc.Contains) {
				els = append(els, &mockElement{node: n, desc: fmt.Sprintf("%s %q", loc.Role, name)})
			}
		})
	case loc.TestID != "", loc.Selector != "":
		sel := loc.Selector
		if loc.TestID != "" {
			sel = testIDSelector(loc.TestID)
		}
		m.doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			n := s.Get(0)
			if m.present(n) {
				els = append(els, &mockElement{node: n, desc: fmt.Sprintf("<%s> matching %q", n.Data, sel)})
			}
		})
	default:
		return nil, fmt.Errorf("%w: empty locator", ErrElementNotFound)
	}
	return els, nil
}

func (m *mockPage) AccessibleNames(ctx context.Context, role string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	names := []string{}
	if m.doc == nil {
		return names, nil
	}
	m.doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		n := s.Get(0)
		if m.present(n) && accessible(n) && ariaRole(n) == role {
			if name := m.accessibleName(s); name != "" {
				names = append(names, name)
			}
		}
	})
	return names, nil
}

func (m *mockPage) Click(ctx context.Context, el Element) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	me, err := m.element(el)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !rendered(me.node) {
		return fmt.Errorf("cannot click %s: element is not visible", me)
	}
	for n := me.node; n != nil; n = n.Parent {
		if target, ok := attr(n, attrGoto); ok {
			return m.load(m.resolve(target))
		}
		if n.Type == html.ElementNode && n.Data == "a" {
			if href, ok := attr(n, "href"); ok {
				return m.load(m.resolve(href))
			}
		}
	}
	return nil
}

func (m *mockPage) SetInputFiles(ctx context.Context, el Element, files []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	me, err := m.element(el)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, _ := attr(me.node, "type"); me.node.Data != "input" || !strings.EqualFold(t, "file") {
		return fmt.Errorf("%s is not a file input", me)
	}
	m.files[me.node] = files
	if target, ok := attr(me.node, attrGoto); ok {
		return m.load(m.resolve(target))
	}
	return nil
}

func (m *mockPage) Visible(ctx context.Context, el Element) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	me, err := m.element(el)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.present(me.node) && rendered(me.node) && dimension(me.node, attrWidth, 100) > 0 && dimension(me.node, attrHeight, 50) > 0, nil
}

func (m *mockPage) Screenshot(ctx context.Context, el Element) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	me, err := m.element(el)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	w, h := dimension(me.node, attrWidth, 100), dimension(me.node, attrHeight, 50)
	if !rendered(me.node) {
		w, h = 0, 0
	}
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: %s has zero size (%dx%d)", ErrCapture, me, w, h)
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		for y := range h {
			img.Set(x, y, color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCapture, err)
	}
	return buf.Bytes(), nil
}

func (m *mockPage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc = nil
	m.url = "about:blank"
	return nil
}

// Files returns the files that were set on the given file input.
func (m *mockPage) Files(el Element) []string {
	me, err := m.element(el)
	if err != nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.files[me.node]
}

func (m *mockPage) element(el Element) (*mockElement, error) {
	me, ok := el.(*mockElement)
	if !ok {
		return nil, fmt.Errorf("element %v does not belong to a mock page", el)
	}
	return me, nil
}

func (m *mockPage) resolve(ref string) string {
	base, err := url.Parse(m.url)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(r).String()
}

// present reports whether the element already exists, ie whether the delay
// of itself and all its ancestors elapsed.
func (m *mockPage) present(n *html.Node) bool {
	elapsed := m.now().Sub(m.loadedAt)
	for ; n != nil; n = n.Parent {
		if d, ok := attr(n, attrDelay); ok {
			ms, err := strconv.Atoi(d)
			if err == nil && elapsed < time.Duration(ms)*time.Millisecond {
				return false
			}
		}
	}
	return true
}

func (m *mockPage) accessibleName(s *goquery.Selection) string {
	n := s.Get(0)
	if v, ok := attr(n, "aria-label"); ok && strings.TrimSpace(v) != "" {
		return normalizeSpace(v)
	}
	if v, ok := attr(n, "aria-labelledby"); ok {
		parts := []string{}
		for _, id := range strings.Fields(v) {
			parts = append(parts, m.doc.Find("#"+id).Text())
		}
		return normalizeSpace(strings.Join(parts, " "))
	}
	switch n.Data {
	case "input":
		t, _ := attr(n, "type")
		switch strings.ToLower(t) {
		case "button", "submit", "reset":
			v, _ := attr(n, "value")
			return normalizeSpace(v)
		}
		if id, ok := attr(n, "id"); ok {
			if l := m.doc.Find(fmt.Sprintf(`label[for=%q]`, id)); l.Length() > 0 {
				return normalizeSpace(l.Text())
			}
		}
		if v, ok := attr(n, "placeholder"); ok {
			return normalizeSpace(v)
		}
	case "img":
		v, _ := attr(n, "alt")
		return normalizeSpace(v)
	}
	if nameFromContent(ariaRole(n)) {
		return normalizeSpace(s.Text())
	}
	v, _ := attr(n, "title")
	return normalizeSpace(v)
}

func nameFromContent(role string) bool {
	switch role {
	case "button", "link", "heading", "option", "listitem", "tab", "menuitem", "checkbox", "radio", "cell", "columnheader", "row", "treeitem":
		return true
	}
	return false
}

func ariaRole(n *html.Node) string {
	if n.Type != html.ElementNode {
		return ""
	}
	if r, ok := attr(n, "role"); ok && strings.TrimSpace(r) != "" {
		return strings.Fields(r)[0]
	}
	switch n.Data {
	case "a", "area":
		if _, ok := attr(n, "href"); ok {
			return "link"
		}
	case "button":
		return "button"
	case "input":
		t, _ := attr(n, "type")
		switch strings.ToLower(t) {
		case "button", "submit", "reset", "image":
			return "button"
		case "checkbox":
			return "checkbox"
		case "radio":
			return "radio"
		case "range":
			return "slider"
		case "number":
			return "spinbutton"
		case "search":
			return "searchbox"
		case "file", "hidden":
			return ""
		default:
			return "textbox"
		}
	case "h1", "h2", "h3", "h4", "h5", "h6":
		return "heading"
	case "select":
		return "combobox"
	case "option":
		return "option"
	case "textarea":
		return "textbox"
	case "img":
		return "img"
	case "nav":
		return "navigation"
	case "main":
		return "main"
	case "ul", "ol":
		return "list"
	case "li":
		return "listitem"
	case "table":
		return "table"
	case "form":
		return "form"
	case "dialog":
		return "dialog"
	}
	return ""
}

// accessible reports whether the element is part of the accessibility tree.
func accessible(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if v, _ := attr(p, "aria-hidden"); v == "true" {
			return false
		}
	}
	return rendered(n)
}

// rendered reports whether neither the element nor one of its ancestors is
// hidden via the hidden attribute or inline styles.
func rendered(n *html.Node) bool {
	for ; n != nil; n = n.Parent {
		if n.Type != html.ElementNode {
			continue
		}
		if _, ok := attr(n, "hidden"); ok {
			return false
		}
		style, _ := attr(n, "style")
		style = strings.ReplaceAll(strings.ToLower(style), " ", "")
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
	}
	return true
}

func dimension(n *html.Node, key string, def int) int {
	v, ok := attr(n, key)
	if !ok {
		return def
	}
	d, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return d
}

func attr(n *html.Node, key string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}
