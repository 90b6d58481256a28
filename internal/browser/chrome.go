package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/jakopako/goverify/internal/log"
	"github.com/jakopako/goverify/internal/types"
)

const (
	jsVisible = `function() {
	if (!this.isConnected) return false;
	const style = window.getComputedStyle(this);
	if (style.visibility === 'hidden' || style.display === 'none') return false;
	const r = this.getBoundingClientRect();
	return r.width > 0 && r.height > 0;
}`
	jsRect = `function() {
	const r = this.getBoundingClientRect();
	return {x: r.left + window.scrollX, y: r.top + window.scrollY, width: r.width, height: r.height};
}`
	jsClick = `function() { this.click(); }`
)

// chromeElement references a node by its backend node id which, unlike
// node ids, stays stable between DOM.getDocument calls.
type chromeElement struct {
	id   cdp.BackendNodeID
	desc string
}

func (e *chromeElement) String() string {
	return e.desc
}

// chromePage drives a single tab of a locally launched chrome.
type chromePage struct {
	*Config
	allocCtx    context.Context
	cancelAlloc context.CancelFunc
	tabCtx      context.Context
	cancelTab   context.CancelFunc
}

func newChromePage(ctx context.Context, c *Config) (*chromePage, error) {
	logger := log.LoggerFromContext(ctx).With(slog.String("driver", string(CHROME_DRIVER_TYPE)))
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.WindowSize(c.WindowWidth, c.WindowHeight),
		chromedp.Flag("headless", c.Headless),
	)
	if c.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(c.UserAgent))
	}
	if c.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.ExecPath))
	}

	// The browser must outlive the acquire context, it is torn down in Close.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	p := &chromePage{
		Config:      c,
		allocCtx:    allocCtx,
		cancelAlloc: cancelAlloc,
		tabCtx:      tabCtx,
		cancelTab:   cancelTab,
	}

	stop := context.AfterFunc(ctx, cancelTab)
	err := chromedp.Run(tabCtx)
	stop()
	if err != nil {
		cancelTab()
		cancelAlloc()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to launch chrome: %w", err)
	}

	if log.Debug {
		_ = chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			protocolVersion, product, revision, userAgent, jsVersion, err := cdpbrowser.GetVersion().Do(ctx)
			if err != nil {
				logger.Warn("failed to get chrome version", slog.String("err", err.Error()))
				return nil
			}
			logger.Debug(fmt.Sprintf("chrome version: protocolVersion=%s, product=%s, revision=%s, userAgent=%s, jsVersion=%s",
				protocolVersion, product, revision, userAgent, jsVersion))
			return nil
		}))
	}
	return p, nil
}

// run executes the actions in the tab while honoring the deadline and
// cancellation of ctx. chromedp requires the tab context for every Run so
// ctx cannot be passed directly.
func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	tctx, cancel := context.WithCancel(p.tabCtx)
	defer cancel()
	if dl, ok := ctx.Deadline(); ok {
		var cancelDl context.CancelFunc
		tctx, cancelDl = context.WithDeadline(tctx, dl)
		defer cancelDl()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(tctx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	err := p.run(ctx, chromedp.Navigate(url))
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrNavigation, url, err)
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var u string
	err := p.run(ctx, chromedp.Location(&u))
	return u, err
}

func (p *chromePage) Find(ctx context.Context, loc types.Locator) ([]Element, error) {
	switch {
	case loc.Role != "":
		nodes, err := p.axTree(ctx)
		if err != nil {
			return nil, err
		}
		els := []Element{}
		for _, n := range nodes {
			if n.Ignored || n.BackendDOMNodeID == 0 {
				continue
			}
			if n.Role.String() != loc.Role || !NameMatches(n.Name.String(), loc.Name, loc.Contains) {
				continue
			}
			els = append(els, &chromeElement{
				id:   cdp.BackendNodeID(n.BackendDOMNodeID),
				desc: fmt.Sprintf("%s %q", n.Role.String(), n.Name.String()),
			})
		}
		return els, nil
	case loc.TestID != "":
		return p.querySelectorAll(ctx, testIDSelector(loc.TestID))
	case loc.Selector != "":
		return p.querySelectorAll(ctx, loc.Selector)
	default:
		return nil, fmt.Errorf("%w: empty locator", ErrElementNotFound)
	}
}

func (p *chromePage) AccessibleNames(ctx context.Context, role string) ([]string, error) {
	nodes, err := p.axTree(ctx)
	if err != nil {
		return nil, err
	}
	names := []string{}
	for _, n := range nodes {
		if !n.Ignored && n.Role.String() == role && n.Name.String() != "" {
			names = append(names, n.Name.String())
		}
	}
	return names, nil
}

func (p *chromePage) querySelectorAll(ctx context.Context, sel string) ([]Element, error) {
	els := []Element{}
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		root, err := dom.GetDocument().WithDepth(0).Do(ctx)
		if err != nil {
			return err
		}
		ids, err := dom.QuerySelectorAll(root.NodeID, sel).Do(ctx)
		if err != nil {
			return fmt.Errorf("query selector %q: %w", sel, err)
		}
		for _, id := range ids {
			n, err := dom.DescribeNode().WithNodeID(id).Do(ctx)
			if err != nil {
				return err
			}
			els = append(els, &chromeElement{
				id:   n.BackendNodeID,
				desc: fmt.Sprintf("<%s> matching %q", strings.ToLower(n.NodeName), sel),
			})
		}
		return nil
	}))
	return els, err
}

func (p *chromePage) Click(ctx context.Context, el Element) error {
	ce, err := p.element(el)
	if err != nil {
		return err
	}
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		if err := dom.ScrollIntoViewIfNeeded().WithBackendNodeID(ce.id).Do(ctx); err != nil {
			return fmt.Errorf("scroll into view: %w", err)
		}
		_, err := callOn(ctx, ce.id, jsClick)
		return err
	}))
}

func (p *chromePage) SetInputFiles(ctx context.Context, el Element, files []string) error {
	ce, err := p.element(el)
	if err != nil {
		return err
	}
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return dom.SetFileInputFiles(files).WithBackendNodeID(ce.id).Do(ctx)
	}))
}

func (p *chromePage) Visible(ctx context.Context, el Element) (bool, error) {
	ce, err := p.element(el)
	if err != nil {
		return false, err
	}
	visible := false
	err = p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		res, err := callOn(ctx, ce.id, jsVisible)
		if err != nil {
			return err
		}
		visible = string(res.Value) == "true"
		return nil
	}))
	return visible, err
}

func (p *chromePage) Screenshot(ctx context.Context, el Element) ([]byte, error) {
	ce, err := p.element(el)
	if err != nil {
		return nil, err
	}
	var buf []byte
	err = p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		if err := dom.ScrollIntoViewIfNeeded().WithBackendNodeID(ce.id).Do(ctx); err != nil {
			return fmt.Errorf("%w: scroll into view: %w", ErrCapture, err)
		}
		res, err := callOn(ctx, ce.id, jsRect)
		if err != nil {
			return err
		}
		var r struct {
			X      float64 `json:"x"`
			Y      float64 `json:"y"`
			Width  float64 `json:"width"`
			Height float64 `json:"height"`
		}
		if err := json.Unmarshal([]byte(res.Value), &r); err != nil {
			return fmt.Errorf("%w: bounding box: %w", ErrCapture, err)
		}
		if r.Width <= 0 || r.Height <= 0 {
			return fmt.Errorf("%w: %s has zero size (%.0fx%.0f)", ErrCapture, ce, r.Width, r.Height)
		}
		buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatPng).
			WithCaptureBeyondViewport(true).
			WithClip(&page.Viewport{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height, Scale: 1}).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCapture, err)
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}
	if log.Debug && p.DebugDir != "" {
		p.writeFullPage(ctx)
	}
	return buf, nil
}

// writeFullPage stores a full page screenshot next to the captured region
// to make it easier to spot why a region looks the way it does.
func (p *chromePage) writeFullPage(ctx context.Context) {
	logger := log.LoggerFromContext(ctx)
	var buf []byte
	if err := p.run(ctx, chromedp.FullScreenshot(&buf, 90)); err != nil {
		logger.Warn("failed to capture full page screenshot", slog.String("err", err.Error()))
		return
	}
	if err := os.MkdirAll(p.DebugDir, os.ModePerm); err != nil {
		logger.Warn("failed to create debug directory", slog.String("err", err.Error()))
		return
	}
	filename := filepath.Join(p.DebugDir, "fullpage.jpg")
	logger.Debug(fmt.Sprintf("writing full page screenshot to file %s", filename))
	if err := os.WriteFile(filename, buf, 0644); err != nil {
		logger.Warn("failed to write full page screenshot", slog.String("err", err.Error()))
	}
}

func (p *chromePage) Close() error {
	// Cancel closes the browser gracefully, the allocator cancel makes sure
	// the process is gone even if that failed.
	err := chromedp.Cancel(p.tabCtx)
	p.cancelTab()
	p.cancelAlloc()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *chromePage) element(el Element) (*chromeElement, error) {
	ce, ok := el.(*chromeElement)
	if !ok {
		return nil, fmt.Errorf("element %v does not belong to a chrome page", el)
	}
	return ce, nil
}

func callOn(ctx context.Context, id cdp.BackendNodeID, fn string) (*runtime.RemoteObject, error) {
	obj, err := dom.ResolveNode().WithBackendNodeID(id).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("DOM.resolveNode: %w", err)
	}
	res, exc, err := runtime.CallFunctionOn(fn).
		WithObjectID(obj.ObjectID).
		WithReturnByValue(true).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("Runtime.callFunctionOn: %w", err)
	}
	if exc != nil {
		return nil, fmt.Errorf("Runtime.callFunctionOn: %s", exc.Text)
	}
	return res, nil
}

// Raw a11y tree types, the typed cdproto variant fails to decode some
// property values.

type rawAXNode struct {
	NodeID           string      `json:"nodeId"`
	Ignored          bool        `json:"ignored"`
	Role             *rawAXValue `json:"role"`
	Name             *rawAXValue `json:"name"`
	BackendDOMNodeID int64       `json:"backendDOMNodeId"`
}

type rawAXValue struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

func (v *rawAXValue) String() string {
	if v == nil || v.Value == nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(v.Value, &s); err == nil {
		return s
	}
	return strings.Trim(string(v.Value), `"`)
}

func (p *chromePage) axTree(ctx context.Context) ([]rawAXNode, error) {
	var raw json.RawMessage
	if err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return chromedp.FromContext(ctx).Target.Execute(ctx, "Accessibility.getFullAXTree", nil, &raw)
	})); err != nil {
		return nil, fmt.Errorf("a11y tree: %w", err)
	}
	var tree struct {
		Nodes []rawAXNode `json:"nodes"`
	}
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("parse a11y tree: %w", err)
	}
	return tree.Nodes, nil
}
