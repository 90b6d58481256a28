package verify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jakopako/goverify/internal/browser"
	"github.com/jakopako/goverify/internal/types"
)

func newTestRunner(t *testing.T, baseURL string) *Runner {
	t.Helper()
	r, err := NewRunner(Options{BaseURL: baseURL, PollInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return r
}

func intPtr(i int) *int {
	return &i
}

var (
	fileInput   = types.Locator{Selector: `input[type="file"]`}
	whatIfsLink = types.Locator{Role: "link", Name: "What-Ifs"}
	rerunButton = types.Locator{Role: "button", Name: "Re-run"}
	chart       = types.Locator{TestID: "yearly-flows-chart"}
)

const mockBaseURL = "http://localhost:5173"

func whatIfsMockPages() []browser.MockPage {
	return []browser.MockPage{
		{URL: mockBaseURL + "/", HTML: `<html><body>
			<a href="#/what-ifs">What-Ifs</a>
			<input type="file" accept=".json" hidden data-mock-goto="#/results">
			</body></html>`},
		{URL: mockBaseURL + "/#/results", HTML: `<html><body>
			<nav><a href="#/results">Results</a><a href="#/what-ifs">What-Ifs</a></nav>
			</body></html>`},
		{URL: mockBaseURL + "/#/what-ifs", HTML: `<html><body>
			<button>Add Scenario</button>
			<button>Run scenario</button>
			<button data-mock-delay-ms="150">Re-run</button>
			<section>
				<h3>Yearly Flows</h3>
				<div data-testid="yearly-flows-chart" data-mock-width="320" data-mock-height="160"></div>
			</section>
			</body></html>`},
	}
}

func writeSnapshot(t *testing.T, dir, content string) string {
	t.Helper()
	p := filepath.Join(dir, "snapshot.json")
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return p
}

func whatIfsScript(snapshot, output string) Script {
	return Script{
		Name: "what-ifs",
		Steps: []types.Step{
			{Kind: types.StepKindNavigate, URL: "/"},
			{Kind: types.StepKindUpload, Locator: fileInput, File: snapshot, Require: []string{"simulation"}},
			{Kind: types.StepKindClick, Locator: whatIfsLink},
			{Kind: types.StepKindAssertURL, Expected: "#/what-ifs", Match: types.URLMatchSuffix},
			{Kind: types.StepKindClick, Locator: types.Locator{Role: "button", Name: "Add Scenario"}},
			{Kind: types.StepKindClick, Locator: types.Locator{Role: "button", Name: "Run scenario"}},
			{Kind: types.StepKindWaitForVisible, Locator: rerunButton, Timeout: 20000},
			{Kind: types.StepKindScreenshot, Locator: chart, Output: output},
		},
	}
}

func newMockSession(t *testing.T) *browser.Session {
	t.Helper()
	s, err := browser.NewSession(&browser.Config{Type: browser.MOCK_DRIVER_TYPE, MockPages: whatIfsMockPages()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return s
}

func TestExecuteWhatIfsScenario(t *testing.T) {
	dir := t.TempDir()
	snapshot := writeSnapshot(t, dir, `{"simulation": {"years": 30}}`)
	output := filepath.Join(dir, "out", "verification.png")
	r := newTestRunner(t, mockBaseURL)

	res := r.Execute(context.Background(), newMockSession(t), whatIfsScript(snapshot, output))
	if !res.Succeeded() {
		t.Fatalf("expected run to succeed, got %s", res.Summary())
	}
	if res.Err() != nil {
		t.Errorf("expected no error, got %v", res.Err())
	}
	if res.FailedStep != -1 {
		t.Errorf("expected no failing step, got %d", res.FailedStep)
	}
	if res.ArtifactPath != output {
		t.Errorf("expected artifact path %s, got %s", output, res.ArtifactPath)
	}
	if len(res.Steps) != 8 {
		t.Fatalf("expected 8 step records, got %d", len(res.Steps))
	}
	for i, rec := range res.Steps {
		if rec.Index != i || rec.Status != StepStatusPassed {
			t.Errorf("unexpected record %d: %+v", i, rec)
		}
	}
	b, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.HasPrefix(b, []byte("\x89PNG")) {
		t.Errorf("expected a png artifact")
	}
	if res.End.Before(res.Start) {
		t.Errorf("end %v before start %v", res.End, res.Start)
	}
}

func TestExecuteTwiceOverwritesArtifact(t *testing.T) {
	dir := t.TempDir()
	snapshot := writeSnapshot(t, dir, `{"simulation": {}}`)
	output := filepath.Join(dir, "verification.png")
	r := newTestRunner(t, mockBaseURL)
	script := whatIfsScript(snapshot, output)

	first := r.Execute(context.Background(), newMockSession(t), script)
	second := r.Execute(context.Background(), newMockSession(t), script)
	if !first.Succeeded() || !second.Succeeded() {
		t.Fatalf("expected both runs to succeed, got %q and %q", first.Summary(), second.Summary())
	}
	if first.ID == second.ID {
		t.Errorf("expected distinct run ids, got %s twice", first.ID)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("expected snapshot and one artifact in %s, got %d entries", dir, len(entries))
	}
}

func TestRunFailingStepIndex(t *testing.T) {
	p := newFakePage()
	p.add(chart, "chart")
	r := newTestRunner(t, "")
	script := Script{Steps: []types.Step{
		{Kind: types.StepKindNavigate, URL: "http://example.com/"},
		{Kind: types.StepKindClick, Locator: whatIfsLink, Timeout: 50},
		{Kind: types.StepKindScreenshot, Locator: chart, Output: filepath.Join(t.TempDir(), "x.png")},
	}}

	res := r.Run(context.Background(), p, script)
	if res.Succeeded() {
		t.Fatalf("expected run to fail")
	}
	if res.FailedStep != 1 {
		t.Errorf("expected failing step 1, got %d", res.FailedStep)
	}
	if res.ErrorKind != KindElementNotFound {
		t.Errorf("expected %s, got %s", KindElementNotFound, res.ErrorKind)
	}
	if !errors.Is(res.Err(), browser.ErrElementNotFound) {
		t.Errorf("expected error to wrap ErrElementNotFound, got %v", res.Err())
	}
	var serr *StepError
	if !errors.As(res.Err(), &serr) || serr.Index != 1 {
		t.Errorf("expected StepError for step 1, got %v", res.Err())
	}
	expected := []StepStatus{StepStatusPassed, StepStatusFailed, StepStatusSkipped}
	if len(res.Steps) != len(expected) {
		t.Fatalf("expected %d records, got %d", len(expected), len(res.Steps))
	}
	for i, s := range expected {
		if res.Steps[i].Status != s {
			t.Errorf("step %d: expected status %s, got %s", i, s, res.Steps[i].Status)
		}
	}
	if p.called("screenshot") != 0 {
		t.Errorf("expected no screenshot after the failing step")
	}
	if res.ArtifactPath != "" {
		t.Errorf("expected no artifact, got %s", res.ArtifactPath)
	}
}

func TestExecuteReleasesOnce(t *testing.T) {
	okScript := Script{Steps: []types.Step{{Kind: types.StepKindNavigate, URL: "http://example.com/"}}}
	failScript := Script{Steps: []types.Step{{Kind: types.StepKindAssertURL, Expected: "nope", Timeout: 20}}}
	tests := []struct {
		name       string
		session    *fakeSession
		script     Script
		succeeded  bool
		failedStep int
		kind       ErrorKind
	}{
		{"success", &fakeSession{page: newFakePage()}, okScript, true, -1, ""},
		{"step failure", &fakeSession{page: newFakePage()}, failScript, false, 0, KindAssertionFailed},
		{"teardown error", &fakeSession{page: newFakePage(), releaseErr: errors.New("boom")}, okScript, true, -1, ""},
		{"acquire failure", &fakeSession{acquireErr: fmt.Errorf("%w: %w", browser.ErrSession, errLaunch)}, okScript, false, -1, KindSessionError},
	}
	r := newTestRunner(t, "")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := r.Execute(context.Background(), tt.session, tt.script)
			if res.Succeeded() != tt.succeeded {
				t.Errorf("expected succeeded %v, got %s", tt.succeeded, res.Summary())
			}
			if res.FailedStep != tt.failedStep {
				t.Errorf("expected failing step %d, got %d", tt.failedStep, res.FailedStep)
			}
			if res.ErrorKind != tt.kind {
				t.Errorf("expected kind %q, got %q", tt.kind, res.ErrorKind)
			}
			if tt.session.releases != 1 {
				t.Errorf("expected exactly one release, got %d", tt.session.releases)
			}
		})
	}
}

func TestExecuteAcquireFailureKeepsCause(t *testing.T) {
	s := &fakeSession{acquireErr: fmt.Errorf("%w: %w", browser.ErrSession, errLaunch)}
	res := newTestRunner(t, "").Execute(context.Background(), s, Script{Steps: []types.Step{{Kind: types.StepKindNavigate, URL: "/"}}})
	if !errors.Is(res.Err(), errLaunch) {
		t.Errorf("expected cause to be kept, got %v", res.Err())
	}
	if len(res.Steps) != 0 {
		t.Errorf("expected no step records, got %d", len(res.Steps))
	}
}

func TestUploadMissingFile(t *testing.T) {
	p := newFakePage()
	p.add(fileInput, "input")
	r := newTestRunner(t, "")
	script := Script{Steps: []types.Step{
		{Kind: types.StepKindUpload, Locator: fileInput, File: filepath.Join(t.TempDir(), "missing.json")},
	}}
	res := r.Run(context.Background(), p, script)
	if res.ErrorKind != KindFileNotFound {
		t.Fatalf("expected %s, got %s", KindFileNotFound, res.Summary())
	}
	if len(p.calls) != 0 {
		t.Errorf("expected no page interaction, got %v", p.calls)
	}
}

func TestUploadInvalidFile(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		require []string
		kind    ErrorKind
	}{
		{"valid", `{"simulation": {"years": 30}}`, []string{"simulation", "simulation/years"}, ""},
		{"no requirements", `not json`, nil, ""},
		{"missing key", `{"other": 1}`, []string{"simulation"}, KindInvalidFile},
		{"not json", `{"simulation":`, []string{"simulation"}, KindInvalidFile},
	}
	r := newTestRunner(t, "")
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, fmt.Sprintf("snapshot-%d.json", i))
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			p := newFakePage()
			p.add(fileInput, "input")
			res := r.Run(context.Background(), p, Script{Steps: []types.Step{
				{Kind: types.StepKindUpload, Locator: fileInput, File: path, Require: tt.require},
			}})
			if res.ErrorKind != tt.kind {
				t.Fatalf("expected kind %q, got %s", tt.kind, res.Summary())
			}
			if tt.kind == "" && (len(p.files) != 1 || p.files[0] != path) {
				t.Errorf("expected %s to be uploaded, got %v", path, p.files)
			}
		})
	}
}

func TestUploadDirectory(t *testing.T) {
	p := newFakePage()
	p.add(fileInput, "input")
	res := newTestRunner(t, "").Run(context.Background(), p, Script{Steps: []types.Step{
		{Kind: types.StepKindUpload, Locator: fileInput, File: t.TempDir()},
	}})
	if res.ErrorKind != KindInvalidFile {
		t.Fatalf("expected %s, got %s", KindInvalidFile, res.Summary())
	}
}

func TestNavigationErrorStopsRun(t *testing.T) {
	p := newFakePage()
	p.navigateErr = fmt.Errorf("%w: net::ERR_NAME_NOT_RESOLVED", browser.ErrNavigation)
	p.add(whatIfsLink, "link")
	res := newTestRunner(t, "").Run(context.Background(), p, Script{Steps: []types.Step{
		{Kind: types.StepKindNavigate, URL: "http://unreachable.invalid/"},
		{Kind: types.StepKindClick, Locator: whatIfsLink},
	}})
	if res.ErrorKind != KindNavigationError || res.FailedStep != 0 {
		t.Fatalf("expected %s at step 0, got %s", KindNavigationError, res.Summary())
	}
	if p.called("find") != 0 || p.called("click") != 0 {
		t.Errorf("expected no further interaction, got %v", p.calls)
	}
}

func TestWaitForVisibleTimeout(t *testing.T) {
	tests := []struct {
		name   string
		hidden bool
	}{
		{"never present", false},
		{"present but hidden", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakePage()
			if tt.hidden {
				p.add(rerunButton, "re-run")
				p.hidden["re-run"] = true
			}
			r := newTestRunner(t, "")
			start := time.Now()
			res := r.Run(context.Background(), p, Script{Steps: []types.Step{
				{Kind: types.StepKindWaitForVisible, Locator: rerunButton, Timeout: 200},
			}})
			elapsed := time.Since(start)
			if res.ErrorKind != KindTimeout {
				t.Fatalf("expected %s, got %s", KindTimeout, res.Summary())
			}
			if !errors.Is(res.Err(), context.DeadlineExceeded) {
				t.Errorf("expected error to wrap context.DeadlineExceeded, got %v", res.Err())
			}
			if elapsed < 200*time.Millisecond || elapsed > time.Second {
				t.Errorf("expected timeout after about 200ms, took %s", elapsed)
			}
		})
	}
}

func TestClickWaitsForElement(t *testing.T) {
	dir := t.TempDir()
	snapshot := writeSnapshot(t, dir, `{}`)
	s := newMockSession(t)
	r := newTestRunner(t, mockBaseURL)
	// Re-run appears 150ms after the what-ifs page loaded.
	res := r.Execute(context.Background(), s, Script{Steps: []types.Step{
		{Kind: types.StepKindNavigate, URL: "/"},
		{Kind: types.StepKindUpload, Locator: fileInput, File: snapshot},
		{Kind: types.StepKindClick, Locator: whatIfsLink},
		{Kind: types.StepKindClick, Locator: rerunButton, Timeout: 2000},
	}})
	if !res.Succeeded() {
		t.Fatalf("expected run to succeed, got %s", res.Summary())
	}
}

func TestClickErrors(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(p *fakePage)
		loc    types.Locator
		kind   ErrorKind
		clicks int
	}{
		{"ok", func(p *fakePage) { p.add(whatIfsLink, "link") }, whatIfsLink, "", 1},
		{"not found", func(p *fakePage) {}, whatIfsLink, KindElementNotFound, 0},
		{"ambiguous", func(p *fakePage) { p.add(whatIfsLink, "a", "b") }, whatIfsLink, KindAmbiguousElement, 0},
		{"nth", func(p *fakePage) {
			p.add(types.Locator{Role: "link", Name: "What-Ifs", Nth: intPtr(1)}, "a", "b")
		}, types.Locator{Role: "link", Name: "What-Ifs", Nth: intPtr(1)}, "", 1},
		{"never visible", func(p *fakePage) {
			p.add(whatIfsLink, "link")
			p.hidden["link"] = true
		}, whatIfsLink, KindStepTimeout, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakePage()
			tt.setup(p)
			res := newTestRunner(t, "").Run(context.Background(), p, Script{Steps: []types.Step{
				{Kind: types.StepKindClick, Locator: tt.loc, Timeout: 100},
			}})
			if res.ErrorKind != tt.kind {
				t.Errorf("expected kind %q, got %s", tt.kind, res.Summary())
			}
			if p.called("click") != tt.clicks {
				t.Errorf("expected %d clicks, got %d", tt.clicks, p.called("click"))
			}
		})
	}
}

func TestAssertURL(t *testing.T) {
	const current = "http://localhost:5173/#/what-ifs"
	tests := []struct {
		expected string
		match    types.URLMatch
		kind     ErrorKind
	}{
		{current, "", ""},
		{current, types.URLMatchExact, ""},
		{"#/what-ifs", types.URLMatchSuffix, ""},
		{`#/what-ifs$`, types.URLMatchPattern, ""},
		{"#/what-ifs", types.URLMatchExact, KindAssertionFailed},
		{"#/results", types.URLMatchSuffix, KindAssertionFailed},
		{`^https://`, types.URLMatchPattern, KindAssertionFailed},
	}
	for _, tt := range tests {
		p := newFakePage()
		p.url = current
		res := newTestRunner(t, "").Run(context.Background(), p, Script{Steps: []types.Step{
			{Kind: types.StepKindAssertURL, Expected: tt.expected, Match: tt.match, Timeout: 30},
		}})
		if res.ErrorKind != tt.kind {
			t.Errorf("%s %q: expected kind %q, got %s", tt.match, tt.expected, tt.kind, res.Summary())
		}
	}
}

func TestAssertVisible(t *testing.T) {
	p := newFakePage()
	p.add(chart, "chart")
	p.add(rerunButton, "re-run")
	p.hidden["re-run"] = true
	r := newTestRunner(t, "")
	tests := []struct {
		loc  types.Locator
		kind ErrorKind
	}{
		{chart, ""},
		{rerunButton, KindAssertionFailed},
		{whatIfsLink, KindElementNotFound},
	}
	for _, tt := range tests {
		res := r.Run(context.Background(), p, Script{Steps: []types.Step{{Kind: types.StepKindAssertVisible, Locator: tt.loc}}})
		if res.ErrorKind != tt.kind {
			t.Errorf("%s: expected kind %q, got %s", tt.loc, tt.kind, res.Summary())
		}
	}
}

func TestScreenshotErrors(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tests := []struct {
		name   string
		shot   []byte
		output string
		kind   ErrorKind
	}{
		{"ok", []byte("\x89PNG"), filepath.Join(dir, "a", "shot.png"), ""},
		{"not writable", []byte("\x89PNG"), filepath.Join(blocker, "shot.png"), KindWriteError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakePage()
			p.add(chart, "chart")
			p.shot = tt.shot
			res := newTestRunner(t, "").Run(context.Background(), p, Script{Steps: []types.Step{
				{Kind: types.StepKindScreenshot, Locator: chart, Output: tt.output},
			}})
			if res.ErrorKind != tt.kind {
				t.Fatalf("expected kind %q, got %s", tt.kind, res.Summary())
			}
		})
	}
}

func TestScreenshotZeroSize(t *testing.T) {
	s, err := browser.NewSession(&browser.Config{Type: browser.MOCK_DRIVER_TYPE, MockPages: []browser.MockPage{
		{URL: mockBaseURL + "/", HTML: `<div data-testid="yearly-flows-chart" data-mock-height="0"></div>`},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	output := filepath.Join(t.TempDir(), "verification.png")
	res := newTestRunner(t, mockBaseURL).Execute(context.Background(), s, Script{Steps: []types.Step{
		{Kind: types.StepKindNavigate, URL: "/"},
		{Kind: types.StepKindScreenshot, Locator: chart, Output: output},
	}})
	if res.ErrorKind != KindCaptureError || res.FailedStep != 1 {
		t.Fatalf("expected %s at step 1, got %s", KindCaptureError, res.Summary())
	}
	if _, err := os.Stat(output); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected no artifact to be written")
	}
}

func TestRunAborted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := newFakePage()
	res := newTestRunner(t, "").Run(ctx, p, Script{Steps: []types.Step{
		{Kind: types.StepKindNavigate, URL: "http://example.com/"},
		{Kind: types.StepKindNavigate, URL: "http://example.com/2"},
	}})
	if res.ErrorKind != KindAborted || res.FailedStep != 0 {
		t.Fatalf("expected %s at step 0, got %s", KindAborted, res.Summary())
	}
	if len(res.Steps) != 2 || res.Steps[0].Status != StepStatusSkipped {
		t.Errorf("expected all steps to be skipped, got %+v", res.Steps)
	}
	if len(p.calls) != 0 {
		t.Errorf("expected no page interaction, got %v", p.calls)
	}
}

func TestRunAbortedWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res := newTestRunner(t, "").Run(ctx, newFakePage(), Script{Steps: []types.Step{
		{Kind: types.StepKindWaitForVisible, Locator: rerunButton, Timeout: 5000},
	}})
	if res.ErrorKind != KindAborted {
		t.Fatalf("expected %s, got %s", KindAborted, res.Summary())
	}
}

func TestStepTimeout(t *testing.T) {
	r, err := NewRunner(Options{DefaultTimeout: 2 * time.Second, MaxTimeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tests := []struct {
		timeout  int
		expected time.Duration
	}{
		{0, 2 * time.Second},
		{500, 500 * time.Millisecond},
		{20000, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := r.timeout(types.Step{Timeout: tt.timeout}); got != tt.expected {
			t.Errorf("timeout %d: expected %s, got %s", tt.timeout, tt.expected, got)
		}
	}
}

func TestResolveURL(t *testing.T) {
	tests := []struct {
		base     string
		u        string
		expected string
	}{
		{"", "http://example.com/a", "http://example.com/a"},
		{"http://localhost:5173", "/", "http://localhost:5173/"},
		{"http://localhost:5173/app/", "#/what-ifs", "http://localhost:5173/app/#/what-ifs"},
		{"http://localhost:5173/app/", "http://other/", "http://other/"},
	}
	for _, tt := range tests {
		r := newTestRunner(t, tt.base)
		got, err := r.resolveURL(tt.u)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != tt.expected {
			t.Errorf("%s + %s: expected %s, got %s", tt.base, tt.u, tt.expected, got)
		}
	}
}
