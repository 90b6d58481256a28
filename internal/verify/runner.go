// Package verify executes interaction scripts against a browser page and
// turns their outcome into a RunResult.
package verify

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/jakopako/goverify/internal/artifact"
	"github.com/jakopako/goverify/internal/browser"
	"github.com/jakopako/goverify/internal/log"
	"github.com/jakopako/goverify/internal/types"
)

const (
	DefaultTimeout      = 5 * time.Second
	DefaultMaxTimeout   = 20 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
)

// Script is a named, ordered list of steps.
type Script struct {
	Name  string       `yaml:"name,omitempty"`
	Steps []types.Step `yaml:"steps"`
}

// Session is the part of browser.Session the runner depends on.
type Session interface {
	Acquire(ctx context.Context) (browser.Page, error)
	Release() error
}

// Options configure a Runner. Zero values are replaced by the defaults.
type Options struct {
	BaseURL        string
	DefaultTimeout time.Duration
	MaxTimeout     time.Duration
	PollInterval   time.Duration
}

// Runner executes scripts step by step. A Runner holds no per-run state and
// can be used for several runs, each with its own session.
type Runner struct {
	opts Options
	base *url.URL
	save func(data []byte, path string) error
	now  func() time.Time
}

func NewRunner(opts Options) (*Runner, error) {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.MaxTimeout <= 0 {
		opts.MaxTimeout = DefaultMaxTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	r := &Runner{
		opts: opts,
		save: artifact.Save,
		now:  time.Now,
	}
	if opts.BaseURL != "" {
		u, err := url.Parse(opts.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base url %q: %w", opts.BaseURL, err)
		}
		r.base = u
	}
	return r, nil
}

type runState string

const (
	stateIdle            runState = "idle"
	stateSessionAcquired runState = "session-acquired"
	stateRunning         runState = "running"
	stateSucceeded       runState = "succeeded"
	stateFailed          runState = "failed"
	stateTornDown        runState = "torn-down"
)

// Execute acquires a page from the session, runs the script against it and
// releases the session on every exit path. Teardown errors are logged and
// never replace the outcome of the run.
func (r *Runner) Execute(ctx context.Context, s Session, script Script) RunResult {
	id := uuid.NewString()
	logger := log.LoggerFromContext(ctx).With(slog.String("run", id))
	if script.Name != "" {
		logger = logger.With(slog.String("script", script.Name))
	}
	ctx = log.ContextWithLogger(ctx, logger)
	logger.Debug("state transition", slog.String("state", string(stateIdle)))

	defer func() {
		if err := s.Release(); err != nil {
			logger.Error("failed to tear down browser session", slog.Any("error", err))
		}
		logger.Debug("state transition", slog.String("state", string(stateTornDown)))
	}()

	page, err := s.Acquire(ctx)
	if err != nil {
		b := newResultBuilder(id, script.Name, r.now())
		serr := &StepError{Index: -1, Kind: KindSessionError, Err: err}
		logger.Error("failed to acquire browser session", slog.Any("error", err))
		logger.Debug("state transition", slog.String("state", string(stateFailed)))
		return b.fail(serr, r.now())
	}
	logger.Debug("state transition", slog.String("state", string(stateSessionAcquired)))
	return r.run(ctx, id, page, script)
}

// Run executes the script against an already acquired page. The first
// failing step aborts the run.
func (r *Runner) Run(ctx context.Context, page browser.Page, script Script) RunResult {
	return r.run(ctx, uuid.NewString(), page, script)
}

func (r *Runner) run(ctx context.Context, id string, page browser.Page, script Script) RunResult {
	logger := log.LoggerFromContext(ctx)
	b := newResultBuilder(id, script.Name, r.now())
	for i, st := range script.Steps {
		if ctx.Err() != nil {
			return r.abort(ctx, b, script.Steps, i, ctx.Err())
		}
		logger.Debug("state transition", slog.String("state", string(stateRunning)), slog.Int("step", i))
		logger.Info(fmt.Sprintf("running step %d: %s", i, st.Describe()))
		start := r.now()
		path, err := r.runStep(ctx, page, st)
		rec := StepRecord{
			Index:       i,
			Kind:        st.Kind,
			Description: st.Describe(),
			Status:      StepStatusPassed,
			Duration:    r.now().Sub(start),
		}
		if err != nil {
			rec.Status = StepStatusFailed
			rec.Error = err.Error()
			b.record(rec)
			return r.abort(ctx, b, script.Steps, i, err)
		}
		b.record(rec)
		if path != "" {
			b.artifact(path)
			logger.Info(fmt.Sprintf("wrote screenshot to %s", path))
		}
	}
	logger.Debug("state transition", slog.String("state", string(stateSucceeded)))
	return b.succeed(r.now())
}

// abort records the remaining steps as skipped and builds the failed result.
func (r *Runner) abort(ctx context.Context, b *resultBuilder, steps []types.Step, i int, err error) RunResult {
	logger := log.LoggerFromContext(ctx)
	serr := &StepError{Index: i, Kind: classify(ctx, steps[i].Kind, err), Step: steps[i], Err: err}
	if len(b.res.Steps) == i {
		b.record(StepRecord{Index: i, Kind: steps[i].Kind, Description: steps[i].Describe(), Status: StepStatusSkipped})
	}
	for j := i + 1; j < len(steps); j++ {
		b.record(StepRecord{Index: j, Kind: steps[j].Kind, Description: steps[j].Describe(), Status: StepStatusSkipped})
	}
	logger.Error(serr.Error())
	logger.Debug("state transition", slog.String("state", string(stateFailed)))
	return b.fail(serr, r.now())
}

// timeout returns the effective timeout of a step.
func (r *Runner) timeout(st types.Step) time.Duration {
	t := st.TimeoutDuration()
	if t <= 0 {
		t = r.opts.DefaultTimeout
	}
	if t > r.opts.MaxTimeout {
		t = r.opts.MaxTimeout
	}
	return t
}

func (r *Runner) runStep(ctx context.Context, page browser.Page, st types.Step) (string, error) {
	timeout := r.timeout(st)
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch st.Kind {
	case types.StepKindNavigate:
		return "", r.navigate(sctx, page, st)
	case types.StepKindUpload:
		return "", r.upload(sctx, page, st)
	case types.StepKindClick:
		return "", r.click(sctx, page, st)
	case types.StepKindAssertURL:
		return "", r.assertURL(sctx, page, st)
	case types.StepKindAssertVisible:
		return "", r.assertVisible(sctx, page, st)
	case types.StepKindWaitForVisible:
		return "", r.waitForVisible(sctx, page, st, timeout)
	case types.StepKindScreenshot:
		return r.screenshot(sctx, page, st)
	default:
		return "", fmt.Errorf("step kind %q not implemented", st.Kind)
	}
}

// resolveURL resolves u against the base url if it is relative.
func (r *Runner) resolveURL(u string) (string, error) {
	ref, err := url.Parse(u)
	if err != nil {
		return "", fmt.Errorf("%w: invalid url %q: %w", browser.ErrNavigation, u, err)
	}
	if ref.IsAbs() || r.base == nil {
		return u, nil
	}
	return r.base.ResolveReference(ref).String(), nil
}

// poll calls fn until it reports done or ctx is done. On expiry the last
// error returned by fn is joined with the context's error.
func (r *Runner) poll(ctx context.Context, fn func() (bool, error)) error {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()
	var last error
	for {
		done, err := fn()
		if done {
			return err
		}
		if err != nil && (ctx.Err() == nil || last == nil) {
			last = err
		}
		select {
		case <-ctx.Done():
			if last != nil {
				return joinDeadline(last, ctx.Err())
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func joinDeadline(last, ctxErr error) error {
	return fmt.Errorf("%w (%w)", last, ctxErr)
}
