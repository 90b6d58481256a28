package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jakopako/goverify/internal/log"
)

type pageOpener func(ctx context.Context, c *Config) (Page, error)

// Session owns exactly one browser and one page for the duration of one run.
// A session can only be acquired once, a new run needs a new session.
type Session struct {
	*Config
	open pageOpener

	mu       sync.Mutex
	acquired bool
	page     Page
	released bool
}

// NewSession returns a session for the configured driver. Nothing is
// launched before Acquire is called.
func NewSession(c *Config) (*Session, error) {
	c.defaults()
	switch c.Type {
	case CHROME_DRIVER_TYPE, MOCK_DRIVER_TYPE:
	default:
		return nil, fmt.Errorf("driver of type '%s' not implemented", c.Type)
	}
	return &Session{Config: c, open: newPage}, nil
}

// Acquire launches the browser and returns its page. It fails fast with an
// error wrapping ErrSession if the browser cannot be launched.
func (s *Session) Acquire(ctx context.Context) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acquired {
		return nil, fmt.Errorf("%w: session already acquired", ErrSession)
	}
	s.acquired = true

	logger := log.LoggerFromContext(ctx).With(slog.String("driver", string(s.Type)))
	logger.Debug("acquiring browser session", slog.Bool("headless", s.Headless))
	p, err := s.open(ctx, s.Config)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSession, err)
	}
	s.page = p
	return p, nil
}

// Release tears down the page and the browser. It is safe to call Release
// multiple times and before Acquire, only the first call has an effect.
func (s *Session) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	s.released = true
	if s.page == nil {
		return nil
	}
	if err := s.page.Close(); err != nil {
		return fmt.Errorf("%w: teardown: %w", ErrSession, err)
	}
	return nil
}
