package upstream

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
	"github.com/pion/logging"
)

// SupervisorConfig configures a Supervisor.
type SupervisorConfig struct {
	// Link is the link to keep open. Required.
	Link *Link

	// MinDelay and MaxDelay bound the reconnect backoff
	// (defaults: 500ms and 10s).
	MinDelay time.Duration
	MaxDelay time.Duration

	// OnLost is called after each connected session ends, before the next
	// reconnect attempt.
	OnLost func()

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Supervisor keeps a Link open, reconnecting with exponential backoff.
type Supervisor struct {
	link    *Link
	backoff *backoff.Backoff
	onLost  func()
	log     logging.LeveledLogger
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(config SupervisorConfig) (*Supervisor, error) {
	if config.Link == nil {
		return nil, ErrNoOpener
	}
	if config.MinDelay == 0 {
		config.MinDelay = 500 * time.Millisecond
	}
	if config.MaxDelay == 0 {
		config.MaxDelay = 10 * time.Second
	}

	s := &Supervisor{
		link: config.Link,
		backoff: &backoff.Backoff{
			Min:    config.MinDelay,
			Max:    config.MaxDelay,
			Factor: 2,
			Jitter: true,
		},
		onLost: config.OnLost,
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("upstream-supervisor")
	}
	return s, nil
}

// Run keeps the link open until ctx is cancelled, then closes it.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.link.Close()

	for {
		if err := s.link.Open(); err != nil {
			d := s.backoff.Duration()
			if s.log != nil {
				s.log.Debugf("device open failed (attempt %.0f), retrying in %s: %v", s.backoff.Attempt(), d, err)
			}
			select {
			case <-time.After(d):
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		s.backoff.Reset()

		select {
		case <-s.link.Lost():
			if s.onLost != nil {
				s.onLost()
			}
		case <-ctx.Done():
			return ctx.Err()
		}

		select {
		case <-time.After(s.backoff.Duration()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
