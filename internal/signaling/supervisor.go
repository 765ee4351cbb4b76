package signaling

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dverbeek/palaver/internal/call"
)

const (
	redialMin = time.Second
	redialMax = time.Minute
)

// Supervisor keeps one Client connected, redialing with exponential backoff
// when the socket drops. It implements call.SignalingClient by delegating to
// the current connection, so sessions survive a reconnect transparently.
type Supervisor struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.RWMutex
	current *Client
}

func NewSupervisor(cfg Config) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{cfg: cfg, logger: logger}
}

// Run dials and redials until the context is canceled.
func (s *Supervisor) Run(ctx context.Context) error {
	backoff := redialMin
	for {
		client := NewClient(s.cfg)
		err := client.Connect(ctx)
		if err == nil {
			backoff = redialMin
			s.mu.Lock()
			s.current = client
			s.mu.Unlock()

			select {
			case <-client.Done():
				s.logger.Warn("signaling connection lost, redialing")
			case <-ctx.Done():
				client.Close()
				return ctx.Err()
			}

			s.mu.Lock()
			s.current = nil
			s.mu.Unlock()
			continue
		}

		s.logger.Warn("signaling dial failed", "error", err, "retry_in", backoff.String())
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		if backoff *= 2; backoff > redialMax {
			backoff = redialMax
		}
	}
}

func (s *Supervisor) client() (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil, ErrClosed
	}
	return s.current, nil
}

func (s *Supervisor) Invite(ctx context.Context, inv *call.Invitation) (*call.Credentials, error) {
	c, err := s.client()
	if err != nil {
		return nil, err
	}
	return c.Invite(ctx, inv)
}

func (s *Supervisor) InviteInGroup(ctx context.Context, inv *call.Invitation) (*call.Credentials, error) {
	c, err := s.client()
	if err != nil {
		return nil, err
	}
	return c.InviteInGroup(ctx, inv)
}

func (s *Supervisor) Accept(ctx context.Context, inv *call.Invitation) (*call.Credentials, error) {
	c, err := s.client()
	if err != nil {
		return nil, err
	}
	return c.Accept(ctx, inv)
}

func (s *Supervisor) Reject(ctx context.Context, inv *call.Invitation) error {
	c, err := s.client()
	if err != nil {
		return err
	}
	return c.Reject(ctx, inv)
}

func (s *Supervisor) Cancel(ctx context.Context, inv *call.Invitation) error {
	c, err := s.client()
	if err != nil {
		return err
	}
	return c.Cancel(ctx, inv)
}

func (s *Supervisor) HangUp(ctx context.Context, inv *call.Invitation) error {
	c, err := s.client()
	if err != nil {
		return err
	}
	return c.HangUp(ctx, inv)
}

func (s *Supervisor) TokenByRoomID(ctx context.Context, roomID string) (*call.Credentials, error) {
	c, err := s.client()
	if err != nil {
		return nil, err
	}
	return c.TokenByRoomID(ctx, roomID)
}

var _ call.SignalingClient = (*Supervisor)(nil)
