package call

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ManagerOptions wire the Manager to the collaborators shared by every
// session it creates.
type ManagerOptions struct {
	Signaling SignalingClient
	Rooms     RoomProvider
	Devices   DeviceChecker
	Reporter  OutcomeReporter
	Ring      RingTone
	MuteRing  bool

	OnPhase  func(Snapshot)
	OnNotice func(Notice)
	OnClose  func(*Outcome)

	Logger *slog.Logger
}

// Manager owns the "at most one active call" policy. A second invitation
// arriving while one is active is rejected at intake, never queued.
type Manager struct {
	opts   ManagerOptions
	logger *slog.Logger

	// closeDelay overrides the finalization delay on sessions this manager
	// creates. Zero keeps the default; tests shorten it.
	closeDelay time.Duration

	mu     sync.Mutex
	active *Coordinator
}

func NewManager(opts ManagerOptions) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{opts: opts, logger: logger}
}

// Place starts an outgoing call.
func (m *Manager) Place(inv *Invitation) (*Coordinator, error) {
	return m.adopt(inv, RoleCaller)
}

// SurfaceIncoming surfaces a received invitation. When another call is
// already active the invitation is declined back over signaling so the
// caller's busy-line tracking stays accurate.
func (m *Manager) SurfaceIncoming(inv *Invitation) (*Coordinator, error) {
	c, err := m.adopt(inv, RoleCallee)
	if err == ErrBusy {
		go func() {
			if rejectErr := m.opts.Signaling.Reject(context.Background(), inv); rejectErr != nil {
				m.logger.Debug("busy reject failed", "room_id", inv.RoomID, "error", rejectErr)
			}
		}()
	}
	return c, err
}

// JoinExisting joins an already connected group room.
func (m *Manager) JoinExisting(inv *Invitation) (*Coordinator, error) {
	return m.adopt(inv, RoleJoiner)
}

// Active returns the currently live session, if any.
func (m *Manager) Active() *Coordinator {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// HandleSignal routes a signaling push event to the active session. Events
// with no matching session are protocol races and are dropped.
func (m *Manager) HandleSignal(s Signal) {
	c := m.Active()
	if c == nil || (s.RoomID != "" && s.RoomID != c.RoomID()) {
		m.logger.Debug("signal without matching session dropped", "room_id", s.RoomID, "kind", s.Kind)
		return
	}
	c.HandleSignal(s)
}

// HandleRoomEvent routes a media room event to the active session.
func (m *Manager) HandleRoomEvent(ev RoomEvent) {
	c := m.Active()
	if c == nil || (ev.RoomID != "" && ev.RoomID != c.RoomID()) {
		return
	}
	c.HandleRoomEvent(ev)
}

func (m *Manager) adopt(inv *Invitation, role Role) (*Coordinator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return nil, ErrBusy
	}
	muteRing := m.opts.MuteRing
	if role == RoleJoiner {
		// Late group joins never ring; the call is already in progress.
		muteRing = true
	}
	c, err := New(Options{
		Invitation: inv,
		Role:       role,
		Signaling:  m.opts.Signaling,
		Rooms:      m.opts.Rooms,
		Devices:    m.opts.Devices,
		Reporter:   m.opts.Reporter,
		Ring:       m.opts.Ring,
		MuteRing:   muteRing,
		OnPhase:    m.opts.OnPhase,
		OnNotice:   m.opts.OnNotice,
		OnClose:    m.opts.OnClose,
		Logger:     m.logger,
	})
	if err != nil {
		return nil, err
	}
	if m.closeDelay > 0 {
		c.closeDelay = m.closeDelay
	}
	m.active = c
	go func() {
		<-c.Done()
		m.release(c)
	}()
	c.Start()
	return c, nil
}

func (m *Manager) release(c *Coordinator) {
	m.mu.Lock()
	if m.active == c {
		m.active = nil
	}
	m.mu.Unlock()
}
