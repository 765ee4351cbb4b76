// Package shell exposes the loopback HTTP API the desktop UI talks to:
// placing and controlling calls, the live event stream, call history, and
// push subscription management.
package shell

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dverbeek/palaver/internal/call"
	"github.com/dverbeek/palaver/internal/history"
	"github.com/dverbeek/palaver/internal/notify"
	"github.com/dverbeek/palaver/internal/relay"
)

type Options struct {
	ListenAddr string
	AccountID  string
	DeviceID   string

	Manager  *call.Manager
	Store    *history.Store
	Notifier *notify.Notifier
	Relay    *relay.Relay // nil when the embedded relay is disabled

	// Broker is shared with the room and ring bridges; New creates one when
	// it is nil.
	Broker *Broker

	Logger *slog.Logger
}

type Server struct {
	opts   Options
	broker *Broker
	logger *slog.Logger
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	broker := opts.Broker
	if broker == nil {
		broker = NewBroker(logger)
	}
	return &Server{
		opts:   opts,
		broker: broker,
		logger: logger,
	}
}

// OnPhase, OnNotice and OnClose are wired as the call manager's callbacks so
// session state changes reach the UI stream.
func (s *Server) OnPhase(snap call.Snapshot) {
	s.broker.Publish("call.phase", snap)
}

func (s *Server) OnNotice(n call.Notice) {
	s.broker.Publish("call.notice", n)
}

func (s *Server) OnClose(o *call.Outcome) {
	s.broker.Publish("call.closed", gin.H{
		"room_id": o.Invitation.RoomID,
		"reason":  string(o.Reason),
		"status":  o.Status,
	})
}

// OnIncoming surfaces a pushed invitation; rejection when busy already
// happened inside the manager.
func (s *Server) OnIncoming(inv *call.Invitation) {
	if _, err := s.opts.Manager.SurfaceIncoming(inv); err != nil {
		s.logger.Info("incoming invitation not surfaced", "room_id", inv.RoomID, "error", err)
		return
	}
	s.broker.Publish("call.incoming", inv)
}

// Router builds the gin engine. Middleware must be installed here, before
// the routes are registered, because gin snapshots each route's handler
// chain at registration time.
func (s *Server) Router(middleware ...gin.HandlerFunc) *gin.Engine {
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware...)

	api := router.Group("/api")
	{
		api.GET("/state", s.getState)
		api.GET("/events", s.streamEvents)

		api.POST("/calls", s.placeCall)
		api.POST("/calls/join", s.joinCall)
		api.POST("/call/accept", s.acceptCall)
		api.POST("/call/hangup", s.hangUpCall)
		api.POST("/call/close", s.closeCall)

		api.POST("/room/events", s.postRoomEvent)

		api.GET("/history", s.listHistory)

		api.GET("/push/key", s.getPushKey)
		api.POST("/push/subscribe", s.subscribePush)
		api.DELETE("/push/subscribe", s.unsubscribePush)

		api.GET("/turn-config", s.getTURNConfig)
	}
	return router
}

// Run serves the API until the context is canceled.
func (s *Server) Run(ctx context.Context, middleware ...gin.HandlerFunc) error {
	router := s.Router(middleware...)
	srv := &http.Server{
		Addr:        s.opts.ListenAddr,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ui api listening", "addr", s.opts.ListenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) getState(c *gin.Context) {
	state := gin.H{
		"account_id": s.opts.AccountID,
		"device_id":  s.opts.DeviceID,
		"call":       nil,
	}
	if active := s.opts.Manager.Active(); active != nil {
		state["call"] = active.Snapshot()
	}
	c.JSON(http.StatusOK, state)
}

type placeCallRequest struct {
	InviteeIDs []string `json:"invitee_ids" binding:"required,min=1"`
	Group      bool     `json:"group"`
	Video      bool     `json:"video"`
}

func (s *Server) placeCall(c *gin.Context) {
	var req placeCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	inv := call.NewOutgoingInvitation(s.opts.AccountID, req.InviteeIDs, req.Group, req.Video)
	active, err := s.opts.Manager.Place(inv)
	if err != nil {
		s.replyCallError(c, err)
		return
	}
	c.JSON(http.StatusCreated, active.Snapshot())
}

type joinCallRequest struct {
	RoomID string `json:"room_id" binding:"required"`
	Video  bool   `json:"video"`
}

func (s *Server) joinCall(c *gin.Context) {
	var req joinCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	inv := &call.Invitation{
		RoomID:    req.RoomID,
		InviterID: s.opts.AccountID,
		Kind:      call.KindGroup,
		Media:     call.MediaAudio,
	}
	if req.Video {
		inv.Media = call.MediaVideo
	}
	active, err := s.opts.Manager.JoinExisting(inv)
	if err != nil {
		s.replyCallError(c, err)
		return
	}
	c.JSON(http.StatusCreated, active.Snapshot())
}

func (s *Server) acceptCall(c *gin.Context) {
	active := s.opts.Manager.Active()
	if active == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active call"})
		return
	}
	if err := active.Accept(); err != nil {
		s.replyCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, active.Snapshot())
}

func (s *Server) hangUpCall(c *gin.Context) {
	active := s.opts.Manager.Active()
	if active == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active call"})
		return
	}
	active.HangUp()
	c.JSON(http.StatusOK, gin.H{"status": "closing"})
}

type closeCallRequest struct {
	Reason    string `json:"reason"`
	Immediate bool   `json:"immediate"`
}

// closeCall lets the UI shut the call overlay down with an explicit reason,
// e.g. when the renderer process is about to exit.
func (s *Server) closeCall(c *gin.Context) {
	active := s.opts.Manager.Active()
	if active == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active call"})
		return
	}
	var req closeCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reason := call.CloseReason(req.Reason)
	if reason == "" {
		reason = call.ReasonHangUpByMe
	}
	var opts *call.CloseOptions
	if req.Immediate {
		zero := time.Duration(0)
		opts = &call.CloseOptions{Delay: &zero}
	}
	active.RequestClose(reason, opts)
	c.JSON(http.StatusOK, gin.H{"status": "closing"})
}

func (s *Server) replyCallError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, call.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": "another call is active"})
	case errors.Is(err, call.ErrNotRinging), errors.Is(err, call.ErrAcceptInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, call.ErrSessionClosed):
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

type roomEventRequest struct {
	Kind          string `json:"kind" binding:"required"`
	RoomID        string `json:"room_id" binding:"required"`
	ParticipantID string `json:"participant_id"`
	Quality       string `json:"quality"`
	Detail        string `json:"detail"`
}

// postRoomEvent is how the renderer reports media room progress back to the
// coordinator: connects, participant churn, and quality changes.
func (s *Server) postRoomEvent(c *gin.Context) {
	var req roomEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.opts.Manager.HandleRoomEvent(call.RoomEvent{
		Kind:          call.RoomEventKind(req.Kind),
		RoomID:        req.RoomID,
		ParticipantID: req.ParticipantID,
		Quality:       parseQuality(req.Quality),
		Detail:        req.Detail,
	})
	c.JSON(http.StatusAccepted, gin.H{"status": "handled"})
}

func parseQuality(q string) call.QualityLevel {
	switch q {
	case "good":
		return call.QualityGood
	case "poor":
		return call.QualityPoor
	case "lost":
		return call.QualityLost
	}
	return call.QualityUnknown
}

func (s *Server) streamEvents(c *gin.Context) {
	events, cancel := s.broker.Subscribe()
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	// Replay current state first so a reconnecting UI does not miss the
	// active call.
	if active := s.opts.Manager.Active(); active != nil {
		c.SSEvent("call.phase", active.Snapshot())
		c.Writer.Flush()
	}

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, ev.Payload)
			return true
		case <-clientGone:
			return false
		}
	})
}

func (s *Server) listHistory(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	records, err := s.opts.Store.List(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": records})
}

func (s *Server) getPushKey(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"publicKey": s.opts.Notifier.PublicKey()})
}

type pushSubscribeKeys struct {
	P256DH string `json:"p256dh" binding:"required"`
	Auth   string `json:"auth" binding:"required"`
}

type pushSubscribeRequest struct {
	Endpoint string            `json:"endpoint" binding:"required"`
	Keys     pushSubscribeKeys `json:"keys" binding:"required"`
}

func (s *Server) subscribePush(c *gin.Context) {
	var req pushSubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sub := &history.PushSubscription{
		Endpoint: req.Endpoint,
		P256DH:   req.Keys.P256DH,
		Auth:     req.Keys.Auth,
	}
	if err := s.opts.Store.SaveSubscription(c.Request.Context(), sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, sub)
}

func (s *Server) unsubscribePush(c *gin.Context) {
	var req struct {
		Endpoint string `json:"endpoint" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.opts.Store.DeleteSubscription(c.Request.Context(), req.Endpoint); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "unsubscribed"})
}

func (s *Server) getTURNConfig(c *gin.Context) {
	if s.opts.Relay == nil {
		c.JSON(http.StatusOK, gin.H{"iceServers": []relay.ICEServer{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"iceServers": s.opts.Relay.ICEServers(c.Request.Host),
	})
}

func intQuery(c *gin.Context, key string, fallback int) int {
	if n, err := strconv.Atoi(c.Query(key)); err == nil && n >= 0 {
		return n
	}
	return fallback
}
