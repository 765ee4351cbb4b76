package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dverbeek/palaver/internal/call"
	"github.com/dverbeek/palaver/internal/config"
	"github.com/dverbeek/palaver/internal/history"
	"github.com/dverbeek/palaver/internal/notify"
	"github.com/dverbeek/palaver/internal/relay"
	"github.com/dverbeek/palaver/internal/shell"
	"github.com/dverbeek/palaver/internal/signaling"
)

const AppVersion = "1.0.0"

func main() {
	configDir := flag.String("config-dir", "", "directory holding config.json and keys/ (default: executable directory)")
	flag.Parse()

	logger := newLogger()
	logger.Info(fmt.Sprintf("Palaver daemon v%s", AppVersion))

	cfg, err := config.Load(*configDir)
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := history.Open(cfg.DatabasePath, cfg.AccountID, logger)
	if err != nil {
		logger.Error("failed to open call history", "error", err)
		os.Exit(1)
	}

	notifier := notify.New(cfg.VAPIDKeys, store, logger)
	reporter := notify.NewReporter(store, notifier, cfg.AccountID)

	var turnRelay *relay.Relay
	if cfg.RelayEnabled {
		turnRelay, err = relay.Start(cfg.RelayPort, cfg.RelayRealm, cfg.RelayCreds, logger)
		if err != nil {
			logger.Error("failed to start embedded relay", "error", err)
			os.Exit(1)
		}
		defer turnRelay.Close()
		logger.Info("embedded relay started", "port", cfg.RelayPort)
	}

	broker := shell.NewBroker(logger)
	rooms := shell.NewRoomBridge(broker)
	ring := shell.NewRingBridge(broker)

	// The manager and the UI server reference each other through these
	// variables; the signaling pumps only start once both are in place.
	var manager *call.Manager
	var server *shell.Server

	sig := signaling.NewSupervisor(signaling.Config{
		ServerURL: cfg.SignalingURL,
		AuthToken: cfg.AuthToken,
		DeviceID:  cfg.DeviceID,
		OnSignal:  func(s call.Signal) { manager.HandleSignal(s) },
		OnInvite:  func(inv *call.Invitation) { server.OnIncoming(inv) },
		Logger:    logger,
	})

	manager = call.NewManager(call.ManagerOptions{
		Signaling: sig,
		Rooms:     rooms,
		Devices:   shell.BridgeDevices{},
		Reporter:  reporter,
		Ring:      ring,
		MuteRing:  cfg.MuteRing,
		OnPhase:   func(s call.Snapshot) { server.OnPhase(s) },
		OnNotice:  func(n call.Notice) { server.OnNotice(n) },
		OnClose:   func(o *call.Outcome) { server.OnClose(o) },
		Logger:    logger,
	})

	server = shell.New(shell.Options{
		ListenAddr: cfg.ListenAddr,
		AccountID:  cfg.AccountID,
		DeviceID:   cfg.DeviceID,
		Manager:    manager,
		Store:      store,
		Notifier:   notifier,
		Relay:      turnRelay,
		Broker:     broker,
		Logger:     logger,
	})

	go func() {
		if err := sig.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("signaling supervisor stopped", "error", err)
		}
	}()

	if err := server.Run(ctx, slogGinLogger(logger)); err != nil {
		logger.Error("ui api server failed", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown: end the active call, if any, so the other side is
	// not left ringing.
	if active := manager.Active(); active != nil {
		active.HangUp()
		<-active.Done()
	}
	logger.Info("shut down cleanly")
}
