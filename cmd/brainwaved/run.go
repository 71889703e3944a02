package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wongchs/brainwaved/internal/alert"
	"github.com/wongchs/brainwaved/internal/config"
	"github.com/wongchs/brainwaved/internal/frame"
	"github.com/wongchs/brainwaved/internal/lifecycle"
	"github.com/wongchs/brainwaved/internal/location"
	"github.com/wongchs/brainwaved/internal/server"
	"github.com/wongchs/brainwaved/internal/session"
	"github.com/wongchs/brainwaved/internal/store"
	"github.com/wongchs/brainwaved/internal/transport"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the wearable and serve the UI API",
	Long: `Run the daemon: open the device connection, keep it alive across
drops, persist detected seizures, fan out alerts and serve the HTTP and
WebSocket API for the UI client.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	setupLogging(cfg.LogLevel)

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()
	if err := store.Migrate(db); err != nil {
		return fmt.Errorf("migrating store: %w", err)
	}
	slog.Info("[STORE] ready", "path", cfg.Store.Path)

	adapter, err := newAdapter(cfg)
	if err != nil {
		return err
	}
	peer := transport.PeerIdentity{Name: cfg.Device.Name, Address: cfg.Device.Address}

	gate := &lifecycle.ForegroundGate{}
	hub := server.NewHub()

	// The supervisor's listeners close over srv; it is assigned before
	// Start so nothing fires against a nil server.
	var srv *server.Server

	notifier := alert.NotifierFunc(func(ctx context.Context, n alert.Notification) error {
		slog.Info("[NOTIFY] "+n.Title, "kind", n.Kind.String(), "body", n.Body)
		srv.BroadcastNotification(n.Kind.String(), n.Title, n.Body, n.DeepLinkID)
		return nil
	})

	pipeline := &alert.Pipeline{
		Store:    db,
		Notifier: notifier,
		SMS:      newSMSSender(cfg),
		Location: newLocationProvider(cfg),
		OnSeizure: func(rec store.SeizureRecord) {
			srv.BroadcastSeizure(rec)
		},
	}

	statusNotify := alert.NewStatusNotifier(gate, notifier)
	onState := func(state session.State, detail string) {
		srv.SetStatus(state, detail)
		statusNotify(state, detail)
	}

	onMessage := func(msg frame.Message) {
		switch msg.Kind {
		case frame.KindSeizure:
			slog.Warn("[EEG] seizure detected", "timestamp", msg.Timestamp, "samples", len(msg.Samples))
			srv.BroadcastTelemetry(msg.Samples)
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				pipeline.HandleSeizure(ctx, msg)
			}()
		case frame.KindTelemetry:
			srv.BroadcastTelemetry(msg.Samples)
		default:
			slog.Warn("[EEG] unrecognized frame", "raw", string(msg.Raw))
		}
	}

	sup := session.NewSupervisor(adapter, peer, session.SupervisorOptions{
		RetryDelay:     cfg.Device.ReconnectDelay,
		MaxBufferBytes: cfg.Frame.MaxBufferBytes,
	}, onState, onMessage)

	srv = server.New(db, hub, gate, sup)

	httpSrv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Handler(),
	}
	httpErr := make(chan error, 1)
	go func() {
		slog.Info("[HTTP] listening", "addr", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	if err := sup.Start(); err != nil {
		return fmt.Errorf("starting connection supervisor: %w", err)
	}
	slog.Info("[BT] supervising connection", "device", peer.String(), "transport", cfg.Device.Transport)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("[MAIN] shutting down", "signal", sig.String())
	case err := <-httpErr:
		slog.Error("[HTTP] server failed", "error", err)
		sup.Stop()
		return err
	}

	sup.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("[HTTP] shutdown", "error", err)
	}
	return nil
}

// newAdapter selects the transport from config.
func newAdapter(cfg *config.Config) (transport.Adapter, error) {
	switch cfg.Device.Transport {
	case "bluez":
		return transport.NewBluezAdapter(), nil
	case "ble":
		return &transport.BLEAdapter{}, nil
	case "serial":
		return &transport.SerialAdapter{Port: cfg.Device.SerialPort, Baud: cfg.Device.SerialBaud}, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Device.Transport)
	}
}

// newSMSSender returns the gateway sender when configured, otherwise a
// logging stand-in so alert fan-out still exercises every leg.
func newSMSSender(cfg *config.Config) alert.Sender {
	if cfg.SMS.GatewayURL != "" {
		return &alert.GatewaySender{URL: cfg.SMS.GatewayURL, APIKey: cfg.SMS.APIKey}
	}
	return &alert.LogSender{}
}

// newLocationProvider seeds the best-effort position from config. Without
// coordinates there is no provider and records are stored without location.
func newLocationProvider(cfg *config.Config) location.Provider {
	loc := cfg.Location
	if loc.Latitude == 0 && loc.Longitude == 0 && loc.Address == "" {
		return nil
	}
	var p location.Provider = &location.Static{Fix: &location.Fix{
		Latitude:  loc.Latitude,
		Longitude: loc.Longitude,
		Address:   loc.Address,
	}}
	if loc.GeocodeURL != "" {
		p = &location.Geocoded{Base: p, Endpoint: loc.GeocodeURL}
	}
	return p
}
