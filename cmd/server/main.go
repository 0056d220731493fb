package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gin-gonic/gin"
	pionwebrtc "github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tutti/internal/core/services"
	handlers "tutti/internal/handlers/http"
	"tutti/internal/infrastructure/middleware"
	"tutti/internal/infrastructure/monitoring"
	wssignal "tutti/internal/infrastructure/signal"
	rtctransport "tutti/internal/infrastructure/webrtc"
	"tutti/pkg/config"
	"tutti/pkg/logger"
	"tutti/pkg/tracing"
)

func main() {
	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error
	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if cfg == nil {
		log.Fatalf("could not load configuration: %v", err)
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	slog := zapLogger.Sugar()

	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "tutti",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		slog.Fatalw("failed to initialize tracing", "error", err)
	}

	// Telemetry sinks
	tracker := monitoring.NewLatencyTracker()
	collector := monitoring.NewPrometheusCollector()
	telemetry := monitoring.NewTelemetry(tracker, collector)

	// Rooms
	roomManager := services.NewRoomManager(services.RoomConfig{
		MaxParticipants:   cfg.Rooms.MaxParticipants,
		RingCapacity:      cfg.Rooms.RingCapacity,
		UnboundTimeout:    cfg.Rooms.UnboundTimeout,
		InactivityTimeout: cfg.Rooms.InactivityTimeout,
	}, telemetry, slog)
	roomManager.InitializeDefaultRooms()
	roomManager.StartReaper()

	// Session binder routes transport events into rooms
	binder := services.NewSessionBinder(roomManager, tracker, slog)
	binder.StartPinger()

	// WebRTC data-channel transport
	var iceServers []pionwebrtc.ICEServer
	for _, s := range cfg.WebRTC.ICEServers {
		iceServers = append(iceServers, pionwebrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	transport, err := rtctransport.NewTransport(rtctransport.Config{
		ICEServers: iceServers,
		PortMin:    cfg.WebRTC.PortRange.Min,
		PortMax:    cfg.WebRTC.PortRange.Max,
	}, slog)
	if err != nil {
		slog.Fatalw("failed to create transport", "error", err)
	}
	transport.SetCallbacks(binder)

	// WebSocket signaling for SDP exchange
	wsServer := wssignal.NewWsServer(transport, cfg.Signal.PingInterval, cfg.Signal.PongTimeout, slog)
	signalMux := http.NewServeMux()
	signalMux.HandleFunc("/ws", wsServer.HandleWebSocket)
	signalSrv := &http.Server{Addr: cfg.Signal.Address, Handler: signalMux}
	go func() {
		slog.Infow("signaling server listening", "address", cfg.Signal.Address)
		if err := signalSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Fatalw("signaling server failed", "error", err)
		}
	}()

	// Lobby REST API
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.TracingMiddleware())
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	handlers.NewRoomHandler(roomManager).SetupRoutes(router)

	apiSrv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		slog.Infow("api server listening", "address", cfg.Server.Address)
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Fatalw("api server failed", "error", err)
		}
	}()

	// Prometheus endpoint
	var metricsSrv *http.Server
	if cfg.Monitoring.PrometheusEnabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:    ":" + strconv.Itoa(cfg.Monitoring.PrometheusPort),
			Handler: metricsMux,
		}
		go func() {
			slog.Infow("metrics server listening", "port", cfg.Monitoring.PrometheusPort)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Warnw("metrics server failed", "error", err)
			}
		}()
	}

	slog.Infow("tutti server started", "max_participants", cfg.Rooms.MaxParticipants)

	// Wait for shutdown signal; a second signal forces exit.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")
	go func() {
		<-sigCh
		os.Exit(1)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	_ = apiSrv.Shutdown(ctx)
	_ = signalSrv.Shutdown(ctx)
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(ctx)
	}
	binder.StopPinger()
	transport.Stop()
	roomManager.Shutdown()
	_ = tracerProvider.Shutdown(ctx)
	slog.Info("shutdown complete")
}
