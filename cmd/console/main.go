package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/plantwatch/console/internal/analytics"
	"github.com/plantwatch/console/internal/api"
	"github.com/plantwatch/console/internal/backend"
	"github.com/plantwatch/console/internal/config"
	"github.com/plantwatch/console/internal/faults"
	"github.com/plantwatch/console/internal/logger"
	"github.com/plantwatch/console/internal/metrics"
	"github.com/plantwatch/console/internal/plant"
	"github.com/plantwatch/console/internal/session"
	"github.com/plantwatch/console/internal/storage"
	"github.com/plantwatch/console/internal/telemetry"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Get the executable's directory for config resolution
	exePath, err := os.Executable()
	if err != nil {
		fmt.Printf("Failed to get executable path: %v\n", err)
		os.Exit(1)
	}
	configPath := filepath.Join(filepath.Dir(exePath), "PlantConsole.config")
	if p := os.Getenv("CONSOLE_CONFIG"); p != "" {
		configPath = p
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Advanced.LogLevel,
		Output: cfg.Advanced.LogOutput,
	}); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.WithComponent("main")

	// Ensure all data directories exist
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatal().Err(err).Msg("creating directories")
	}

	store, err := storage.Open(cfg.Storage.Backend, cfg.GetSnapshotDir())
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Storage.Backend).Msg("opening storage")
	}
	defer store.Close()

	transports, err := buildTransports(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("configuring transports")
	}
	codec, err := telemetry.CodecByName(cfg.Telemetry.SnapshotCodec)
	if err != nil {
		log.Fatal().Err(err).Msg("configuring snapshot codec")
	}
	sortType, err := faults.ParseSortType(cfg.Notifications.DefaultSortType)
	if err != nil {
		log.Fatal().Err(err).Msg("configuring notifications")
	}
	sortOrder, err := faults.ParseSortOrder(cfg.Notifications.DefaultSortOrder)
	if err != nil {
		log.Fatal().Err(err).Msg("configuring notifications")
	}

	m := metrics.NewMetrics()
	client := backend.NewClient(cfg.Backend.BaseURL, cfg.GetRequestTimeout())
	alerts := logger.WithComponent("alerts")

	sessionMgr := session.NewManager(session.Components{
		Store:      store,
		Transports: transports,
		Persister:  client,
		Faults:     client,
		Analytics:  client,
		DashboardOptions: []telemetry.Option{
			telemetry.WithLogger(logger.WithComponent("telemetry")),
			telemetry.WithMetrics(m),
			telemetry.WithEndpoint(cfg.Telemetry.Endpoint),
			telemetry.WithHandshake(cfg.Telemetry.HandshakeMessage),
			telemetry.WithCodec(codec),
			telemetry.WithAlertHook(func(payload json.RawMessage) {
				alerts.Info().RawJSON("payload", payload).Msg("machine alert")
			}),
		},
		PlantOptions: []plant.Option{
			plant.WithLogger(logger.WithComponent("plant")),
			plant.WithMetrics(m),
		},
		NotificationsOptions: []faults.Option{
			faults.WithLogger(logger.WithComponent("faults")),
			faults.WithMetrics(m),
			faults.WithDeleteDelay(cfg.GetDeleteDelay()),
			faults.WithSort(sortType, sortOrder),
		},
		AnalyticsOptions: []analytics.Option{
			analytics.WithLogger(logger.WithComponent("analytics")),
			analytics.WithMetrics(m),
		},
		SnapshotKey:      cfg.Telemetry.SnapshotKey,
		LiveAnalytics:    cfg.Telemetry.LiveAnalytics,
		TelemetryAddress: cfg.Telemetry.Endpoint,
	},
		session.WithMaxSessions(cfg.Sessions.MaxSessions),
		session.WithMetrics(m),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start background session cleanup
	go sessionMgr.RunCleanup(ctx,
		time.Duration(cfg.Sessions.CleanupIntervalMinutes)*time.Minute,
		time.Duration(cfg.Sessions.SessionTimeoutMinutes)*time.Minute)

	h := api.NewHandler(sessionMgr, Version)
	h.SetMaxMessageSize(int64(cfg.Advanced.WebSocketMaxMessageSize) * 1024)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Configure middleware
	httpLog := logger.WithComponent("http")
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			// Skip logging if disabled in config
			if !cfg.Advanced.EnableRequestLogging {
				return true
			}
			path := c.Request().URL.Path
			return path == "/api/health" || path == "/api/metrics"
		},
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := httpLog.Info()
			if v.Error != nil {
				ev = httpLog.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize:         1024 * 4,
		DisablePrintStack: false,
		LogLevel:          0,
	}))

	// Body limit middleware
	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	// CORS configuration
	if cfg.Server.EnableCORS {
		origins := strings.Split(cfg.Server.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 0 || (len(origins) == 1 && origins[0] == "") {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}

	api.SetupMiddleware(e, m)
	api.RegisterRoutes(e, h, m)

	// Configure server with settings from XML config
	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           Plant Monitoring Console                        ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Backend:   %-46s║\n", cfg.Backend.BaseURL)
	fmt.Printf("║  Telemetry: %-46s║\n", cfg.Telemetry.Endpoint)
	fmt.Printf("║  Data Dir:  %-46s║\n", cfg.GetDataDir())
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")

	go func() {
		if err := e.StartServer(s); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown")
	}
	sessionMgr.CloseAll()
}

// buildTransports returns the push-channel transports in configured order.
func buildTransports(cfg *config.AppConfig) ([]telemetry.Transport, error) {
	var out []telemetry.Transport
	for _, name := range cfg.GetTransports() {
		switch name {
		case "websocket":
			out = append(out, telemetry.NewWebSocketTransport())
		case "polling":
			out = append(out, telemetry.NewPollingTransport(cfg.GetPollInterval()))
		default:
			return nil, fmt.Errorf("unknown transport %q", name)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no transports configured")
	}
	return out, nil
}
