// Command kilnd is the electric ceramic kiln controller daemon: the
// real-time control loop (sensor sampler, safety supervisor, firing
// engine), its persistence and telemetry sidecars, and the HTTP/WebSocket
// façade, wired together and run under one cancelable context (spec.md §5).
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/edgeflow/kilnd/internal/api"
	"github.com/edgeflow/kilnd/internal/config"
	"github.com/edgeflow/kilnd/internal/engine"
	"github.com/edgeflow/kilnd/internal/health"
	"github.com/edgeflow/kilnd/internal/kiln/controller"
	"github.com/edgeflow/kilnd/internal/kiln/eventbus"
	"github.com/edgeflow/kilnd/internal/kiln/history"
	"github.com/edgeflow/kilnd/internal/kiln/pidctl"
	"github.com/edgeflow/kilnd/internal/kiln/profile"
	"github.com/edgeflow/kilnd/internal/kiln/settings"
	"github.com/edgeflow/kilnd/internal/kiln/thermocouple"
	"github.com/edgeflow/kilnd/internal/logger"
	"github.com/edgeflow/kilnd/internal/metrics"
	"github.com/edgeflow/kilnd/internal/security"
	"github.com/edgeflow/kilnd/internal/telemetry"
	"github.com/edgeflow/kilnd/internal/websocket"
)

var Version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "path to kilnd config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: loading config: %s\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		LogDir:     cfg.Logger.Dir,
		MaxSizeMB:  50,
		MaxBackups: 5,
		MaxAgeDays: 7,
		Compress:   true,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "error: initializing logger: %s\n", err)
		os.Exit(1)
	}
	log := logger.WithTask("main")

	if cfg.Security.CipherPassphrase == "" {
		log.Fatal("security.cipher_passphrase (KILND_SECURITY_CIPHER_PASSPHRASE) must be set")
	}
	if cfg.Server.JWTSecret == "" {
		log.Fatal("server.jwt_secret (KILND_SERVER_JWT_SECRET) must be set")
	}

	h := initHAL(log)
	defer h.Close()

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0o755); err != nil {
		log.Fatal("failed to create storage directory", zap.Error(err))
	}
	db, err := sql.Open("sqlite3", cfg.Storage.DBPath)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	gainStore, err := pidctl.NewGainStore(db)
	if err != nil {
		log.Fatal("failed to open pid gains store", zap.Error(err))
	}
	profileStore, err := profile.NewStore(db)
	if err != nil {
		log.Fatal("failed to open profile store", zap.Error(err))
	}
	settingsStore, err := settings.NewStore(db, security.NewTokenCipher(cfg.Security.CipherPassphrase))
	if err != nil {
		log.Fatal("failed to open settings store", zap.Error(err))
	}
	historyStore, err := history.NewStore(cfg.Storage.TraceDir)
	if err != nil {
		log.Fatal("failed to open history store", zap.Error(err))
	}

	appMetrics := metrics.NewMetrics()

	ctrl, err := controller.New(controller.Config{
		GPIO:   h.GPIO(),
		SPI:    h.SPI(),
		SSRPin: cfg.Pins.SSR,
		ThermocoupleCfg: thermocouple.Config{
			SPIBus:    cfg.Thermocouple.SPIBus,
			SPIDevice: cfg.Thermocouple.SPIDevice,
			SpeedHz:   cfg.Thermocouple.SpeedHz,
		},
		History:   historyStore,
		Profiles:  profileStore,
		GainStore: gainStore,
		Settings:  settingsStore,
		Metrics:   appMetrics,
	})
	if err != nil {
		log.Fatal("failed to assemble controller", zap.Error(err))
	}

	wsHub := websocket.NewHub()
	logger.SetBroadcaster(func(level, message, source string, fields map[string]interface{}) {
		if level != "warn" && level != "error" && level != "fatal" {
			return
		}
		wsHub.Broadcast(websocket.MessageTypeNotification, map[string]interface{}{
			"level":   level,
			"message": message,
			"source":  source,
			"fields":  fields,
		})
	})
	telemetryHub := telemetry.NewHub(ctrl.Bus(), buildTelemetrySinks(cfg.Telemetry, settingsStore)...)
	scheduler := engine.New(ctrl.Engine(), historyStore)
	svc := api.NewService(ctrl, wsHub, gainStore)
	healthChecker := buildHealthChecker(ctrl, db)

	app := fiber.New(fiber.Config{AppName: "kilnd v" + Version})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))
	app.Use(metrics.MetricsMiddleware(appMetrics))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		status := healthChecker.GetOverallStatus()
		code := fiber.StatusOK
		if status != health.StatusHealthy {
			code = fiber.StatusServiceUnavailable
		}
		return c.Status(code).JSON(healthChecker.GetCheckResults())
	})
	app.Get("/metrics", func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")
		return c.SendString(appMetrics.PrometheusFormat())
	})

	api.SetupRoutes(app, svc, wsHub, cfg.Server.JWTSecret)

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(sigCtx)

	g.Go(func() error { return ctrl.Run(ctx) })
	g.Go(func() error { return telemetryHub.Run(ctx) })
	g.Go(func() error { return runWebSocketBridge(ctx, ctrl.Bus(), wsHub) })

	g.Go(func() error {
		scheduler.Start()
		<-ctx.Done()
		scheduler.Stop()
		return nil
	})

	g.Go(func() error {
		healthChecker.StartPeriodicChecks(ctx)
		return nil
	})

	// Hub.Run has no ctx param and never returns on its own (it's a plain
	// register/unregister/broadcast select loop); run it in its own
	// goroutine and only use this task to keep the errgroup from exiting
	// early. It is left running until process exit on shutdown.
	g.Go(func() error { go wsHub.Run(); <-ctx.Done(); return nil })

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	g.Go(func() error {
		log.Info("api server starting", zap.String("addr", addr))
		if err := app.Listen(addr); err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return app.Shutdown()
	})

	<-sigCtx.Done()
	log.Info("shutdown signal received, stopping")
	stop()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("kilnd stopped with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("kilnd stopped gracefully")
}

// buildTelemetrySinks constructs every opt-in telemetry sink named in
// cfg, skipping any whose connection details are unset (spec.md §9: every
// sink is optional).
func buildTelemetrySinks(cfg config.TelemetryConfig, settingsStore *settings.Store) []telemetry.Sink {
	var sinks []telemetry.Sink

	if cfg.MQTTBroker != "" {
		sinks = append(sinks, telemetry.NewMQTTSink(telemetry.MQTTConfig{
			Broker: cfg.MQTTBroker,
			Topic:  cfg.MQTTTopic,
		}))
	}
	if cfg.RedisAddr != "" {
		sinks = append(sinks, telemetry.NewRedisSink(telemetry.RedisConfig{
			Addr:    cfg.RedisAddr,
			Channel: cfg.RedisChannel,
		}))
	}
	if cfg.InfluxURL != "" {
		sinks = append(sinks, telemetry.NewInfluxSink(telemetry.InfluxConfig{
			URL:         cfg.InfluxURL,
			Token:       cfg.InfluxToken,
			Org:         cfg.InfluxOrg,
			Bucket:      cfg.InfluxBucket,
			Measurement: cfg.InfluxMeasurement,
		}))
	}
	// The webhook sink has no broker/URL of its own to gate on: it reads
	// settings.Store.Load().WebhookURL fresh on every dispatch and no-ops
	// when that is empty, so it is always registered.
	sinks = append(sinks, telemetry.NewWebhookSink(settingsStore))

	return sinks
}

// buildHealthChecker registers the liveness probes named in spec.md §7:
// database reachability, sensor freshness, and the emergency latch.
func buildHealthChecker(ctrl *controller.Controller, db *sql.DB) *health.HealthChecker {
	hc := health.NewHealthChecker()

	hc.RegisterCheck("database", health.DatabaseHealthCheck(db.PingContext), 30*time.Second)

	hc.RegisterCheck("sensor_freshness", health.SensorFreshnessHealthCheck(func() time.Duration {
		reading := ctrl.Sensor().GetLatest()
		if reading.TimestampMicros == 0 {
			return time.Hour
		}
		sampledAt := time.UnixMicro(reading.TimestampMicros)
		return time.Since(sampledAt)
	}, 5*time.Second), 10*time.Second)

	hc.RegisterCheck("emergency_latch", health.EmergencyLatchHealthCheck(ctrl.Safety().Emergency), 10*time.Second)

	return hc
}

// runWebSocketBridge subscribes to every bus event and republishes it on
// /ws, giving dashboard clients the same discrete transitions the
// telemetry sinks react to (spec.md §6) plus the once-a-second progress
// gauge, without the Firing Engine or Safety Supervisor calling into the
// websocket package directly (spec.md §9).
func runWebSocketBridge(ctx context.Context, bus *eventbus.Bus, hub *websocket.Hub) error {
	sub := bus.Subscribe(64)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			dispatchToWebSocket(hub, ev)
		}
	}
}

func dispatchToWebSocket(hub *websocket.Hub, ev eventbus.Event) {
	data := eventPayloadMap(ev)
	switch ev.Kind {
	case eventbus.KindEmergencyStop:
		hub.Broadcast(websocket.MessageTypeEmergencyStop, data)
	case eventbus.KindTempFault:
		hub.Broadcast(websocket.MessageTypeTempFault, data)
	case eventbus.KindFiringComplete:
		hub.Broadcast(websocket.MessageTypeFiringComplete, data)
	case eventbus.KindProgressUpdated:
		hub.BridgeProgress(data)
	}
}

func eventPayloadMap(ev eventbus.Event) map[string]interface{} {
	switch p := ev.Payload.(type) {
	case eventbus.EmergencyStop:
		return map[string]interface{}{"reason": p.Reason}
	case eventbus.TempFault:
		return map[string]interface{}{"stale_for": p.StaleFor}
	case eventbus.FiringComplete:
		return map[string]interface{}{"firing_id": p.FiringID, "outcome": p.Outcome, "peak_temp_c": p.PeakTemp}
	case eventbus.ProgressUpdated:
		return map[string]interface{}{
			"status":     p.Status,
			"segment":    p.Segment,
			"setpoint_c": p.SetpointC,
			"measured_c": p.MeasuredC,
			"elapsed_s":  p.ElapsedS,
		}
	default:
		return nil
	}
}
