package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pipatrol/patrol/internal/broker"
	"github.com/pipatrol/patrol/internal/camera"
	"github.com/pipatrol/patrol/internal/config"
	"github.com/pipatrol/patrol/internal/events"
	"github.com/pipatrol/patrol/internal/health"
	"github.com/pipatrol/patrol/internal/logger"
	"github.com/pipatrol/patrol/internal/motion"
	"github.com/pipatrol/patrol/internal/opencv"
	"github.com/pipatrol/patrol/internal/service"
	"github.com/pipatrol/patrol/internal/state"
	"github.com/pipatrol/patrol/internal/storage"
	"github.com/pipatrol/patrol/internal/video"
	"github.com/pipatrol/patrol/internal/web"
	"github.com/pipatrol/patrol/internal/ws"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&configPath, "c", "", "Path to configuration file (short)")
	flag.Parse()

	// Configuration problems are the only fatal startup errors
	cfgSvc, err := config.NewService(configPath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg := cfgSvc.Get()

	log, err := logger.New(logger.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	cfgSvc.SetLogger(log)

	log.Info("Starting Pi-Patrol",
		"node", cfg.Patrol.NodeName,
		"version", version,
		"build_time", buildTime,
		"git_commit", gitCommit,
	)

	if err := run(cfgSvc, log); err != nil {
		log.Error("Pi-Patrol stopped with error", "error", err)
		log.Sync()
		os.Exit(1)
	}
	log.Info("Shutdown complete")
}

func run(cfgSvc *config.Service, log *logger.Logger) error {
	cfg := cfgSvc.Get()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stateMgr, err := state.NewManager(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open event database: %w", err)
	}
	defer stateMgr.Close()

	recovered, err := stateMgr.RecoverState(ctx)
	if err != nil {
		log.Warn("Failed to recover state", "error", err)
	} else if recovered.LastEvent != nil {
		log.Info("Last recorded event",
			"id", recovered.LastEvent.ID,
			"type", recovered.LastEvent.EventType,
			"at", recovered.LastEvent.Timestamp,
		)
	}

	media, err := storage.NewStorageService(storage.StorageConfig{
		EventsDir:           cfg.Storage.EventsDir,
		RecordingsDir:       cfg.Storage.RecordingsDir,
		LiveDir:             cfg.Storage.LiveDir,
		MaxDiskUsagePercent: cfg.Storage.MaxDiskUsagePercent,
		JPEGQuality:         cfg.Web.JPEGQuality,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	identifier, err := opencv.NewIdentifier(cfg.Face, log.Named("face"))
	if err != nil {
		return err
	}
	defer identifier.Close()
	if err := identifier.Load(ctx); err != nil {
		log.Warn("Failed to load face model, running unknown-only", "error", err)
	}

	frames := broker.New(broker.Config{
		LivePath:    cfg.Storage.LivePath(),
		JPEGQuality: cfg.Web.JPEGQuality,
	}, log)

	device, err := buildDevice(cfg, log)
	if err != nil {
		return err
	}

	engine, err := camera.NewEngine(device, identifier, frames, camera.EngineConfig{
		OpenRetries:  cfg.Camera.OpenRetries,
		RetryBackoff: cfg.Camera.RetryBackoff,
		PreviewPath:  cfg.Storage.PreviewPath(),
		JPEGQuality:  cfg.Web.JPEGQuality,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create capture engine: %w", err)
	}

	clips, err := video.NewClipRecorder(buildEncoder(cfg, log), video.ClipRecorderConfig{FPS: cfg.Recording.FPS}, log)
	if err != nil {
		return fmt.Errorf("failed to create clip recorder: %w", err)
	}
	eventStore := events.NewStorage(stateMgr, log)
	recorder := events.NewRecorder(eventStore, media, clips, engine, log)

	pir := buildSensor(cfg, log)
	gate, err := motion.NewGate(motion.Config{
		PollInterval: cfg.Sensor.PollInterval,
		IdleTimeout:  cfg.Motion.IdleTimeout,
		ClipDuration: cfg.Motion.ClipDuration,
		Cooldown:     cfg.Motion.CooldownEnabled(),
		JPEGQuality:  cfg.Web.JPEGQuality,
	}, pir, engine, media, recorder, log)
	if err != nil {
		return fmt.Errorf("failed to create motion gate: %w", err)
	}

	svcMgr := service.NewManager(log)

	healthMgr := health.NewManager(log, svcMgr)
	healthMgr.RegisterChecker(health.NewDatabaseChecker(stateMgr.GetDB()))
	healthMgr.RegisterChecker(health.NewStorageChecker(media, media.EventsDir(), media.RecordingsDir(), media.LiveDir()))
	healthMgr.RegisterChecker(health.NewCameraChecker(engine))
	healthMgr.RegisterChecker(health.NewSensorChecker(pir.Name()))
	healthMgr.RegisterChecker(health.NewModelChecker(identifier))

	hub := ws.NewHub(log)

	server := web.NewServer(&cfg.Web, log)
	server.SetVersion(version)
	server.SetDependencies(web.Dependencies{
		Broker: frames,
		Faces:  identifier,
		Events: eventStore,
		Media:  media,
		Health: healthMgr,
		Motion: gate,
		Hub:    hub,
	})

	// Services stop in reverse registration order. The web server goes
	// first and drops its live streams, then the gate so no new clip
	// starts. The hub and recorder wait for the running clip before the
	// camera engine closes; the journal is last.
	svcMgr.Register(state.NewJournal(stateMgr, log))
	svcMgr.Register(engine)
	svcMgr.Register(recorder)
	svcMgr.Register(hub)
	svcMgr.Register(gate)
	svcMgr.Register(server)

	cfgSvc.Watch(restartNotice(log))

	if err := svcMgr.Start(ctx); err != nil {
		return fmt.Errorf("failed to start services: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			if err := cfgSvc.Reload(ctx); err != nil {
				log.Warn("Configuration reload failed", "error", err)
			}
			continue
		}
		log.Info("Received shutdown signal", "signal", sig)
		break
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := svcMgr.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error during shutdown: %w", err)
	}
	return nil
}
