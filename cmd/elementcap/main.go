package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/uiforensics/elementcap/internal/api"
	"github.com/uiforensics/elementcap/internal/browser"
	"github.com/uiforensics/elementcap/internal/config"
	"github.com/uiforensics/elementcap/internal/controller"
	"github.com/uiforensics/elementcap/internal/coordinator"
	"github.com/uiforensics/elementcap/internal/devtools"
	"github.com/uiforensics/elementcap/internal/events"
	"github.com/uiforensics/elementcap/internal/inspector"
	"github.com/uiforensics/elementcap/internal/journal"
	"github.com/uiforensics/elementcap/internal/netutil"
	"github.com/uiforensics/elementcap/internal/pageagent"
	"github.com/uiforensics/elementcap/internal/record"
	"github.com/uiforensics/elementcap/internal/screenshot"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}

	slog.Info("elementcap config loaded",
		"cdp_url", cfg.CDPURL(),
		"api_addr", cfg.APIAddr(),
		"record_dir", cfg.RecordDir,
		"journal_dir", cfg.JournalDir,
		"tab_url_filter", cfg.TabURLFilter,
		"sync_interval", cfg.SyncInterval,
		"feedback_delay", cfg.FeedbackDelay,
		"log_level", cfg.LogLevel,
	)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	var launcher *browser.Launcher
	if cfg.LaunchBrowser {
		launcher = browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			StartURL:   cfg.BrowserStartURL,
			ProfileDir: cfg.BrowserProfileDir,
			Headless:   cfg.BrowserHeadless,
			WindowSize: cfg.BrowserWindowSize,
		})
		if err := launcher.Launch(rootCtx); err != nil {
			slog.Error("failed to launch browser", "error", err)
			os.Exit(1)
		}
		defer launcher.Stop()
	}

	probes, err := config.LoadProbes(cfg.ProbesFile)
	if err != nil {
		slog.Error("failed to load library probes", "file", cfg.ProbesFile, "error", err)
		os.Exit(1)
	}

	bindAddr, err := netutil.SelectBindAddr(cfg.APIAddr(), portCandidates(cfg), cfg.PortAutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.APIAddr(), "error", err)
		os.Exit(1)
	}

	shooter := screenshot.NewService(cfg.CDPURL())
	if err := shooter.Connect(rootCtx); err != nil {
		slog.Error("failed to connect screenshot service", "cdp_url", cfg.CDPURL(), "error", err)
		os.Exit(1)
	}
	defer shooter.Close()

	journalWriter := journal.NewWriter(cfg.JournalDir, cfg.JournalBufferSize, cfg.JournalMaxSizeMB)
	defer func() {
		if err := journalWriter.Close(); err != nil {
			slog.Debug("journal close failed", "error", err)
		}
	}()

	eventBroker := events.NewBroker()

	coord := coordinator.New(shooter,
		coordinator.WithJournal(journalWriter),
		coordinator.WithJournal(eventBroker),
		coordinator.WithCaptureTimeout(cfg.CaptureTimeout),
	)

	dev := devtools.NewClient(cfg.CDPURL())
	if err := dev.Connect(rootCtx); err != nil {
		slog.Error("failed to connect devtools client", "cdp_url", cfg.CDPURL(), "error", err)
		os.Exit(1)
	}
	defer dev.Close()

	manager := pageagent.NewManager(dev, coord, probes, cfg.TabURLFilter, slog.Default(),
		pageagent.WithFeedbackDelay(cfg.FeedbackDelay))
	manager.Start(rootCtx, cfg.SyncInterval)
	defer manager.Close()

	panel := inspector.NewPanel(coord, slog.Default(),
		inspector.WithCaptureTimeout(cfg.CaptureTimeout))

	store, err := record.NewStore(cfg.RecordDir, cfg.MaxRecords)
	if err != nil {
		slog.Error("failed to create record store", "dir", cfg.RecordDir, "error", err)
		os.Exit(1)
	}

	svcOpts := []controller.Option{controller.WithConnectivityProbe(dev.Connected)}
	if cfg.NotifyEndpoint != "" {
		svcOpts = append(svcOpts, controller.WithNotifyEndpoint(cfg.NotifyEndpoint))
	}
	svc := controller.NewService(coord, panel, store, manager, svcOpts...)
	h := api.NewServer(svc, events.SSEHandler(eventBroker))

	srv := &http.Server{Addr: bindAddr, Handler: h}

	go func() {
		slog.Info("elementcap listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("elementcap server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	rootCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("elementcap shutdown failed", "error", err)
	}
}

// portCandidates yields fallback listen addresses on the ports directly
// above the configured one.
func portCandidates(cfg *config.Config) []string {
	candidates := make([]string, 0, 3)
	for i := 1; i <= 3; i++ {
		candidates = append(candidates, fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort+i))
	}
	return candidates
}

func setupLogger(cfg *config.Config) error {
	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogDir, "elementcap.log"),
		MaxSize:    cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
