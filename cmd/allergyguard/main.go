package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"golang.org/x/term"

	"github.com/allergyguard/allergyguard/internal/api"
	"github.com/allergyguard/allergyguard/internal/capture"
	"github.com/allergyguard/allergyguard/internal/config"
	"github.com/allergyguard/allergyguard/internal/history"
	"github.com/allergyguard/allergyguard/internal/session"
	"github.com/allergyguard/allergyguard/internal/storage"
	"github.com/allergyguard/allergyguard/internal/ui"
	"github.com/allergyguard/allergyguard/internal/workflow"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env before the config so environment overrides are visible
	// to it. A missing .env is not an error.
	_ = godotenv.Load()

	versionFlag := flag.Bool("version", false, "print version and exit")
	flag.Parse()
	if *versionFlag {
		fmt.Println("allergyguard " + version)
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, closeLogger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLogger()
	slog.SetDefault(logger)

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("allergyguard is interactive and needs a terminal")
	}

	client := api.New(cfg.BackendURL, cfg.RequestTimeout, cfg.AnalyzeTimeout, logger)
	sessions := session.NewStore(client, logger)

	device, err := capture.NewExecDevice(cfg.Camera.CaptureCommand, cfg.Camera.Device, cfg.Camera.WarmupFrames, logger)
	if err != nil {
		return fmt.Errorf("configuring camera: %w", err)
	}
	controller := capture.NewController(device, logger)
	// Whatever way the program exits, the camera must be released.
	defer controller.StopCamera()

	analysis := workflow.New(client, sessions, logger)

	cache := openHistoryCache(cfg, logger)
	if cache != nil {
		defer cache.Close()
	}
	loader := history.NewLoader(client, cache, cfg.HistoryShown, logger)

	app := ui.NewApp(cfg, client, sessions, controller, analysis, loader, openLastLogin(logger), logger)
	program := tea.NewProgram(app, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("running ui: %w", err)
	}
	return nil
}

// openHistoryCache resolves and opens the history cache. The cache is
// best-effort: any problem opening it is logged and the client runs
// without persistence.
func openHistoryCache(cfg *config.Config, logger *slog.Logger) *history.Cache {
	path := cfg.HistoryCachePath
	if path == "off" {
		return nil
	}
	if path == "" {
		p, err := config.DefaultCachePath()
		if err != nil {
			logger.Warn("history cache disabled", "error", err)
			return nil
		}
		path = p
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		logger.Warn("history cache disabled", "error", err)
		return nil
	}
	cache, err := history.OpenCache(path)
	if err != nil {
		logger.Warn("history cache disabled", "error", err)
		return nil
	}
	return cache
}

// openLastLogin resolves the remembered-email record next to the config
// file. Best effort; nil disables the prefill.
func openLastLogin(logger *slog.Logger) *storage.LastLogin {
	configPath, err := config.GetConfigPath()
	if err != nil {
		logger.Warn("last sign-in record disabled", "error", err)
		return nil
	}
	return storage.NewLastLogin(filepath.Join(filepath.Dir(configPath), "last_login"))
}

// newLogger builds the structured logger. The TUI owns the terminal, so
// logs go to the configured file, or nowhere.
func newLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	if cfg.LogFile == "" {
		return slog.New(slog.NewTextHandler(io.Discard, nil)), func() {}, nil
	}

	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return logger, func() { f.Close() }, nil
}
