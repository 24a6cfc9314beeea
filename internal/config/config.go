package config

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents the client configuration.
type Config struct {
	// BackendURL is the base URL of the allergy-screening backend.
	BackendURL string
	// RequestTimeout bounds every backend request except the analysis
	// upload, which gets AnalyzeTimeout (image inference is slow).
	RequestTimeout time.Duration
	AnalyzeTimeout time.Duration
	// HistoryCachePath is the SQLite file holding the last fetched
	// history. Empty selects the default location next to the config
	// file; the literal value "off" disables the cache.
	HistoryCachePath string
	// HistoryShown is how many recent analyses the main view surfaces.
	HistoryShown int
	// LogFile receives structured log output. The TUI owns the
	// terminal, so logs never go to stderr while it is running.
	LogFile string
	// Camera configures the capture helper.
	Camera CameraConfig
	// Warnings contains any warnings generated during config loading.
	Warnings []string
}

// CameraConfig controls the external camera capture helper.
type CameraConfig struct {
	// Device is the video device handed to the capture command.
	Device string
	// Facing records which way the chosen device points. Food photos
	// want the environment-facing camera; this is informational on
	// hardware with a single device.
	Facing string
	// CaptureCommand is the helper command line producing a stream of
	// JPEG frames on stdout. The literal token {device} is replaced
	// with Device.
	CaptureCommand string
	// WarmupFrames is the number of initial frames discarded while the
	// sensor adjusts exposure.
	WarmupFrames int
}

// NewConfig creates a configuration populated with defaults.
func NewConfig() *Config {
	return &Config{
		BackendURL:     "http://localhost:8001",
		RequestTimeout: 15 * time.Second,
		AnalyzeTimeout: 90 * time.Second,
		HistoryShown:   5,
		Camera: CameraConfig{
			Device:         "/dev/video0",
			Facing:         "environment",
			CaptureCommand: "ffmpeg -loglevel quiet -f v4l2 -i {device} -f image2pipe -vcodec mjpeg -",
			WarmupFrames:   3,
		},
		Warnings: make([]string, 0),
	}
}

// Load loads configuration from the default config file path and then
// applies environment overrides.
func Load() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, fmt.Errorf("failed to get config path: %w", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	return cfg, nil
}

// LoadFromPath loads configuration from the specified file path.
// The file uses one option per line: optionName remainingLineIsTheValue,
// with [camera] introducing camera options.
//
// SECURITY: This function rejects symlinks to prevent symlink attacks
// that could read sensitive files through symlink traversal.
func LoadFromPath(path string) (*Config, error) {
	// Lstat checks the final path component for symlinks. Intermediate
	// directory symlinks are NOT checked; the threat model targets
	// direct file symlink substitution.
	fi, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file: run on defaults.
			return NewConfig(), nil
		}
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	if fi.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("symlink not allowed in config path: %s", path)
	}

	file, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	return LoadFromReader(file)
}

// LoadFromReader loads configuration from an io.Reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	config := NewConfig()
	scanner := bufio.NewScanner(r)

	var inCameraSection bool

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Check for section header [section_name]
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			sectionName := strings.Trim(line, "[]")
			switch sectionName {
			case "camera":
				inCameraSection = true
			default:
				inCameraSection = false
				config.addWarning("unknown config section: %s", sectionName)
			}
			continue
		}

		// Parse option line: optionName remainingLineIsTheValue
		parts := strings.SplitN(line, " ", 2)
		optionName := parts[0]
		var value string
		if len(parts) > 1 {
			value = strings.TrimSpace(parts[1])
		}

		if inCameraSection {
			if err := parseCameraOption(&config.Camera, optionName, value); err != nil {
				return nil, fmt.Errorf("invalid camera option %q: %w", optionName, err)
			}
		} else {
			if err := parseGlobalOption(config, optionName, value); err != nil {
				return nil, fmt.Errorf("invalid option %q: %w", optionName, err)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading config: %w", err)
	}

	return config, nil
}

// addWarning adds a warning to the config's warnings list.
func (c *Config) addWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	c.Warnings = append(c.Warnings, msg)
	slog.Warn("[Config] " + msg)
}

// parseGlobalOption parses a top-level configuration option.
// Supported options:
//   - backendUrl <url>: base URL of the backend (default: http://localhost:8001)
//   - requestTimeoutSeconds <int>: timeout for auth/history/profile requests
//   - analyzeTimeoutSeconds <int>: timeout for the analysis upload
//   - historyCachePath <path>: SQLite history cache file ("off" disables)
//   - historyShown <int>: recent analyses surfaced in the main view (default: 5)
//   - logFile <path>: structured log destination
func parseGlobalOption(c *Config, name, value string) error {
	switch name {
	case "backendUrl":
		if value == "" {
			return fmt.Errorf("backendUrl cannot be empty")
		}
		c.BackendURL = strings.TrimRight(value, "/")

	case "requestTimeoutSeconds":
		secs, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value %q: %w", value, err)
		}
		if secs < 1 {
			return fmt.Errorf("requestTimeoutSeconds must be at least 1: %d", secs)
		}
		c.RequestTimeout = time.Duration(secs) * time.Second

	case "analyzeTimeoutSeconds":
		secs, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value %q: %w", value, err)
		}
		if secs < 1 {
			return fmt.Errorf("analyzeTimeoutSeconds must be at least 1: %d", secs)
		}
		c.AnalyzeTimeout = time.Duration(secs) * time.Second

	case "historyCachePath":
		c.HistoryCachePath = value

	case "historyShown":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value %q: %w", value, err)
		}
		if n < 1 {
			return fmt.Errorf("historyShown must be at least 1: %d", n)
		}
		c.HistoryShown = n

	case "logFile":
		c.LogFile = value

	default:
		return fmt.Errorf("unknown option: %s", name)
	}
	return nil
}

// parseCameraOption parses an option from the [camera] config section.
// Supported options:
//   - device <path>: video device path (default: /dev/video0)
//   - facing <environment|user>: which way the device points
//   - captureCommand <cmd>: helper emitting JPEG frames on stdout;
//     {device} is replaced with the device path
//   - warmupFrames <int>: frames discarded after acquisition (default: 3)
func parseCameraOption(cc *CameraConfig, name, value string) error {
	switch name {
	case "device":
		if value == "" {
			return fmt.Errorf("device cannot be empty")
		}
		cc.Device = value

	case "facing":
		switch value {
		case "environment", "user":
			cc.Facing = value
		default:
			return fmt.Errorf("facing must be environment or user: %s", value)
		}

	case "captureCommand":
		if value == "" {
			return fmt.Errorf("captureCommand cannot be empty")
		}
		cc.CaptureCommand = value

	case "warmupFrames":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value %q: %w", value, err)
		}
		if n < 0 {
			return fmt.Errorf("warmupFrames cannot be negative: %d", n)
		}
		cc.WarmupFrames = n

	default:
		return fmt.Errorf("unknown camera option: %s", name)
	}
	return nil
}

// applyEnv applies environment variable overrides on top of whatever the
// config file provided. Invalid values are reported as warnings rather
// than errors so a bad environment never blocks startup.
func (c *Config) applyEnv() {
	if v := os.Getenv("ALLERGYGUARD_BACKEND_URL"); v != "" {
		c.BackendURL = strings.TrimRight(v, "/")
	}
	if v := os.Getenv("ALLERGYGUARD_CAMERA_DEVICE"); v != "" {
		c.Camera.Device = v
	}
	if v := os.Getenv("ALLERGYGUARD_CAPTURE_COMMAND"); v != "" {
		c.Camera.CaptureCommand = v
	}
	if v := os.Getenv("ALLERGYGUARD_LOG_FILE"); v != "" {
		c.LogFile = v
	}
	if v := os.Getenv("ALLERGYGUARD_HISTORY_CACHE"); v != "" {
		c.HistoryCachePath = v
	}
	if v := os.Getenv("ALLERGYGUARD_HISTORY_SHOWN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.HistoryShown = n
		} else {
			c.addWarning("ignoring invalid ALLERGYGUARD_HISTORY_SHOWN: %s", v)
		}
	}
}

// GetWarnings returns any warnings generated during config loading.
func (c *Config) GetWarnings() []string {
	return c.Warnings
}
