package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/lm-remote/LMBridge/internal/config"
)

const defaultLogDir = "logs"

// SetupBaseLogger applies the process-wide logrus defaults. Called from
// main's init so every later log line, including config load failures,
// is already formatted consistently.
func SetupBaseLogger() {
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetOutput(os.Stdout)
	log.SetLevel(log.InfoLevel)
}

// ConfigureLogOutput points the global logger at its configured
// destination. With logging-to-file set, output goes to a size-rotated
// file under the log directory; otherwise it stays on stdout.
func ConfigureLogOutput(cfg *config.Config) error {
	if cfg == nil || !cfg.LoggingToFile {
		log.SetOutput(os.Stdout)
		return nil
	}

	dir := cfg.LogDir
	if dir == "" {
		dir = defaultLogDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log directory %s: %w", dir, err)
	}

	log.SetOutput(&lumberjack.Logger{
		Filename:   filepath.Join(dir, "lmbridge.log"),
		MaxSize:    100, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	})
	return nil
}

// SetLogLevel adjusts the global log level from a config or flag string.
// Unknown values fall back to info.
func SetLogLevel(level string) {
	switch strings.ToLower(level) {
	case "debug", "verbose":
		log.SetLevel(log.DebugLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "warn", "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	case "quiet", "silent":
		log.SetLevel(log.FatalLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}
