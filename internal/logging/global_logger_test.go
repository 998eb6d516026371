package logging

import (
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/lm-remote/LMBridge/internal/config"
)

func TestSetLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected log.Level
	}{
		{"debug", "debug", log.DebugLevel},
		{"debug uppercase", "DEBUG", log.DebugLevel},
		{"verbose maps to debug", "verbose", log.DebugLevel},
		{"info", "info", log.InfoLevel},
		{"warn", "warn", log.WarnLevel},
		{"warning maps to warn", "Warning", log.WarnLevel},
		{"error", "error", log.ErrorLevel},
		{"quiet maps to fatal", "quiet", log.FatalLevel},
		{"silent maps to fatal", "SILENT", log.FatalLevel},
		{"unknown falls back to info", "foobar", log.InfoLevel},
		{"empty falls back to info", "", log.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Reset to a known state before each test
			log.SetLevel(log.PanicLevel)

			SetLogLevel(tt.input)

			got := log.GetLevel()
			if got != tt.expected {
				t.Errorf("SetLogLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestConfigureLogOutput_Stdout(t *testing.T) {
	t.Cleanup(func() { log.SetOutput(os.Stdout) })

	if err := ConfigureLogOutput(&config.Config{}); err != nil {
		t.Fatalf("ConfigureLogOutput() error = %v", err)
	}
	if err := ConfigureLogOutput(nil); err != nil {
		t.Fatalf("ConfigureLogOutput(nil) error = %v", err)
	}
}

func TestConfigureLogOutput_File(t *testing.T) {
	t.Cleanup(func() { log.SetOutput(os.Stdout) })

	dir := filepath.Join(t.TempDir(), "logs")
	cfg := &config.Config{LoggingToFile: true, LogDir: dir}
	if err := ConfigureLogOutput(cfg); err != nil {
		t.Fatalf("ConfigureLogOutput() error = %v", err)
	}

	log.Error("rotation probe")

	data, err := os.ReadFile(filepath.Join(dir, "lmbridge.log"))
	if err != nil {
		t.Fatalf("expected log file: %v", err)
	}
	if len(data) == 0 {
		t.Error("log file is empty after writing an entry")
	}
}

func TestClassifyClient(t *testing.T) {
	tests := []struct {
		name string
		ua   string
		want string
	}{
		{"browser", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36", "browser"},
		{"aiohttp", "Python/3.11 aiohttp/3.9.1", "python-client"},
		{"curl", "curl/8.5.0", "cli"},
		{"empty", "", "unknown"},
		{"other", "Go-http-client/1.1", "generic"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyClient(tt.ua); got != tt.want {
				t.Errorf("classifyClient(%q) = %q, want %q", tt.ua, got, tt.want)
			}
		})
	}
}
