// Package main provides the entry point for the LM Bridge server.
// The server sits in front of a local ComfyUI instance and selectively
// relays LoRA Manager traffic to a remote installation, so the stock
// frontend keeps working as if the manager were installed locally.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/lm-remote/LMBridge/internal/api"
	"github.com/lm-remote/LMBridge/internal/bridge"
	"github.com/lm-remote/LMBridge/internal/config"
	"github.com/lm-remote/LMBridge/internal/events"
	"github.com/lm-remote/LMBridge/internal/logging"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// init initializes the shared logger setup.
func init() {
	logging.SetupBaseLogger()
}

// main parses command-line flags, loads configuration, and runs the
// bridge server until a shutdown signal arrives.
func main() {
	fmt.Printf("LM Bridge Version: %s, Commit: %s, BuiltAt: %s\n", Version, Commit, BuildDate)

	var (
		configPath  string
		portFlag    int
		showVersion bool
		quietMode   bool
		verboseMode bool
	)
	flag.StringVar(&configPath, "config", "config.yaml", "Configure File Path")
	flag.IntVar(&portFlag, "port", 0, "Override the listen port")
	flag.BoolVar(&showVersion, "version", false, "Show LM Bridge version and exit")
	flag.BoolVar(&quietMode, "quiet", false, "Run in quiet mode (overrides --verbose)")
	flag.BoolVar(&verboseMode, "verbose", false, "Run in verbose mode")
	flag.Parse()

	if showVersion {
		return
	}

	wd, err := os.Getwd()
	if err != nil {
		log.Errorf("failed to get working directory: %v", err)
		return
	}

	// Load environment variables from .env if present.
	if errLoad := godotenv.Load(filepath.Join(wd, ".env")); errLoad != nil {
		if !errors.Is(errLoad, os.ErrNotExist) {
			log.WithError(errLoad).Warn("failed to load .env file")
		}
	}

	// The config file is optional: LM_REMOTE_URL alone is a complete
	// deployment, and with nothing at all the bridge still relays ComfyUI.
	cfg, err := config.LoadConfigOptional(configPath, true)
	if err != nil {
		log.Errorf("failed to load configuration: %v", err)
		return
	}
	if portFlag > 0 {
		cfg.Port = portFlag
	}

	if warnings, errValidate := config.ValidateConfig(cfg); errValidate != nil {
		log.Errorf("invalid configuration: %v", errValidate)
		return
	} else if len(warnings) > 0 {
		for _, w := range warnings {
			log.Warnf("config warning: %s", w)
		}
	}

	if err = logging.ConfigureLogOutput(cfg); err != nil {
		log.Errorf("failed to configure log output: %v", err)
		return
	}

	log.Infof("LM Bridge Version: %s, Commit: %s, BuiltAt: %s", Version, Commit, BuildDate)

	// Set the log level based on the configuration; CLI flags win.
	if cfg.Debug {
		logging.SetLogLevel("debug")
	} else {
		logging.SetLogLevel("info")
	}
	if quietMode {
		logging.SetLogLevel("quiet")
	} else if verboseMode {
		logging.SetLogLevel("verbose")
	}

	broadcaster := events.NewBroadcaster()
	br := bridge.New(cfg, broadcaster)
	server := api.NewServer(cfg, br, broadcaster)

	if br.Configured() {
		log.Infof("remote LoRA Manager: %s", cfg.Remote.BaseURL)
	} else {
		log.Warn("no remote LoRA Manager configured; relaying ComfyUI only")
	}
	log.Infof("local ComfyUI origin: %s", cfg.GetComfyURL())
	log.Infof("listening on %s:%d", cfg.Host, cfg.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- server.Start() }()

	select {
	case errServe := <-errc:
		if errServe != nil {
			log.Errorf("server error: %v", errServe)
		}
	case <-ctx.Done():
		stop()
		log.Info("shutdown signal received, stopping bridge server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if errStop := server.Stop(shutdownCtx); errStop != nil {
			log.Errorf("graceful shutdown failed: %v", errStop)
		}
		<-errc
	}
}
