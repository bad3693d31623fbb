// cloudnav is a backend service that turns natural-language requests into
// vetted Google Cloud CLI commands, runs them with the caller's credentials,
// and narrates the results.
package main

import (
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudnav-ai/cloudnav/pkg/config"
	"github.com/cloudnav-ai/cloudnav/pkg/db"
	"github.com/cloudnav-ai/cloudnav/pkg/log"
	"github.com/cloudnav-ai/cloudnav/pkg/web"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var (
		port        = flag.Int("port", 0, "HTTP listen port (overrides config)")
		configPath  = flag.String("config", "", "path to config.yaml (default: "+config.GetConfigPath()+")")
		dbPath      = flag.String("db-path", "", "SQLite audit database path (overrides config)")
		noDB        = flag.Bool("no-db", false, "disable audit persistence")
		logLevel    = flag.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("cloudnav %s (built %s, commit %s)\n", version, buildTime, gitCommit)
		return
	}

	if err := log.Init("cloudnav"); err != nil {
		fmt.Fprintf(os.Stderr, "logging setup failed: %v\n", err)
	}
	defer log.Close()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadConfigFromPath(*configPath)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		log.Errorf("load config: %v", err)
		os.Exit(1)
	}

	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	log.SetLevel(log.ParseLevel(cfg.LogLevel))

	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Storage.DBPath = *dbPath
	}
	if *noDB {
		cfg.Storage.Enabled = false
	}

	var auditDB *db.DB
	if cfg.Storage.Enabled {
		auditDB, err = db.InitWithConfig(cfg)
		if err != nil {
			// The service stays useful without persistence.
			log.Warnf("audit database unavailable, continuing without persistence: %v", err)
			auditDB = nil
		}
	}

	srv, err := web.NewServer(cfg, auditDB, &web.VersionInfo{
		Version:   version,
		BuildTime: buildTime,
		GitCommit: gitCommit,
	})
	if err != nil {
		log.Errorf("server setup failed: %v", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Infof("received %s, shutting down", sig)
		if err := srv.Stop(); err != nil {
			log.Errorf("shutdown error: %v", err)
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}
}
