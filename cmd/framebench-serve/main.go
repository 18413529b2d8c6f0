// Package main implements the framebench-serve binary, a read-only HTTP API
// over the result store.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	apihttp "github.com/framebench/framebench/internal/api/http"
	"github.com/framebench/framebench/internal/chart"
	"github.com/framebench/framebench/internal/config"
	"github.com/framebench/framebench/internal/server"
	"github.com/framebench/framebench/internal/store"
)

func main() {
	var (
		configFile string
		addr       string
		debug      bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&addr, "addr", "", "HTTP listen address")
	flag.BoolVar(&debug, "debug", false, "Run gin in debug mode")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[WARN] failed to load .env: %v", err)
	}
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		if cfg, err = config.LoadFromFile(configFile); err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
	}
	config.LoadFromEnv(cfg)
	if addr != "" {
		cfg.Serve.Addr = addr
	}
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	st, err := store.Open(cfg.Store)
	if err != nil {
		log.Fatalf("Failed to open result store: %v", err)
	}
	if err := st.Initialize(context.Background()); err != nil {
		log.Fatalf("Failed to initialize result store: %v", err)
	}

	sm := server.NewShutdownManager(server.DefaultShutdownConfig())
	sm.RegisterCloser(st)

	handler := apihttp.NewResultsHandler(st, chart.NewRenderer(cfg.Chart))
	srv := server.NewGracefulHTTPServer(&http.Server{
		Addr:              cfg.Serve.Addr,
		Handler:           apihttp.NewRouter(handler, sm.Middleware()),
		ReadHeaderTimeout: 10 * time.Second,
	}, sm)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	failed := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			failed <- err
			cancel()
		}
	}()

	if err := sm.ListenForSignals(ctx); err != nil {
		log.Printf("[ERROR] shutdown: %v", err)
	}
	select {
	case err := <-failed:
		log.Fatalf("Server error: %v", err)
	default:
	}
	log.Printf("Server stopped")
}
