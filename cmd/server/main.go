package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"farfield/server"
	"farfield/server/internal/ws"
	"farfield/server/logging"
)

func main() {
	var (
		addr       string
		configPath string
		debug      bool
	)
	flag.StringVar(&addr, "addr", "", "listen address, overrides config when set")
	flag.StringVar(&configPath, "config", "", "path to farfield.ini")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.Parse()

	cfg := server.DefaultConfig()
	if configPath != "" {
		loaded, err := server.LoadConfig(configPath)
		if err != nil {
			logging.New("", true).Fatalw("config load failed", "path", configPath, "error", err)
		}
		cfg = loaded
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	logger := logging.New(cfg.Server.LogFile, debug)
	defer logger.Sync()

	hub := server.NewHub(cfg, logger, 0)
	stop := make(chan struct{})
	go hub.Run(stop)
	defer close(stop)

	mux := http.NewServeMux()
	mux.Handle("/ws", ws.NewHandler(hub, logger))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/diagnostics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(hub.Diagnostics()); err != nil {
			logger.Warnw("diagnostics encode failed", "error", err)
		}
	})
	mux.HandleFunc("/admin/tuning", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(hub.CurrentTuning())
		case http.MethodPost:
			var tuning server.Tuning
			if err := json.NewDecoder(r.Body).Decode(&tuning); err != nil {
				http.Error(w, "invalid json", http.StatusBadRequest)
				return
			}
			hub.ApplyTuning(tuning)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(hub.CurrentTuning())
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: mux}
	go func() {
		logger.Infow("listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalw("listen failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Infow("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warnw("shutdown incomplete", "error", err)
	}
}
