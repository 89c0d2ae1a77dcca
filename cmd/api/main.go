package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"ormdash.org/internal/app"
	"ormdash.org/internal/config"
	"ormdash.org/internal/httpapi"
	"ormdash.org/internal/obs"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	a, err := app.Open(ctx, cfg)
	cancel()
	if err != nil {
		log.Fatalf("startup: %v", err)
	}

	probe := httpapi.ReadyProbe{DB: a.Store.DB()}
	api, err := httpapi.New(probe, version, a.Service, a.Authn,
		httpapi.WithCORSOrigins(cfg.CORSOrigins),
		httpapi.WithRateLimit(cfg.RateBurst, cfg.RatePerSec),
		httpapi.WithMaxBodyBytes(cfg.MaxBodyBytes),
	)
	if err != nil {
		log.Fatalf("api: %v", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcServer := grpc.NewServer()
	httpapi.NewGRPCServer(probe).Register(grpcServer)
	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("grpc listen: %v", err)
	}

	obs.Log("info", "starting orm-dashboard", map[string]any{
		"version":  version,
		"env":      cfg.Env,
		"http":     srv.Addr,
		"grpc":     cfg.GRPCAddr,
		"database": a.Store.Dialect().Name,
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()
	go func() {
		if err := grpcServer.Serve(grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Fatalf("grpc serve: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	obs.Log("info", "shutting down", nil)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	_ = srv.Shutdown(shutdownCtx)
	grpcServer.GracefulStop()
	_ = a.Close()
	obs.Log("info", "stopped", nil)
}
