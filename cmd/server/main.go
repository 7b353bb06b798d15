package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/lockbreak/internal/config"
	"github.com/DoyleJ11/lockbreak/internal/httpapi"
	"github.com/DoyleJ11/lockbreak/internal/hub"
	"github.com/DoyleJ11/lockbreak/internal/store"
	"github.com/DoyleJ11/lockbreak/internal/transport"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "lockbreak-server:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.LoadServer(args)
	if err != nil {
		return err
	}
	log, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()
	log = log.With(zap.String("server", cfg.Name))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var rec store.Recorder = store.Nop{}
	if cfg.DatabaseURL != "" {
		gr, err := store.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		rec = gr
		log.Info("recording match results")
	}

	// Build the hub *with* the grid settings every session uses
	h := hub.NewHub(ctx, hub.Config{
		Rows:           cfg.Rows,
		Cols:           cfg.Cols,
		Countdown:      cfg.Countdown,
		Duration:       cfg.GameTime,
		SpeedTolerance: cfg.SpeedTolerance,
		Seed:           cfg.Seed,
		Recorder:       rec,
		Logger:         log,
	})
	defer h.Shutdown()

	srv := transport.NewServer(h, transport.Options{
		MsgRate: cfg.MsgRate,
		Burst:   cfg.MsgBurst,
		Logger:  log,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(gctx, cfg.Addr()) })

	if cfg.HTTPAddr != "" {
		httpSrv := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           httpapi.SetupRoutes(h, srv, httpapi.Options{OriginPatterns: cfg.OriginPatterns, Logger: log}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info("http listening", zap.String("addr", cfg.HTTPAddr))
			if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(sctx)
		})
	}

	err = g.Wait()
	log.Info("stopped", zap.Error(err))
	return err
}
