// Command tracker is the driver side: it keeps the driver's presence and
// samples the delivery's position along ROUTE_POINTS.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-realtime-sync/internal/app"
	"github.com/ariefcatur/go-realtime-sync/internal/config"
	"github.com/ariefcatur/go-realtime-sync/internal/httpx"
	"github.com/ariefcatur/go-realtime-sync/internal/location"
	"github.com/ariefcatur/go-realtime-sync/internal/logger"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	if os.Getenv("APP_ROLE") == "" {
		cfg.Role = "driver"
	}
	log := logger.New(cfg.LogLevel).Named("tracker")
	defer func() { _ = log.Sync() }()

	if cfg.DeliveryID == "" {
		log.Fatal("DELIVERY_ID is required")
	}
	route, err := location.ParseRoute(cfg.RoutePoints)
	if err != nil {
		log.Fatal("ROUTE_POINTS", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	in, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal("startup", zap.Error(err))
	}
	defer in.Close()

	sess, err := in.Session(cfg, log)
	if err != nil {
		log.Fatal("session", zap.Error(err))
	}
	defer sess.Close()

	status := &httpx.StatusHandler{Channels: sess.Manager(), Cache: in.Cache}

	pres, err := sess.Presence(ctx)
	if pres != nil {
		defer pres.Close()
		status.Presence = pres
	}
	if err != nil {
		log.Warn("presence", zap.Error(err))
	}

	src, err := location.NewReplaySource(route, cfg.LocationInterval, time.Now)
	if err != nil {
		log.Fatal("route", zap.Error(err))
	}
	trk, err := sess.TrackLocation(ctx, cfg.DeliveryID, src)
	if trk != nil {
		defer trk.Close()
	}
	if err != nil {
		// permission denied is terminal for this process
		log.Fatal("location tracking", zap.Error(err))
	}

	if cfg.OrderID != "" {
		if conv, err := sess.Conversation(ctx, cfg.OrderID); err == nil {
			defer conv.Close()
			status.Chat = conv
		}
	}

	router := httpx.NewRouter()
	status.Register(router)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		tk := time.NewTicker(time.Minute)
		defer tk.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-tk.C:
				if s, ok := trk.Latest(); ok {
					log.Info("trail",
						zap.String("delivery", cfg.DeliveryID),
						zap.Int("samples", len(trk.Samples())),
						zap.Float64("travelled_m", trk.DistanceTravelled()),
						zap.Float64("lat", s.Latitude), zap.Float64("lon", s.Longitude))
				}
			}
		}
	})
	g.Go(func() error {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sig:
		case <-gctx.Done():
		}
		log.Info("shutting down...")
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
		cancel()
		return nil
	})
	if err := g.Wait(); err != nil {
		log.Error("exit", zap.Error(err))
	}
}
