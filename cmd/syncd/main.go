// Command syncd follows presence, stock alerts and optionally one order
// conversation for an admin or restaurant user, mirrors the feed into
// Redis and serves the local state over HTTP.
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

	"github.com/ariefcatur/go-realtime-sync/internal/alerts"
	"github.com/ariefcatur/go-realtime-sync/internal/app"
	"github.com/ariefcatur/go-realtime-sync/internal/config"
	"github.com/ariefcatur/go-realtime-sync/internal/errs"
	"github.com/ariefcatur/go-realtime-sync/internal/httpx"
	kafkax "github.com/ariefcatur/go-realtime-sync/internal/kafka"
	"github.com/ariefcatur/go-realtime-sync/internal/logger"
	"github.com/ariefcatur/go-realtime-sync/internal/mirror"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.New(cfg.LogLevel).Named(cfg.ServiceName)
	defer func() { _ = log.Sync() }()

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

	// Presence
	pres, err := sess.Presence(ctx)
	switch {
	case errs.Is(err, errs.KindPermission):
		log.Info("presence disabled for role")
	case err != nil:
		log.Warn("presence online write failed", zap.Error(err))
		fallthrough
	default:
		defer pres.Close()
		status.Presence = pres
	}

	// Stock alerts
	if mon, err := sess.StockAlerts(ctx); err == nil {
		defer mon.Close()
		mon.Engine().OnChange(func(c alerts.Change) {
			log.Info("stock alert",
				zap.String("change", string(c.Kind)),
				zap.String("product", c.Alert.ProductID),
				zap.String("type", string(c.Alert.Type)),
				zap.Int("stock", c.Alert.CurrentStock))
		})
		status.Alerts = mon
		status.Stock = in.Store
	} else {
		log.Info("stock alerts disabled", zap.Error(err))
	}

	// Conversation
	if cfg.OrderID != "" {
		conv, err := sess.Conversation(ctx, cfg.OrderID)
		if err != nil {
			log.Warn("conversation", zap.Error(err))
		} else {
			defer conv.Close()
			status.Chat = conv
		}
	}

	router := httpx.NewRouter()
	status.Register(router)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	mirrorSvc := &mirror.Service{Cache: in.Cache, ServiceName: cfg.ServiceName + "-mirror", Log: log.Named("mirror")}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.MirrorGroup, mirror.Topics(), cfg.MirrorWorkers, log.Named("consumer"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Info("mirror consumer started", zap.String("group", cfg.MirrorGroup), zap.Int("workers", cfg.MirrorWorkers))
		return cons.Start(gctx, mirrorSvc.HandleChange)
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
