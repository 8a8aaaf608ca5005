// Package app holds the process wiring shared by the daemons.
package app

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-realtime-sync/internal/config"
	kafkax "github.com/ariefcatur/go-realtime-sync/internal/kafka"
	"github.com/ariefcatur/go-realtime-sync/internal/natsx"
	"github.com/ariefcatur/go-realtime-sync/internal/realtime"
	"github.com/ariefcatur/go-realtime-sync/internal/wsfeed"
)

const (
	TransportKafka = "kafka"
	TransportWS    = "ws"
)

// NewTransport builds the process-wide transport named by cfg.Transport.
// The returned func releases connections the transport holds.
func NewTransport(cfg config.Config, log *zap.Logger) (realtime.Transport, func(), error) {
	switch cfg.Transport {
	case TransportWS:
		t, err := wsfeed.New(wsfeed.Config{URL: cfg.RealtimeURL, APIKey: cfg.RealtimeAPIKey}, log.Named("wsfeed"))
		if err != nil {
			return nil, nil, err
		}
		return t, func() {}, nil
	case TransportKafka, "":
		nc, err := natsx.Connect(natsx.Config{URL: cfg.NATSURL, Name: cfg.ServiceName}, log.Named("nats"))
		if err != nil {
			return nil, nil, fmt.Errorf("nats connect: %w", err)
		}
		feed := kafkax.NewFeed(cfg.KafkaBrokers, log.Named("feed"))
		signals := natsx.NewSignals(nc, log.Named("signals"))
		release := func() {
			if err := nc.Drain(); err != nil {
				log.Warn("nats drain", zap.Error(err))
			}
		}
		return realtime.Split(feed, signals), release, nil
	}
	return nil, nil, fmt.Errorf("unknown realtime transport %q", cfg.Transport)
}
