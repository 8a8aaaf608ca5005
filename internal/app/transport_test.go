package app

import (
	"testing"

	"github.com/go-playground/assert/v2"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-realtime-sync/internal/config"
)

func TestNewTransportRejectsUnknown(t *testing.T) {
	_, _, err := NewTransport(config.Config{Transport: "carrier-pigeon"}, zap.NewNop())
	assert.NotEqual(t, nil, err)
}

func TestWebsocketTransportNeedsURL(t *testing.T) {
	_, _, err := NewTransport(config.Config{Transport: TransportWS}, zap.NewNop())
	assert.NotEqual(t, nil, err)

	tr, release, err := NewTransport(config.Config{Transport: TransportWS, RealtimeURL: "ws://localhost:4000/realtime/v1"}, zap.NewNop())
	assert.Equal(t, nil, err)
	assert.NotEqual(t, nil, tr)
	release()
}

func TestKafkaTransportNeedsNATS(t *testing.T) {
	_, _, err := NewTransport(config.Config{Transport: TransportKafka}, zap.NewNop())
	assert.NotEqual(t, nil, err)
}
