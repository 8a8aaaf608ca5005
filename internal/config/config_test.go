package config

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

var keys = []string{
	"HTTP_ADDR", "KAFKA_BROKERS", "REALTIME_TRANSPORT", "APP_ROLE", "PRESENCE_PEERS",
	"PRESENCE_INACTIVITY_MS", "TYPING_AUTOSTOP_MS", "TYPING_SAFETY_MS", "HISTORY_PAGE_SIZE",
	"LOW_STOCK_THRESHOLD", "LOCATION_INTERVAL_MS", "LOCATION_BUFFER", "RUN_MIGRATIONS",
}

func TestLoadDefaults(t *testing.T) {
	for _, k := range keys {
		t.Setenv(k, "")
	}
	c := Load()
	assert.Equal(t, ":8081", c.HTTPAddr)
	assert.Equal(t, []string{"kafka:9092"}, c.KafkaBrokers)
	assert.Equal(t, "kafka", c.Transport)
	assert.Equal(t, "admin", c.Role)
	assert.Equal(t, 0, len(c.PresencePeers))
	assert.Equal(t, 5*time.Minute, c.PresenceInactivity)
	assert.Equal(t, 3*time.Second, c.TypingAutoStop)
	assert.Equal(t, 5*time.Second, c.TypingSafety)
	assert.Equal(t, 50, c.HistoryPageSize)
	assert.Equal(t, 10, c.LowStockThreshold)
	assert.Equal(t, 10*time.Second, c.LocationInterval)
	assert.Equal(t, 50, c.LocationBuffer)
	assert.Equal(t, false, c.RunMigration)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092 ")
	t.Setenv("REALTIME_TRANSPORT", "WS")
	t.Setenv("APP_ROLE", "driver")
	t.Setenv("PRESENCE_PEERS", "r1,r2")
	t.Setenv("PRESENCE_INACTIVITY_MS", "1500")
	t.Setenv("HISTORY_PAGE_SIZE", "20")
	t.Setenv("LOW_STOCK_THRESHOLD", "not-a-number")
	t.Setenv("RUN_MIGRATIONS", "true")
	c := Load()
	assert.Equal(t, ":9090", c.HTTPAddr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.KafkaBrokers)
	assert.Equal(t, "ws", c.Transport)
	assert.Equal(t, "driver", c.Role)
	assert.Equal(t, []string{"r1", "r2"}, c.PresencePeers)
	assert.Equal(t, 1500*time.Millisecond, c.PresenceInactivity)
	assert.Equal(t, 20, c.HistoryPageSize)
	assert.Equal(t, 10, c.LowStockThreshold)
	assert.Equal(t, true, c.RunMigration)
}
