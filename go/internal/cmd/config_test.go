package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestLoadConfigMissingFileKeepsDefaults(t *testing.T) {
	config, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.NoError(t, err)

	check.Equal(t, "8080", config.HTTP.Port)
	check.Equal(t, 10*time.Second, config.Auction.ClosingSoonThreshold)
	check.Equal(t, 15*time.Second, config.Auction.EvictionGrace)
	check.True(t, config.Socket.Enabled)
	check.False(t, config.JetStream.Enabled)
	check.Equal(t, "lead_auction_events", config.Listener.NotifyChannel)
}

func TestLoadConfigOverlaysFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
http:
  port: "9090"
auction:
  premature_close_threshold: 3s
  rebase_eviction_on_upgrade: true
socket:
  enabled: false
jetstream:
  enabled: true
  stream_name: LEADS_TEST
journal:
  enabled: true
`
	assert.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	config, err := loadConfig(path)
	assert.NoError(t, err)
	check.Equal(t, "9090", config.HTTP.Port)
	check.Equal(t, 3*time.Second, config.Auction.PrematureCloseThreshold)
	check.True(t, config.Auction.RebaseEvictionOnUpgrade)
	check.Equal(t, 10*time.Second, config.Auction.ClosingSoonThreshold)
	check.False(t, config.Socket.Enabled)
	check.True(t, config.JetStream.Enabled)
	check.Equal(t, "LEADS_TEST", config.JetStream.StreamName)
	check.Equal(t, "leads.events.>", config.JetStream.SubjectFilter)
	check.True(t, config.usesDatabase())
}

func TestLoadConfigRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	assert.NoError(t, os.WriteFile(path, []byte("http: [unclosed"), 0o600))

	_, err := loadConfig(path)
	check.Error(t, err)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7000")
	t.Setenv("MARKETPLACE_API_TOKEN", "tok")
	t.Setenv("NATS_URL", "nats://nats:4222")
	t.Setenv("JETSTREAM_ENABLED", "true")
	t.Setenv("SOCKET_ENABLED", "not-a-bool")

	config := defaultConfig()
	applyEnvOverrides(config)

	check.Equal(t, "7000", config.HTTP.Port)
	check.Equal(t, "tok", config.Marketplace.Token)
	check.Equal(t, "tok", config.Socket.Token)
	check.Equal(t, "nats://nats:4222", config.JetStream.URL)
	check.True(t, config.JetStream.Enabled)
	check.True(t, config.Socket.Enabled)
}

func TestGatewayConfigEnablesTransports(t *testing.T) {
	config := defaultConfig()
	config.Listener.Enabled = true

	gc := config.gatewayConfig("postgres://db/leads")
	assert.NotNil(t, gc.Socket)
	check.Nil(t, gc.JetStream)
	assert.NotNil(t, gc.Listener)
	check.Equal(t, "postgres://db/leads", gc.Listener.DatabaseURL)
	check.Equal(t, 30*time.Second, gc.RefreshInterval)
}
