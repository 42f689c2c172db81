package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 1, cfg.AckRetryInterval)
	assert.Equal(t, 3, cfg.AckMaxTries)
	assert.Equal(t, 5, cfg.AssignmentTimeout)
	assert.Equal(t, 30, cfg.GossipInterval)
}

func TestLoadRespectsEnvOverride(t *testing.T) {
	t.Setenv("ICECREAM_ACK_MAX_TRIES", "7")
	cfg := Load()
	assert.Equal(t, 7, cfg.AckMaxTries)
}

func TestLoadFallsBackOnInvalidIntEnv(t *testing.T) {
	t.Setenv("ICECREAM_ACK_MAX_TRIES", "not-a-number")
	cfg := Load()
	assert.Equal(t, 3, cfg.AckMaxTries)
}

func TestAddressHelpers(t *testing.T) {
	cfg := &Config{Host: "127.0.0.1"}
	assert.Equal(t, "127.0.0.1:6003", cfg.RobotAddr(3))
	assert.Equal(t, "127.0.0.1:9002", cfg.InterfaceAddr(2))
	assert.Equal(t, "127.0.0.1:5000", cfg.LeaderAddr())
	assert.Equal(t, "127.0.0.1:8080", cfg.GatewayTCPAddr())
	assert.Equal(t, "127.0.0.1:8081", cfg.GatewayUDPAddr())
}
