package swarmcheck

import (
	"time"
)

// Scrapes the given loopback trackers over IPv4 with short timeouts.
func TestingConfig(trackers ...string) *Config {
	cfg := NewDefaultConfig()
	cfg.Trackers = trackers
	cfg.Network = "udp4"
	cfg.SessionTimeout = 250 * time.Millisecond
	//cfg.Debug = true
	return cfg
}
