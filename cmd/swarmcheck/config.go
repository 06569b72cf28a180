package main

import (
	"fmt"
	"time"

	"github.com/anacrolix/log"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/anacrolix/swarmcheck"
)

// Settings that can come from a file or the environment. Zero values keep the library defaults.
type fileConfig struct {
	Trackers           []string      `yaml:"trackers" env:"SWARMCHECK_TRACKERS" env-separator:","`
	BatchSize          int           `yaml:"batch_size" env:"SWARMCHECK_BATCH_SIZE"`
	Concurrency        int           `yaml:"concurrency" env:"SWARMCHECK_CONCURRENCY"`
	Timeout            time.Duration `yaml:"timeout" env:"SWARMCHECK_TIMEOUT"`
	Network            string        `yaml:"network" env:"SWARMCHECK_NETWORK"`
	CacheConnectionIds bool          `yaml:"cache_connection_ids" env:"SWARMCHECK_CACHE_CONNECTION_IDS"`
	// Datagrams per second across all trackers. 0 is unlimited.
	SendRate    float64 `yaml:"send_rate" env:"SWARMCHECK_SEND_RATE"`
	MetricsAddr string  `yaml:"metrics_addr" env:"SWARMCHECK_METRICS_ADDR"`
}

func loadFileConfig(path string) (fc fileConfig, err error) {
	if path != "" {
		err = cleanenv.ReadConfig(path, &fc)
	} else {
		err = cleanenv.ReadEnv(&fc)
	}
	if err != nil {
		err = fmt.Errorf("loading config: %w", err)
	}
	return
}

func (fc fileConfig) checkerConfig() *swarmcheck.Config {
	cfg := swarmcheck.NewDefaultConfig()
	if len(fc.Trackers) != 0 {
		cfg.Trackers = fc.Trackers
	}
	if fc.BatchSize != 0 {
		cfg.BatchSize = fc.BatchSize
	}
	if fc.Concurrency != 0 {
		cfg.MaxConcurrentBatches = fc.Concurrency
	}
	if fc.Timeout != 0 {
		cfg.SessionTimeout = fc.Timeout
	}
	if fc.Network != "" {
		cfg.Network = fc.Network
	}
	cfg.CacheConnectionIds = fc.CacheConnectionIds
	if fc.SendRate > 0 {
		cfg.SendRateLimiter = rate.NewLimiter(rate.Limit(fc.SendRate), 1)
	}
	if fc.MetricsAddr != "" {
		cfg.MetricsRegisterer = prometheus.DefaultRegisterer
	}
	cfg.Debug = flags.Debug
	if flags.Quiet {
		cfg.Logger = log.Default.FilterLevel(log.Disabled)
	}
	return cfg
}
