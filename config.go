package swarmcheck

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/anacrolix/log"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/anacrolix/swarmcheck/tracker/udp"
)

// Public UDP trackers that answer scrapes for most of the catalogue.
var DefaultTrackers = []string{
	"udp://tracker.opentrackr.org:1337",
	"udp://open.stealth.si:80",
	"udp://tracker.torrent.eu.org:451",
	"udp://exodus.desync.com:6969",
	"udp://tracker.moeking.me:6969",
	"udp://opentracker.i2p.rocks:6969",
	"udp://tracker.bitsearch.to:1337",
	"udp://tracker.tiny-vps.com:6969",
	"udp://tracker.openbittorrent.com:6969",
}

const (
	DefaultBatchSize            = 50
	DefaultMaxConcurrentBatches = 10
	DefaultSessionTimeout       = 5 * time.Second
)

var (
	ErrNoTrackers         = errors.New("no trackers configured")
	ErrBatchTooLarge      = fmt.Errorf("batch size must be between 1 and %d", udp.MaxScrapeInfohashes)
	ErrConcurrency        = errors.New("max concurrent batches must be positive")
	ErrNonPositiveTimeout = errors.New("session timeout must be positive")
)

// Probably not safe to modify this after it's given to a Checker.
type Config struct {
	// Tracker URLs such as "udp://tracker.opentrackr.org:1337/announce", or bare "host:port".
	Trackers []string
	// Infohashes per scrape datagram. At most udp.MaxScrapeInfohashes.
	BatchSize int
	// How many batches are in flight at once. Each batch scrapes every tracker concurrently.
	MaxConcurrentBatches int
	// Bounds each of the connect and scrape round trips of a session.
	SessionTimeout time.Duration
	// "udp", "udp4" or "udp6".
	Network string
	// Defines ListenPacket func to use for tracker sessions.
	TrackerListenPacket func(network, addr string) (net.PacketConn, error)
	// Reuse connection IDs per tracker for as long as BEP 15 allows, instead of a fresh connect
	// for every batch.
	CacheConnectionIds bool
	// Each token is one datagram sent to a tracker. Shared by all sessions.
	SendRateLimiter *rate.Limiter

	Debug bool `help:"enable debugging"`
	// Must be set. NewDefaultConfig does.
	Logger log.Logger
	// If set, session and verdict counters are registered here.
	MetricsRegisterer prometheus.Registerer
}

func NewDefaultConfig() *Config {
	return &Config{
		Trackers:             append([]string(nil), DefaultTrackers...),
		BatchSize:            DefaultBatchSize,
		MaxConcurrentBatches: DefaultMaxConcurrentBatches,
		SessionTimeout:       DefaultSessionTimeout,
		Network:              "udp",
		SendRateLimiter:      rate.NewLimiter(rate.Inf, 0),
		Logger:               log.Default.WithNames("swarmcheck"),
	}
}

// Returns every problem with the config, joined.
func (cfg *Config) Validate() error {
	var errs []error
	if len(cfg.Trackers) == 0 {
		errs = append(errs, ErrNoTrackers)
	}
	for _, s := range cfg.Trackers {
		_, err := ParseTracker(s)
		if err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.BatchSize < 1 || cfg.BatchSize > udp.MaxScrapeInfohashes {
		errs = append(errs, fmt.Errorf("%w: got %d", ErrBatchTooLarge, cfg.BatchSize))
	}
	if cfg.MaxConcurrentBatches < 1 {
		errs = append(errs, fmt.Errorf("%w: got %d", ErrConcurrency, cfg.MaxConcurrentBatches))
	}
	if cfg.SessionTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%w: got %v", ErrNonPositiveTimeout, cfg.SessionTimeout))
	}
	switch cfg.Network {
	case "", "udp", "udp4", "udp6":
	default:
		errs = append(errs, fmt.Errorf("unsupported network %q", cfg.Network))
	}
	return errors.Join(errs...)
}
