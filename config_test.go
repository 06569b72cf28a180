package swarmcheck

import (
	"testing"
	"time"

	"github.com/go-quicktest/qt"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())
	qt.Check(t, qt.HasLen(cfg.Trackers, 9))
	qt.Check(t, qt.Equals(cfg.BatchSize, 50))
	qt.Check(t, qt.Equals(cfg.MaxConcurrentBatches, 10))
	qt.Check(t, qt.Equals(cfg.SessionTimeout, 5*time.Second))
	// Mutating a config mustn't touch the package defaults.
	cfg.Trackers[0] = "x"
	qt.Check(t, qt.Equals(DefaultTrackers[0], "udp://tracker.opentrackr.org:1337"))
}

func TestConfigValidateJoinsErrors(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Trackers = nil
	cfg.BatchSize = 75
	cfg.MaxConcurrentBatches = 0
	cfg.SessionTimeout = 0
	err := cfg.Validate()
	qt.Check(t, qt.ErrorIs(err, ErrNoTrackers))
	qt.Check(t, qt.ErrorIs(err, ErrBatchTooLarge))
	qt.Check(t, qt.ErrorIs(err, ErrConcurrency))
	qt.Check(t, qt.ErrorIs(err, ErrNonPositiveTimeout))
	_, err = NewChecker(cfg)
	qt.Check(t, qt.ErrorIs(err, ErrNoTrackers))
}

func TestConfigValidateBadTracker(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Trackers = append(cfg.Trackers, "http://example.com/announce")
	qt.Check(t, qt.IsNotNil(cfg.Validate()))
	cfg.Network = "tcp"
	cfg.Trackers = cfg.Trackers[:1]
	qt.Check(t, qt.ErrorMatches(cfg.Validate(), `unsupported network "tcp"`))
}

func TestParseTracker(t *testing.T) {
	for _, tc := range []struct {
		in   string
		host string
	}{
		{"udp://tracker.opentrackr.org:1337/announce", "tracker.opentrackr.org:1337"},
		{"udp://open.stealth.si:80", "open.stealth.si:80"},
		{"127.0.0.1:6969", "127.0.0.1:6969"},
		{"udp://[::1]:6969", "[::1]:6969"},
	} {
		tr, err := ParseTracker(tc.in)
		qt.Assert(t, qt.IsNil(err), qt.Commentf("%q", tc.in))
		qt.Check(t, qt.Equals(tr.Host, tc.host))
		qt.Check(t, qt.Equals(tr.Url, tc.in))
	}
	for _, s := range []string{
		"",
		"udp://nohost",
		"udp://:6969",
		"wss://tracker.example:443",
		"localhost",
	} {
		_, err := ParseTracker(s)
		qt.Check(t, qt.IsNotNil(err), qt.Commentf("%q", s))
	}
}
