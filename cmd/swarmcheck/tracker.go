package main

import (
	"context"
	"errors"
	"net"

	"github.com/anacrolix/log"

	"github.com/anacrolix/swarmcheck/catalogue"
	"github.com/anacrolix/swarmcheck/tracker/udp"
	udpTrackerServer "github.com/anacrolix/swarmcheck/tracker/udp/server"
	"github.com/anacrolix/swarmcheck/types/infohash"
)

type TrackerCmd struct {
	Addr      string `default:"localhost:6969" help:"UDP listen address"`
	Bolt      string `help:"serve this bbolt catalogue, reading it on every scrape"`
	Catalogue string `arg:"positional" help:"catalogue file, loaded once at startup"`
}

func recordCounts(rec catalogue.Record) udp.ScrapeInfohashResult {
	return udp.ScrapeInfohashResult{
		Seeders:   rec.Seeders,
		Completed: rec.Completed,
		Leechers:  rec.Leechers,
	}
}

// Answers scrapes from a bbolt catalogue. Unknown infohashes get zero counts.
type boltScrapeTracker struct {
	store *catalogue.BoltStore
}

func (me boltScrapeTracker) Scrape(ctx context.Context, ihs []infohash.T) (ret []udp.ScrapeInfohashResult, err error) {
	ret = make([]udp.ScrapeInfohashResult, 0, len(ihs))
	for _, ih := range ihs {
		rec, ok, err := me.store.Get(ih)
		if err != nil {
			return nil, err
		}
		var res udp.ScrapeInfohashResult
		if ok {
			res = recordCounts(rec)
		}
		ret = append(ret, res)
	}
	return
}

func fileScrapeTracker(path string) (udpTrackerServer.MapScrapeTracker, error) {
	f, err := catalogue.Load(path)
	if err != nil {
		return nil, err
	}
	counts := make(udpTrackerServer.MapScrapeTracker, f.Len())
	for _, rec := range f.Records() {
		ih, err := rec.Key()
		if err != nil {
			continue
		}
		counts[ih] = recordCounts(rec)
	}
	return counts, nil
}

func serveTracker(ctx context.Context, cmd TrackerCmd) error {
	var scrape udpTrackerServer.ScrapeTracker
	source := cmd.Catalogue
	switch {
	case cmd.Bolt != "" && cmd.Catalogue != "":
		return errors.New("give a catalogue file or --bolt, not both")
	case cmd.Bolt != "":
		s, err := catalogue.OpenBolt(cmd.Bolt)
		if err != nil {
			return err
		}
		defer s.Close()
		scrape = boltScrapeTracker{s}
		source = cmd.Bolt
	case cmd.Catalogue != "":
		counts, err := fileScrapeTracker(cmd.Catalogue)
		if err != nil {
			return err
		}
		logger.Levelf(log.Debug, "loaded %v torrents from %q", len(counts), cmd.Catalogue)
		scrape = counts
	default:
		return errors.New("no catalogue given")
	}
	pc, err := net.ListenPacket("udp", cmd.Addr)
	if err != nil {
		return err
	}
	defer pc.Close()
	context.AfterFunc(ctx, func() { pc.Close() })
	logger.Levelf(log.Info, "serving %q on udp://%v", source, pc.LocalAddr())
	err = udpTrackerServer.RunSimple(ctx, udpTrackerServer.NewServer(pc, scrape), pc)
	if ctx.Err() != nil && errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}
