package main

import (
	"context"
	"fmt"

	"github.com/davecgh/go-spew/spew"

	"github.com/anacrolix/swarmcheck"
	"github.com/anacrolix/swarmcheck/tracker/udp"
	"github.com/anacrolix/swarmcheck/types/infohash"
)

type ScrapeCmd struct {
	Tracker    string       `arg:"positional"`
	InfoHashes []infohash.T `arity:"+" arg:"positional"`
}

func scrape(ctx context.Context, cmd ScrapeCmd) error {
	tr, err := swarmcheck.ParseTracker(cmd.Tracker)
	if err != nil {
		return err
	}
	fc, err := loadFileConfig(flags.Config)
	if err != nil {
		return err
	}
	cfg := fc.checkerConfig()
	res, err := udp.Scrape(ctx, udp.SessionOpts{
		Network:     cfg.Network,
		Host:        tr.Host,
		Timeout:     cfg.SessionTimeout,
		SendLimiter: cfg.SendRateLimiter,
	}, cmd.InfoHashes)
	if err != nil {
		return fmt.Errorf("scraping: %w", err)
	}
	spew.Dump(res)
	for _, ih := range cmd.InfoHashes {
		obs, ok := res[ih]
		v := swarmcheck.Verdict{}
		if ok {
			v = swarmcheck.ObservationVerdict(obs)
		}
		fmt.Printf("%v: %v\n", ih, v)
	}
	return nil
}
