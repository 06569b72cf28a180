package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/anacrolix/log"
	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anacrolix/swarmcheck"
	"github.com/anacrolix/swarmcheck/catalogue"
)

type CheckCmd struct {
	Bolt  string   `help:"check this bbolt catalogue instead, importing any files given into it first"`
	Dir   string   `default:"." help:"where to look for torrents_part_*.csv when no files are given"`
	Files []string `arg:"positional" help:"catalogue files"`
}

func check(ctx context.Context, cmd CheckCmd) error {
	fc, err := loadFileConfig(flags.Config)
	if err != nil {
		return err
	}
	if fc.MetricsAddr != "" {
		go serveMetrics(fc.MetricsAddr)
	}
	cl, err := swarmcheck.NewChecker(fc.checkerConfig())
	if err != nil {
		return err
	}
	if cmd.Bolt != "" {
		return checkBolt(ctx, cl, cmd)
	}
	files := cmd.Files
	if len(files) == 0 {
		files, err = catalogue.FindParts(cmd.Dir)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			fmt.Printf("No torrents_part_*.csv files found in %q.\n", cmd.Dir)
			return nil
		}
	}
	for _, path := range files {
		err = checkFile(ctx, cl, path)
		if err != nil {
			return fmt.Errorf("checking %q: %w", path, err)
		}
	}
	fmt.Println("All files updated.")
	return nil
}

func checkFile(ctx context.Context, cl *swarmcheck.Checker, path string) error {
	f, err := catalogue.Load(path)
	if err != nil {
		return err
	}
	if f.Len() == 0 {
		return nil
	}
	fmt.Printf("Processing %s: %s torrents...\n", path, humanize.Comma(int64(f.Len())))
	stats, runErr := checkStore(ctx, cl, f)
	if !f.Dirty() {
		return runErr
	}
	// Verdicts from a cancelled run are still good, so save them either way.
	err = f.Save()
	if err != nil {
		return errors.Join(runErr, err)
	}
	fmt.Printf("Wrote %s: %+v\n", path, stats)
	return runErr
}

func checkBolt(ctx context.Context, cl *swarmcheck.Checker, cmd CheckCmd) error {
	s, err := catalogue.OpenBolt(cmd.Bolt)
	if err != nil {
		return err
	}
	defer s.Close()
	for _, path := range cmd.Files {
		f, err := catalogue.Load(path)
		if err != nil {
			return err
		}
		added, err := s.Append(f.Records()...)
		if err != nil {
			logger.Levelf(log.Warning, "importing %q: %v", path, err)
		}
		fmt.Printf("Imported %d new torrents from %s.\n", added, path)
	}
	stats, err := checkStore(ctx, cl, s)
	fmt.Printf("Updated %s: %+v\n", cmd.Bolt, stats)
	return err
}

func checkStore(ctx context.Context, cl *swarmcheck.Checker, store catalogue.Store) (stats catalogue.ApplyStats, err error) {
	inputs, err := store.InfoHashes()
	if err != nil {
		return
	}
	started := time.Now()
	res, runErr := cl.Run(ctx, inputs, swarmcheck.RunOpts{
		OnProgress: func(p swarmcheck.Progress) {
			fmt.Printf("\r%v   ", p)
		},
	})
	fmt.Println()
	if res == nil {
		err = runErr
		return
	}
	for _, s := range res.Skipped {
		logger.Levelf(log.Debug, "skipped %v", s)
	}
	logger.Levelf(log.Info, "scraped %v infohashes in %v", len(res.Verdicts), time.Since(started))
	stats, err = store.Apply(res.Verdicts, time.Now())
	err = errors.Join(runErr, err)
	return
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	err := http.ListenAndServe(addr, mux)
	logger.Levelf(log.Error, "serving metrics on %q: %v", addr, err)
	os.Exit(1)
}
