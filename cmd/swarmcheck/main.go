// Keeps a catalogue of torrents fresh by scraping UDP trackers for their seeders and leechers.
//
// Example run:
// $ go run ./cmd/swarmcheck check torrents_part_1.csv torrents_part_2.csv
// Progress: 37.0% (1,850/5,000) | Alive: 1,203 | Dead: 412 | Failed: 235
package main

import (
	"context"
	"fmt"
	stdLog "log"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexflint/go-arg"
	"github.com/anacrolix/envpprof"
	"github.com/anacrolix/log"

	"github.com/anacrolix/swarmcheck/version"
)

var logger = log.Default.WithNames("main")

var flags struct {
	Debug  bool   `help:"log per-tracker failures"`
	Quiet  bool   `help:"discard library logging"`
	Config string `help:"YAML config file. SWARMCHECK_* environment variables override it"`

	*CheckCmd   `arg:"subcommand:check" help:"scrape every catalogue record and apply the verdicts"`
	*ScrapeCmd  `arg:"subcommand:scrape" help:"scrape infohashes from one tracker and dump the result"`
	*AddCmd     `arg:"subcommand:add" help:"add magnet links to a catalogue"`
	*TrackerCmd `arg:"subcommand:tracker" help:"serve a catalogue's counts as a UDP tracker"`
	*VersionCmd `arg:"subcommand:version"`
}

type VersionCmd struct{}

func main() {
	defer envpprof.Stop()
	if err := mainErr(); err != nil {
		logger.Levelf(log.Error, "error in main: %v", err)
		os.Exit(1)
	}
}

func mainErr() error {
	stdLog.SetFlags(stdLog.Flags() | stdLog.Lshortfile)
	p := arg.MustParse(&flags)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	switch {
	case flags.CheckCmd != nil:
		return check(ctx, *flags.CheckCmd)
	case flags.ScrapeCmd != nil:
		return scrape(ctx, *flags.ScrapeCmd)
	case flags.AddCmd != nil:
		return add(*flags.AddCmd)
	case flags.TrackerCmd != nil:
		return serveTracker(ctx, *flags.TrackerCmd)
	case flags.VersionCmd != nil:
		fmt.Printf("Main: %s\n", version.Main)
		fmt.Printf("Swarmcheck: %s\n", version.Swarmcheck)
		fmt.Printf("Version: %s\n", version.Default)
		return nil
	default:
		p.Fail(fmt.Sprintf("unexpected subcommand: %v", p.Subcommand()))
		panic("unreachable")
	}
}
