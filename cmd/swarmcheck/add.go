package main

import (
	"fmt"
	"time"

	"github.com/anacrolix/log"

	"github.com/anacrolix/swarmcheck/catalogue"
)

type AddCmd struct {
	Catalogue string   `arg:"positional,required" help:"catalogue file, created if missing. \"latest\" picks the newest torrents_part_N.csv here"`
	Name      string   `help:"name for the records, instead of each magnet's display name"`
	Size      string   `help:"size such as \"1.5 GB\", for magnets without an exact length"`
	Magnets   []string `arity:"+" arg:"positional"`
}

func add(cmd AddCmd) error {
	path := cmd.Catalogue
	if path == "latest" {
		var err error
		path, err = catalogue.LatestPart(".")
		if err != nil {
			return err
		}
	}
	err := catalogue.Create(path)
	if err != nil {
		return err
	}
	f, err := catalogue.Load(path)
	if err != nil {
		return err
	}
	added, err := f.Append(magnetRecords(cmd, time.Now())...)
	if err != nil {
		return err
	}
	if added != 0 {
		err = f.Save()
		if err != nil {
			return err
		}
	}
	fmt.Printf("Added %d new torrents to %s.\n", added, path)
	return nil
}

// Magnets that don't parse are logged and left out.
func magnetRecords(cmd AddCmd, now time.Time) (recs []catalogue.Record) {
	size := catalogue.ParseSize(cmd.Size)
	for _, m := range cmd.Magnets {
		rec, err := catalogue.RecordFromMagnet(m, cmd.Name, now)
		if err != nil {
			logger.Levelf(log.Warning, "skipping %q: %v", m, err)
			continue
		}
		if rec.SizeBytes == 0 {
			rec.SizeBytes = size
		}
		recs = append(recs, rec)
	}
	return
}
