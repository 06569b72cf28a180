package main

import (
	"testing"
	"time"

	"github.com/go-quicktest/qt"
)

func TestMagnetRecords(t *testing.T) {
	now := time.Unix(1700000000, 0)
	recs := magnetRecords(AddCmd{
		Size: "1.5 GB",
		Magnets: []string{
			"magnet:?xt=urn:btih:51340689C960F0778A4387AEF9B4B52FD08390CD&dn=no+length",
			"magnet:?xt=urn:btih:c833bb2b5e7bcb9c07f4c020b4be430c28ba7cdb&dn=exact&xl=1234",
			"magnet:?dn=broken",
		},
	}, now)
	qt.Assert(t, qt.HasLen(recs, 2))
	qt.Check(t, qt.Equals(recs[0].InfoHash, "51340689c960f0778a4387aef9b4b52fd08390cd"))
	qt.Check(t, qt.Equals(recs[0].Name, "no length"))
	qt.Check(t, qt.Equals(recs[0].SizeBytes, uint64(1500000000)))
	// The link's own length wins.
	qt.Check(t, qt.Equals(recs[1].SizeBytes, uint64(1234)))
	qt.Check(t, qt.Equals(recs[1].CreatedUnix, now.Unix()))
}
