// Package catalogue persists the infohashes being tracked, and applies scrape verdicts to them.
//
// The flat-file form is ';' separated with a header line. There's no quoting: ';' in names is
// replaced with ',' on the way in.
package catalogue

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/anacrolix/swarmcheck/metainfo"
	"github.com/anacrolix/swarmcheck/types/infohash"
)

const (
	Header    = "infohash;name;size_bytes;created_unix;seeders;leechers;completed;scraped_date"
	Separator = ";"
	numFields = 8
)

var ErrTooFewFields = errors.New("too few fields")

type Record struct {
	// Lower-case hex.
	InfoHash    string
	Name        string
	SizeBytes   uint64
	CreatedUnix int64
	Seeders     uint32
	Leechers    uint32
	Completed   uint32
	ScrapedDate int64
}

func (r Record) Line() string {
	return strings.Join([]string{
		r.InfoHash,
		strings.ReplaceAll(r.Name, Separator, ","),
		strconv.FormatUint(r.SizeBytes, 10),
		strconv.FormatInt(r.CreatedUnix, 10),
		strconv.FormatUint(uint64(r.Seeders), 10),
		strconv.FormatUint(uint64(r.Leechers), 10),
		strconv.FormatUint(uint64(r.Completed), 10),
		strconv.FormatInt(r.ScrapedDate, 10),
	}, Separator)
}

func (r Record) Key() (infohash.T, error) {
	return infohash.ParseHex(r.InfoHash)
}

// Numeric fields that don't parse are zero. Only a short line is an error.
func ParseRecord(line string) (r Record, err error) {
	fs := strings.Split(line, Separator)
	if len(fs) < numFields {
		err = fmt.Errorf("%w: got %d, want %d", ErrTooFewFields, len(fs), numFields)
		return
	}
	r.InfoHash = strings.TrimSpace(fs[0])
	r.Name = fs[1]
	r.SizeBytes, _ = strconv.ParseUint(fs[2], 10, 64)
	r.CreatedUnix, _ = strconv.ParseInt(fs[3], 10, 64)
	r.Seeders = parseCount(fs[4])
	r.Leechers = parseCount(fs[5])
	r.Completed = parseCount(fs[6])
	r.ScrapedDate, _ = strconv.ParseInt(fs[7], 10, 64)
	return
}

// Counts are uint32 as scraped. Anything else, including out of range values, is 0.
func parseCount(s string) uint32 {
	i, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(i)
}

// A new record for a magnet link, with the size from its "xl" parameter if present. The name is
// the link's display name unless one is given.
func RecordFromMagnet(uri, name string, now time.Time) (r Record, err error) {
	m, err := metainfo.ParseMagnetUri(uri)
	if err != nil {
		return
	}
	if name == "" {
		name = m.DisplayName
	}
	r = Record{
		InfoHash:    m.InfoHash.HexString(),
		Name:        name,
		SizeBytes:   uint64(m.Length().UnwrapOrZeroValue()),
		CreatedUnix: now.Unix(),
		ScrapedDate: now.Unix(),
	}
	return
}

// Parses sizes like "1.5 GB" as shown on index sites. Anything unrecognized is 0.
func ParseSize(s string) uint64 {
	n, err := humanize.ParseBytes(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}
