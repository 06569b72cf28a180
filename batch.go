package swarmcheck

import (
	"fmt"

	"github.com/anacrolix/swarmcheck/tracker/udp"
	"github.com/anacrolix/swarmcheck/types/infohash"
)

// Infohashes scraped together in one datagram to every tracker.
type Batch struct {
	// Position in Plan.Batches.
	Index      int
	InfoHashes []infohash.T
}

// An input that couldn't be parsed as an infohash. It's never scraped.
type SkippedInput struct {
	// Position in the inputs given to Plan.
	Index  int
	Value  string
	Reason error
}

func (me SkippedInput) String() string {
	return fmt.Sprintf("input %d %q: %v", me.Index, me.Value, me.Reason)
}

type Plan struct {
	Batches []Batch
	Skipped []SkippedInput
	// Distinct valid infohashes, in the order they first appear.
	InfoHashes []infohash.T
}

// Chunks the valid, distinct inputs into batches of batchSize in input order. Repeats of an
// infohash after its first appearance are dropped silently.
func PlanBatches(inputs []string, batchSize int) (ret Plan, err error) {
	if batchSize < 1 || batchSize > udp.MaxScrapeInfohashes {
		err = fmt.Errorf("%w: got %d", ErrBatchTooLarge, batchSize)
		return
	}
	seen := make(map[infohash.T]struct{}, len(inputs))
	for i, s := range inputs {
		ih, parseErr := infohash.ParseHex(s)
		if parseErr != nil {
			ret.Skipped = append(ret.Skipped, SkippedInput{
				Index:  i,
				Value:  s,
				Reason: parseErr,
			})
			continue
		}
		if _, ok := seen[ih]; ok {
			continue
		}
		seen[ih] = struct{}{}
		ret.InfoHashes = append(ret.InfoHashes, ih)
	}
	for off := 0; off < len(ret.InfoHashes); off += batchSize {
		end := min(off+batchSize, len(ret.InfoHashes))
		ret.Batches = append(ret.Batches, Batch{
			Index:      len(ret.Batches),
			InfoHashes: ret.InfoHashes[off:end:end],
		})
	}
	return
}
