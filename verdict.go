package swarmcheck

import (
	"fmt"

	"github.com/anacrolix/swarmcheck/tracker/udp"
	"github.com/anacrolix/swarmcheck/types/infohash"
)

// Ordered so that merging keeps the greater status.
type Status int

const (
	// No tracker answered. The zero value.
	Failed Status = iota
	// Somebody answered, and everybody that answered reported nobody.
	Dead
	// Somebody reported seeders or leechers.
	Alive
)

func (me Status) String() string {
	switch me {
	case Failed:
		return "failed"
	case Dead:
		return "dead"
	case Alive:
		return "alive"
	default:
		return fmt.Sprintf("Status(%d)", int(me))
	}
}

// The conclusion for one infohash across all trackers. Seeders and Leechers are only non-zero
// when Alive. The zero Verdict is Failed, and is the identity for Merge.
type Verdict struct {
	Status   Status
	Seeders  uint32
	Leechers uint32
}

func (me Verdict) String() string {
	if me.Status == Alive {
		return fmt.Sprintf("alive(%d, %d)", me.Seeders, me.Leechers)
	}
	return me.Status.String()
}

// Lifts a single tracker's answer.
func ObservationVerdict(obs udp.ScrapeInfohashResult) Verdict {
	v := Verdict{
		Status:   Dead,
		Seeders:  obs.Seeders,
		Leechers: obs.Leechers,
	}
	if v.Seeders > 0 || v.Leechers > 0 {
		v.Status = Alive
	}
	return v
}

// Commutative and associative. Counts are the maxima seen, so more evidence never lowers them.
func (me Verdict) Merge(other Verdict) Verdict {
	return Verdict{
		Status:   max(me.Status, other.Status),
		Seeders:  max(me.Seeders, other.Seeders),
		Leechers: max(me.Leechers, other.Leechers),
	}
}

// Folds each tracker's results for the batch into a verdict for every infohash in it.
// Infohashes missing from a tracker's result count as no answer from that tracker.
func AggregateBatch(batch Batch, results []udp.ScrapeResult) map[infohash.T]Verdict {
	ret := make(map[infohash.T]Verdict, len(batch.InfoHashes))
	for _, ih := range batch.InfoHashes {
		var v Verdict
		for _, res := range results {
			obs, ok := res[ih]
			if ok {
				v = v.Merge(ObservationVerdict(obs))
			}
		}
		ret[ih] = v
	}
	return ret
}
