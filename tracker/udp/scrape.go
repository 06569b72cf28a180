package udp

import (
	"github.com/anacrolix/swarmcheck/types/infohash"
)

type ScrapeRequest []infohash.T

// Positionally aligned with the ScrapeRequest that produced it. May be shorter than the request.
type ScrapeResponse []ScrapeInfohashResult

// Counts are unsigned words on the wire.
type ScrapeInfohashResult struct {
	Seeders   uint32
	Completed uint32
	Leechers  uint32
}

// Results of one scrape keyed by infohash. Infohashes the tracker didn't answer for are absent.
type ScrapeResult map[infohash.T]ScrapeInfohashResult

// Pairs the response back up with the infohashes that were requested.
func (resp ScrapeResponse) Result(req ScrapeRequest) ScrapeResult {
	ret := make(ScrapeResult, len(resp))
	for i, item := range resp {
		if i >= len(req) {
			break
		}
		ret[req[i]] = item
	}
	return ret
}
