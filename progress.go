package swarmcheck

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// Counts of infohashes with a verdict so far in a Run. Processed is Alive+Dead+Failed.
type Progress struct {
	Total     int
	Processed int
	Alive     int
	Dead      int
	Failed    int

	Batches     int
	BatchesDone int
}

func (me Progress) Percent() float64 {
	if me.Total == 0 {
		return 100
	}
	return 100 * float64(me.Processed) / float64(me.Total)
}

func (me Progress) Done() bool {
	return me.Processed >= me.Total
}

func (me *Progress) add(v Verdict) {
	me.Processed++
	switch v.Status {
	case Alive:
		me.Alive++
	case Dead:
		me.Dead++
	default:
		me.Failed++
	}
}

func (me Progress) String() string {
	return fmt.Sprintf(
		"Progress: %.1f%% (%s/%s) | Alive: %s | Dead: %s | Failed: %s",
		me.Percent(),
		humanize.Comma(int64(me.Processed)),
		humanize.Comma(int64(me.Total)),
		humanize.Comma(int64(me.Alive)),
		humanize.Comma(int64(me.Dead)),
		humanize.Comma(int64(me.Failed)),
	)
}
