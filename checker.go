package swarmcheck

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/anacrolix/log"
	"github.com/anacrolix/missinggo/v2/panicif"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/anacrolix/swarmcheck/tracker/udp"
	"github.com/anacrolix/swarmcheck/types/infohash"
)

var tracer = otel.Tracer("swarmcheck")

// Scrapes batches of infohashes from a fixed set of UDP trackers and classifies each infohash.
// Safe for concurrent Runs.
type Checker struct {
	config   *Config
	logger   log.Logger
	trackers []Tracker
	// Nil unless Config.CacheConnectionIds.
	connIds *udp.ConnIdCache
	metrics *metrics
	stats   SessionStats
}

func NewChecker(cfg *Config) (_ *Checker, err error) {
	if cfg == nil {
		cfg = NewDefaultConfig()
	}
	err = cfg.Validate()
	if err != nil {
		err = fmt.Errorf("invalid config: %w", err)
		return
	}
	trackers, err := parseTrackers(cfg.Trackers)
	if err != nil {
		return
	}
	m, err := newMetrics(cfg.MetricsRegisterer)
	if err != nil {
		err = fmt.Errorf("registering metrics: %w", err)
		return
	}
	cl := &Checker{
		config:   cfg,
		logger:   cfg.Logger,
		trackers: trackers,
		metrics:  m,
	}
	if cfg.Debug {
		cl.logger = cl.logger.FilterLevel(log.Debug)
	}
	if cfg.CacheConnectionIds {
		cl.connIds = &udp.ConnIdCache{}
	}
	return cl, nil
}

func (cl *Checker) Trackers() []Tracker {
	return append([]Tracker(nil), cl.trackers...)
}

// Returns a snapshot of the session counters.
func (cl *Checker) Stats() SessionStats {
	return copyCountFields(&cl.stats)
}

type RunOpts struct {
	// Called once per batch, after its verdicts are folded into the Result.
	OnBatch func(BatchResult)
	// Called after each batch, and once before any batch completes.
	OnProgress func(Progress)
}

type BatchResult struct {
	Batch    Batch
	Verdicts map[infohash.T]Verdict
	// False if the Run was cancelled before the batch started. Every verdict is then Failed.
	Attempted bool
	// Session errors by tracker. Trackers that answered have no entry.
	Errs map[Tracker]error
}

type Result struct {
	// One entry for every distinct, valid input.
	Verdicts map[infohash.T]Verdict
	Skipped  []SkippedInput
	Progress Progress
}

// The verdict for a raw input, as given to Run.
func (me *Result) Lookup(input string) (v Verdict, ok bool) {
	ih, err := infohash.ParseHex(input)
	if err != nil {
		return
	}
	v, ok = me.Verdicts[ih]
	return
}

type sessionOutcome struct {
	tracker Tracker
	result  udp.ScrapeResult
	err     error
}

type batchObservations struct {
	batch     Batch
	attempted bool
	sessions  []sessionOutcome
}

// Scrapes every batch from every tracker once, with at most Config.MaxConcurrentBatches batches
// in flight. Tracker failures only show up as Failed verdicts. If ctx is done before the run
// completes, batches not yet started are Failed and ctx.Err() is returned with the Result.
func (cl *Checker) Run(ctx context.Context, inputs []string, opts RunOpts) (ret *Result, err error) {
	plan, err := PlanBatches(inputs, cl.config.BatchSize)
	if err != nil {
		return
	}
	ctx, span := tracer.Start(ctx, "Checker.Run", trace.WithAttributes(
		attribute.Int("inputs", len(inputs)),
		attribute.Int("batches", len(plan.Batches)),
		attribute.Int("trackers", len(cl.trackers)),
	))
	defer span.End()
	ret = &Result{
		Verdicts: make(map[infohash.T]Verdict, len(plan.InfoHashes)),
		Skipped:  plan.Skipped,
		Progress: Progress{
			Total:   len(plan.InfoHashes),
			Batches: len(plan.Batches),
		},
	}
	for _, s := range plan.Skipped {
		cl.logger.Levelf(log.Debug, "skipping %v", s)
	}
	if opts.OnProgress != nil {
		opts.OnProgress(ret.Progress)
	}
	observations := make(chan batchObservations)
	go cl.runBatches(ctx, plan.Batches, observations)
	// Only this goroutine touches ret until Run returns.
	for obs := range observations {
		br := cl.fold(ret, obs)
		if opts.OnBatch != nil {
			opts.OnBatch(br)
		}
		if opts.OnProgress != nil {
			opts.OnProgress(ret.Progress)
		}
	}
	panicif.NotEq(len(ret.Verdicts), ret.Progress.Total)
	cl.logger.Levelf(log.Info, "finished scraping %v batches from %v trackers: %v",
		ret.Progress.BatchesDone, len(cl.trackers), ret.Progress)
	err = ctx.Err()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return
}

// Sends exactly one batchObservations per batch, then closes out.
func (cl *Checker) runBatches(ctx context.Context, batches []Batch, out chan<- batchObservations) {
	defer close(out)
	var eg errgroup.Group
	eg.SetLimit(cl.config.MaxConcurrentBatches)
	for _, b := range batches {
		if ctx.Err() != nil {
			out <- batchObservations{batch: b}
			continue
		}
		eg.Go(func() error {
			out <- cl.scrapeBatch(ctx, b)
			return nil
		})
	}
	eg.Wait()
}

func (cl *Checker) scrapeBatch(ctx context.Context, b Batch) (ret batchObservations) {
	ret.batch = b
	if ctx.Err() != nil {
		return
	}
	ctx, span := tracer.Start(ctx, "Checker.scrapeBatch", trace.WithAttributes(
		attribute.Int("batch.index", b.Index),
		attribute.Int("batch.len", len(b.InfoHashes)),
	))
	defer span.End()
	ret.attempted = true
	ret.sessions = make([]sessionOutcome, len(cl.trackers))
	var wg sync.WaitGroup
	for i, tr := range cl.trackers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ret.sessions[i] = cl.scrapeTracker(ctx, tr, b)
		}()
	}
	wg.Wait()
	return
}

func (cl *Checker) scrapeTracker(ctx context.Context, tr Tracker, b Batch) (ret sessionOutcome) {
	ret.tracker = tr
	cl.stats.SessionsStarted.Add(1)
	defer func() {
		if r := recover(); r != nil {
			ret.result = nil
			ret.err = fmt.Errorf("panic: %v", r)
		}
		outcome := cl.countOutcome(ret.err)
		if ret.err != nil {
			cl.logger.Levelf(log.Debug, "scraping batch %v (%v infohashes) from %v: %s: %v",
				b.Index, len(b.InfoHashes), tr, outcome, ret.err)
		}
	}()
	ret.result, ret.err = udp.Scrape(ctx, udp.SessionOpts{
		Network:      cl.config.Network,
		Host:         tr.Host,
		Timeout:      cl.config.SessionTimeout,
		ListenPacket: cl.config.TrackerListenPacket,
		ConnIds:      cl.connIds,
		SendLimiter:  cl.config.SendRateLimiter,
	}, b.InfoHashes)
	return
}

func (cl *Checker) countOutcome(err error) (outcome string) {
	switch {
	case err == nil:
		outcome = "ok"
		cl.stats.SessionsOk.Add(1)
	case errors.Is(err, os.ErrDeadlineExceeded),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		outcome = "timeout"
		cl.stats.SessionsTimedOut.Add(1)
	case udp.IsProtocolError(err):
		outcome = "protocol"
		cl.stats.SessionsProtocolError.Add(1)
	default:
		outcome = "error"
		cl.stats.SessionsOtherError.Add(1)
	}
	cl.metrics.sessions.WithLabelValues(outcome).Inc()
	return
}

func (cl *Checker) fold(ret *Result, obs batchObservations) BatchResult {
	br := BatchResult{
		Batch:     obs.batch,
		Attempted: obs.attempted,
	}
	var results []udp.ScrapeResult
	for _, s := range obs.sessions {
		if s.err != nil {
			if br.Errs == nil {
				br.Errs = make(map[Tracker]error)
			}
			br.Errs[s.tracker] = s.err
			continue
		}
		results = append(results, s.result)
	}
	br.Verdicts = AggregateBatch(obs.batch, results)
	for ih, v := range br.Verdicts {
		_, dup := ret.Verdicts[ih]
		panicif.True(dup)
		ret.Verdicts[ih] = v
		ret.Progress.add(v)
		cl.metrics.verdicts.WithLabelValues(v.Status.String()).Inc()
	}
	ret.Progress.BatchesDone++
	if obs.attempted {
		cl.metrics.batches.Inc()
	}
	return br
}
