// Package pipeline runs one collection: fetch every source, normalize, look up seller
// data, reconcile, then fill missing card prices from product pages.
package pipeline

import (
	"PriceScraper/internal/catalog"
	"PriceScraper/internal/index"
	"PriceScraper/internal/lookup"
	"PriceScraper/internal/models"
	"PriceScraper/internal/reconcile"
	"PriceScraper/internal/scraper"
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// State is a step of the run state machine.
type State string

const (
	StateFetching      State = "FETCHING"
	StateNormalizing   State = "NORMALIZING"
	StateBatchLookup   State = "BATCH_LOOKUP"
	StateReconciling   State = "RECONCILING"
	StateFallbackSweep State = "FALLBACK_SWEEP"
	StateDone          State = "DONE"
	StateFailed        State = "FAILED"
)

// Options tune a Pipeline. Zero concurrency limits mean 1.
type Options struct {
	FetchConcurrency    int
	LookupConcurrency   int
	FallbackConcurrency int
	// AcceptPartial keeps items from pages fetched before a source failed.
	AcceptPartial bool
	// Cabinets maps supplier id to cabinet name. When non-empty, items of other
	// suppliers are dropped.
	Cabinets map[int64]string
	Now      func() time.Time
}

// Pipeline wires the collaborators of a run. Coordinator and Fallback are optional.
type Pipeline struct {
	Fetcher     *catalog.Fetcher
	Coordinator *lookup.Coordinator
	Fallback    scraper.CardPriceSource
	Options     Options
}

// Result is the output of Run.
type Result struct {
	State                 State
	Records               []models.CanonicalRecord
	Failures              []SourceFailure
	Unmatched             int
	UnmatchedIDs          []int64
	Lookup                lookup.Report
	FallbackFilled        int
	FallbackFailed        int
	CrossSourceDuplicates int
	FilteredOut           int
	WithoutID             int // catalog items dropped for lacking a global id
	StartedAt             time.Time
	FinishedAt            time.Time
}

func (p *Pipeline) now() time.Time {
	if p.Options.Now != nil {
		return p.Options.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *Pipeline) enter(res *Result, s State) {
	log.WithFields(log.Fields{"from": res.State, "to": s}).Info("Pipeline state change")
	res.State = s
}

// Run collects sources. The result is never nil. A non-nil error is either an
// *AllIdentifiersFailedError or the context error after cancellation; in the latter
// case Records holds everything reconciled from sources that finished.
func (p *Pipeline) Run(ctx context.Context, sources []models.Source) (*Result, error) {
	res := &Result{StartedAt: p.now()}
	res.State = StateFetching
	log.WithField("sources", len(sources)).Info("--- Starting price collection ---")

	fetched := p.fetchAll(ctx, sources)

	p.enter(res, StateNormalizing)
	primary, contributed := p.normalize(sources, fetched, res)
	if err := ctx.Err(); err != nil {
		return p.abort(res, primary, index.New[int64, models.SellerEntry](), err)
	}
	if len(sources) > 0 && contributed == 0 {
		res.FinishedAt = p.now()
		p.enter(res, StateFailed)
		return res, &AllIdentifiersFailedError{Failures: res.Failures}
	}

	p.enter(res, StateBatchLookup)
	secondary := p.lookup(ctx, primary, res)
	if err := ctx.Err(); err != nil {
		return p.abort(res, primary, secondary, err)
	}

	p.enter(res, StateReconciling)
	p.reconcile(primary, secondary, res)

	p.enter(res, StateFallbackSweep)
	p.sweep(ctx, res)
	if err := ctx.Err(); err != nil {
		res.FinishedAt = p.now()
		p.enter(res, StateFailed)
		return res, err
	}

	res.FinishedAt = p.now()
	p.enter(res, StateDone)
	log.WithFields(log.Fields{
		"records":         len(res.Records),
		"unmatched":       res.Unmatched,
		"failed_sources":  len(res.Failures),
		"fallback_filled": res.FallbackFilled,
	}).Info("--- Price collection finished ---")
	return res, nil
}

// abort reconciles whatever was collected before cancellation.
func (p *Pipeline) abort(res *Result, primary *index.Index[int64, models.CanonicalRecord], secondary *index.Index[int64, models.SellerEntry], err error) (*Result, error) {
	log.Warnf("Run cancelled in %s: %v", res.State, err)
	p.reconcile(primary, secondary, res)
	res.FinishedAt = p.now()
	p.enter(res, StateFailed)
	return res, err
}

func (p *Pipeline) lookup(ctx context.Context, primary *index.Index[int64, models.CanonicalRecord], res *Result) *index.Index[int64, models.SellerEntry] {
	if p.Coordinator == nil || primary.Len() == 0 {
		return index.New[int64, models.SellerEntry]()
	}
	c := *p.Coordinator
	if p.Options.LookupConcurrency > 0 {
		c.Concurrency = p.Options.LookupConcurrency
	}
	secondary, report := c.Resolve(ctx, primary.Keys())
	res.Lookup = report
	if report.Degraded() {
		log.Warnf("Seller lookup degraded: %d of %d batches failed", len(report.FailedBatches), report.Batches)
	}
	return secondary
}

func (p *Pipeline) reconcile(primary *index.Index[int64, models.CanonicalRecord], secondary *index.Index[int64, models.SellerEntry], res *Result) {
	out := reconcile.Reconcile(primary, secondary)
	res.Records = out.Records
	res.Unmatched = out.Unmatched
	res.UnmatchedIDs = out.UnmatchedIDs
	log.Printf("Reconciled %d records, %d without seller data", len(out.Records), out.Unmatched)
}
