// Package lookup resolves global catalog ids against the seller-account API in
// bounded batches.
package lookup

import (
	"PriceScraper/internal/index"
	"PriceScraper/internal/models"
	"PriceScraper/internal/scraper"
	"PriceScraper/utils"
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// MaxBatchSize is the largest batch the seller API accepts.
const MaxBatchSize = 1000

// Partition splits keys into consecutive batches of at most ceiling keys. Order is kept
// and every key lands in exactly one batch. A ceiling outside (0, MaxBatchSize] is
// treated as MaxBatchSize.
func Partition(keys []int64, ceiling int) [][]int64 {
	if ceiling <= 0 || ceiling > MaxBatchSize {
		ceiling = MaxBatchSize
	}
	if len(keys) == 0 {
		return nil
	}
	batches := make([][]int64, 0, (len(keys)+ceiling-1)/ceiling)
	for start := 0; start < len(keys); start += ceiling {
		end := min(start+ceiling, len(keys))
		batch := make([]int64, end-start)
		copy(batch, keys[start:end])
		batches = append(batches, batch)
	}
	return batches
}

// BatchFailure records a batch whose lookup errored. Its keys resolve to nothing.
type BatchFailure struct {
	Index int
	Keys  []int64
	Err   error
}

func (f BatchFailure) Error() string {
	return fmt.Sprintf("batch %d (%d ids): %v", f.Index, len(f.Keys), f.Err)
}

// Report summarises what happened during Resolve.
type Report struct {
	Batches       int
	FailedBatches []BatchFailure
	// Unrequested counts response rows whose global id was not in the batch sent.
	Unrequested int
	// Duplicates lists global ids returned more than once; they are left unresolved.
	Duplicates []int64
}

// Degraded is true when at least one batch failed.
func (r Report) Degraded() bool { return len(r.FailedBatches) > 0 }

// Coordinator issues batch lookups concurrently and merges the responses.
type Coordinator struct {
	Lookup      scraper.BatchLookup
	BatchSize   int
	Concurrency int
}

// Resolve looks up keys and indexes the responses by the global id each row carries.
// Failed batches are reported, not retried; the returned index is never nil.
func (c *Coordinator) Resolve(ctx context.Context, keys []int64) (*index.Index[int64, models.SellerEntry], Report) {
	// a key requested twice would come back twice and look ambiguous
	batches := Partition(utils.UniqueInt64(keys), c.BatchSize)
	report := Report{Batches: len(batches)}
	resolved := index.New[int64, models.SellerEntry]()
	if len(batches) == 0 {
		return resolved, report
	}

	type slot struct {
		entries []models.SellerEntry
		err     error
	}
	slots := make([]slot, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(c.Concurrency, 1))
	for i, batch := range batches {
		g.Go(func() error {
			entries, err := c.Lookup.LookupBatch(gctx, batch)
			slots[i] = slot{entries: entries, err: err}
			// batch errors are kept in the slot so siblings keep running
			return nil
		})
	}
	_ = g.Wait()

	duplicated := make(map[int64]bool)
	for i, s := range slots {
		if s.err != nil {
			log.WithFields(log.Fields{"batch": i, "size": len(batches[i])}).
				Warnf("Seller lookup failed, ids stay unmatched: %v", s.err)
			report.FailedBatches = append(report.FailedBatches, BatchFailure{Index: i, Keys: batches[i], Err: s.err})
			continue
		}

		requested := make(map[int64]struct{}, len(batches[i]))
		for _, k := range batches[i] {
			requested[k] = struct{}{}
		}
		for _, entry := range s.entries {
			if _, ok := requested[entry.GlobalID]; !ok {
				report.Unrequested++
				continue
			}
			if duplicated[entry.GlobalID] {
				continue
			}
			if err := resolved.Add(entry.GlobalID, entry); err != nil {
				log.Warnf("Seller lookup returned ambiguous rows, dropping id: %v", err)
				duplicated[entry.GlobalID] = true
				report.Duplicates = append(report.Duplicates, entry.GlobalID)
			}
		}
	}

	if len(duplicated) > 0 {
		resolved = withoutKeys(resolved, duplicated)
	}
	return resolved, report
}

func withoutKeys(ix *index.Index[int64, models.SellerEntry], drop map[int64]bool) *index.Index[int64, models.SellerEntry] {
	out := index.New[int64, models.SellerEntry]()
	for k, v := range ix.All() {
		if drop[k] {
			continue
		}
		_ = out.Add(k, v)
	}
	return out
}
