// Package pagination is the per-room backward pagination driver (C5):
// walks a room's timeline from newest toward oldest in bounded
// batches, streaming events into the aggregator and stopping at the
// room's creation or the window boundary (§4.5).
package pagination

import (
	"context"

	"github.com/manuroe/matrixminer/internal/aggregator"
	"github.com/manuroe/matrixminer/internal/crawlerr"
	"github.com/manuroe/matrixminer/internal/mxclient"
)

// DefaultBatchSize is B in §4.5: the per-batch event count requested
// from the protocol facade.
const DefaultBatchSize = 100

// Client is the facade surface the pagination driver depends on.
type Client interface {
	InMemoryEvents(roomID string) []mxclient.Event
	RunBackwardsOnce(ctx context.Context, roomID string, from string, batchSize int) ([]mxclient.Event, string, bool, error)
}

// ProgressFunc is invoked after every batch (including the initial
// cached-events pass) with the room name and the running extrema and
// event count (§4.5).
type ProgressFunc func(roomName string, oldestTS, newestTS *int64, eventsSeen int)

// Result is the per-room coverage outcome the orchestrator merges into
// the metadata store (§4.8).
type Result struct {
	OldestEventID *string
	OldestEventTS *int64
	NewestEventID *string
	NewestEventTS *int64
	FullyCrawled  bool
	TotalEvents   int64
}

// Run paginates roomID backwards, folding window-included events into
// agg, until the room's creation is reached, a batch returns no
// events, or an event's timestamp falls at or before windowStartTS.
// newestEventIDInitial/TSInitial seed the newest extremum from
// discovery's freshness hint before any event is processed, per step 2
// of §4.5.
func Run(
	ctx context.Context,
	client Client,
	agg *aggregator.RoomAggregate,
	roomID, ownerID string,
	windowStartTS *int64,
	windowEndTS int64,
	newestEventIDInitial *string,
	newestTSInitial *int64,
	batchSize int,
	progress ProgressFunc,
) (Result, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	res := Result{
		NewestEventID: newestEventIDInitial,
		NewestEventTS: newestTSInitial,
	}
	var eventsSeen int

	processBatch := func(events []mxclient.Event) (stopAtWindow bool) {
		for _, ev := range events {
			if ev.Timestamp == nil {
				continue
			}
			ts := *ev.Timestamp

			if res.OldestEventTS == nil || ts < *res.OldestEventTS {
				res.OldestEventTS = &ts
				res.OldestEventID = ev.EventID
			}
			if res.NewestEventTS == nil || ts > *res.NewestEventTS {
				res.NewestEventTS = &ts
				res.NewestEventID = ev.EventID
			}

			eventsSeen++

			if windowStartTS != nil && ts <= *windowStartTS {
				stopAtWindow = true
				continue
			}
			if ts > windowEndTS {
				continue
			}

			res.TotalEvents++
			if err := agg.Fold(ev, ts, ownerID); err != nil {
				continue
			}
		}
		return stopAtWindow
	}

	// Step 3: fold whatever is already cached, extrema regardless of window.
	processBatch(client.InMemoryEvents(roomID))
	if progress != nil {
		progress(agg.RoomName, res.OldestEventTS, res.NewestEventTS, eventsSeen)
	}

	from := ""
	for {
		events, nextFrom, reachedStart, err := client.RunBackwardsOnce(ctx, roomID, from, batchSize)
		if err != nil {
			return res, crawlerr.NewPagination(roomID, err)
		}

		if len(events) == 0 {
			if reachedStart {
				res.FullyCrawled = true
			}
			break
		}
		if reachedStart {
			res.FullyCrawled = true
		}

		stopAtWindow := processBatch(events)
		if progress != nil {
			progress(agg.RoomName, res.OldestEventTS, res.NewestEventTS, eventsSeen)
		}

		if stopAtWindow || res.FullyCrawled {
			break
		}
		from = nextFrom
	}

	return res, nil
}
