// Package orchestrator is the concurrency orchestrator (C8): drives
// pagination over the selected room set at bounded parallelism,
// marshals completions, and is the metadata store's sole writer
// (§4.8, §5).
package orchestrator

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/manuroe/matrixminer/internal/aggregator"
	"github.com/manuroe/matrixminer/internal/crawldb"
	"github.com/manuroe/matrixminer/internal/decision"
	"github.com/manuroe/matrixminer/internal/discovery"
	"github.com/manuroe/matrixminer/internal/metrics"
	"github.com/manuroe/matrixminer/internal/pagination"
	"github.com/manuroe/matrixminer/internal/stats"
	"github.com/manuroe/matrixminer/internal/statsbuilder"
	"github.com/manuroe/matrixminer/internal/window"
)

// DefaultMaxConcurrency is the bounded-parallelism ceiling of §5.
const DefaultMaxConcurrency = 8

// Client is the facade surface the orchestrator needs, composed from
// discovery's, pagination's, and aggregator's narrower interfaces.
type Client interface {
	discovery.Client
	pagination.Client
	aggregator.ClassifierClient
	DisplayName(ctx context.Context, roomID string) (string, error)
}

// Store is the metadata store surface the orchestrator writes through
// (the sole writer, per §3 Ownership).
type Store interface {
	GetRoom(ctx context.Context, roomID string) (crawldb.RoomRecord, bool, error)
	MergeCoverage(ctx context.Context, roomID string, oldestID *string, oldestTS *int64, newestID *string, newestTS *int64, fullyCrawled bool) error
	SetStatus(ctx context.Context, roomID string, status crawldb.Status, errMsg string) error
	BumpCounts(ctx context.Context, roomID string, total, user int64) error
}

// Options configures one crawl invocation.
type Options struct {
	MaxConcurrency  int
	PaginationBatch int
	DiscoveryBatch  int
}

// Run executes one full crawl invocation for a single account: room
// discovery, selection, bounded-concurrency pagination, metadata-store
// commits, and statistics document assembly (§4.8).
func Run(ctx context.Context, client Client, store Store, win window.Scope, account stats.Account, opts Options, log *logrus.Entry) (*stats.Document, error) {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}

	// Tags every log line for this invocation so a multi-account run's
	// interleaved output can be split back apart per crawl.
	log = log.WithField("crawl_id", uuid.NewString())

	rooms, err := discovery.Run(ctx, client, opts.DiscoveryBatch, discovery.DefaultSettleTick, log)
	if err != nil {
		return nil, err
	}

	windowStartTS, windowEndTS := win.TimestampRange()

	inputs := make([]decision.RoomInput, 0, len(rooms))
	recordByRoom := make(map[string]*crawldb.RoomRecord, len(rooms))
	for _, r := range rooms {
		if !r.Joined {
			continue
		}
		record, found, err := store.GetRoom(ctx, r.RoomID)
		var rec *crawldb.RoomRecord
		if err != nil {
			log.WithError(err).WithField("room_id", r.RoomID).Warn("metadata lookup failed, treating as skip")
			continue
		}
		if found {
			rec = &record
		}
		recordByRoom[r.RoomID] = rec

		var hint *decision.Hint
		if r.LastEventID != nil && r.LastEventTS != nil {
			hint = &decision.Hint{EventID: *r.LastEventID, Ts: *r.LastEventTS}
		}
		inputs = append(inputs, decision.RoomInput{RoomID: r.RoomID, Record: rec, Hint: hint})
	}

	selected := decision.Select(inputs, windowStartTS, windowEndTS)

	var (
		mu           sync.Mutex
		roomInputs   []statsbuilder.RoomInput
		createdCount = map[aggregator.RoomKind]int{}
		errorCount   int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.MaxConcurrency)

	for _, sel := range selected {
		sel := sel
		if sel.Outcome == decision.SkipRoom {
			if recordByRoom[sel.RoomID] == nil && sel.Hint != nil {
				// Virgin room the evaluator chose to skip: record the hint
				// so future runs short-circuit via the known-room path.
				hintID := sel.Hint.EventID
				hintTS := sel.Hint.Ts
				if err := store.MergeCoverage(ctx, sel.RoomID, &hintID, &hintTS, &hintID, &hintTS, false); err != nil {
					log.WithError(err).WithField("room_id", sel.RoomID).Warn("failed to record skipped virgin room")
					continue
				}
				if err := store.SetStatus(ctx, sel.RoomID, crawldb.StatusVirgin, ""); err != nil {
					log.WithError(err).WithField("room_id", sel.RoomID).Warn("failed to set virgin status")
				}
			}
			continue
		}

		g.Go(func() error {
			result, agg, createErr := crawlRoom(gctx, client, store, sel.RoomID, account.UserID, windowStartTS, windowEndTS, opts.PaginationBatch, log)
			mu.Lock()
			defer mu.Unlock()
			if createErr != nil {
				errorCount++
				metrics.RoomsCrawled.WithLabelValues("error").Inc()
				return nil // per-room failure isolation: never abort the group (§7)
			}
			metrics.RoomsCrawled.WithLabelValues("success").Inc()
			roomInputs = append(roomInputs, statsbuilder.RoomInput{
				Aggregate: agg,
				OldestTS:  result.OldestEventTS,
				NewestTS:  result.NewestEventTS,
			})
			if agg.RoomCreatedByUser {
				createdCount[agg.Kind]++
			}
			return nil
		})
	}

	_ = g.Wait() // errors are handled per-room above; Wait never returns non-nil here

	log.WithField("errors", errorCount).WithField("rooms_crawled", len(roomInputs)).Info("crawl complete")

	account.RoomsTotal = len(rooms)
	doc := statsbuilder.Build(win, account, roomInputs, createdCount)
	return doc, nil
}

func crawlRoom(ctx context.Context, client Client, store Store, roomID, ownerID string, windowStartTS *int64, windowEndTS int64, batchSize int, log *logrus.Entry) (pagination.Result, *aggregator.RoomAggregate, error) {
	roomLog := log.WithField("room_id", roomID)

	if err := store.SetStatus(ctx, roomID, crawldb.StatusInProgress, ""); err != nil {
		roomLog.WithError(err).Warn("failed to mark room in_progress")
	}

	name, err := client.DisplayName(ctx, roomID)
	if err != nil {
		name = roomID
	}

	kind, err := aggregator.Classify(ctx, client, roomID)
	if err != nil {
		roomLog.WithError(err).Debug("classification fallback to private")
	}

	agg := aggregator.New(roomID, name, kind)

	result, err := pagination.Run(ctx, client, agg, roomID, ownerID, windowStartTS, windowEndTS, nil, nil, batchSize, func(roomName string, oldestTS, newestTS *int64, eventsSeen int) {
		roomLog.WithField("events_seen", eventsSeen).Debug("pagination progress")
	})
	if err != nil {
		_ = store.SetStatus(ctx, roomID, crawldb.StatusError, err.Error())
		return result, agg, err
	}

	if mergeErr := store.MergeCoverage(ctx, roomID, result.OldestEventID, result.OldestEventTS, result.NewestEventID, result.NewestEventTS, result.FullyCrawled); mergeErr != nil {
		_ = store.SetStatus(ctx, roomID, crawldb.StatusError, mergeErr.Error())
		return result, agg, mergeErr
	}
	if err := store.BumpCounts(ctx, roomID, result.TotalEvents, agg.UserEvents); err != nil {
		roomLog.WithError(err).Warn("bump_counts failed")
	}
	if err := store.SetStatus(ctx, roomID, crawldb.StatusSuccess, ""); err != nil {
		roomLog.WithError(err).Warn("failed to mark room success")
	}

	return result, agg, nil
}
