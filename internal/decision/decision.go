// Package decision is the crawl-decision evaluator (C4): given a room's
// stored coverage, the window bounds, and a discovery freshness hint,
// decide whether the room needs another pagination pass (§4.4).
package decision

import "github.com/manuroe/matrixminer/internal/crawldb"

// Outcome is the evaluator's verdict for one room.
type Outcome int

const (
	SkipRoom Outcome = iota
	ShouldCrawl
)

// Hint is a discovery freshness hint: the newest event id/ts a sync
// round observed for a room. A nil Hint means "unknown freshness".
type Hint struct {
	EventID string
	Ts      int64
}

// Evaluate implements §4.4's rule table. record==nil means the room is
// virgin (no metadata row yet).
func Evaluate(record *crawldb.RoomRecord, windowStartTS *int64, windowEndTS int64, hint *Hint) Outcome {
	if record == nil {
		return evaluateVirgin(windowStartTS, hint)
	}
	return evaluateKnown(record, windowStartTS, windowEndTS, hint)
}

func evaluateVirgin(windowStartTS *int64, hint *Hint) Outcome {
	if hint == nil {
		return ShouldCrawl
	}
	if windowStartTS != nil && hint.Ts < *windowStartTS {
		return SkipRoom
	}
	return ShouldCrawl
}

func evaluateKnown(record *crawldb.RoomRecord, windowStartTS *int64, windowEndTS int64, hint *Hint) Outcome {
	var oldEndNeedsCrawl bool
	if windowStartTS == nil {
		oldEndNeedsCrawl = !record.FullyCrawled
	} else {
		oldEndNeedsCrawl = !record.FullyCrawled &&
			(record.OldestEventTS == nil || *record.OldestEventTS > *windowStartTS)
	}

	newEndNeedsCrawl := record.NewestEventTS == nil || *record.NewestEventTS < windowEndTS

	if hint != nil && record.NewestEventID != nil && record.NewestEventTS != nil &&
		*record.NewestEventID == hint.EventID && *record.NewestEventTS == hint.Ts {
		newEndNeedsCrawl = false
	}

	if oldEndNeedsCrawl || newEndNeedsCrawl {
		return ShouldCrawl
	}
	return SkipRoom
}

// Room pairs a room id with its evaluated outcome and discovery hint,
// for the orchestrator's downstream bookkeeping (virgin-but-skipped
// recording, §4.4 last paragraph).
type Room struct {
	RoomID  string
	Outcome Outcome
	Hint    *Hint
}

// RoomInput is one room's selection inputs.
type RoomInput struct {
	RoomID  string
	Record  *crawldb.RoomRecord // nil if virgin
	Hint    *Hint
}

// Select evaluates every room in rooms and returns the pointwise
// verdicts. Evaluator errors are the caller's responsibility to map to
// SkipRoom before calling Select (§4.4: "evaluator errors... are
// treated as SKIP for that room").
func Select(rooms []RoomInput, windowStartTS *int64, windowEndTS int64) []Room {
	out := make([]Room, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, Room{
			RoomID:  r.RoomID,
			Outcome: Evaluate(r.Record, windowStartTS, windowEndTS, r.Hint),
			Hint:    r.Hint,
		})
	}
	return out
}
