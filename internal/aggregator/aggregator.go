// Package aggregator is the event aggregator (C6): folds one room's
// events into temporal buckets, reaction tables, and classification
// inputs while pagination streams them (§4.6).
package aggregator

import (
	"context"
	"fmt"
	"time"

	"github.com/manuroe/matrixminer/internal/crawlerr"
	"github.com/manuroe/matrixminer/internal/mxclient"
)

// RoomKind is the room classification result (§4.6).
type RoomKind string

const (
	KindDM      RoomKind = "dm"
	KindPublic  RoomKind = "public"
	KindPrivate RoomKind = "private"
)

// RoomAggregate is the per-room fold (§3): never persisted, flushed
// into the stats builder once a room's pagination completes.
type RoomAggregate struct {
	RoomID   string
	RoomName string
	Kind     RoomKind

	ByYear    map[string]int
	ByMonth   map[string]int
	ByWeek    map[string]int
	ByWeekday map[string]int
	ByDay     map[string]int
	ByHour    map[string]int

	UserMessageIDs     map[string]struct{}
	ReactionsByEmoji   map[string]int
	ReactionsByMessage map[string]int

	RoomCreatedByUser bool
	ActiveDates       map[string]struct{}

	UserEvents int64
}

// New returns an empty aggregate for roomID.
func New(roomID, roomName string, kind RoomKind) *RoomAggregate {
	return &RoomAggregate{
		RoomID:             roomID,
		RoomName:           roomName,
		Kind:               kind,
		ByYear:             make(map[string]int),
		ByMonth:            make(map[string]int),
		ByWeek:             make(map[string]int),
		ByWeekday:          make(map[string]int),
		ByDay:              make(map[string]int),
		ByHour:             make(map[string]int),
		UserMessageIDs:     make(map[string]struct{}),
		ReactionsByEmoji:   make(map[string]int),
		ReactionsByMessage: make(map[string]int),
		ActiveDates:        make(map[string]struct{}),
	}
}

// Fold applies one window-included event to the aggregate. ts is the
// event's timestamp in UTC ms; Fold converts it to local time for
// bucketing, matching the "UTC for storage, local for buckets" split
// mandated in §9. Callers must already have checked window membership
// and must not call Fold for events outside the window; extrema
// tracking for out-of-window events happens in the pagination driver,
// not here.
func (a *RoomAggregate) Fold(ev mxclient.Event, ts int64, ownerID string) error {
	dt := time.UnixMilli(ts).In(time.Local)

	switch ev.Kind {
	case mxclient.KindMessage, mxclient.KindEncrypted:
		if ev.Sender != ownerID {
			return nil
		}
		a.UserEvents++

		year := fmt.Sprintf("%04d", dt.Year())
		month := fmt.Sprintf("%02d", dt.Month())
		isoYear, isoWeek := dt.ISOWeek()
		week := fmt.Sprintf("%04d-W%02d", isoYear, isoWeek)
		weekday := int(dt.Weekday())
		if weekday == 0 {
			weekday = 7 // Sunday==0 in time.Weekday; spec wants 1..7 from Monday.
		}
		day := dt.Format("2006-01-02")
		hour := fmt.Sprintf("%02d", dt.Hour())

		a.ByYear[year]++
		a.ByMonth[month]++
		a.ByWeek[week]++
		a.ByWeekday[fmt.Sprintf("%d", weekday)]++
		a.ByDay[day]++
		a.ByHour[hour]++
		a.ActiveDates[day] = struct{}{}

		if ev.EventID != nil {
			a.UserMessageIDs[*ev.EventID] = struct{}{}
		}

	case mxclient.KindReaction:
		if _, ok := a.UserMessageIDs[ev.ReactionTarget]; !ok {
			return nil
		}
		a.ReactionsByEmoji[ev.ReactionEmoji]++
		a.ReactionsByMessage[ev.ReactionTarget]++

	case mxclient.KindStateCreate:
		if ev.Sender == ownerID {
			a.RoomCreatedByUser = true
		}

	case mxclient.KindOther:
		// Counted in total_events by the pagination driver; no fold effect.
	}

	return nil
}

// ClassifierClient is the facade surface room classification needs.
type ClassifierClient interface {
	IsDirectMessage(ctx context.Context, roomID string) (bool, error)
	JoinRule(ctx context.Context, roomID string) (string, error)
}

// Classify determines a room's kind once per room (§4.6). A lookup
// failure is a ClassificationError and defaults to Private, never a
// hard failure (§7).
func Classify(ctx context.Context, client ClassifierClient, roomID string) (RoomKind, error) {
	isDM, err := client.IsDirectMessage(ctx, roomID)
	if err != nil {
		return KindPrivate, &crawlerr.ClassificationError{RoomID: roomID, Err: err}
	}
	if isDM {
		return KindDM, nil
	}

	rule, err := client.JoinRule(ctx, roomID)
	if err != nil {
		return KindPrivate, &crawlerr.ClassificationError{RoomID: roomID, Err: err}
	}
	if rule == "public" {
		return KindPublic, nil
	}
	return KindPrivate, nil
}
