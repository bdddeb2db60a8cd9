// Package statsbuilder is the stats builder (C7): collapses per-room
// aggregates into the account-level statistics document consumed by
// the external report renderer (§4.7).
package statsbuilder

import (
	"fmt"
	"sort"

	"github.com/manuroe/matrixminer/internal/aggregator"
	"github.com/manuroe/matrixminer/internal/stats"
	"github.com/manuroe/matrixminer/internal/window"
)

const topN = 5

// RoomInput pairs a room's aggregate fold with the coverage extrema
// its pagination run observed, so coverage {from,to} can be derived
// from actual crawled timestamps rather than the fold alone.
type RoomInput struct {
	Aggregate *aggregator.RoomAggregate
	OldestTS  *int64
	NewestTS  *int64
}

// Build collapses rooms into a Document scoped to win, attributed to
// account. createdRoomCounts is the orchestrator's count of rooms whose
// m.room.create was authored by the owner, keyed by classification.
func Build(win window.Scope, account stats.Account, rooms []RoomInput, createdRoomCounts map[aggregator.RoomKind]int) *stats.Document {
	doc := &stats.Document{
		SchemaVersion: 1,
		Scope:         stats.Scope{Kind: string(win.Kind), Key: win.Key},
		Account:       account,
	}

	messagesSent := 0
	activeRooms := 0
	roomTypeCounts := map[aggregator.RoomKind]int{}
	roomTypeMessages := map[aggregator.RoomKind]int{}
	byYear, byMonth, byWeek, byWeekday, byDay, byHour := map[string]int{}, map[string]int{}, map[string]int{}, map[string]int{}, map[string]int{}, map[string]int{}
	activeDates := map[string]struct{}{}
	reactionsByEmoji := map[string]int{}
	reactionsByMessage := map[string]int{}
	var totalReactions int

	var oldestTS, newestTS *int64

	for _, r := range rooms {
		a := r.Aggregate
		messagesSent += int(a.UserEvents)
		roomTypeCounts[a.Kind]++
		roomTypeMessages[a.Kind] += int(a.UserEvents)
		if a.UserEvents > 0 {
			activeRooms++
		}

		sumInto(byYear, a.ByYear)
		sumInto(byMonth, a.ByMonth)
		sumInto(byWeek, a.ByWeek)
		sumInto(byWeekday, a.ByWeekday)
		sumInto(byDay, a.ByDay)
		sumInto(byHour, a.ByHour)
		for d := range a.ActiveDates {
			activeDates[d] = struct{}{}
		}
		for emoji, n := range a.ReactionsByEmoji {
			reactionsByEmoji[emoji] += n
			totalReactions += n
		}
		for eventID, n := range a.ReactionsByMessage {
			reactionsByMessage[eventID] += n
		}

		if r.OldestTS != nil && (oldestTS == nil || *r.OldestTS < *oldestTS) {
			oldestTS = r.OldestTS
		}
		if r.NewestTS != nil && (newestTS == nil || *r.NewestTS > *newestTS) {
			newestTS = r.NewestTS
		}
	}

	doc.Account.RoomsTotal = len(rooms)

	doc.Coverage = coverage(win, oldestTS, newestTS)
	if len(activeDates) > 0 {
		n := len(activeDates)
		doc.Coverage.DaysActive = &n
	}

	doc.Summary = stats.Summary{
		MessagesSent: messagesSent,
		ActiveRooms:  activeRooms,
	}
	if messagesSent > 0 {
		dm, pub, priv := roomTypeCounts[aggregator.KindDM], roomTypeCounts[aggregator.KindPublic], roomTypeCounts[aggregator.KindPrivate]
		doc.Summary.DMRooms = &dm
		doc.Summary.PublicRooms = &pub
		doc.Summary.PrivateRooms = &priv
		doc.Summary.Peaks = &stats.Peaks{
			Year:  pickPeak(byYear),
			Month: pickPeak(byMonth),
			Week:  pickPeak(byWeek),
			Day:   pickPeak(byDay),
			Hour:  pickPeak(byHour),
		}
	}

	if messagesSent > 0 {
		doc.Activity = &stats.Activity{
			ByYear:    byYear,
			ByMonth:   byMonth,
			ByWeek:    byWeek,
			ByWeekday: byWeekday,
			ByDay:     byDay,
			ByHour:    byHour,
		}
	}

	doc.Rooms = stats.Rooms{
		Total: len(rooms),
		Top:   topRooms(rooms, messagesSent),
	}
	if messagesSent > 0 {
		doc.Rooms.MessagesByRoomType = map[string]int{
			string(aggregator.KindDM):      roomTypeMessages[aggregator.KindDM],
			string(aggregator.KindPublic):  roomTypeMessages[aggregator.KindPublic],
			string(aggregator.KindPrivate): roomTypeMessages[aggregator.KindPrivate],
		}
	}

	if totalReactions > 0 {
		doc.Reactions = &stats.Reactions{
			Total:       &totalReactions,
			TopEmojis:   topEmojis(reactionsByEmoji),
			TopMessages: topMessages(rooms, reactionsByMessage),
		}
	}

	createdTotal := createdRoomCounts[aggregator.KindDM] + createdRoomCounts[aggregator.KindPublic] + createdRoomCounts[aggregator.KindPrivate]
	if createdTotal > 0 {
		dm, pub, priv := createdRoomCounts[aggregator.KindDM], createdRoomCounts[aggregator.KindPublic], createdRoomCounts[aggregator.KindPrivate]
		doc.CreatedRooms = &stats.CreatedRooms{Total: createdTotal, DMRooms: &dm, PublicRooms: &pub, PrivateRooms: &priv}
	}

	return doc
}

func sumInto(dst, src map[string]int) {
	for k, v := range src {
		dst[k] += v
	}
}

func coverage(win window.Scope, oldestTS, newestTS *int64) stats.Coverage {
	if oldestTS != nil && newestTS != nil {
		return stats.Coverage{
			From: msToDate(*oldestTS),
			To:   msToDate(*newestTS),
		}
	}
	return stats.Coverage{
		From: win.From.Format("2006-01-02"),
		To:   win.To.Format("2006-01-02"),
	}
}

func msToDate(ms int64) string {
	return window.MillisToUTCDate(ms)
}

// pickPeak returns the bucket with the largest count, ties broken by
// natural (ascending) key order (§4.7).
func pickPeak(buckets map[string]int) *stats.Peak {
	if len(buckets) == 0 {
		return nil
	}
	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	best := keys[0]
	for _, k := range keys[1:] {
		if buckets[k] > buckets[best] {
			best = k
		}
	}
	return &stats.Peak{Key: best, Count: buckets[best]}
}

func topRooms(rooms []RoomInput, messagesSent int) []stats.RoomEntry {
	type ranked struct {
		name     string
		id       string
		messages int
	}
	var all []ranked
	for _, r := range rooms {
		if r.Aggregate.UserEvents == 0 {
			continue
		}
		all = append(all, ranked{name: r.Aggregate.RoomName, id: r.Aggregate.RoomID, messages: int(r.Aggregate.UserEvents)})
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].messages > all[j].messages })
	if len(all) > topN {
		all = all[:topN]
	}

	out := make([]stats.RoomEntry, 0, len(all))
	for _, r := range all {
		pct := 0.0
		if messagesSent > 0 {
			pct = float64(r.messages) / float64(messagesSent) * 100
		}
		out = append(out, stats.RoomEntry{
			Name:       r.name,
			Messages:   r.messages,
			Percentage: pct,
			Permalink:  permalinkForRoom(r.id),
		})
	}
	return out
}

func topEmojis(byEmoji map[string]int) []stats.EmojiEntry {
	keys := make([]string, 0, len(byEmoji))
	for k := range byEmoji {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if byEmoji[keys[i]] != byEmoji[keys[j]] {
			return byEmoji[keys[i]] > byEmoji[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > topN {
		keys = keys[:topN]
	}
	out := make([]stats.EmojiEntry, 0, len(keys))
	for _, k := range keys {
		out = append(out, stats.EmojiEntry{Emoji: k, Count: byEmoji[k]})
	}
	return out
}

func topMessages(rooms []RoomInput, byMessage map[string]int) []stats.MessageReactionEntry {
	eventToRoom := map[string]string{}
	for _, r := range rooms {
		for eventID := range r.Aggregate.ReactionsByMessage {
			eventToRoom[eventID] = r.Aggregate.RoomID
		}
	}

	keys := make([]string, 0, len(byMessage))
	for k := range byMessage {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if byMessage[keys[i]] != byMessage[keys[j]] {
			return byMessage[keys[i]] > byMessage[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if len(keys) > topN {
		keys = keys[:topN]
	}

	out := make([]stats.MessageReactionEntry, 0, len(keys))
	for _, eventID := range keys {
		out = append(out, stats.MessageReactionEntry{
			Permalink:     permalinkForEvent(eventToRoom[eventID], eventID),
			ReactionCount: byMessage[eventID],
		})
	}
	return out
}

func permalinkForRoom(roomID string) string {
	return fmt.Sprintf("https://matrix.to/#/%s", roomID)
}

func permalinkForEvent(roomID, eventID string) string {
	return fmt.Sprintf("https://matrix.to/#/%s/%s", roomID, eventID)
}
