// Package mxclient is the narrow protocol-SDK facade the core consumes
// (§6): client construction, joined-room enumeration, per-room display
// name/DM-flag/join-rule lookups, a growing-window room-list sync with a
// fully-loaded signal, and a backward-pagination primitive shaped as
// {events, reached_start}. Everything else `maunium.net/go/mautrix`
// exposes is deliberately not surfaced here.
package mxclient

import (
	"context"
	"sort"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// EventKind tags a deserialized event as one of the sum-type variants
// §9 calls for, so a decode failure degrades to Other rather than
// aborting the room's pagination.
type EventKind int

const (
	KindOther EventKind = iota
	KindMessage
	KindEncrypted
	KindReaction
	KindStateCreate
)

// Event is the event shape the aggregator consumes: optional id and
// timestamp (absent events are skipped upstream), sender, kind, and the
// reaction payload when Kind == KindReaction.
type Event struct {
	EventID        *string
	Timestamp      *int64
	Sender         string
	Kind           EventKind
	ReactionEmoji  string
	ReactionTarget string
}

// RoomInfo is discovery's per-room output (§4.3): the room id, its
// freshness hint, and whether the account is still joined.
type RoomInfo struct {
	RoomID      string
	LastEventID *string
	LastEventTS *int64
	Joined      bool
}

// Client wraps a mautrix.Client with the small surface the crawl engine
// is allowed to touch, plus a per-room ring buffer standing in for the
// SDK's in-memory event cache (mautrix has no client-side timeline
// cache of its own; RunBackwardsOnce populates this buffer as it goes,
// so InMemoryEvents reflects pagination already performed this
// session, matching the facade shape in §6).
type Client struct {
	api     *mautrix.Client
	ownerID string

	mu    sync.Mutex
	cache map[string][]Event
}

const eventCacheLimit = 500

// New constructs a facade client for a homeserver and logged-in account.
// storePassphrase is accepted to match the construction shape in §6 but
// is opaque here: persistent session/crypto state lives under the
// account directory and is out of scope (§1).
func New(homeserverURL, userID, accessToken, storePassphrase string) (*Client, error) {
	api, err := mautrix.NewClient(homeserverURL, id.UserID(userID), accessToken)
	if err != nil {
		return nil, err
	}
	return &Client{api: api, ownerID: userID, cache: make(map[string][]Event)}, nil
}

// JoinedRooms enumerates the account's currently joined rooms.
func (c *Client) JoinedRooms(ctx context.Context) ([]string, error) {
	resp, err := c.api.JoinedRooms(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(resp.JoinedRooms))
	for i, r := range resp.JoinedRooms {
		out[i] = r.String()
	}
	return out, nil
}

// DisplayName returns the room's display name, falling back to the
// empty string (never the room id) when the server has none set.
func (c *Client) DisplayName(ctx context.Context, roomID string) (string, error) {
	var content event.RoomNameEventContent
	err := c.api.StateEvent(ctx, id.RoomID(roomID), event.StateRoomName, "", &content)
	if err != nil {
		return "", nil
	}
	return content.Name, nil
}

// IsDirectMessage reports whether roomID appears in the account's
// m.direct account data (§4.6 room classification).
func (c *Client) IsDirectMessage(ctx context.Context, roomID string) (bool, error) {
	var direct map[string][]id.RoomID
	if err := c.api.GetAccountData(ctx, "m.direct", &direct); err != nil {
		return false, err
	}
	for _, rooms := range direct {
		for _, r := range rooms {
			if r.String() == roomID {
				return true, nil
			}
		}
	}
	return false, nil
}

// JoinRule returns the room's m.room.join_rules value ("public",
// "invite", "knock", "private", ...), or "" if unset.
func (c *Client) JoinRule(ctx context.Context, roomID string) (string, error) {
	var content event.JoinRulesEventContent
	err := c.api.StateEvent(ctx, id.RoomID(roomID), event.StateJoinRules, "", &content)
	if err != nil {
		return "", nil
	}
	return string(content.JoinRule), nil
}

// SyncRoomList performs the growing-window room-list discovery of §4.3:
// fetch joined rooms, then one settle tick later re-fetch to let
// latest-event state catch up, emitting a RoomInfo per room with its
// freshness hint. batchSize bounds how many rooms are resolved per
// round so a very large account doesn't stall behind one slow call.
func (c *Client) SyncRoomList(ctx context.Context, batchSize int, settleTick time.Duration) ([]RoomInfo, error) {
	rooms, err := c.JoinedRooms(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(rooms)

	infos := make([]RoomInfo, 0, len(rooms))
	for start := 0; start < len(rooms); start += batchSize {
		end := start + batchSize
		if end > len(rooms) {
			end = len(rooms)
		}
		for _, roomID := range rooms[start:end] {
			infos = append(infos, c.latestEventHint(ctx, roomID))
		}
	}

	// One additional settle tick so freshness hints reflect events that
	// landed mid-discovery, matching the original's "final sync
	// iteration" step.
	select {
	case <-ctx.Done():
		return infos, ctx.Err()
	case <-time.After(settleTick):
	}
	for i := range infos {
		infos[i] = c.latestEventHint(ctx, infos[i].RoomID)
	}
	return infos, nil
}

func (c *Client) latestEventHint(ctx context.Context, roomID string) RoomInfo {
	resp, err := c.api.Messages(ctx, id.RoomID(roomID), "", "", mautrix.DirectionBackward, nil, 1)
	if err != nil || len(resp.Chunk) == 0 {
		return RoomInfo{RoomID: roomID, Joined: true}
	}
	evt := resp.Chunk[0]
	eid := evt.ID.String()
	ts := evt.Timestamp
	return RoomInfo{RoomID: roomID, LastEventID: &eid, LastEventTS: &ts, Joined: true}
}

// InMemoryEvents reverse-scans the facade's per-room buffer, newest
// first, matching the SDK's rfind_map_event_in_memory_by shape (§6).
// The buffer is filled by backward batches, each newest first, so it
// already holds events newest first and is returned in that order.
func (c *Client) InMemoryEvents(roomID string) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	buf := c.cache[roomID]
	out := make([]Event, len(buf))
	copy(out, buf)
	return out
}

// RunBackwardsOnce fetches one batch of at most batchSize events
// backwards from "from" (empty string means "start from the room's
// current end"), returning the decoded events, the server's next
// pagination token, and whether the room's creation was reached.
func (c *Client) RunBackwardsOnce(ctx context.Context, roomID string, from string, batchSize int) (events []Event, nextFrom string, reachedStart bool, err error) {
	resp, err := c.api.Messages(ctx, id.RoomID(roomID), from, "", mautrix.DirectionBackward, nil, batchSize)
	if err != nil {
		return nil, "", false, err
	}

	decoded := make([]Event, 0, len(resp.Chunk))
	for _, raw := range resp.Chunk {
		decoded = append(decoded, decodeEvent(raw))
	}

	c.mu.Lock()
	c.cache[roomID] = append(c.cache[roomID], decoded...)
	if len(c.cache[roomID]) > eventCacheLimit {
		c.cache[roomID] = c.cache[roomID][len(c.cache[roomID])-eventCacheLimit:]
	}
	c.mu.Unlock()

	// mautrix surfaces "no more events" as an empty chunk with End ==
	// Start (or empty End); those three conditions are the only
	// "reached start" signal, the room-create event is not consulted.
	reachedStart = len(resp.Chunk) == 0 || resp.End == "" || resp.End == from
	return decoded, resp.End, reachedStart, nil
}

func decodeEvent(raw *event.Event) Event {
	e := Event{Sender: raw.Sender.String()}
	if raw.ID != "" {
		id := raw.ID.String()
		e.EventID = &id
	}
	if raw.Timestamp != 0 {
		ts := raw.Timestamp
		e.Timestamp = &ts
	}

	switch raw.Type {
	case event.EventMessage:
		e.Kind = KindMessage
	case event.EventEncrypted:
		e.Kind = KindEncrypted
	case event.EventReaction:
		if err := raw.Content.ParseRaw(raw.Type); err == nil {
			if reaction, ok := raw.Content.Parsed.(*event.ReactionEventContent); ok {
				e.Kind = KindReaction
				e.ReactionEmoji = reaction.RelatesTo.Key
				e.ReactionTarget = reaction.RelatesTo.EventID.String()
				return e
			}
		}
		e.Kind = KindOther
	case event.StateCreate:
		e.Kind = KindStateCreate
	default:
		e.Kind = KindOther
	}
	return e
}
