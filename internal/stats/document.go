// Package stats defines the stable, externally-consumed statistics
// document (§6). The report renderer (Markdown/HTML generation) is out
// of scope (§1) — this package only defines the shape it consumes.
package stats

// Document is the root of the emitted statistics JSON. Optional
// sections are omitted from the wire format when empty via
// `omitempty`/pointer fields, matching §6's "Optional sections are
// omitted when empty".
type Document struct {
	SchemaVersion int            `json:"schema_version"`
	Scope         Scope          `json:"scope"`
	GeneratedAt   string         `json:"generated_at"` // YYYY-MM-DD
	Account       Account        `json:"account"`
	Coverage      Coverage       `json:"coverage"`
	Summary       Summary        `json:"summary"`
	Activity      *Activity      `json:"activity,omitempty"`
	Rooms         Rooms          `json:"rooms"`
	Reactions     *Reactions     `json:"reactions,omitempty"`
	CreatedRooms  *CreatedRooms  `json:"created_rooms,omitempty"`
	Fun           map[string]any `json:"fun,omitempty"`
}

type Scope struct {
	Kind  string `json:"kind"`
	Key   string `json:"key"`
	Label string `json:"label,omitempty"`
}

type Account struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	RoomsTotal  int    `json:"rooms_total"`
}

type Coverage struct {
	From       string `json:"from"`
	To         string `json:"to"`
	DaysActive *int   `json:"days_active,omitempty"`
}

type Summary struct {
	MessagesSent int    `json:"messages_sent"`
	ActiveRooms  int    `json:"active_rooms"`
	DMRooms      *int   `json:"dm_rooms,omitempty"`
	PublicRooms  *int   `json:"public_rooms,omitempty"`
	PrivateRooms *int   `json:"private_rooms,omitempty"`
	Peaks        *Peaks `json:"peaks,omitempty"`
}

// Peaks holds the bucket key with the largest count for each temporal
// family, ties broken by natural key order (§4.7).
type Peaks struct {
	Year  *Peak `json:"year,omitempty"`
	Month *Peak `json:"month,omitempty"`
	Week  *Peak `json:"week,omitempty"`
	Day   *Peak `json:"day,omitempty"`
	Hour  *Peak `json:"hour,omitempty"`
}

type Peak struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type Activity struct {
	ByYear    map[string]int `json:"by_year,omitempty"`
	ByMonth   map[string]int `json:"by_month,omitempty"`
	ByWeek    map[string]int `json:"by_week,omitempty"`
	ByWeekday map[string]int `json:"by_weekday,omitempty"`
	ByDay     map[string]int `json:"by_day,omitempty"`
	ByHour    map[string]int `json:"by_hour,omitempty"`
}

type Rooms struct {
	Total              int            `json:"total"`
	Top                []RoomEntry    `json:"top,omitempty"`
	MessagesByRoomType map[string]int `json:"messages_by_room_type,omitempty"`
}

type RoomEntry struct {
	Name       string  `json:"name,omitempty"`
	Messages   int     `json:"messages"`
	Percentage float64 `json:"percentage"`
	Permalink  string  `json:"permalink,omitempty"`
}

type Reactions struct {
	Total       *int                   `json:"total,omitempty"`
	TopEmojis   []EmojiEntry           `json:"top_emojis,omitempty"`
	TopMessages []MessageReactionEntry `json:"top_messages,omitempty"`
}

type EmojiEntry struct {
	Emoji string `json:"emoji"`
	Count int    `json:"count"`
}

type MessageReactionEntry struct {
	Permalink     string `json:"permalink"`
	ReactionCount int    `json:"reaction_count"`
}

type CreatedRooms struct {
	Total        int  `json:"total"`
	DMRooms      *int `json:"dm_rooms,omitempty"`
	PublicRooms  *int `json:"public_rooms,omitempty"`
	PrivateRooms *int `json:"private_rooms,omitempty"`
}
