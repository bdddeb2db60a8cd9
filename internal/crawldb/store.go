// Package crawldb is the durable metadata store (C2): one row per room
// recording coverage extrema, crawl status, and cumulative counts,
// merged monotonically across re-crawls (§3, §4.2, §6).
package crawldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	_ "modernc.org/sqlite"

	"github.com/manuroe/matrixminer/internal/crawlerr"
	"github.com/manuroe/matrixminer/internal/sqlutil"
)

const schema = `
CREATE TABLE IF NOT EXISTS room_crawl_metadata (
	room_id TEXT NOT NULL PRIMARY KEY,
	oldest_event_id TEXT,
	oldest_event_ts INTEGER,
	newest_event_id TEXT,
	newest_event_ts INTEGER,
	fully_crawled INTEGER NOT NULL DEFAULT 0,
	total_events_fetched INTEGER NOT NULL DEFAULT 0,
	user_events_fetched INTEGER NOT NULL DEFAULT 0,
	last_crawl_status TEXT,
	last_crawl_error TEXT
);
`

// additiveMigrations adds columns to pre-existing databases. Each ALTER
// is run independently and any failure (normally "duplicate column") is
// swallowed,
// matching §4.2's "adding a column is never fatal: silently succeed if
// present" and the original source's idempotent-ALTER idiom.
var additiveMigrations = []string{
	`ALTER TABLE room_crawl_metadata ADD COLUMN total_events_fetched INTEGER NOT NULL DEFAULT 0`,
	`ALTER TABLE room_crawl_metadata ADD COLUMN user_events_fetched INTEGER NOT NULL DEFAULT 0`,
	`ALTER TABLE room_crawl_metadata ADD COLUMN last_crawl_status TEXT`,
	`ALTER TABLE room_crawl_metadata ADD COLUMN last_crawl_error TEXT`,
}

// Store is the single-file embedded metadata store for one account.
// Each exported operation is its own transaction; writes are serialized
// through an ExclusiveWriter so the orchestrator's single-writer
// discipline (§3 Ownership) holds even if a future caller shares the
// handle across goroutines.
type Store struct {
	db     *sql.DB
	writer sqlutil.Writer
}

// Init opens or creates the store at path, creating the schema
// idempotently and applying additive migrations.
func Init(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, crawlerr.NewStorage("open", err)
	}
	// SQLite only tolerates one writer; cap the pool so database/sql
	// doesn't hand out a second connection mid-transaction.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, crawlerr.NewStorage("create schema", err)
	}
	for _, stmt := range additiveMigrations {
		if _, err := db.Exec(stmt); err != nil && !isDuplicateColumn(err) {
			db.Close()
			return nil, crawlerr.NewStorage("migrate", err)
		}
	}

	return &Store{db: db, writer: sqlutil.NewExclusiveWriter()}, nil
}

func isDuplicateColumn(err error) bool {
	return err != nil // sqlite returns "duplicate column name" text errors; any ALTER failure here is benign
}

func (s *Store) Close() error {
	return s.db.Close()
}

const selectColumns = `room_id, oldest_event_id, oldest_event_ts, newest_event_id, newest_event_ts,
	fully_crawled, total_events_fetched, user_events_fetched, last_crawl_status, last_crawl_error`

func scanRecord(row interface{ Scan(dest ...any) error }) (RoomRecord, error) {
	var r RoomRecord
	var fullyCrawled int
	var status, errMsg sql.NullString
	if err := row.Scan(
		&r.RoomID, &r.OldestEventID, &r.OldestEventTS, &r.NewestEventID, &r.NewestEventTS,
		&fullyCrawled, &r.TotalEventsFetched, &r.UserEventsFetched, &status, &errMsg,
	); err != nil {
		return RoomRecord{}, err
	}
	r.FullyCrawled = fullyCrawled != 0
	if status.Valid {
		r.LastCrawlStatus = Status(status.String)
	}
	if errMsg.Valid {
		r.LastCrawlError = errMsg.String
	}
	return r, nil
}

// GetRoom returns the stored record for room_id, or (RoomRecord{}, false)
// if the room has no record yet (a "virgin" room per §3).
func (s *Store) GetRoom(ctx context.Context, roomID string) (RoomRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM room_crawl_metadata WHERE room_id = ?`, selectColumns), roomID)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RoomRecord{}, false, nil
	}
	if err != nil {
		return RoomRecord{}, false, crawlerr.NewStorage("get_room", err)
	}
	return r, true, nil
}

func (s *Store) getRoomTxn(ctx context.Context, txn *sql.Tx, roomID string) (RoomRecord, bool, error) {
	row := txn.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM room_crawl_metadata WHERE room_id = ?`, selectColumns), roomID)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RoomRecord{}, false, nil
	}
	if err != nil {
		return RoomRecord{}, false, err
	}
	return r, true, nil
}

// MergeCoverage upserts the coverage extrema for a room. On update:
// ids are replaced only when the matching timestamp is present, oldest
// takes MIN, newest takes MAX, and fully_crawled is OR'd — never
// regressing a prior crawl's progress (§3, §6).
func (s *Store) MergeCoverage(ctx context.Context, roomID string, oldestID *string, oldestTS *int64, newestID *string, newestTS *int64, fullyCrawled bool) error {
	return s.writer.Do(s.db, nil, func(txn *sql.Tx) error {
		existing, found, err := s.getRoomTxn(ctx, txn, roomID)
		if err != nil {
			return crawlerr.NewStorage("merge_coverage", err)
		}

		merged := existing
		merged.RoomID = roomID
		if !found {
			merged = RoomRecord{RoomID: roomID}
		}

		if oldestTS != nil {
			if merged.OldestEventTS == nil || *oldestTS < *merged.OldestEventTS {
				merged.OldestEventTS = oldestTS
				merged.OldestEventID = oldestID
			}
		}
		if newestTS != nil {
			if merged.NewestEventTS == nil || *newestTS > *merged.NewestEventTS {
				merged.NewestEventTS = newestTS
				merged.NewestEventID = newestID
			}
		}
		merged.FullyCrawled = merged.FullyCrawled || fullyCrawled

		return upsertTxn(ctx, txn, merged, found)
	})
}

// SetStatus upserts only the status columns, leaving extrema untouched.
func (s *Store) SetStatus(ctx context.Context, roomID string, status Status, errMsg string) error {
	return s.writer.Do(s.db, nil, func(txn *sql.Tx) error {
		_, err := txn.ExecContext(ctx, `
			INSERT INTO room_crawl_metadata (room_id, last_crawl_status, last_crawl_error)
			VALUES (?, ?, ?)
			ON CONFLICT(room_id) DO UPDATE SET
				last_crawl_status = excluded.last_crawl_status,
				last_crawl_error = excluded.last_crawl_error
		`, roomID, string(status), nullableString(errMsg))
		if err != nil {
			return crawlerr.NewStorage("set_status", err)
		}
		return nil
	})
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// BumpCounts upserts the cumulative counters, taking MAX of stored and
// provided values — the counters represent "largest observed coverage",
// not a running sum across retries (§4.2).
func (s *Store) BumpCounts(ctx context.Context, roomID string, total, user int64) error {
	return s.writer.Do(s.db, nil, func(txn *sql.Tx) error {
		_, err := txn.ExecContext(ctx, `
			INSERT INTO room_crawl_metadata (room_id, total_events_fetched, user_events_fetched)
			VALUES (?, ?, ?)
			ON CONFLICT(room_id) DO UPDATE SET
				total_events_fetched = MAX(total_events_fetched, excluded.total_events_fetched),
				user_events_fetched = MAX(user_events_fetched, excluded.user_events_fetched)
		`, roomID, total, user)
		if err != nil {
			return crawlerr.NewStorage("bump_counts", err)
		}
		return nil
	})
}

func upsertTxn(ctx context.Context, txn *sql.Tx, r RoomRecord, existed bool) error {
	if !existed {
		_, err := txn.ExecContext(ctx, `
			INSERT INTO room_crawl_metadata (room_id, oldest_event_id, oldest_event_ts, newest_event_id, newest_event_ts, fully_crawled)
			VALUES (?, ?, ?, ?, ?, ?)
		`, r.RoomID, r.OldestEventID, r.OldestEventTS, r.NewestEventID, r.NewestEventTS, boolToInt(r.FullyCrawled))
		return err
	}
	_, err := txn.ExecContext(ctx, `
		UPDATE room_crawl_metadata SET
			oldest_event_id = ?, oldest_event_ts = ?,
			newest_event_id = ?, newest_event_ts = ?,
			fully_crawled = ?
		WHERE room_id = ?
	`, r.OldestEventID, r.OldestEventTS, r.NewestEventID, r.NewestEventTS, boolToInt(r.FullyCrawled), r.RoomID)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// RoomCount returns the number of rooms with a metadata record.
func (s *Store) RoomCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM room_crawl_metadata`).Scan(&n)
	if err != nil {
		return 0, crawlerr.NewStorage("room_count", err)
	}
	return n, nil
}

// FullyCrawledCount returns the number of rooms whose backward walk
// reached room creation.
func (s *Store) FullyCrawledCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM room_crawl_metadata WHERE fully_crawled = 1`).Scan(&n)
	if err != nil {
		return 0, crawlerr.NewStorage("fully_crawled_count", err)
	}
	return n, nil
}

// GetTimeWindow computes the aggregate coverage window across all known
// rooms, per §4.2's three-part definition. Returns (nil, false, nil) if
// no room has a record yet.
func (s *Store) GetTimeWindow(ctx context.Context) (*TimeWindow, bool, error) {
	var total, nonFullyCrawled int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), SUM(CASE WHEN fully_crawled = 0 THEN 1 ELSE 0 END)
		FROM room_crawl_metadata
	`).Scan(&total, &nonFullyCrawled)
	if err != nil {
		return nil, false, crawlerr.NewStorage("get_time_window", err)
	}
	if total == 0 {
		return nil, false, nil
	}

	tw := &TimeWindow{}

	if nonFullyCrawled == 0 {
		tw.WindowStart = nil
	} else {
		var start sql.NullInt64
		err := s.db.QueryRowContext(ctx, `
			SELECT MAX(oldest_event_ts) FROM room_crawl_metadata
			WHERE fully_crawled = 0 AND oldest_event_ts IS NOT NULL
		`).Scan(&start)
		if err != nil {
			return nil, false, crawlerr.NewStorage("get_time_window", err)
		}
		if start.Valid {
			v := start.Int64
			tw.WindowStart = &v
		}
	}

	var end sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(newest_event_ts) FROM room_crawl_metadata WHERE newest_event_ts IS NOT NULL`).Scan(&end); err != nil {
		return nil, false, crawlerr.NewStorage("get_time_window", err)
	}
	if end.Valid {
		v := end.Int64
		tw.WindowEnd = &v
	}

	var creation sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MIN(oldest_event_ts) FROM room_crawl_metadata WHERE oldest_event_ts IS NOT NULL`).Scan(&creation); err != nil {
		return nil, false, crawlerr.NewStorage("get_time_window", err)
	}
	if creation.Valid {
		v := creation.Int64
		tw.AccountCreationTS = &v
	}

	return tw, true, nil
}

// ListRoomsSorted returns every room record ordered by status priority
// (virgin → success-fully-crawled → success-partial → in_progress →
// error → null), ties broken by room_id (§4.2).
func (s *Store) ListRoomsSorted(ctx context.Context) ([]RoomRecord, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM room_crawl_metadata`, selectColumns))
	if err != nil {
		return nil, crawlerr.NewStorage("list_rooms_sorted", err)
	}
	defer rows.Close()

	var out []RoomRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, crawlerr.NewStorage("list_rooms_sorted", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, crawlerr.NewStorage("list_rooms_sorted", err)
	}

	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := statusRank(out[i]), statusRank(out[j])
		if ri != rj {
			return ri < rj
		}
		return out[i].RoomID < out[j].RoomID
	})
	return out, nil
}
