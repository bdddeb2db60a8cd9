package crawldb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Init(filepath.Join(t.TempDir(), "db.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr[T any](v T) *T { return &v }

func TestGetRoomVirgin(t *testing.T) {
	s := openTest(t)
	_, found, err := s.GetRoom(context.Background(), "!room:example.org")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMergeCoverageInsertThenMinMax(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	require.NoError(t, s.MergeCoverage(ctx, "!r", ptr("o1"), ptr(int64(1000)), ptr("n1"), ptr(int64(2000)), false))

	r, found, err := s.GetRoom(ctx, "!r")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(1000), *r.OldestEventTS)
	assert.Equal(t, int64(2000), *r.NewestEventTS)
	assert.False(t, r.FullyCrawled)

	// A later crawl pushes the extrema outward.
	require.NoError(t, s.MergeCoverage(ctx, "!r", ptr("o0"), ptr(int64(500)), ptr("n2"), ptr(int64(3000)), false))

	r, found, err = s.GetRoom(ctx, "!r")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(500), *r.OldestEventTS)
	assert.Equal(t, "o0", *r.OldestEventID)
	assert.Equal(t, int64(3000), *r.NewestEventTS)
	assert.Equal(t, "n2", *r.NewestEventID)
}

func TestMergeCoverageIgnoresNarrowerRange(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	require.NoError(t, s.MergeCoverage(ctx, "!r", ptr("o"), ptr(int64(500)), ptr("n"), ptr(int64(3000)), false))
	// A narrower range must not regress the stored extrema (invariant 2).
	require.NoError(t, s.MergeCoverage(ctx, "!r", ptr("o2"), ptr(int64(1000)), ptr("n2"), ptr(int64(2000)), false))

	r, _, err := s.GetRoom(ctx, "!r")
	require.NoError(t, err)
	assert.Equal(t, int64(500), *r.OldestEventTS)
	assert.Equal(t, int64(3000), *r.NewestEventTS)
}

func TestMergeCoverageFullyCrawledIsSticky(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	require.NoError(t, s.MergeCoverage(ctx, "!r", ptr("o"), ptr(int64(500)), ptr("n"), ptr(int64(1000)), true))
	require.NoError(t, s.MergeCoverage(ctx, "!r", ptr("o"), ptr(int64(500)), ptr("n"), ptr(int64(1500)), false))

	r, _, err := s.GetRoom(ctx, "!r")
	require.NoError(t, err)
	assert.True(t, r.FullyCrawled, "fully_crawled must never flip back to false (invariant 3)")
}

func TestBumpCountsTakesMax(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	require.NoError(t, s.BumpCounts(ctx, "!r", 10, 5))
	require.NoError(t, s.BumpCounts(ctx, "!r", 4, 20))

	r, _, err := s.GetRoom(ctx, "!r")
	require.NoError(t, err)
	assert.Equal(t, int64(10), r.TotalEventsFetched)
	assert.Equal(t, int64(20), r.UserEventsFetched)
}

func TestSetStatusLeavesExtremaAlone(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	require.NoError(t, s.MergeCoverage(ctx, "!r", ptr("o"), ptr(int64(500)), ptr("n"), ptr(int64(1000)), false))
	require.NoError(t, s.SetStatus(ctx, "!r", StatusError, "boom"))

	r, _, err := s.GetRoom(ctx, "!r")
	require.NoError(t, err)
	assert.Equal(t, StatusError, r.LastCrawlStatus)
	assert.Equal(t, "boom", r.LastCrawlError)
	assert.Equal(t, int64(500), *r.OldestEventTS)
}

func TestRoomCountAndFullyCrawledCount(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	require.NoError(t, s.MergeCoverage(ctx, "!a", ptr("o"), ptr(int64(1)), ptr("n"), ptr(int64(2)), true))
	require.NoError(t, s.MergeCoverage(ctx, "!b", ptr("o"), ptr(int64(1)), ptr("n"), ptr(int64(2)), false))

	n, err := s.RoomCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	fc, err := s.FullyCrawledCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fc)
}

func TestGetTimeWindowAllFullyCrawled(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	require.NoError(t, s.MergeCoverage(ctx, "!a", ptr("o"), ptr(int64(1000)), ptr("n"), ptr(int64(2000)), true))
	require.NoError(t, s.MergeCoverage(ctx, "!b", ptr("o"), ptr(int64(500)), ptr("n"), ptr(int64(1500)), true))

	tw, found, err := s.GetTimeWindow(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Nil(t, tw.WindowStart, "window_start is None iff every room is fully crawled")
	assert.Equal(t, int64(2000), *tw.WindowEnd)
	assert.Equal(t, int64(500), *tw.AccountCreationTS)
}

func TestGetTimeWindowPartialCoverage(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	require.NoError(t, s.MergeCoverage(ctx, "!a", ptr("o"), ptr(int64(1000)), ptr("n"), ptr(int64(2000)), true))
	require.NoError(t, s.MergeCoverage(ctx, "!b", ptr("o"), ptr(int64(700)), ptr("n"), ptr(int64(1800)), false))

	tw, found, err := s.GetTimeWindow(ctx)
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, tw.WindowStart)
	assert.Equal(t, int64(700), *tw.WindowStart, "MAX(oldest_event_ts) over non-fully-crawled rooms only")
	assert.Equal(t, int64(2000), *tw.WindowEnd)
}

func TestListRoomsSortedByStatusPriority(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)

	require.NoError(t, s.MergeCoverage(ctx, "!err", ptr("o"), ptr(int64(1)), ptr("n"), ptr(int64(2)), false))
	require.NoError(t, s.SetStatus(ctx, "!err", StatusError, "boom"))

	require.NoError(t, s.MergeCoverage(ctx, "!partial", ptr("o"), ptr(int64(1)), ptr("n"), ptr(int64(2)), false))
	require.NoError(t, s.SetStatus(ctx, "!partial", StatusSuccess, ""))

	require.NoError(t, s.MergeCoverage(ctx, "!done", ptr("o"), ptr(int64(1)), ptr("n"), ptr(int64(2)), true))
	require.NoError(t, s.SetStatus(ctx, "!done", StatusSuccess, ""))

	require.NoError(t, s.SetStatus(ctx, "!virgin", StatusVirgin, ""))

	rooms, err := s.ListRoomsSorted(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 4)

	var order []string
	for _, r := range rooms {
		order = append(order, r.RoomID)
	}
	assert.Equal(t, []string{"!virgin", "!done", "!partial", "!err"}, order)
}
