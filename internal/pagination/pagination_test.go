package pagination

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manuroe/matrixminer/internal/aggregator"
	"github.com/manuroe/matrixminer/internal/mxclient"
)

func ip(v int64) *int64 { return &v }
func sp(v string) *string { return &v }

const owner = "@owner:example.org"

// fakeClient serves fixed in-memory events then a scripted sequence of
// backward batches, mimicking the facade's RunBackwardsOnce contract.
type fakeClient struct {
	inMemory []mxclient.Event
	batches  [][]mxclient.Event
	reached  []bool
	call     int
}

func (f *fakeClient) InMemoryEvents(roomID string) []mxclient.Event {
	return f.inMemory
}

func (f *fakeClient) RunBackwardsOnce(ctx context.Context, roomID string, from string, batchSize int) ([]mxclient.Event, string, bool, error) {
	if f.call >= len(f.batches) {
		return nil, "", true, nil
	}
	events := f.batches[f.call]
	reached := f.reached[f.call]
	f.call++
	return events, "next", reached, nil
}

func msgEvent(id string, ts int64) mxclient.Event {
	return mxclient.Event{EventID: sp(id), Timestamp: ip(ts), Sender: owner, Kind: mxclient.KindMessage}
}

func TestRunEndToEndScenario(t *testing.T) {
	// §8 end-to-end scenario: one joined room, events at 1500, 1800,
	// 2500, all by the owner, window [1000,3000].
	client := &fakeClient{
		batches: [][]mxclient.Event{
			{msgEvent("$c", 2500), msgEvent("$b", 1800), msgEvent("$a", 1500)},
		},
		reached: []bool{true},
	}
	agg := aggregator.New("!r", "Room", aggregator.KindPrivate)

	res, err := Run(context.Background(), client, agg, "!r", owner, ip(1000), 3000, nil, nil, 100, nil)
	require.NoError(t, err)

	assert.True(t, res.FullyCrawled)
	assert.Equal(t, int64(1500), *res.OldestEventTS)
	assert.Equal(t, int64(2500), *res.NewestEventTS)
	assert.Equal(t, int64(3), res.TotalEvents)
	assert.Equal(t, int64(3), agg.UserEvents)
}

func TestRunStopsAtWindowStart(t *testing.T) {
	client := &fakeClient{
		batches: [][]mxclient.Event{
			{msgEvent("$b", 1500), msgEvent("$a", 500)}, // 500 <= window_start(1000)
		},
		reached: []bool{false},
	}
	agg := aggregator.New("!r", "Room", aggregator.KindPrivate)

	res, err := Run(context.Background(), client, agg, "!r", owner, ip(1000), 3000, nil, nil, 100, nil)
	require.NoError(t, err)

	assert.False(t, res.FullyCrawled)
	// Extrema still update for the out-of-window event.
	assert.Equal(t, int64(500), *res.OldestEventTS)
	// Only the in-window event counted toward total_events.
	assert.Equal(t, int64(1), res.TotalEvents)
}

func TestRunEmptyBatchWithoutReachedStartBreaks(t *testing.T) {
	client := &fakeClient{
		batches: [][]mxclient.Event{{}},
		reached: []bool{false},
	}
	agg := aggregator.New("!r", "Room", aggregator.KindPrivate)

	res, err := Run(context.Background(), client, agg, "!r", owner, nil, 3000, nil, nil, 100, nil)
	require.NoError(t, err)
	assert.False(t, res.FullyCrawled)
	assert.Equal(t, int64(0), res.TotalEvents)
}

func TestRunSeedsNewestFromDiscoveryHint(t *testing.T) {
	client := &fakeClient{batches: [][]mxclient.Event{{}}, reached: []bool{true}}
	agg := aggregator.New("!r", "Room", aggregator.KindPrivate)

	res, err := Run(context.Background(), client, agg, "!r", owner, nil, 3000, sp("$seed"), ip(2000), 100, nil)
	require.NoError(t, err)
	assert.Equal(t, "$seed", *res.NewestEventID)
	assert.Equal(t, int64(2000), *res.NewestEventTS)
}

func TestRunProgressCallbackMonotonic(t *testing.T) {
	client := &fakeClient{
		batches: [][]mxclient.Event{
			{msgEvent("$b", 2500)},
			{msgEvent("$a", 1500)},
		},
		reached: []bool{false, true},
	}
	agg := aggregator.New("!r", "Room", aggregator.KindPrivate)

	var seen []int
	progress := func(roomName string, oldestTS, newestTS *int64, eventsSeen int) {
		seen = append(seen, eventsSeen)
	}

	_, err := Run(context.Background(), client, agg, "!r", owner, ip(1000), 3000, nil, nil, 100, progress)
	require.NoError(t, err)

	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1])
	}
}
