package statsbuilder

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manuroe/matrixminer/internal/aggregator"
	"github.com/manuroe/matrixminer/internal/mxclient"
	"github.com/manuroe/matrixminer/internal/stats"
	"github.com/manuroe/matrixminer/internal/window"
)

func ip(v int64) *int64 { return &v }

func TestBuildEndToEndScenario(t *testing.T) {
	win, err := window.Parse("2025")
	require.NoError(t, err)

	a := aggregator.New("!r", "My Room", aggregator.KindPrivate)
	for _, ts := range []int64{1500, 1800, 2500} {
		require.NoError(t, a.Fold(fakeMsg(ts), ts, "@owner:example.org"))
	}

	doc := Build(win, stats.Account{UserID: "@owner:example.org"}, []RoomInput{
		{Aggregate: a, OldestTS: ip(1500), NewestTS: ip(2500)},
	}, nil)

	assert.Equal(t, 3, doc.Summary.MessagesSent)
	assert.Equal(t, 1, doc.Summary.ActiveRooms)
	assert.Equal(t, 1, doc.Rooms.Total)
	require.NotNil(t, doc.Coverage.DaysActive)
	require.Len(t, doc.Rooms.Top, 1)
	assert.Equal(t, 100.0, doc.Rooms.Top[0].Percentage)
}

func TestBuildOmitsEmptySections(t *testing.T) {
	win, err := window.Parse("2025")
	require.NoError(t, err)

	a := aggregator.New("!r", "Empty Room", aggregator.KindPrivate)
	doc := Build(win, stats.Account{UserID: "@owner:example.org"}, []RoomInput{{Aggregate: a}}, nil)

	assert.Nil(t, doc.Activity)
	assert.Nil(t, doc.Reactions)
	assert.Nil(t, doc.CreatedRooms)
	assert.Nil(t, doc.Summary.Peaks)
}

func TestPickPeakTiesBreakByKey(t *testing.T) {
	peak := pickPeak(map[string]int{"2025-03": 5, "2025-01": 5, "2025-02": 3})
	require.NotNil(t, peak)
	assert.Equal(t, "2025-01", peak.Key)
}

func fakeMsg(ts int64) mxclient.Event {
	id := fmt.Sprintf("$e%d", ts)
	return mxclient.Event{EventID: &id, Timestamp: &ts, Sender: "@owner:example.org", Kind: mxclient.KindMessage}
}
