// Package discovery is room discovery (C3): enumerate joined rooms and
// attach a freshness hint to each via a growing-window batched sync
// against the protocol facade.
package discovery

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/manuroe/matrixminer/internal/crawlerr"
	"github.com/manuroe/matrixminer/internal/mxclient"
)

// DefaultBatchSize is the number of rooms resolved per discovery round
// (§4.3's sliding-sync growing window default).
const DefaultBatchSize = 50

// DefaultSettleTick is the wall-clock wait used to detect a quiet state
// stream as "fully loaded" (§4.3, §5).
const DefaultSettleTick = 200 * time.Millisecond

// Client is the subset of mxclient.Client discovery depends on.
type Client interface {
	SyncRoomList(ctx context.Context, batchSize int, settleTick time.Duration) ([]mxclient.RoomInfo, error)
}

// Run discovers the account's joined rooms with freshness hints.
// A sync failure is wrapped as a DiscoveryError, account-level fatal
// per §7: the caller aborts this account and continues with the next.
func Run(ctx context.Context, client Client, batchSize int, settleTick time.Duration, log *logrus.Entry) ([]mxclient.RoomInfo, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if settleTick <= 0 {
		settleTick = DefaultSettleTick
	}

	log.WithField("batch_size", batchSize).Debug("starting room discovery")
	rooms, err := client.SyncRoomList(ctx, batchSize, settleTick)
	if err != nil {
		return nil, crawlerr.NewDiscovery(err)
	}
	log.WithField("room_count", len(rooms)).Info("room discovery complete")
	return rooms, nil
}
