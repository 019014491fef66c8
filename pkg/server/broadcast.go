package server

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/draftsync/draftsync/pkg/protocol"
)

// Broadcaster fans a notification out to every live connection of one owner
// identity. Delivery is best-effort: a failure on one connection never aborts
// delivery to the others, and no failure ever reaches the command that
// triggered the broadcast.
type Broadcaster struct {
	registry    *Registry
	concurrency int
	metrics     *Metrics
	logger      *slog.Logger
}

// NewBroadcaster creates a dispatcher over the given registry. concurrency
// bounds the number of in-flight deliveries per broadcast; values <= 0 fall
// back to 16.
func NewBroadcaster(registry *Registry, concurrency int, metrics *Metrics, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency <= 0 {
		concurrency = 16
	}
	return &Broadcaster{
		registry:    registry,
		concurrency: concurrency,
		metrics:     metrics,
		logger:      logger.With("component", "broadcaster"),
	}
}

// Broadcast delivers msg to every open connection bound to owner. Each open
// connection receives exactly one copy; delivery order within the owner's
// connection set is unspecified. Blocks until every delivery attempt has
// finished.
func (b *Broadcaster) Broadcast(ctx context.Context, owner string, msg protocol.Message) {
	conns := b.registry.LookupByOwner(owner)
	if len(conns) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(b.concurrency)

	for _, c := range conns {
		c := c
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if err := c.Send(msg); err != nil {
				// Best-effort: the connection is likely mid-close. Dropped.
				b.logger.Debug("broadcast delivery failed",
					"conn_id", c.ID(),
					"user_id", owner,
					"error", err)
				b.metrics.BroadcastFailure()
			}
			return nil
		})
	}
	g.Wait()

	b.metrics.Broadcast()
	b.logger.Debug("broadcast dispatched",
		"action", msg.Action,
		"user_id", owner,
		"targets", len(conns))
}
