package feed

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/venuelab/poolrunner/internal/domain"
)

// BusFeed applies venue updates published on the shared update bus, letting
// an instance without its own WebSocket connection follow updates applied by
// a sibling process.
type BusFeed struct {
	bus     domain.UpdateBus
	channel string
	handler UpdateHandler
	logger  *slog.Logger
}

// NewBusFeed creates a feed consuming updates from the given bus channel.
func NewBusFeed(bus domain.UpdateBus, channel string, handler UpdateHandler, logger *slog.Logger) *BusFeed {
	return &BusFeed{
		bus:     bus,
		channel: channel,
		handler: handler,
		logger:  logger.With(slog.String("component", "bus_feed")),
	}
}

// Run subscribes and applies updates until ctx is cancelled.
func (f *BusFeed) Run(ctx context.Context) error {
	msgs, err := f.bus.Subscribe(ctx, f.channel)
	if err != nil {
		return err
	}
	f.logger.Info("bus feed subscribed", slog.String("channel", f.channel))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-msgs:
			if !ok {
				return ctx.Err()
			}
			var u domain.VenueUpdate
			if err := json.Unmarshal(raw, &u); err != nil || u.VenueID == "" {
				continue
			}
			f.handler(u)
		}
	}
}
