// Package feed delivers push-based venue updates to the market cache
// between scheduled refreshes, over WebSocket or the shared update bus.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/venuelab/poolrunner/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// UpdateHandler receives each decoded venue update. It returns true when the
// update was applied, false when the cache dropped it as stale.
type UpdateHandler func(u domain.VenueUpdate) bool

// VenueWSFeed connects to a venue update WebSocket endpoint, decodes each
// message as a domain.VenueUpdate, and hands it to the handler. Applied
// updates are optionally re-published to the update bus so sibling
// processes can follow the same feed. It reconnects with exponential
// backoff on disconnect.
type VenueWSFeed struct {
	wsURL      string
	handler    UpdateHandler
	bus        domain.UpdateBus // optional
	busChannel string
	logger     *slog.Logger
}

// NewVenueWSFeed creates a feed delivering updates from wsURL to handler.
// bus may be nil; when set, applied updates are re-published on busChannel.
func NewVenueWSFeed(wsURL string, handler UpdateHandler, bus domain.UpdateBus, busChannel string, logger *slog.Logger) *VenueWSFeed {
	return &VenueWSFeed{
		wsURL:      wsURL,
		handler:    handler,
		bus:        bus,
		busChannel: busChannel,
		logger:     logger.With(slog.String("component", "venue_ws_feed")),
	}
}

// Run connects and reads updates until ctx is cancelled.
func (f *VenueWSFeed) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("venue feed disconnected, reconnecting",
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// runConnection dials, maintains keep-alive pings, and reads until the
// connection breaks or ctx is cancelled.
func (f *VenueWSFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Close the connection when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				_ = conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	f.logger.Info("venue feed connected", slog.String("url", f.wsURL))

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.dispatch(ctx, message)
	}
}

// dispatch decodes one message and applies it. Unparseable messages are
// dropped silently; the scheduled refresh will correct any gap.
func (f *VenueWSFeed) dispatch(ctx context.Context, raw []byte) {
	var u domain.VenueUpdate
	if err := json.Unmarshal(raw, &u); err != nil || u.VenueID == "" {
		return
	}

	if !f.handler(u) {
		return
	}

	if f.bus != nil && f.busChannel != "" {
		if err := f.bus.Publish(ctx, f.busChannel, raw); err != nil {
			f.logger.Warn("bus re-publish failed",
				slog.String("venue", u.VenueID),
				slog.String("error", err.Error()),
			)
		}
	}
}
