package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/venuelab/poolrunner/internal/blob/s3"
	"github.com/venuelab/poolrunner/internal/cache/redis"
	"github.com/venuelab/poolrunner/internal/config"
	"github.com/venuelab/poolrunner/internal/domain"
	"github.com/venuelab/poolrunner/internal/notify"
	"github.com/venuelab/poolrunner/internal/store/memory"
	"github.com/venuelab/poolrunner/internal/store/postgres"
	"github.com/venuelab/poolrunner/internal/venue"
)

// Dependencies bundles every dependency the operating modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Venue adapters keyed by venue ID.
	Adapters map[string]domain.VenueAdapter

	// Stores. Paper mode gets in-memory implementations; trade and monitor
	// get postgres.
	ExposureStore  domain.ExposureStore
	ExecutionStore domain.ExecutionStore
	AuditStore     domain.AuditStore

	// Shared state (nil in paper mode).
	VenueCache domain.VenueStateCache
	Bus        domain.UpdateBus

	// Cold storage (nil unless archiving is enabled).
	BlobWriter domain.BlobWriter
	Archiver   *s3blob.Archiver

	// Notifications.
	Notifier *notify.Notifier
}

// needsExternalStores reports whether the mode persists to postgres/redis.
func needsExternalStores(mode string) bool {
	switch mode {
	case "trade", "monitor":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Adapters: buildAdapters(cfg.Venues),
	}

	mode := strings.ToLower(cfg.Mode)

	if needsExternalStores(mode) {
		// --- PostgreSQL ---
		pgClient, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.ExposureStore = postgres.NewExposureStore(pool)
		deps.ExecutionStore = postgres.NewExecutionStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)

		// --- Redis ---
		redisClient, err := redis.New(ctx, cfg.Redis)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.VenueCache = redis.NewVenueCache(redisClient)
		deps.Bus = redis.NewUpdateBus(redisClient)
	} else {
		deps.ExposureStore = memory.NewExposureStore()
		deps.ExecutionStore = memory.NewExecutionStore()
		deps.AuditStore = memory.NewAuditStore()
	}

	// --- S3 cold storage ---
	if cfg.Archive.Enabled && mode == "trade" {
		s3Client, err := s3blob.New(ctx, cfg.S3)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.Archiver = s3blob.NewArchiver(cfg.Archive, deps.BlobWriter, deps.ExecutionStore, deps.AuditStore, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.New(senders, cfg.Notify.MinSeverity, logger)

	return deps, cleanup, nil
}

// buildAdapters constructs the simulated venue set declared in config. Real
// venue integrations plug in here by implementing domain.VenueAdapter.
func buildAdapters(venues []config.VenueConfig) map[string]domain.VenueAdapter {
	adapters := make(map[string]domain.VenueAdapter, len(venues))
	for _, vc := range venues {
		state := domain.Venue{
			ID:       vc.ID,
			Kind:     domain.VenueKind(vc.Kind),
			Address:  common.HexToAddress(vc.Address),
			Base:     vc.Base,
			Quote:    vc.Quote,
			Price:    vc.Price,
			FeeBps:   vc.FeeBps,
			FixedFee: vc.FixedFee,
			Depth:    vc.Depth,
		}
		if vc.RangeLower > 0 || vc.RangeUpper > 0 {
			state.HasPosition = true
			state.RangeLower = vc.RangeLower
			state.RangeUpper = vc.RangeUpper
		}
		adapters[vc.ID] = venue.NewSim(state)
	}
	return adapters
}
