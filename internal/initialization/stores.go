package initialization

import (
	"context"
	"fmt"

	"github.com/inboxpilot/provisioner/internal/config"
	"github.com/inboxpilot/provisioner/internal/crypto"
	"github.com/inboxpilot/provisioner/internal/domain"
	"github.com/inboxpilot/provisioner/internal/stores"
	"github.com/inboxpilot/provisioner/internal/stores/memory"
	"github.com/inboxpilot/provisioner/internal/stores/mongo"
	"github.com/inboxpilot/provisioner/internal/stores/postgres"
	"github.com/inboxpilot/provisioner/internal/stores/redis"

	"github.com/rs/zerolog/log"
)

// buildStore assembles the primary store, the optional Redis state store and
// optional token sealing, outermost last.
func (c *Container) buildStore(ctx context.Context, deps *Dependencies) error {
	var primary domain.StateStore

	switch c.config.StoreBackend {
	case config.StoreBackendPostgres:
		store, err := postgres.New(ctx, postgres.Opts{DatabaseURL: c.config.DatabaseURL})
		if err != nil {
			return err
		}
		deps.closers = append(deps.closers, func(context.Context) error {
			store.Close()
			return nil
		})
		deps.HealthChecks["postgres"] = store
		primary = store

	case config.StoreBackendMongo:
		store, err := mongo.New(ctx, mongo.Opts{URI: c.config.MongoURI, Database: c.config.MongoDatabase})
		if err != nil {
			return err
		}
		deps.closers = append(deps.closers, store.Close)
		deps.HealthChecks["mongo"] = store
		primary = store

	case config.StoreBackendMemory:
		log.Warn().Msg("Using in-memory store, nothing survives a restart")
		primary = memory.New()

	default:
		return fmt.Errorf("unsupported store backend %q", c.config.StoreBackend)
	}

	var states domain.OAuthStateStore
	if c.config.RedisURL != "" {
		store, err := redis.New(ctx, redis.Opts{URL: c.config.RedisURL, TTL: c.config.OAuthStateTTL})
		if err != nil {
			return err
		}
		deps.closers = append(deps.closers, func(context.Context) error {
			return store.Close()
		})
		deps.HealthChecks["redis"] = store
		states = store

		log.Info().Dur("ttl", c.config.OAuthStateTTL).Msg("OAuth states stored in Redis")
	}

	store := stores.NewComposite(primary, states)

	if c.config.TokenSealerKey != "" {
		sealer, err := crypto.NewTokenSealer(c.config.TokenSealerKey)
		if err != nil {
			return fmt.Errorf("invalid TOKEN_ENCRYPTION_KEY: %w", err)
		}
		store = stores.NewSealedStore(store, sealer)

		log.Info().Msg("Integration tokens sealed at rest")
	}

	deps.Store = store

	return nil
}
