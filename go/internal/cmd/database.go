package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/aln/go/internal/catalog"
	"github.com/mcdev12/aln/go/internal/config"
	"github.com/mcdev12/aln/go/internal/dbconfig"
	"github.com/mcdev12/aln/go/internal/session"
	"github.com/mcdev12/aln/go/internal/store"
)

// setupStore opens the configured durable store. It returns nil when
// persistence is disabled.
func setupStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "none":
		log.Warn().Msg("persistence disabled, sessions will not survive a restart")
		return nil, nil
	case "postgres":
		dbCfg := dbconfig.NewConfigFromEnv()
		st, err := store.OpenPostgres(ctx, dbCfg.DSN())
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		log.Info().Str("database", dbCfg.Redacted()).Msg("connected to postgres store")
		return st, nil
	default:
		st, err := store.OpenSQLite(cfg.Store.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		log.Info().Str("path", cfg.Store.SQLitePath).Msg("opened sqlite store")
		return st, nil
	}
}

// setupCatalog loads the token catalog from a file or from Postgres.
func setupCatalog(ctx context.Context, cfg *config.Config, path string) (*catalog.Catalog, error) {
	if cfg.Catalog.Source == "postgres" && path == "" {
		dbCfg := dbconfig.NewConfigFromEnv()
		pool, err := pgxpool.New(ctx, dbCfg.DSN())
		if err != nil {
			return nil, fmt.Errorf("failed to create catalog pool: %w", err)
		}
		defer pool.Close()

		cat, err := catalog.LoadPostgres(ctx, pool)
		if err != nil {
			return nil, err
		}
		log.Info().Str("database", dbCfg.Redacted()).Int("tokens", cat.Len()).Msg("loaded token catalog")
		return cat, nil
	}

	if path == "" {
		path = cfg.Catalog.Path
	}
	cat, err := catalog.LoadFile(path)
	if err != nil {
		return nil, err
	}
	log.Info().Str("path", path).Int("tokens", cat.Len()).Msg("loaded token catalog")
	return cat, nil
}

// restoreSessions re-registers every persisted session with the manager.
func restoreSessions(ctx context.Context, st store.Store, manager *session.Manager) error {
	records, err := st.LoadSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load sessions: %w", err)
	}
	for _, rec := range records {
		if err := manager.Restore(session.RestoreRequest{
			Session:      rec.Session,
			Seq:          rec.Seq,
			Transactions: rec.Transactions,
		}); err != nil {
			return fmt.Errorf("failed to restore session %s: %w", rec.Session.ID, err)
		}
	}
	log.Info().Int("sessions", len(records)).Msg("restored sessions from store")
	return nil
}

// reloadCatalog swaps in a freshly loaded catalog for sessions created from
// now on. On failure the current catalog stays in place.
func reloadCatalog(ctx context.Context, cfg *config.Config, manager *session.Manager) error {
	cat, err := setupCatalog(ctx, cfg, "")
	if err != nil {
		return fmt.Errorf("reload catalog: %w", err)
	}
	logCatalogIssues(cat)
	manager.SetCatalog(cat)
	return nil
}

func logCatalogIssues(cat *catalog.Catalog) {
	for _, issue := range cat.Issues() {
		log.Warn().Str("token_id", issue.TokenID).Str("problem", issue.Problem).Msg("catalog data issue")
	}
}
