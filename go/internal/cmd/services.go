package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/aln/go/internal/broadcast"
	"github.com/mcdev12/aln/go/internal/catalog"
	"github.com/mcdev12/aln/go/internal/config"
	"github.com/mcdev12/aln/go/internal/gateway"
	"github.com/mcdev12/aln/go/internal/ingest"
	"github.com/mcdev12/aln/go/internal/outbox"
	"github.com/mcdev12/aln/go/internal/session"
	"github.com/mcdev12/aln/go/internal/store"
)

// Services is everything a running orchestrator is made of.
type Services struct {
	Clock       clockwork.Clock
	Catalog     *catalog.Catalog
	Store       store.Store // nil when persistence is disabled
	Hub         *broadcast.Hub
	Sessions    *session.Manager
	Relay       *outbox.Relay
	Metrics     *outbox.InMemoryMetrics
	NATS        *nats.Conn // nil when NATS is disabled
	Ingest      *ingest.Consumer
	Connections *gateway.ConnectionManager
	Health      *outbox.HealthChecker
}

func sessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		PausedPolicy:    session.PausedPolicy(cfg.Session.PausedPolicy),
		SubscriberQueue: cfg.Session.SubscriberQueue,
		GroupBonus:      cfg.Scoring.GroupBonus,
	}
}

// setupServices wires the dependency chain:
// catalog → session manager → hub → outbox relay → store / JetStream.
func setupServices(ctx context.Context, cfg *config.Config) (_ *Services, err error) {
	s := &Services{Clock: clockwork.NewRealClock()}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	if s.Catalog, err = setupCatalog(ctx, cfg, ""); err != nil {
		return nil, err
	}
	logCatalogIssues(s.Catalog)

	if s.Store, err = setupStore(ctx, cfg); err != nil {
		return nil, err
	}

	s.Hub = broadcast.NewHub()
	s.Sessions = session.NewManager(s.Catalog, s.Hub, s.Clock, sessionConfig(cfg))
	if s.Store != nil {
		if err = restoreSessions(ctx, s.Store, s.Sessions); err != nil {
			return nil, err
		}
	}

	var targets []outbox.Target
	if s.Store != nil {
		// The store is what restart rebuilds sessions from, so it may not skip events.
		targets = append(targets, outbox.Target{Name: "store", Publisher: outbox.NewStorePublisher(s.Store), Durable: true})
	}

	var publisher *outbox.JetStreamPublisher
	if cfg.NATS.Enabled {
		jsCfg := outbox.DefaultJetStreamConfig()
		jsCfg.URL = cfg.NATS.URL
		jsCfg.StreamName = cfg.NATS.Stream
		jsCfg.SubjectPrefix = cfg.NATS.SubjectPrefix

		if s.NATS, err = outbox.Connect(jsCfg.URL, jsCfg.MaxReconnects, jsCfg.ReconnectWait); err != nil {
			return nil, err
		}
		if publisher, err = outbox.NewJetStreamPublisher(ctx, s.NATS, jsCfg); err != nil {
			return nil, fmt.Errorf("failed to create JetStream publisher: %w", err)
		}
		targets = append(targets, outbox.Target{Name: "jetstream", Publisher: publisher})

		ingestCfg := ingest.DefaultConfig()
		ingestCfg.Subject = cfg.NATS.IngestSubject
		ingestCfg.ConsumerName = cfg.NATS.Consumer
		processor := ingest.NewProcessor(s.Sessions, ingestCfg.Subject)
		if s.Ingest, err = ingest.NewConsumer(ctx, s.NATS, processor, ingestCfg); err != nil {
			return nil, fmt.Errorf("failed to create ingest consumer: %w", err)
		}
	}

	s.Metrics = outbox.NewInMemoryMetrics()
	s.Relay = outbox.NewRelay(outbox.Config{
		MaxRetries:    cfg.Outbox.MaxRetries,
		RetryDelay:    cfg.Outbox.RetryDelay,
		MaxRetryDelay: cfg.Outbox.MaxRetryDelay,
	}, s.Clock, s.Metrics, targets...)
	s.Hub.AddSink(s.Relay)

	// Optional dependencies are passed as untyped nils so the checker can
	// tell them apart from configured ones.
	switch {
	case s.Store != nil && publisher != nil:
		s.Health = outbox.NewHealthChecker(s.Relay, s.Store, publisher, s.Metrics, s.Clock, time.Minute)
	case s.Store != nil:
		s.Health = outbox.NewHealthChecker(s.Relay, s.Store, nil, s.Metrics, s.Clock, time.Minute)
	case publisher != nil:
		s.Health = outbox.NewHealthChecker(s.Relay, nil, publisher, s.Metrics, s.Clock, time.Minute)
	default:
		s.Health = outbox.NewHealthChecker(s.Relay, nil, nil, s.Metrics, s.Clock, time.Minute)
	}

	connCfg := gateway.DefaultConnectionConfig()
	connCfg.CheckOrigin = gateway.OriginChecker(cfg.Server.AllowedOrigins)
	s.Connections = gateway.NewConnectionManager(s.Sessions, s.Hub, s.Clock, connCfg)

	return s, nil
}

// Close releases the broker connection and the store. The relay must have
// been stopped first.
func (s *Services) Close() {
	if s.NATS != nil {
		if err := s.NATS.Drain(); err != nil {
			log.Error().Err(err).Msg("failed to drain NATS connection")
		}
	}
	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close store")
		}
	}
}
