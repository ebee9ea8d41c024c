package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/aln/go/internal/broadcast"
)

// Relay is a broadcast sink that forwards every event to its targets on a
// single worker goroutine, preserving commit order per target.
type Relay struct {
	queue   *eventQueue
	targets []Target
	config  Config
	clock   clockwork.Clock
	metrics MetricsCollector

	mu        sync.Mutex
	running   bool
	processed uint64
	failed    uint64
	lastEvent time.Time
	stalled   string
	stalledAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewRelay creates a relay. metrics may be nil.
func NewRelay(cfg Config, clock clockwork.Clock, metrics MetricsCollector, targets ...Target) *Relay {
	if metrics == nil {
		metrics = &NoOpMetricsCollector{}
	}
	return &Relay{
		queue:   newEventQueue(),
		targets: targets,
		config:  cfg,
		clock:   clock,
		metrics: metrics,
	}
}

// Deliver implements broadcast.Sink.
func (r *Relay) Deliver(ev broadcast.Event) {
	if !r.queue.Enqueue(ev) {
		log.Warn().
			Str("event_id", ev.ID.String()).
			Str("event_type", string(ev.Type)).
			Msg("outbox relay closed, event not relayed")
	}
}

// Start launches the worker.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("outbox relay already running")
	}
	if r.queue.Closed() {
		return fmt.Errorf("outbox relay already stopped")
	}
	r.running = true

	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	go r.run(ctx)

	names := make([]string, 0, len(r.targets))
	for _, t := range r.targets {
		names = append(names, t.Name)
	}
	log.Info().Strs("targets", names).Msg("outbox relay started")
	return nil
}

// Stop stops accepting events, relays what is already queued and waits for
// the worker. ctx bounds how long the flush may take.
func (r *Relay) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return fmt.Errorf("outbox relay not running")
	}
	r.running = false
	done, cancel := r.done, r.cancel
	r.mu.Unlock()

	r.queue.Close()
	select {
	case <-done:
	case <-ctx.Done():
		cancel()
		<-done
		return fmt.Errorf("flush outbox: %w", ctx.Err())
	}
	cancel()

	log.Info().Msg("outbox relay stopped")
	return nil
}

func (r *Relay) run(ctx context.Context) {
	defer close(r.done)

	for {
		for {
			ev, ok := r.queue.TryDequeue()
			if !ok {
				break
			}
			r.process(ctx, ev)
		}
		if r.queue.Closed() && r.queue.Len() == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-r.queue.Wait():
		}
	}
}

func (r *Relay) process(ctx context.Context, ev broadcast.Event) {
	ok := true
	for _, target := range r.targets {
		start := r.clock.Now()
		err := r.publishWithRetry(ctx, target, ev)
		r.metrics.RecordEventProcessed(target.Name, string(ev.Type), err == nil, r.clock.Since(start))
		if err != nil {
			ok = false
			log.Error().
				Err(err).
				Str("target", target.Name).
				Str("event_id", ev.ID.String()).
				Str("event_type", string(ev.Type)).
				Str("session_id", ev.SessionID.String()).
				Uint64("seq", ev.Seq).
				Msg("failed to relay event")
		}
	}

	r.mu.Lock()
	r.processed++
	if !ok {
		r.failed++
	}
	r.lastEvent = r.clock.Now()
	r.mu.Unlock()
}

func (r *Relay) publishWithRetry(ctx context.Context, target Target, ev broadcast.Event) error {
	var lastErr error

	for attempt := 0; target.Durable || attempt <= r.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("relay cancelled after %d attempts: %w", attempt, errors.Join(ctx.Err(), lastErr))
			case <-r.clock.After(r.backoff(attempt)):
			}
		}

		err := target.Publisher.Publish(ctx, ev)
		r.metrics.RecordPublishAttempt(target.Name, attempt+1, err == nil)
		if err == nil {
			if attempt > r.config.MaxRetries {
				r.setStalled("")
				log.Info().Str("target", target.Name).Int("attempts", attempt+1).Msg("relay target recovered")
			}
			return nil
		}
		lastErr = err
		if attempt == r.config.MaxRetries && target.Durable {
			r.setStalled(target.Name)
			log.Error().
				Err(err).
				Str("target", target.Name).
				Str("event_id", ev.ID.String()).
				Uint64("seq", ev.Seq).
				Msg("durable relay target keeps failing, holding events until it recovers")
			continue
		}
		log.Warn().
			Err(err).
			Str("target", target.Name).
			Str("event_id", ev.ID.String()).
			Int("attempt", attempt+1).
			Msg("failed to relay event, retrying")
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (r *Relay) backoff(attempt int) time.Duration {
	d := r.config.RetryDelay * time.Duration(attempt)
	if r.config.MaxRetryDelay > 0 && d > r.config.MaxRetryDelay {
		return r.config.MaxRetryDelay
	}
	return d
}

func (r *Relay) setStalled(target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stalled = target
	if target != "" {
		r.stalledAt = r.clock.Now()
	}
}

// Stalled reports the durable target, if any, that is holding back the
// queue and since when.
func (r *Relay) Stalled() (target string, since time.Time, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stalled, r.stalledAt, r.stalled != ""
}

// Stats reports relay progress.
func (r *Relay) Stats() (processed, failed uint64, pending int, lastEvent time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.processed, r.failed, r.queue.Len(), r.lastEvent
}

// Running reports whether the worker is active.
func (r *Relay) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}
