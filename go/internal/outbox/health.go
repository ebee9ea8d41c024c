package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
)

type HealthStatus struct {
	Healthy         bool                     `json:"healthy"`
	RelayRunning    bool                     `json:"relay_running"`
	EventsProcessed uint64                   `json:"events_processed"`
	EventsFailed    uint64                   `json:"events_failed"`
	PendingEvents   int                      `json:"pending_events"`
	LastEventTime   time.Time                `json:"last_event_time"`
	StoreConnected  *bool                    `json:"store_connected,omitempty"`
	NATSConnected   *bool                    `json:"nats_connected,omitempty"`
	StalledTarget   string                   `json:"stalled_target,omitempty"`
	Targets         map[string]TargetMetrics `json:"targets,omitempty"`
	Errors          []string                 `json:"errors"`
}

// Pinger is satisfied by the store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker reports on the relay and its targets. store, nats and
// metrics are optional.
type HealthChecker struct {
	relay     *Relay
	store     Pinger
	nats      interface{ Connected() bool }
	metrics   *InMemoryMetrics
	clock     clockwork.Clock
	threshold time.Duration // max age of the last event while a backlog exists
}

func NewHealthChecker(relay *Relay, store Pinger, nats interface{ Connected() bool }, metrics *InMemoryMetrics, clock clockwork.Clock, threshold time.Duration) *HealthChecker {
	return &HealthChecker{
		relay:     relay,
		store:     store,
		nats:      nats,
		metrics:   metrics,
		clock:     clock,
		threshold: threshold,
	}
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Healthy: true,
		Errors:  []string{},
	}

	status.EventsProcessed, status.EventsFailed, status.PendingEvents, status.LastEventTime = h.relay.Stats()
	status.RelayRunning = h.relay.Running()
	if !status.RelayRunning {
		status.Healthy = false
		status.Errors = append(status.Errors, "relay not running")
	}

	if target, since, stalled := h.relay.Stalled(); stalled {
		status.Healthy = false
		status.StalledTarget = target
		status.Errors = append(status.Errors, fmt.Sprintf("target %s failing for %s", target, h.clock.Since(since)))
	}

	if h.store != nil {
		ok := true
		if err := h.store.Ping(ctx); err != nil {
			ok = false
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("store ping failed: %v", err))
		}
		status.StoreConnected = &ok
	}

	if h.nats != nil {
		ok := h.nats.Connected()
		if !ok {
			status.Healthy = false
			status.Errors = append(status.Errors, "NATS disconnected")
		}
		status.NATSConnected = &ok
	}

	if status.PendingEvents > 1000 {
		status.Errors = append(status.Errors, fmt.Sprintf("high pending event count: %d", status.PendingEvents))
	}
	if status.PendingEvents > 0 && !status.LastEventTime.IsZero() {
		if since := h.clock.Since(status.LastEventTime); since > h.threshold {
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("no events relayed for %s", since))
		}
	}

	if h.metrics != nil {
		status.Targets = h.metrics.Snapshot()
	}
	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(status)
}
