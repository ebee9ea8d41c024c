// Package session is the single mutation gate for live sessions: lifecycle,
// scan submission, offline reconciliation and viewer subscription.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/aln/go/internal/broadcast"
	"github.com/mcdev12/aln/go/internal/catalog"
	"github.com/mcdev12/aln/go/internal/ledger"
	"github.com/mcdev12/aln/go/internal/models"
	"github.com/mcdev12/aln/go/internal/scoring"
)

// Manager is the explicit registry of sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*gameSession
	order    []uuid.UUID

	catalog atomic.Pointer[catalog.Catalog]
	hub     *broadcast.Hub
	clock   clockwork.Clock
	config  Config
}

// NewManager creates a manager. New sessions take cat as their catalog.
func NewManager(cat *catalog.Catalog, hub *broadcast.Hub, clock clockwork.Clock, cfg Config) *Manager {
	if !cfg.PausedPolicy.Valid() {
		cfg.PausedPolicy = PausedPolicyReject
	}
	m := &Manager{
		sessions: make(map[uuid.UUID]*gameSession),
		hub:      hub,
		clock:    clock,
		config:   cfg,
	}
	m.catalog.Store(cat)
	return m
}

// SetCatalog replaces the catalog used by sessions created from now on.
// Running sessions keep the catalog they started with.
func (m *Manager) SetCatalog(cat *catalog.Catalog) {
	m.catalog.Store(cat)
}

func (m *Manager) rulesFor(cat *catalog.Catalog) *scoring.GroupRules {
	if !m.config.GroupBonus {
		return nil
	}
	return cat.GroupRules()
}

func (m *Manager) lookup(id uuid.UUID) (*gameSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

func (m *Manager) publish(events []broadcast.Event) {
	if err := m.hub.Publish(events...); err != nil {
		log.Error().Err(err).Msg("failed to publish session events")
	}
}

// Create starts a new active session.
func (m *Manager) Create(ctx context.Context, req CreateSessionRequest) (models.Session, error) {
	if err := ctx.Err(); err != nil {
		return models.Session{}, err
	}
	if err := req.validate(); err != nil {
		return models.Session{}, fmt.Errorf("validation failed: %w", err)
	}

	cat := m.catalog.Load()
	now := m.clock.Now().UTC()
	info := models.Session{
		ID:        uuid.New(),
		Name:      req.Name,
		Teams:     append([]string(nil), req.Teams...),
		Status:    models.SessionStatusActive,
		StartTime: now,
	}
	s := newGameSession(info, cat, m.rulesFor(cat))
	m.hub.Open(info.ID, 0)

	// s is not reachable by anyone else until it is registered.
	seq, ts := s.nextCommit(now)
	s.advance(seq, ts)
	ev := s.sessionEvent(seq, ts)
	created := s.info.Clone()

	m.mu.Lock()
	m.sessions[info.ID] = s
	m.order = append(m.order, info.ID)
	m.mu.Unlock()

	m.publish([]broadcast.Event{ev})

	log.Info().
		Str("session_id", info.ID.String()).
		Str("name", info.Name).
		Strs("teams", info.Teams).
		Int("catalog_tokens", cat.Len()).
		Msg("session created")
	return created, nil
}

// Get returns a copy of a session record.
func (m *Manager) Get(id uuid.UUID) (models.Session, error) {
	s, err := m.lookup(id)
	if err != nil {
		return models.Session{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info.Clone(), nil
}

// List returns all sessions in creation order.
func (m *Manager) List() []models.Session {
	m.mu.RLock()
	sessions := make([]*gameSession, 0, len(m.order))
	for _, id := range m.order {
		sessions = append(sessions, m.sessions[id])
	}
	m.mu.RUnlock()

	out := make([]models.Session, 0, len(sessions))
	for _, s := range sessions {
		s.mu.Lock()
		out = append(out, s.info.Clone())
		s.mu.Unlock()
	}
	return out
}

// Pause moves an active session to paused.
func (m *Manager) Pause(ctx context.Context, id uuid.UUID) (models.Session, error) {
	info, _, err := m.transition(ctx, id, models.SessionStatusPaused)
	return info, err
}

// Resume moves a paused session back to active.
func (m *Manager) Resume(ctx context.Context, id uuid.UUID) (models.Session, error) {
	info, _, err := m.transition(ctx, id, models.SessionStatusActive)
	return info, err
}

// End terminates a session and returns its final snapshot for archival.
func (m *Manager) End(ctx context.Context, id uuid.UUID) (Snapshot, error) {
	_, snap, err := m.transition(ctx, id, models.SessionStatusEnded)
	return snap, err
}

func (m *Manager) transition(ctx context.Context, id uuid.UUID, to models.SessionStatus) (models.Session, Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return models.Session{}, Snapshot{}, err
	}
	s, err := m.lookup(id)
	if err != nil {
		return models.Session{}, Snapshot{}, err
	}

	s.mu.Lock()
	from := s.info.Status
	if err := validateStatusTransition(from, to); err != nil {
		s.mu.Unlock()
		return models.Session{}, Snapshot{}, err
	}
	seq, ts := s.nextCommit(m.clock.Now().UTC())
	switch to {
	case models.SessionStatusPaused:
		s.info.PausedAt = &ts
	case models.SessionStatusActive:
		s.info.PausedAt = nil
	case models.SessionStatusEnded:
		s.info.PausedAt = nil
		s.info.EndTime = &ts
	}
	s.setStatus(to)
	s.advance(seq, ts)
	ev := s.sessionEvent(seq, ts)
	snap := s.snapshot()
	s.mu.Unlock()

	m.publish([]broadcast.Event{ev})
	if to == models.SessionStatusEnded {
		m.hub.Finish(id, seq)
	}

	log.Info().
		Str("session_id", id.String()).
		Str("from", string(from)).
		Str("to", string(to)).
		Uint64("seq", seq).
		Msg("session status changed")
	return snap.Session, snap, nil
}

// validateStatusTransition validates if a status transition is allowed
func validateStatusTransition(from, to models.SessionStatus) error {
	allowedTransitions := map[models.SessionStatus][]models.SessionStatus{
		models.SessionStatusActive: {models.SessionStatusPaused, models.SessionStatusEnded},
		models.SessionStatusPaused: {models.SessionStatusActive, models.SessionStatusEnded},
		models.SessionStatusEnded:  {},
	}

	allowedNext, exists := allowedTransitions[from]
	if !exists {
		return fmt.Errorf("%w: unknown current status %s", ErrInvalidTransition, from)
	}
	for _, allowed := range allowedNext {
		if to == allowed {
			return nil
		}
	}
	return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
}

// Submit runs one live scan through the ingestion path. A rejected scan
// returns a rejected result together with the cause; it is not ledgered.
func (m *Manager) Submit(ctx context.Context, id uuid.UUID, req SubmitRequest) (SubmitResult, error) {
	if err := ctx.Err(); err != nil {
		return rejectedResult(err), err
	}
	s, err := m.lookup(id)
	if err != nil {
		return rejectedResult(err), err
	}
	return m.submit(s, req, models.TransactionSourceLive)
}

func (m *Manager) submit(s *gameSession, req SubmitRequest, source models.TransactionSource) (SubmitResult, error) {
	tx, events, err := m.commit(s, req, source)
	if err != nil {
		logReject(s.info.ID, req, err)
		return rejectedResult(err), err
	}
	m.publish(events)

	log.Debug().
		Str("session_id", tx.SessionID.String()).
		Str("transaction_id", tx.ID.String()).
		Str("token_id", tx.TokenID).
		Str("team_id", tx.TeamID).
		Str("device_id", tx.DeviceID).
		Str("mode", string(tx.Mode)).
		Str("status", string(tx.Status)).
		Int64("points", tx.Points).
		Uint64("seq", tx.Seq).
		Msg("transaction committed")
	return committedResult(tx), nil
}

// commit validates req, then runs the exclusive section: status re-check,
// dedup, append and aggregation. It returns the events to publish once the
// section has been left.
func (m *Manager) commit(s *gameSession, req SubmitRequest, source models.TransactionSource) (models.Transaction, []broadcast.Event, error) {
	if err := req.validate(); err != nil {
		return models.Transaction{}, nil, err
	}
	if req.TeamID != "" && !s.info.HasTeam(req.TeamID) {
		return models.Transaction{}, nil, fmt.Errorf("%w: %q", ErrUnknownTeam, req.TeamID)
	}
	if _, err := m.acceptance(s.info.ID, s.loadStatus()); err != nil {
		return models.Transaction{}, nil, err
	}

	token, ok := s.catalog.Lookup(req.TokenID)
	if !ok {
		return models.Transaction{}, nil, &UnknownTokenError{TokenID: req.TokenID}
	}
	points, err := scoring.ComputePoints(token, req.Mode)
	if err != nil {
		log.Warn().Err(err).Str("token_id", token.ID).Msg("catalog entry cannot be scored")
		return models.Transaction{}, nil, err
	}
	if expected, diverges := scoring.Divergence(token, points); diverges && req.Mode.Scoring() {
		log.Warn().
			Str("token_id", token.ID).
			Int64("computed", points).
			Int64("precomputed", expected).
			Msg("precomputed token value diverges from computed points")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	late, err := m.acceptance(s.info.ID, s.info.Status)
	if err != nil {
		return models.Transaction{}, nil, err
	}

	seq, ts := s.nextCommit(m.clock.Now().UTC())
	committed, err := s.ledger.Append(models.Transaction{
		ID:              uuid.New(),
		SessionID:       s.info.ID,
		Seq:             seq,
		TokenID:         token.ID,
		TeamID:          req.TeamID,
		DeviceID:        req.DeviceID,
		Mode:            req.Mode,
		Source:          source,
		ClientTimestamp: req.ClientTimestamp,
		ServerTimestamp: ts,
		Status:          models.TransactionStatusAccepted,
		Points:          points,
		Late:            late,
	})
	if err != nil {
		return models.Transaction{}, nil, fmt.Errorf("append to ledger: %w", err)
	}
	s.advance(seq, ts)
	done := s.scores.ApplyDelta(committed)
	if done != nil {
		log.Info().
			Str("session_id", s.info.ID.String()).
			Str("team_id", done.TeamID).
			Str("group_id", done.GroupID).
			Int64("bonus", done.Bonus).
			Msg("group completed")
	}
	return committed, s.transactionEvents(committed, done), nil
}

// acceptance decides whether a session in status takes submissions and
// whether they are marked late.
func (m *Manager) acceptance(id uuid.UUID, status models.SessionStatus) (bool, error) {
	switch status {
	case models.SessionStatusActive:
		return false, nil
	case models.SessionStatusPaused:
		if m.config.PausedPolicy == PausedPolicyAcceptLate {
			return true, nil
		}
	}
	return false, &SessionNotActiveError{SessionID: id, Status: status}
}

func logReject(id uuid.UUID, req SubmitRequest, err error) {
	evt := log.Info()
	var invalid *scoring.InvalidTokenError
	if errors.As(err, &invalid) {
		evt = log.Warn()
	}
	evt.Err(err).
		Str("session_id", id.String()).
		Str("token_id", req.TokenID).
		Str("team_id", req.TeamID).
		Str("device_id", req.DeviceID).
		Str("reason", RejectReason(err)).
		Msg("submission rejected")
}

// Snapshot returns the current state of a session.
func (m *Manager) Snapshot(id uuid.UUID) (Snapshot, error) {
	s, err := m.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(), nil
}

// Subscribe returns the current state and a stream of every delta committed
// after it. Both are taken inside the session's exclusive section.
func (m *Manager) Subscribe(id uuid.UUID) (Snapshot, *broadcast.Subscriber, error) {
	s, err := m.lookup(id)
	if err != nil {
		return Snapshot{}, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshot()
	if snap.Session.Status == models.SessionStatusEnded {
		return snap, m.hub.Idle(id, snap.Seq), nil
	}
	sub, err := m.hub.Register(id, snap.Seq, m.config.SubscriberQueue)
	if err != nil {
		return Snapshot{}, nil, fmt.Errorf("register subscriber: %w", err)
	}
	return snap, sub, nil
}

// Verify folds the ledger from scratch and compares it with the running
// totals.
func (m *Manager) Verify(id uuid.UUID) (Verification, error) {
	s, err := m.lookup(id)
	if err != nil {
		return Verification{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rebuilt := ledger.Recompute(s.info.Teams, s.rules, s.ledger.Transactions())
	diffs := s.scores.Diff(rebuilt)
	for _, tx := range s.ledger.Transactions() {
		if tx.DuplicateOf == nil {
			continue
		}
		if orig, ok := s.ledger.Get(tx.DuplicateOf.TransactionID); !ok || !orig.Scored() {
			diffs = append(diffs, fmt.Sprintf("duplicate %s refers to %s, which holds no claim", tx.ID, tx.DuplicateOf.TransactionID))
		}
	}
	v := Verification{
		SessionID:    id,
		Seq:          s.seq,
		Transactions: s.ledger.Len(),
		Consistent:   len(diffs) == 0,
		Differences:  diffs,
		TeamScores:   s.scores.Scores(),
	}
	if !v.Consistent {
		log.Error().
			Str("session_id", id.String()).
			Strs("differences", diffs).
			Msg("session state diverges from ledger")
	}
	return v, nil
}
