package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/aln/go/internal/ledger"
	"github.com/mcdev12/aln/go/internal/models"
)

// RestoreRequest is a session as read back from durable storage.
type RestoreRequest struct {
	Session models.Session
	// Seq is the last commit sequence recorded for the session itself. The
	// restored session continues after the larger of Seq and the last
	// transaction's sequence.
	Seq          uint64
	Transactions []models.Transaction
}

// Restore re-registers a persisted session. Transactions are appended to a
// fresh ledger verbatim, in sequence order, and team totals are rebuilt by a
// full fold. Nothing is published.
func (m *Manager) Restore(req RestoreRequest) error {
	info := req.Session.Clone()
	if info.ID == uuid.Nil {
		return fmt.Errorf("restore: session without id")
	}
	if !info.Status.Valid() {
		return fmt.Errorf("restore %s: unknown status %q", info.ID, info.Status)
	}

	cat := m.catalog.Load()
	s := newGameSession(info, cat, m.rulesFor(cat))

	seq := req.Seq
	last := info.StartTime
	for _, tx := range req.Transactions {
		stored, err := s.ledger.Append(tx)
		if err != nil {
			return fmt.Errorf("restore %s: %w", info.ID, err)
		}
		if stored.Status != tx.Status {
			log.Warn().
				Str("session_id", info.ID.String()).
				Str("transaction_id", tx.ID.String()).
				Str("stored_status", string(tx.Status)).
				Msg("restored transaction reclassified as duplicate")
		}
		if tx.Seq > seq {
			seq = tx.Seq
		}
		if tx.ServerTimestamp.After(last) {
			last = tx.ServerTimestamp
		}
	}
	for _, t := range []*time.Time{info.PausedAt, info.EndTime} {
		if t != nil && t.After(last) {
			last = *t
		}
	}
	s.scores = ledger.Recompute(info.Teams, s.rules, s.ledger.Transactions())
	s.advance(seq, last)

	m.mu.Lock()
	if _, exists := m.sessions[info.ID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("restore %s: session already registered", info.ID)
	}
	if info.Status != models.SessionStatusEnded {
		m.hub.Open(info.ID, seq)
	}
	m.sessions[info.ID] = s
	m.order = append(m.order, info.ID)
	m.mu.Unlock()

	log.Info().
		Str("session_id", info.ID.String()).
		Str("status", string(info.Status)).
		Int("transactions", s.ledger.Len()).
		Uint64("seq", seq).
		Msg("session restored")
	return nil
}
