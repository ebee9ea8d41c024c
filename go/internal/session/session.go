package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/mcdev12/aln/go/internal/broadcast"
	"github.com/mcdev12/aln/go/internal/catalog"
	"github.com/mcdev12/aln/go/internal/ledger"
	"github.com/mcdev12/aln/go/internal/models"
	"github.com/mcdev12/aln/go/internal/scoring"
)

// gameSession is one live session. Everything below mu is only touched with
// mu held; mu is the exclusive mutation section of the session.
type gameSession struct {
	// status mirrors info.Status for the unlocked pre-check in submit.
	status atomic.Value

	catalog *catalog.Catalog
	rules   *scoring.GroupRules

	mu     sync.Mutex
	info   models.Session
	ledger *ledger.Ledger
	scores *ledger.Aggregator
	seq    uint64
	lastTS time.Time
}

func newGameSession(info models.Session, cat *catalog.Catalog, rules *scoring.GroupRules) *gameSession {
	s := &gameSession{
		catalog: cat,
		rules:   rules,
		info:    info,
		ledger:  ledger.New(),
		scores:  ledger.NewAggregator(info.Teams, rules),
	}
	s.status.Store(info.Status)
	return s
}

func (s *gameSession) loadStatus() models.SessionStatus {
	return s.status.Load().(models.SessionStatus)
}

func (s *gameSession) setStatus(status models.SessionStatus) {
	s.info.Status = status
	s.status.Store(status)
}

// nextCommit returns the sequence number and server timestamp the next
// commit would get. Nothing changes until advance is called, so a failed
// commit leaves no gap.
func (s *gameSession) nextCommit(now time.Time) (uint64, time.Time) {
	if now.Before(s.lastTS) {
		now = s.lastTS
	}
	return s.seq + 1, now
}

func (s *gameSession) advance(seq uint64, ts time.Time) {
	s.seq = seq
	s.lastTS = ts
}

func (s *gameSession) snapshot() Snapshot {
	return Snapshot{
		Session:      s.info.Clone(),
		Seq:          s.seq,
		Transactions: s.ledger.Transactions(),
		TeamScores:   s.scores.Scores(),
	}
}

func (s *gameSession) sessionEvent(seq uint64, ts time.Time) broadcast.Event {
	ev := broadcast.NewEvent(broadcast.EventTypeSessionUpdate, s.info.ID, seq, ts)
	info := s.info.Clone()
	ev.Session = &info
	return ev
}

// transactionEvents builds the deltas of one committed transaction.
func (s *gameSession) transactionEvents(tx models.Transaction, done *ledger.GroupCompletion) []broadcast.Event {
	ev := broadcast.NewEvent(broadcast.EventTypeTransactionNew, tx.SessionID, tx.Seq, tx.ServerTimestamp)
	ev.Transaction = &tx
	var score *models.TeamScore
	if ts, ok := s.scores.Score(tx.TeamID); ok {
		score = &ts
		ev.TeamScore = score
	}
	events := []broadcast.Event{ev}

	if done != nil {
		grp := broadcast.NewEvent(broadcast.EventTypeGroupCompleted, tx.SessionID, tx.Seq, tx.ServerTimestamp)
		grp.Group = done
		grp.TeamScore = score
		events = append(events, grp)
	}
	return events
}
