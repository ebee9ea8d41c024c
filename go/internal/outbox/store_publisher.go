package outbox

import (
	"context"
	"fmt"

	"github.com/mcdev12/aln/go/internal/broadcast"
	"github.com/mcdev12/aln/go/internal/models"
)

// Journal is the part of the store the relay writes to.
type Journal interface {
	SaveSession(ctx context.Context, session models.Session, seq uint64) error
	SaveTransaction(ctx context.Context, tx models.Transaction) error
}

// StorePublisher journals session and transaction events. Derived events
// such as group completions are rebuilt on restore and not stored.
type StorePublisher struct {
	journal Journal
}

func NewStorePublisher(journal Journal) *StorePublisher {
	return &StorePublisher{journal: journal}
}

func (p *StorePublisher) Publish(ctx context.Context, ev broadcast.Event) error {
	switch ev.Type {
	case broadcast.EventTypeSessionUpdate:
		if ev.Session == nil {
			return fmt.Errorf("%s event %s without session", ev.Type, ev.ID)
		}
		return p.journal.SaveSession(ctx, *ev.Session, ev.Seq)
	case broadcast.EventTypeTransactionNew:
		if ev.Transaction == nil {
			return fmt.Errorf("%s event %s without transaction", ev.Type, ev.ID)
		}
		return p.journal.SaveTransaction(ctx, *ev.Transaction)
	default:
		return nil
	}
}
