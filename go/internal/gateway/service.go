package gateway

import (
	"context"

	"github.com/google/uuid"

	"github.com/mcdev12/aln/go/internal/broadcast"
	"github.com/mcdev12/aln/go/internal/models"
	"github.com/mcdev12/aln/go/internal/session"
)

// SessionService is the part of the session manager the gateway drives.
// *session.Manager implements it.
type SessionService interface {
	Create(ctx context.Context, req session.CreateSessionRequest) (models.Session, error)
	Get(id uuid.UUID) (models.Session, error)
	List() []models.Session
	Pause(ctx context.Context, id uuid.UUID) (models.Session, error)
	Resume(ctx context.Context, id uuid.UUID) (models.Session, error)
	End(ctx context.Context, id uuid.UUID) (session.Snapshot, error)
	Snapshot(id uuid.UUID) (session.Snapshot, error)
	Subscribe(id uuid.UUID) (session.Snapshot, *broadcast.Subscriber, error)
	Submit(ctx context.Context, id uuid.UUID, req session.SubmitRequest) (session.SubmitResult, error)
	Reconcile(ctx context.Context, id uuid.UUID, req session.ReconcileRequest) ([]session.SubmitResult, error)
	Verify(id uuid.UUID) (session.Verification, error)
}

var _ SessionService = (*session.Manager)(nil)
