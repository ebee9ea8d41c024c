package session

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mcdev12/aln/go/internal/models"
	"github.com/mcdev12/aln/go/internal/scoring"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrUnknownTeam       = errors.New("team not registered in session")
	ErrInvalidSubmission = errors.New("invalid submission")
	ErrInvalidTransition = errors.New("invalid session status transition")
	ErrSessionNotActive  = errors.New("session not active")
)

// SessionNotActiveError is returned when a submission reaches a session that
// cannot take it.
type SessionNotActiveError struct {
	SessionID uuid.UUID
	Status    models.SessionStatus
}

func (e *SessionNotActiveError) Error() string {
	return fmt.Sprintf("session %s is %s", e.SessionID, e.Status)
}

func (e *SessionNotActiveError) Unwrap() error {
	return ErrSessionNotActive
}

// UnknownTokenError is returned when the catalog has no entry for a token.
type UnknownTokenError struct {
	TokenID string
}

func (e *UnknownTokenError) Error() string {
	return fmt.Sprintf("unknown token %q", e.TokenID)
}

// Reject reasons reported to the submitting device.
const (
	ReasonUnknownToken      = "unknown_token"
	ReasonSessionNotActive  = "session_not_active"
	ReasonSessionPaused     = "session_paused"
	ReasonInvalidToken      = "invalid_token"
	ReasonUnknownTeam       = "unknown_team"
	ReasonInvalidSubmission = "invalid_submission"
	ReasonSessionNotFound   = "session_not_found"
	ReasonInternal          = "internal_error"
)

// RejectReason maps a submit error to the reason string sent to devices.
func RejectReason(err error) string {
	var (
		unknown   *UnknownTokenError
		invalid   *scoring.InvalidTokenError
		notActive *SessionNotActiveError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &unknown):
		return ReasonUnknownToken
	case errors.As(err, &invalid):
		return ReasonInvalidToken
	case errors.As(err, &notActive):
		if notActive.Status == models.SessionStatusPaused {
			return ReasonSessionPaused
		}
		return ReasonSessionNotActive
	case errors.Is(err, ErrSessionNotActive):
		return ReasonSessionNotActive
	case errors.Is(err, ErrUnknownTeam):
		return ReasonUnknownTeam
	case errors.Is(err, ErrInvalidSubmission):
		return ReasonInvalidSubmission
	case errors.Is(err, ErrSessionNotFound):
		return ReasonSessionNotFound
	default:
		return ReasonInternal
	}
}
