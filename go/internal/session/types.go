package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/aln/go/internal/models"
)

// PausedPolicy decides what a paused session does with submissions.
type PausedPolicy string

const (
	PausedPolicyReject     PausedPolicy = "reject"
	PausedPolicyAcceptLate PausedPolicy = "accept_late"
)

// Valid reports whether p is a known policy.
func (p PausedPolicy) Valid() bool {
	return p == PausedPolicyReject || p == PausedPolicyAcceptLate
}

// Config tunes the manager.
type Config struct {
	PausedPolicy    PausedPolicy
	SubscriberQueue int
	// GroupBonus enables the group completion bonus layer.
	GroupBonus bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		PausedPolicy:    PausedPolicyReject,
		SubscriberQueue: 256,
		GroupBonus:      true,
	}
}

// CreateSessionRequest starts a new session.
type CreateSessionRequest struct {
	Name  string   `json:"name"`
	Teams []string `json:"teams"`
}

func (r CreateSessionRequest) validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSubmission)
	}
	if len(r.Teams) == 0 {
		return fmt.Errorf("%w: at least one team is required", ErrInvalidSubmission)
	}
	seen := make(map[string]bool, len(r.Teams))
	for _, team := range r.Teams {
		if strings.TrimSpace(team) == "" {
			return fmt.Errorf("%w: empty team id", ErrInvalidSubmission)
		}
		if seen[team] {
			return fmt.Errorf("%w: team %q listed twice", ErrInvalidSubmission, team)
		}
		seen[team] = true
	}
	return nil
}

// SubmitRequest is one scan as reported by a device.
type SubmitRequest struct {
	TokenID         string      `json:"tokenId"`
	TeamID          string      `json:"teamId"`
	DeviceID        string      `json:"deviceId"`
	Mode            models.Mode `json:"mode"`
	ClientTimestamp time.Time   `json:"clientTimestamp"`
}

func (r SubmitRequest) validate() error {
	switch {
	case strings.TrimSpace(r.TokenID) == "":
		return fmt.Errorf("%w: tokenId is required", ErrInvalidSubmission)
	case strings.TrimSpace(r.DeviceID) == "":
		return fmt.Errorf("%w: deviceId is required", ErrInvalidSubmission)
	case !r.Mode.Valid():
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidSubmission, r.Mode)
	case r.Mode.Scoring() && strings.TrimSpace(r.TeamID) == "":
		return fmt.Errorf("%w: teamId is required in %s mode", ErrInvalidSubmission, r.Mode)
	}
	return nil
}

// SubmitResult is what the submitting device is told.
type SubmitResult struct {
	TransactionID   *uuid.UUID               `json:"transactionId,omitempty"`
	Status          models.TransactionStatus `json:"status"`
	Points          int64                    `json:"points"`
	ServerTimestamp *time.Time               `json:"serverTimestamp,omitempty"`
	Reason          string                   `json:"reason,omitempty"`
	Transaction     *models.Transaction      `json:"transaction,omitempty"`
}

func committedResult(tx models.Transaction) SubmitResult {
	id, ts := tx.ID, tx.ServerTimestamp
	return SubmitResult{
		TransactionID:   &id,
		Status:          tx.Status,
		Points:          tx.Points,
		ServerTimestamp: &ts,
		Transaction:     &tx,
	}
}

func rejectedResult(err error) SubmitResult {
	return SubmitResult{
		Status: models.TransactionStatusRejected,
		Reason: RejectReason(err),
	}
}

// Snapshot is the full state of a session as of commit Seq.
type Snapshot struct {
	Session      models.Session       `json:"session"`
	Seq          uint64               `json:"seq"`
	Transactions []models.Transaction `json:"transactions"`
	TeamScores   []models.TeamScore   `json:"teamScores"`
}

// Verification compares incremental totals against a fold of the ledger.
type Verification struct {
	SessionID    uuid.UUID          `json:"sessionId"`
	Seq          uint64             `json:"seq"`
	Transactions int                `json:"transactions"`
	Consistent   bool               `json:"consistent"`
	Differences  []string           `json:"differences,omitempty"`
	TeamScores   []models.TeamScore `json:"teamScores"`
}
