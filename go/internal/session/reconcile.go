package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/aln/go/internal/models"
)

// BatchEntry is one scan from a device's offline queue.
type BatchEntry struct {
	TokenID         string      `json:"tokenId"`
	TeamID          string      `json:"teamId"`
	Mode            models.Mode `json:"mode"`
	ClientTimestamp time.Time   `json:"clientTimestamp"`
}

// ReconcileRequest carries a device's offline queue in recording order.
type ReconcileRequest struct {
	DeviceID     string       `json:"deviceId"`
	Transactions []BatchEntry `json:"transactions"`
}

// ReconcileSummary counts the outcomes of a batch.
type ReconcileSummary struct {
	Accepted  int `json:"accepted"`
	Duplicate int `json:"duplicate"`
	Rejected  int `json:"rejected"`
}

// Summarize counts results by status.
func Summarize(results []SubmitResult) ReconcileSummary {
	var sum ReconcileSummary
	for _, r := range results {
		switch r.Status {
		case models.TransactionStatusAccepted:
			sum.Accepted++
		case models.TransactionStatusDuplicate:
			sum.Duplicate++
		default:
			sum.Rejected++
		}
	}
	return sum
}

// Reconcile replays an offline batch through the live submit path, one entry
// at a time and in batch order. Live submissions may commit between entries;
// each entry is deduplicated against the ledger as it stands when the entry
// commits. The i-th result belongs to the i-th entry.
//
// Per-entry rejections are reported in the results. The returned error is
// only set when the batch as a whole could not run; results then hold the
// entries processed so far.
func (m *Manager) Reconcile(ctx context.Context, id uuid.UUID, req ReconcileRequest) ([]SubmitResult, error) {
	if strings.TrimSpace(req.DeviceID) == "" {
		return nil, fmt.Errorf("%w: deviceId is required", ErrInvalidSubmission)
	}
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}

	results := make([]SubmitResult, 0, len(req.Transactions))
	for i, entry := range req.Transactions {
		if err := ctx.Err(); err != nil {
			log.Warn().
				Err(err).
				Str("session_id", id.String()).
				Str("device_id", req.DeviceID).
				Int("processed", i).
				Int("total", len(req.Transactions)).
				Msg("reconciliation interrupted")
			return results, err
		}
		res, _ := m.submit(s, SubmitRequest{
			TokenID:         entry.TokenID,
			TeamID:          entry.TeamID,
			DeviceID:        req.DeviceID,
			Mode:            entry.Mode,
			ClientTimestamp: entry.ClientTimestamp,
		}, models.TransactionSourceOffline)
		results = append(results, res)
	}

	sum := Summarize(results)
	log.Info().
		Str("session_id", id.String()).
		Str("device_id", req.DeviceID).
		Int("entries", len(req.Transactions)).
		Int("accepted", sum.Accepted).
		Int("duplicate", sum.Duplicate).
		Int("rejected", sum.Rejected).
		Msg("offline batch reconciled")
	return results, nil
}
