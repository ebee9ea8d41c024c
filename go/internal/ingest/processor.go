// Package ingest feeds scans published on NATS into the session manager.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/aln/go/internal/models"
	"github.com/mcdev12/aln/go/internal/session"
)

// Submitter is the ingestion side of the session manager.
type Submitter interface {
	Submit(ctx context.Context, id uuid.UUID, req session.SubmitRequest) (session.SubmitResult, error)
	Reconcile(ctx context.Context, id uuid.UUID, req session.ReconcileRequest) ([]session.SubmitResult, error)
}

// SubmitMessage is the body of a <subject>.submit message.
type SubmitMessage struct {
	SessionID uuid.UUID `json:"sessionId"`
	session.SubmitRequest
}

// BatchMessage is the body of a <subject>.batch message.
type BatchMessage struct {
	SessionID uuid.UUID `json:"sessionId"`
	session.ReconcileRequest
}

// Outcome tells the consumer how to settle a message.
type Outcome int

const (
	// OutcomeAck means the message was processed, whatever the verdict on
	// the scans it carried.
	OutcomeAck Outcome = iota
	// OutcomeTerm means redelivery cannot help.
	OutcomeTerm
	// OutcomeNak asks for redelivery.
	OutcomeNak
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAck:
		return "ack"
	case OutcomeTerm:
		return "term"
	default:
		return "nak"
	}
}

// Processor decodes ingest messages and runs them. Redelivered black-market
// scans come back as duplicates, so at-least-once delivery is safe.
type Processor struct {
	submitter Submitter
	subject   string
}

func NewProcessor(submitter Submitter, subject string) *Processor {
	return &Processor{submitter: submitter, subject: subject}
}

// Handle processes one message received on subject.
func (p *Processor) Handle(ctx context.Context, subject string, data []byte) Outcome {
	switch strings.TrimPrefix(subject, p.subject+".") {
	case "submit":
		var msg SubmitMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Str("subject", subject).Msg("malformed submit message")
			return OutcomeTerm
		}
		res, err := p.submitter.Submit(ctx, msg.SessionID, msg.SubmitRequest)
		return p.settle(subject, msg.SessionID, err, 1, res.Status == models.TransactionStatusRejected)

	case "batch":
		var msg BatchMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Str("subject", subject).Msg("malformed batch message")
			return OutcomeTerm
		}
		results, err := p.submitter.Reconcile(ctx, msg.SessionID, msg.ReconcileRequest)
		sum := session.Summarize(results)
		return p.settle(subject, msg.SessionID, err, len(results), sum.Rejected > 0)

	default:
		log.Warn().Str("subject", subject).Msg("ignoring message on unknown ingest subject")
		return OutcomeTerm
	}
}

func (p *Processor) settle(subject string, sessionID uuid.UUID, err error, entries int, rejected bool) Outcome {
	var outcome Outcome
	switch {
	case err == nil:
		outcome = OutcomeAck
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = OutcomeNak
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrInvalidSubmission):
		outcome = OutcomeTerm
	default:
		// Per-scan rejections are final verdicts.
		outcome = OutcomeAck
	}

	log.Debug().
		Err(err).
		Str("subject", subject).
		Str("session_id", sessionID.String()).
		Int("entries", entries).
		Bool("rejected", rejected).
		Stringer("outcome", outcome).
		Msg("ingest message processed")
	return outcome
}
