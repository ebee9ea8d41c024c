package models

import (
	"time"

	"github.com/google/uuid"
)

// Mode is the scanner mode a transaction was recorded in.
type Mode string

const (
	ModeDetective   Mode = "detective"
	ModeBlackMarket Mode = "blackmarket"
	ModePlayer      Mode = "player"
)

// Valid reports whether m is a known scanner mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeDetective, ModeBlackMarket, ModePlayer:
		return true
	}
	return false
}

// Scoring reports whether transactions in this mode earn points and are
// subject to deduplication.
func (m Mode) Scoring() bool {
	return m == ModeBlackMarket
}

// TransactionStatus is the outcome of a submission.
type TransactionStatus string

const (
	TransactionStatusAccepted  TransactionStatus = "accepted"
	TransactionStatusDuplicate TransactionStatus = "duplicate"
	TransactionStatusRejected  TransactionStatus = "rejected"
)

// TransactionSource records which ingestion path produced a transaction.
type TransactionSource string

const (
	TransactionSourceLive    TransactionSource = "live"
	TransactionSourceOffline TransactionSource = "offline"
)

// DuplicateRef points a duplicate transaction at the one that claimed the token.
type DuplicateRef struct {
	TransactionID   uuid.UUID `json:"transactionId"`
	TeamID          string    `json:"teamId"`
	ServerTimestamp time.Time `json:"serverTimestamp"`
}

// Transaction is one scan as recorded by the ledger. Committed transactions
// are immutable.
type Transaction struct {
	ID              uuid.UUID         `json:"id"`
	SessionID       uuid.UUID         `json:"sessionId"`
	Seq             uint64            `json:"seq"`
	TokenID         string            `json:"tokenId"`
	TeamID          string            `json:"teamId"`
	DeviceID        string            `json:"deviceId"`
	Mode            Mode              `json:"mode"`
	Source          TransactionSource `json:"source"`
	ClientTimestamp time.Time         `json:"clientTimestamp"`
	ServerTimestamp time.Time         `json:"serverTimestamp"`
	Status          TransactionStatus `json:"status"`
	Points          int64             `json:"points"`
	Late            bool              `json:"late,omitempty"`
	DuplicateOf     *DuplicateRef     `json:"duplicateOf,omitempty"`
}

// Scored reports whether the transaction contributes to its team's total.
func (t *Transaction) Scored() bool {
	return t.Status == TransactionStatusAccepted && t.Mode.Scoring()
}
