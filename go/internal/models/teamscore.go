package models

// TeamScore is derived per-team state. It is always reconstructable by
// folding the ledger.
type TeamScore struct {
	TeamID           string   `json:"teamId"`
	TotalPoints      int64    `json:"totalPoints"`
	TransactionCount int      `json:"transactionCount"`
	BonusPoints      int64    `json:"bonusPoints"`
	CompletedGroups  []string `json:"completedGroups,omitempty"`
	Score            int64    `json:"score"`
}
