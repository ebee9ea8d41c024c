package ledger

import (
	"fmt"
	"slices"

	"github.com/mcdev12/aln/go/internal/models"
	"github.com/mcdev12/aln/go/internal/scoring"
)

// GroupCompletion is produced when a transaction completes a bonus group.
type GroupCompletion struct {
	TeamID  string `json:"teamId"`
	GroupID string `json:"groupId"`
	Bonus   int64  `json:"bonus"`
}

// Aggregator maintains per-team totals derived from the ledger.
type Aggregator struct {
	order  []string
	scores map[string]*models.TeamScore
	held   map[string]map[string]bool
	rules  *scoring.GroupRules
}

// NewAggregator creates zeroed totals for teams. rules may be nil to disable
// group completion bonuses.
func NewAggregator(teams []string, rules *scoring.GroupRules) *Aggregator {
	a := &Aggregator{
		scores: make(map[string]*models.TeamScore, len(teams)),
		held:   make(map[string]map[string]bool, len(teams)),
		rules:  rules,
	}
	for _, team := range teams {
		a.team(team)
	}
	return a
}

// Recompute folds txs from scratch.
func Recompute(teams []string, rules *scoring.GroupRules, txs []models.Transaction) *Aggregator {
	a := NewAggregator(teams, rules)
	for _, tx := range txs {
		a.ApplyDelta(tx)
	}
	return a
}

func (a *Aggregator) team(id string) *models.TeamScore {
	s, ok := a.scores[id]
	if !ok {
		s = &models.TeamScore{TeamID: id}
		a.scores[id] = s
		a.held[id] = make(map[string]bool)
		a.order = append(a.order, id)
	}
	return s
}

// ApplyDelta folds one committed transaction into the totals. Only accepted
// scoring transactions change anything. It returns the group the
// transaction completed, if any.
func (a *Aggregator) ApplyDelta(tx models.Transaction) *GroupCompletion {
	if !tx.Scored() {
		return nil
	}

	s := a.team(tx.TeamID)
	s.TotalPoints += tx.Points
	s.TransactionCount++
	held := a.held[tx.TeamID]
	held[tx.TokenID] = true

	var done *GroupCompletion
	if g, ok := a.rules.GroupOf(tx.TokenID); ok && !slices.Contains(s.CompletedGroups, g.ID) {
		if a.rules.Complete(g.ID, func(id string) bool { return held[id] }) {
			bonus := a.rules.Bonus(g.ID)
			s.BonusPoints += bonus
			s.CompletedGroups = append(s.CompletedGroups, g.ID)
			done = &GroupCompletion{TeamID: tx.TeamID, GroupID: g.ID, Bonus: bonus}
		}
	}
	s.Score = s.TotalPoints + s.BonusPoints
	return done
}

// Score returns a copy of one team's totals.
func (a *Aggregator) Score(teamID string) (models.TeamScore, bool) {
	s, ok := a.scores[teamID]
	if !ok {
		return models.TeamScore{}, false
	}
	return copyScore(s), true
}

// Scores returns copies of all team totals in registration order.
func (a *Aggregator) Scores() []models.TeamScore {
	out := make([]models.TeamScore, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, copyScore(a.scores[id]))
	}
	return out
}

// Diff describes every team whose totals differ between a and b. An empty
// result means the two agree.
func (a *Aggregator) Diff(b *Aggregator) []string {
	var diffs []string
	seen := make(map[string]bool)
	check := func(id string) {
		if seen[id] {
			return
		}
		seen[id] = true
		x, okA := a.Score(id)
		y, okB := b.Score(id)
		switch {
		case okA != okB:
			diffs = append(diffs, fmt.Sprintf("team %s present on one side only", id))
		case x.TotalPoints != y.TotalPoints:
			diffs = append(diffs, fmt.Sprintf("team %s total %d != %d", id, x.TotalPoints, y.TotalPoints))
		case x.TransactionCount != y.TransactionCount:
			diffs = append(diffs, fmt.Sprintf("team %s count %d != %d", id, x.TransactionCount, y.TransactionCount))
		case x.BonusPoints != y.BonusPoints:
			diffs = append(diffs, fmt.Sprintf("team %s bonus %d != %d", id, x.BonusPoints, y.BonusPoints))
		case !slices.Equal(x.CompletedGroups, y.CompletedGroups):
			diffs = append(diffs, fmt.Sprintf("team %s completed groups %v != %v", id, x.CompletedGroups, y.CompletedGroups))
		}
	}
	for _, id := range a.order {
		check(id)
	}
	for _, id := range b.order {
		check(id)
	}
	return diffs
}

func copyScore(s *models.TeamScore) models.TeamScore {
	c := *s
	c.CompletedGroups = slices.Clone(s.CompletedGroups)
	return c
}

// Equal reports whether a and b hold identical totals.
func (a *Aggregator) Equal(b *Aggregator) bool {
	return len(a.Diff(b)) == 0
}
