package scoring

import (
	"github.com/mcdev12/aln/go/internal/models"
)

// GroupRules is the completion-bonus layer on top of per-token scoring.
// A team holding every token of a group with multiplier N > 1 earns
// (N-1) times the summed points of the group's tokens.
//
// A nil *GroupRules disables bonuses.
type GroupRules struct {
	groups     map[string]models.Group
	tokenGroup map[string]string
	bonus      map[string]int64
}

// NewGroupRules builds rules for the given groups. Groups with multiplier <= 1
// pay nothing and are ignored, as are groups containing a token that cannot be
// scored.
func NewGroupRules(tokens []models.Token, groups []models.Group) *GroupRules {
	byID := make(map[string]models.Token, len(tokens))
	for _, t := range tokens {
		byID[t.ID] = t
	}

	r := &GroupRules{
		groups:     make(map[string]models.Group),
		tokenGroup: make(map[string]string),
		bonus:      make(map[string]int64),
	}

	for _, g := range groups {
		if g.Multiplier <= 1 || len(g.TokenIDs) == 0 {
			continue
		}
		var sum int64
		valid := true
		for _, id := range g.TokenIDs {
			tok, ok := byID[id]
			if !ok {
				valid = false
				break
			}
			pts, err := ComputePoints(tok, models.ModeBlackMarket)
			if err != nil {
				valid = false
				break
			}
			sum += pts
		}
		if !valid {
			continue
		}
		r.groups[g.ID] = g
		r.bonus[g.ID] = int64(g.Multiplier-1) * sum
		for _, id := range g.TokenIDs {
			r.tokenGroup[id] = g.ID
		}
	}
	return r
}

// GroupOf returns the bonus-paying group tokenID belongs to.
func (r *GroupRules) GroupOf(tokenID string) (models.Group, bool) {
	if r == nil {
		return models.Group{}, false
	}
	id, ok := r.tokenGroup[tokenID]
	if !ok {
		return models.Group{}, false
	}
	return r.groups[id], true
}

// Bonus returns the completion bonus of a group.
func (r *GroupRules) Bonus(groupID string) int64 {
	if r == nil {
		return 0
	}
	return r.bonus[groupID]
}

// Complete reports whether held contains every token of the group.
func (r *GroupRules) Complete(groupID string, held func(tokenID string) bool) bool {
	if r == nil {
		return false
	}
	g, ok := r.groups[groupID]
	if !ok {
		return false
	}
	for _, id := range g.TokenIDs {
		if !held(id) {
			return false
		}
	}
	return true
}

// Len returns the number of bonus-paying groups.
func (r *GroupRules) Len() int {
	if r == nil {
		return 0
	}
	return len(r.groups)
}
