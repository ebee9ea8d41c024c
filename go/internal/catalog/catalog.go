// Package catalog holds the read-only token catalog a session scores against.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"

	"github.com/mcdev12/aln/go/internal/models"
	"github.com/mcdev12/aln/go/internal/scoring"
)

// ErrEmptyTokenID is returned when a catalog entry has no id.
var ErrEmptyTokenID = errors.New("token id is empty")

// Catalog maps normalized token ids to their scoring metadata. It is
// immutable once built and safe for concurrent reads.
type Catalog struct {
	tokens map[string]models.Token
	groups []models.Group
}

// NormalizeID trims and case-folds a token id so scanner input matches the
// catalog regardless of how the tag was written.
func NormalizeID(id string) string {
	return cases.Fold().String(strings.TrimSpace(id))
}

// New builds a catalog. groupMultipliers gives the completion multiplier of
// each group id; groups without an entry default to 1.
func New(tokens []models.Token, groupMultipliers map[string]int) (*Catalog, error) {
	c := &Catalog{tokens: make(map[string]models.Token, len(tokens))}

	members := make(map[string][]string)
	for _, tok := range tokens {
		id := NormalizeID(tok.ID)
		if id == "" {
			return nil, ErrEmptyTokenID
		}
		if _, exists := c.tokens[id]; exists {
			return nil, fmt.Errorf("duplicate token id %q", id)
		}
		tok.ID = id
		if tok.GroupMultiplier == 0 {
			tok.GroupMultiplier = 1
		}
		c.tokens[id] = tok
		if tok.GroupID != "" {
			members[tok.GroupID] = append(members[tok.GroupID], id)
		}
	}

	for groupID, ids := range members {
		sort.Strings(ids)
		mul := groupMultipliers[groupID]
		if mul == 0 {
			mul = 1
		}
		c.groups = append(c.groups, models.Group{ID: groupID, Multiplier: mul, TokenIDs: ids})
	}
	sort.Slice(c.groups, func(i, j int) bool { return c.groups[i].ID < c.groups[j].ID })

	return c, nil
}

// Lookup resolves a token id.
func (c *Catalog) Lookup(id string) (models.Token, bool) {
	tok, ok := c.tokens[NormalizeID(id)]
	return tok, ok
}

// Len returns the number of tokens.
func (c *Catalog) Len() int {
	return len(c.tokens)
}

// Tokens returns all tokens ordered by id.
func (c *Catalog) Tokens() []models.Token {
	out := make([]models.Token, 0, len(c.tokens))
	for _, t := range c.tokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Groups returns the token groups ordered by id.
func (c *Catalog) Groups() []models.Group {
	out := make([]models.Group, len(c.groups))
	copy(out, c.groups)
	return out
}

// GroupRules builds the completion-bonus rules for this catalog.
func (c *Catalog) GroupRules() *scoring.GroupRules {
	return scoring.NewGroupRules(c.Tokens(), c.groups)
}

// Issue is a data-integrity problem found in a catalog entry.
type Issue struct {
	TokenID string `json:"tokenId"`
	Problem string `json:"problem"`
}

// Issues reports entries that cannot be scored and entries whose
// precomputed value disagrees with the scoring formula.
func (c *Catalog) Issues() []Issue {
	var issues []Issue
	for _, tok := range c.Tokens() {
		pts, err := scoring.ComputePoints(tok, models.ModeBlackMarket)
		if err != nil {
			issues = append(issues, Issue{TokenID: tok.ID, Problem: err.Error()})
			continue
		}
		if want, diverged := scoring.Divergence(tok, pts); diverged {
			issues = append(issues, Issue{
				TokenID: tok.ID,
				Problem: fmt.Sprintf("precomputed value %d differs from computed %d", want, pts),
			})
		}
	}
	return issues
}
