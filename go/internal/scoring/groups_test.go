package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/aln/go/internal/models"
)

func groupFixture() ([]models.Token, []models.Group) {
	tokens := []models.Token{
		{ID: "m1", Rating: 1, MemoryType: models.MemoryTypePersonal, GroupID: "marriage"},
		{ID: "m2", Rating: 2, MemoryType: models.MemoryTypeBusiness, GroupID: "marriage"},
		{ID: "s1", Rating: 1, MemoryType: models.MemoryTypePersonal, GroupID: "solo"},
		{ID: "b1", Rating: 7, MemoryType: models.MemoryTypePersonal, GroupID: "broken"},
	}
	groups := []models.Group{
		{ID: "marriage", Multiplier: 2, TokenIDs: []string{"m1", "m2"}},
		{ID: "solo", Multiplier: 1, TokenIDs: []string{"s1"}},
		{ID: "broken", Multiplier: 3, TokenIDs: []string{"b1"}},
	}
	return tokens, groups
}

func TestGroupRules_Bonus(t *testing.T) {
	rules := NewGroupRules(groupFixture())

	assert.Equal(t, 1, rules.Len(), "only multiplier > 1 groups with scorable tokens pay")
	// (2-1) * (10000 + 75000)
	assert.Equal(t, int64(85000), rules.Bonus("marriage"))
	assert.Zero(t, rules.Bonus("solo"))
	assert.Zero(t, rules.Bonus("broken"))
}

func TestGroupRules_Complete(t *testing.T) {
	rules := NewGroupRules(groupFixture())

	g, ok := rules.GroupOf("m2")
	require.True(t, ok)
	assert.Equal(t, "marriage", g.ID)

	_, ok = rules.GroupOf("s1")
	assert.False(t, ok)

	held := map[string]bool{"m1": true}
	has := func(id string) bool { return held[id] }
	assert.False(t, rules.Complete("marriage", has))

	held["m2"] = true
	assert.True(t, rules.Complete("marriage", has))
}

func TestGroupRules_NilIsDisabled(t *testing.T) {
	var rules *GroupRules
	_, ok := rules.GroupOf("m1")
	assert.False(t, ok)
	assert.Zero(t, rules.Bonus("marriage"))
	assert.False(t, rules.Complete("marriage", func(string) bool { return true }))
	assert.Zero(t, rules.Len())
}
