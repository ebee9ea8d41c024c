package models

// MemoryType classifies what a token's memory is about. It drives the
// black-market type multiplier.
type MemoryType string

const (
	MemoryTypePersonal  MemoryType = "Personal"
	MemoryTypeBusiness  MemoryType = "Business"
	MemoryTypeTechnical MemoryType = "Technical"
)

// Valid reports whether m is one of the known memory types.
func (m MemoryType) Valid() bool {
	switch m {
	case MemoryTypePersonal, MemoryTypeBusiness, MemoryTypeTechnical:
		return true
	}
	return false
}

// Token is the scoring metadata of a scannable item. Tokens are loaded once
// per session and never mutated afterwards.
type Token struct {
	ID               string     `json:"id"`
	MemoryType       MemoryType `json:"memoryType"`
	Rating           int        `json:"rating"`
	GroupID          string     `json:"groupId,omitempty"`
	GroupMultiplier  float64    `json:"groupMultiplier"`
	PrecomputedValue *int64     `json:"value,omitempty"`
}

// Multiplier returns the per-token group multiplier, defaulting to 1.
func (t Token) Multiplier() float64 {
	if t.GroupMultiplier <= 0 {
		return 1
	}
	return t.GroupMultiplier
}

// Group is a named set of tokens that pays a completion bonus when a single
// team collects all of them.
type Group struct {
	ID         string   `json:"id"`
	Multiplier int      `json:"multiplier"`
	TokenIDs   []string `json:"tokenIds"`
}
