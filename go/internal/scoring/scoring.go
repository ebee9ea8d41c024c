// Package scoring computes black-market points for tokens.
//
// Everything here is pure: the same token and mode always produce the same
// points, and nothing in the package performs I/O.
package scoring

import (
	"fmt"
	"math"

	"github.com/mcdev12/aln/go/internal/models"
)

var baseValues = map[int]int64{
	1: 10000,
	2: 25000,
	3: 50000,
	4: 75000,
	5: 150000,
}

var typeMultipliers = map[models.MemoryType]int64{
	models.MemoryTypePersonal:  1,
	models.MemoryTypeBusiness:  3,
	models.MemoryTypeTechnical: 5,
}

// InvalidTokenError reports a catalog entry that cannot be scored.
type InvalidTokenError struct {
	TokenID string
	Reason  string
}

func (e *InvalidTokenError) Error() string {
	return fmt.Sprintf("invalid token %q: %s", e.TokenID, e.Reason)
}

// BaseValue returns the base value for a star rating.
func BaseValue(rating int) (int64, bool) {
	v, ok := baseValues[rating]
	return v, ok
}

// TypeMultiplier returns the multiplier for a memory type.
func TypeMultiplier(memoryType models.MemoryType) (int64, bool) {
	v, ok := typeMultipliers[memoryType]
	return v, ok
}

// ComputePoints returns the points a scan of token in mode is worth.
// Non-scoring modes are always worth 0.
func ComputePoints(token models.Token, mode models.Mode) (int64, error) {
	if !mode.Scoring() {
		return 0, nil
	}

	base, ok := BaseValue(token.Rating)
	if !ok {
		return 0, &InvalidTokenError{TokenID: token.ID, Reason: fmt.Sprintf("rating %d outside 1..5", token.Rating)}
	}
	typeMul, ok := TypeMultiplier(token.MemoryType)
	if !ok {
		return 0, &InvalidTokenError{TokenID: token.ID, Reason: fmt.Sprintf("unrecognized memory type %q", token.MemoryType)}
	}

	points := float64(base*typeMul) * token.Multiplier()
	return int64(math.Round(points)), nil
}

// Divergence compares computed points with the catalog's precomputed value.
// It returns the precomputed value and whether the two disagree. Tokens
// without a precomputed value never diverge.
func Divergence(token models.Token, computed int64) (int64, bool) {
	if token.PrecomputedValue == nil {
		return 0, false
	}
	return *token.PrecomputedValue, *token.PrecomputedValue != computed
}
