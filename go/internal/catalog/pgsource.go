package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcdev12/aln/go/internal/models"
)

// LoadPostgres reads the catalog from the tokens and token_groups tables
// written by the seed_tokens tool.
func LoadPostgres(ctx context.Context, pool *pgxpool.Pool) (*Catalog, error) {
	rows, err := pool.Query(ctx, `
		SELECT id, memory_type, rating, group_id, group_multiplier, precomputed_value
		FROM tokens`)
	if err != nil {
		return nil, fmt.Errorf("query tokens: %w", err)
	}
	defer rows.Close()

	var tokens []models.Token
	for rows.Next() {
		var (
			tok     models.Token
			memType string
			groupID *string
		)
		if err := rows.Scan(&tok.ID, &memType, &tok.Rating, &groupID, &tok.GroupMultiplier, &tok.PrecomputedValue); err != nil {
			return nil, fmt.Errorf("scan token: %w", err)
		}
		tok.MemoryType = models.MemoryType(memType)
		if groupID != nil {
			tok.GroupID = *groupID
		}
		tokens = append(tokens, tok)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tokens: %w", err)
	}

	groupRows, err := pool.Query(ctx, `SELECT id, multiplier FROM token_groups`)
	if err != nil {
		return nil, fmt.Errorf("query token groups: %w", err)
	}
	defer groupRows.Close()

	muls := make(map[string]int)
	for groupRows.Next() {
		var (
			id  string
			mul int
		)
		if err := groupRows.Scan(&id, &mul); err != nil {
			return nil, fmt.Errorf("scan token group: %w", err)
		}
		muls[id] = mul
	}
	if err := groupRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate token groups: %w", err)
	}

	return New(tokens, muls)
}
