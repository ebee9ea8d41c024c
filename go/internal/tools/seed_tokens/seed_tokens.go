package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcdev12/aln/go/internal/catalog"
	"github.com/mcdev12/aln/go/internal/dbconfig"
	"github.com/mcdev12/aln/go/internal/store"
)

func main() {
	path := "tokens.json"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	ctx := context.Background()

	// 1) Load and normalise the catalog file
	cat, err := catalog.LoadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load catalog: %v\n", err)
		os.Exit(1)
	}
	for _, issue := range cat.Issues() {
		fmt.Fprintf(os.Stderr, "warning: %s: %s\n", issue.TokenID, issue.Problem)
	}

	// 2) Make sure the schema exists, then connect with pgx
	cfg := dbconfig.NewConfigFromEnv()
	st, err := store.OpenPostgres(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "apply schema: %v\n", err)
		os.Exit(1)
	}
	st.Close()

	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 3) Upsert groups first so token rows can reference them
	var (
		total    = cat.Len()
		upserted int
		errs     int
	)

	for _, g := range cat.Groups() {
		if _, err := pool.Exec(ctx, `
            INSERT INTO token_groups (id, multiplier) VALUES ($1, $2)
            ON CONFLICT (id) DO UPDATE SET multiplier = EXCLUDED.multiplier
        `, g.ID, g.Multiplier); err != nil {
			fmt.Fprintf(os.Stderr, "error upserting group %s: %v\n", g.ID, err)
			errs++
		}
	}

	for _, t := range cat.Tokens() {
		var groupID *string
		if t.GroupID != "" {
			groupID = &t.GroupID
		}
		_, err := pool.Exec(ctx, `
            INSERT INTO tokens (
              id, memory_type, rating, group_id, group_multiplier, precomputed_value
            ) VALUES (
              $1,$2,$3,$4,$5,$6
            )
            ON CONFLICT (id) DO UPDATE SET
              memory_type = EXCLUDED.memory_type,
              rating = EXCLUDED.rating,
              group_id = EXCLUDED.group_id,
              group_multiplier = EXCLUDED.group_multiplier,
              precomputed_value = EXCLUDED.precomputed_value
        `,
			t.ID, string(t.MemoryType), t.Rating, groupID, t.GroupMultiplier, t.PrecomputedValue,
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error upserting token %s: %v\n", t.ID, err)
			errs++
			continue
		}
		upserted++
	}

	// 4) Print summary
	fmt.Printf(
		"Tokens seed complete: %d total, %d upserted, %d groups, %d errors\n",
		total, upserted, len(cat.Groups()), errs,
	)
	if errs > 0 {
		os.Exit(1)
	}
}
