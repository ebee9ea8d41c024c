package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/mcdev12/aln/go/internal/broadcast"
	"github.com/mcdev12/aln/go/internal/session"
)

type verifyOptions struct {
	JSON bool
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &verifyOptions{}
	cmd := &cobra.Command{
		Use:   "verify [session-id...]",
		Short: "Check persisted team totals against their ledgers",
		Long: `Restore sessions from the store, rebuild every team total from the
ledger and compare it with the incremental totals. Exits non-zero when any
session is inconsistent.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd.Context(), rootOpts, opts, args, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print results as JSON")
	return cmd
}

func runVerify(ctx context.Context, rootOpts *RootOptions, opts *verifyOptions, args []string, out io.Writer) error {
	cfg := rootOpts.Config

	st, err := setupStore(ctx, cfg)
	if err != nil {
		return err
	}
	if st == nil {
		return fmt.Errorf("verify needs a store; store.driver is none")
	}
	defer st.Close()

	cat, err := setupCatalog(ctx, cfg, "")
	if err != nil {
		return err
	}
	manager := session.NewManager(cat, broadcast.NewHub(), clockwork.NewRealClock(), sessionConfig(cfg))
	if err := restoreSessions(ctx, st, manager); err != nil {
		return err
	}

	ids, err := verifyTargets(manager, args)
	if err != nil {
		return err
	}

	results := make([]session.Verification, 0, len(ids))
	inconsistent := 0
	for _, id := range ids {
		v, err := manager.Verify(id)
		if err != nil {
			return err
		}
		if !v.Consistent {
			inconsistent++
		}
		results = append(results, v)
	}

	if opts.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			return err
		}
	} else {
		for _, v := range results {
			state := "ok"
			if !v.Consistent {
				state = "INCONSISTENT"
			}
			fmt.Fprintf(out, "%s  seq=%d  transactions=%d  %s\n", v.SessionID, v.Seq, v.Transactions, state)
			for _, d := range v.Differences {
				fmt.Fprintf(out, "    %s\n", d)
			}
		}
	}

	if inconsistent > 0 {
		return fmt.Errorf("%d of %d sessions inconsistent", inconsistent, len(results))
	}
	return nil
}

func verifyTargets(manager *session.Manager, args []string) ([]uuid.UUID, error) {
	if len(args) == 0 {
		sessions := manager.List()
		ids := make([]uuid.UUID, 0, len(sessions))
		for _, s := range sessions {
			ids = append(ids, s.ID)
		}
		return ids, nil
	}
	ids := make([]uuid.UUID, 0, len(args))
	for _, arg := range args {
		id, err := uuid.Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid session id %q: %w", arg, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
