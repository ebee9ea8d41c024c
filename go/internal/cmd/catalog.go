package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// NewCatalogCommand creates the catalog command group.
func NewCatalogCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the token catalog",
	}
	cmd.AddCommand(newCatalogValidateCommand(rootOpts))
	return cmd
}

func newCatalogValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "validate [path]",
		Short: "Load a catalog and report tokens that cannot be scored",
		Long: `Load the catalog (the given file, or the configured source) and list
entries whose rating or memory type cannot be scored, or whose precomputed
value disagrees with the scoring formula. Exits non-zero on any issue.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			cat, err := setupCatalog(cmd.Context(), rootOpts.Config, path)
			if err != nil {
				return err
			}

			issues := cat.Issues()
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(map[string]any{
					"tokens": cat.Len(),
					"groups": cat.Groups(),
					"issues": issues,
				}); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(out, "%d tokens, %d groups\n", cat.Len(), len(cat.Groups()))
				for _, g := range cat.Groups() {
					fmt.Fprintf(out, "  group %s x%d: %d tokens\n", g.ID, g.Multiplier, len(g.TokenIDs))
				}
				for _, issue := range issues {
					fmt.Fprintf(out, "  %s: %s\n", issue.TokenID, issue.Problem)
				}
			}

			if len(issues) > 0 {
				return fmt.Errorf("%d catalog issues", len(issues))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}
