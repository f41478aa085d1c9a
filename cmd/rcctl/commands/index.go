package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/your-org/rollcall/pkg/dto"
)

var buildCmd = &cobra.Command{
	Use:   "build <scope>",
	Short: "Rebuild the indexes of a scope from the identity store",
	Long: `Rebuild the face and voice indexes of a scope.

A scope is a class id or "staff". The tracker reloads the new index on
its next search.

Examples:
  rcctl build 7A`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), globalFlags.timeout)
		defer cancel()

		resp, err := newClient().Build(ctx, args[0])
		if err != nil {
			return fmt.Errorf("build failed: %w", err)
		}
		if globalFlags.json {
			return printJSON(resp)
		}
		if !resp.Built {
			printInfo("No embeddings for %s, index left unchanged", resp.Scope)
		}
		printIndexes(resp)
		return nil
	},
}

var indexCmd = &cobra.Command{
	Use:   "index <scope>",
	Short: "Show the persisted indexes of a scope",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), globalFlags.timeout)
		defer cancel()

		resp, err := newClient().Index(ctx, args[0])
		if err != nil {
			return err
		}
		if globalFlags.json {
			return printJSON(resp)
		}
		printIndexes(resp)
		return nil
	},
}

func printIndexes(resp *dto.BuildResponse) {
	for _, ix := range []struct {
		kind string
		info *dto.IndexInfo
	}{{"faces", resp.Faces}, {"voices", resp.Voices}} {
		if ix.info == nil {
			printInfo("%s/%s: none", resp.Scope, ix.kind)
			continue
		}
		printInfo("%s/%s: %d vectors, build %s at %s",
			resp.Scope, ix.kind, ix.info.Vectors, ix.info.BuildID, ix.info.BuiltAt)
	}
}

func init() {
	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(indexCmd)
}
