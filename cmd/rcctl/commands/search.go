package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var searchFlags struct {
	topK      int
	threshold float64
}

var searchCmd = &cobra.Command{
	Use:   "search <scope> <file>",
	Short: "Identify a face image or voice clip",
	Long: `Identify the face in an image, or the speaker in an audio clip, against
the index of a scope. Audio is recognised by file extension.

Examples:
  rcctl search 7A photo.jpg
  rcctl search staff clip.m4a --top-k 3 --threshold 0.6`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), globalFlags.timeout)
		defer cancel()

		var threshold *float64
		if cmd.Flags().Changed("threshold") {
			threshold = &searchFlags.threshold
		}

		resp, err := newClient().Search(ctx, args[0], args[1], searchFlags.topK, threshold)
		if err != nil {
			return fmt.Errorf("search failed: %w", err)
		}
		if globalFlags.json {
			return printJSON(resp)
		}
		if len(resp.Matches) == 0 {
			printInfo("No %s match in %s above %.2f", resp.Kind, resp.Scope, resp.Threshold)
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "EXTERNAL_ID\tNAME\tTYPE\tSIMILARITY")
		for _, m := range resp.Matches {
			fmt.Fprintf(w, "%d\t%s\t%s\t%.4f\n", m.ExternalID, m.DisplayName, m.IdentityType, m.Similarity)
		}
		return w.Flush()
	},
}

func init() {
	searchCmd.Flags().IntVar(&searchFlags.topK, "top-k", 0, "maximum matches (server default when 0)")
	searchCmd.Flags().Float64Var(&searchFlags.threshold, "threshold", 0, "minimum similarity (server default when unset)")
	rootCmd.AddCommand(searchCmd)
}
