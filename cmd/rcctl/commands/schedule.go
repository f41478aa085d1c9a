package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Show today's periods and the active class",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), globalFlags.timeout)
		defer cancel()

		resp, err := newClient().Schedule(ctx)
		if err != nil {
			return err
		}
		if globalFlags.json {
			return printJSON(resp)
		}

		if resp.Enabled {
			printInfo("Recognition enabled for %s", resp.ActiveClass)
		} else {
			printInfo("Recognition disabled")
		}
		if resp.Day == "" {
			printInfo("No schedule loaded yet")
			return nil
		}

		printInfo("Periods on %s:", resp.Day)
		for _, p := range resp.Periods {
			marker := " "
			if resp.Current != nil && *resp.Current == p {
				marker = "*"
			}
			fmt.Printf(" %s %-10s %s - %s\n", marker, p.ClassID, p.Start, p.End)
		}
		if resp.Next != nil {
			printInfo("Next: %s at %s", resp.Next.ClassID, resp.Next.Start)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
}
