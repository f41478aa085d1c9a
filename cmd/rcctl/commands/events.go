package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"

	"github.com/your-org/rollcall/internal/models"
	"github.com/your-org/rollcall/internal/queue"
)

var eventsCamera string

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Follow live match events until interrupted",
	Long: `Follow match events as the tracker emits them.

Examples:
  rcctl events
  rcctl events --camera gate --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		consumer, err := queue.NewConsumer(globalFlags.natsURL)
		if err != nil {
			return err
		}
		defer consumer.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		name := "rcctl-" + uuid.NewString()[:8]
		err = consumer.ConsumeEvents(ctx, name, eventsCamera, func(_ context.Context, msg jetstream.Msg) error {
			var ev models.MatchEvent
			if err := json.Unmarshal(msg.Data(), &ev); err != nil {
				fmt.Fprintf(os.Stderr, "skipping malformed event: %v\n", err)
				return nil
			}
			if globalFlags.json {
				return printJSON(ev)
			}
			fmt.Println(formatEvent(&ev))
			return nil
		})
		if err != nil {
			return err
		}

		<-ctx.Done()
		return nil
	},
}

func formatEvent(ev *models.MatchEvent) string {
	who := ev.Subject()
	if ev.DisplayName != "" {
		who = fmt.Sprintf("%s (%s)", ev.DisplayName, who)
	}
	return fmt.Sprintf("%s  %-8s %-6s track %-4s %s  %.3f",
		ev.Timestamp.Local().Format(time.TimeOnly), ev.CameraID, ev.ClassID, ev.TrackID, who, ev.Similarity)
}

func init() {
	eventsCmd.Flags().StringVar(&eventsCamera, "camera", "", "only events of this camera")
	rootCmd.AddCommand(eventsCmd)
}
