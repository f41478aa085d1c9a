package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/your-org/rollcall/internal/queue"
)

var cameraCmd = &cobra.Command{
	Use:   "camera",
	Short: "Start or stop ingestion of a configured camera",
}

func cameraAction(action string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <camera-id>",
		Short: fmt.Sprintf("Ask the ingestor to %s a camera", action),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			producer, err := queue.NewProducer(globalFlags.natsURL)
			if err != nil {
				return err
			}
			defer producer.Close()

			c := queue.CameraCommand{Action: action, CameraID: args[0]}
			if err := producer.PublishControl(c); err != nil {
				return fmt.Errorf("publish command: %w", err)
			}
			if err := producer.Conn().Flush(); err != nil {
				return fmt.Errorf("flush: %w", err)
			}
			printInfo("Sent %s to camera %s", action, args[0])
			return nil
		},
	}
}

func init() {
	cameraCmd.AddCommand(cameraAction("start"))
	cameraCmd.AddCommand(cameraAction("stop"))
	rootCmd.AddCommand(cameraCmd)
}
