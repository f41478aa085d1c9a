package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var globalFlags struct {
	server  string
	apiKey  string
	natsURL string
	timeout time.Duration
	json    bool
}

var rootCmd = &cobra.Command{
	Use:           "rcctl",
	Short:         "Operate a rollcall tracker",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&globalFlags.server, "server", envOr("RC_SERVER", "http://localhost:8080"), "tracker API base URL")
	pf.StringVar(&globalFlags.apiKey, "api-key", os.Getenv("RC_API_KEY"), "tracker API key")
	pf.StringVar(&globalFlags.natsURL, "nats", envOr("RC_NATS_URL", "nats://localhost:4222"), "NATS URL for camera and events")
	pf.DurationVar(&globalFlags.timeout, "timeout", 10*time.Minute, "request timeout")
	pf.BoolVar(&globalFlags.json, "json", false, "print raw JSON")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newClient() *apiClient {
	return newAPIClient(globalFlags.server, globalFlags.apiKey, globalFlags.timeout)
}

// printJSON writes v indented to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printInfo(format string, args ...any) {
	fmt.Printf(format+"\n", args...)
}
