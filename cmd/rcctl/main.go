// Command rcctl is the operator CLI of the rollcall tracker.
//
// Usage:
//
//	rcctl [flags] <command> [args]
//
// Commands:
//
//	sync      - Run a roster sync on the tracker
//	build     - Rebuild the indexes of a scope
//	index     - Show the persisted indexes of a scope
//	search    - Identify a face image or voice clip against a scope
//	schedule  - Show today's periods and the active class
//	identity  - Show a synced identity and its reference media
//	camera    - Start or stop ingestion of a camera
//	events    - Follow live match events
package main

import (
	"fmt"
	"os"

	"github.com/your-org/rollcall/cmd/rcctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
