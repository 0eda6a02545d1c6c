// Command depotchat is a terminal chat client for the depot, distillery and
// user assistants.
package main

import (
	"fmt"
	"os"

	"depot-chat/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := newRootCmd(&cfg).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
