// Command wisdm-sync follows Wisdm comment threads and notifications from
// the terminal over the real-time connection.
package main

import (
	"fmt"
	"os"
)

// Version is overwritten at build time using -ldflags.
var Version = "dev"

func main() {
	if err := newRootCmd(Version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
