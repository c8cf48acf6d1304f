// Command voicectl drives a running voice-proxy daemon over HTTP.
//
// Usage:
//
//	voicectl [--server URL] <command> [args]
package main

import (
	"fmt"
	"os"

	"github.com/loqalabs/voice-proxy/cmd/voicectl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
