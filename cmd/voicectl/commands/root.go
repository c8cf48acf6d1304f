package commands

import (
	"os"
	"time"

	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:3000"

type options struct {
	server  string
	timeout time.Duration
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   "voicectl",
		Short: "Control a running voice-proxy daemon",
		Long: `voicectl - command line control for the voice-proxy daemon.

The server address defaults to $VOICE_PROXY_URL, then http://localhost:3000.

Examples:
  voicectl status
  voicectl text "so um I think we should like ship it" --play
  voicectl audio recording.wav
  voicectl realtime start
  voicectl clone sample.wav --name alex
  voicectl watch`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	server := os.Getenv("VOICE_PROXY_URL")
	if server == "" {
		server = defaultServer
	}
	root.PersistentFlags().StringVarP(&opts.server, "server", "s", server, "voice-proxy base URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "request timeout")

	root.AddCommand(
		newStatusCmd(opts),
		newDevicesCmd(opts),
		newVoicesCmd(opts),
		newTextCmd(opts),
		newAudioCmd(opts),
		newRealtimeCmd(opts),
		newCloneCmd(opts),
		newSessionsCmd(opts),
		newWatchCmd(opts),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}
