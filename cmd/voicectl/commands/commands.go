package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/loqalabs/voice-proxy/internal/eventstore"
	"github.com/loqalabs/voice-proxy/internal/protocol"
	"github.com/spf13/cobra"
)

func newStatusCmd(opts *options) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show session state and engine availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			var status protocol.Status
			if err := newClient(opts).get(cmd.Context(), "/status", &status); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, status)
			}
			a, s := status.Availability, status.State
			fmt.Fprintf(out, "listening:      %t\n", s.IsListening)
			fmt.Fprintf(out, "processing:     %t\n", s.IsProcessing)
			if s.SessionID != "" {
				fmt.Fprintf(out, "session:        %s\n", s.SessionID)
			}
			if s.ActiveVoiceID != "" {
				fmt.Fprintf(out, "voice:          %s\n", s.ActiveVoiceID)
			}
			fmt.Fprintf(out, "transcription:  %s\n", upDown(a.Transcription))
			fmt.Fprintf(out, "improvement:    %s\n", upDown(a.Improvement))
			fmt.Fprintf(out, "synthesis:      %s\n", upDown(a.Synthesis))
			fmt.Fprintf(out, "virtual device: %s\n", upDown(a.VirtualDevice))
			if s.LastImprovedText != "" {
				fmt.Fprintf(out, "last output:    %q\n", s.LastImprovedText)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw JSON response")
	return cmd
}

func upDown(ok bool) string {
	if ok {
		return "available"
	}
	return "unavailable"
}

func newDevicesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio input and output devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			var devices protocol.Devices
			if err := newClient(opts).get(cmd.Context(), "/devices", &devices); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Input:")
			for _, d := range devices.Input {
				fmt.Fprintf(out, "  %s\n", d)
			}
			fmt.Fprintln(out, "Output:")
			for _, d := range devices.Output {
				fmt.Fprintf(out, "  %s\n", d)
			}
			return nil
		},
	}
}

func newVoicesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "List synthesis voices",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Voices []string `json:"voices"`
			}
			if err := newClient(opts).get(cmd.Context(), "/voices", &resp); err != nil {
				return err
			}
			for _, v := range resp.Voices {
				fmt.Fprintln(cmd.OutOrStdout(), v)
			}
			return nil
		},
	}
}

func newTextCmd(opts *options) *cobra.Command {
	var play bool
	cmd := &cobra.Command{
		Use:   "text <text>",
		Short: "Improve and synthesize text",
		Long: `Send text through improvement and synthesis.

Examples:
  voicectl text "so um I think we should like ship it"
  voicectl text "hello everyone" --play`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result protocol.TextResult
			body := map[string]any{"text": strings.Join(args, " "), "outputToVirtualMic": play}
			if err := newClient(opts).postJSON(cmd.Context(), "/process-text", body, &result); err != nil {
				return err
			}
			printResult(cmd, result)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&play, "play", "p", false, "play the result on the virtual microphone")
	return cmd
}

func newAudioCmd(opts *options) *cobra.Command {
	var play bool
	cmd := &cobra.Command{
		Use:   "audio <file>",
		Short: "Transcribe, improve and synthesize a recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result protocol.TextResult
			fields := map[string]string{"outputToVirtualMic": fmt.Sprint(play)}
			if err := newClient(opts).postFile(cmd.Context(), "/process-audio", args[0], fields, &result); err != nil {
				return err
			}
			printResult(cmd, result)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&play, "play", "p", false, "play the result on the virtual microphone")
	return cmd
}

func printResult(cmd *cobra.Command, r protocol.TextResult) {
	out := cmd.OutOrStdout()
	if r.Transcript != "" {
		fmt.Fprintf(out, "transcript: %s\n", r.Transcript)
	}
	fmt.Fprintf(out, "improved:   %s\n", r.ImprovedText)
	fmt.Fprintf(out, "audio:      %s\n", formatBytes(r.AudioSize))
	if r.PlayedToVirtualMic {
		fmt.Fprintln(out, "played to virtual microphone")
	}
}

func newRealtimeCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "realtime",
		Short: "Start or stop real-time mode",
	}
	for _, action := range []string{"start", "stop"} {
		cmd.AddCommand(&cobra.Command{
			Use:   action,
			Short: action + " real-time capture",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				var resp struct {
					Message string `json:"message"`
				}
				if err := newClient(opts).postJSON(cmd.Context(), "/realtime/"+action, nil, &resp); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
				return nil
			},
		})
	}
	return cmd
}

func newCloneCmd(opts *options) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "clone <sample>",
		Short: "Clone a voice from an audio sample and make it active",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				VoiceID string `json:"voiceId"`
			}
			if err := newClient(opts).postFile(cmd.Context(), "/voice/clone", args[0], map[string]string{"voiceName": name}, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "voice %q cloned as %s\n", name, resp.VoiceID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "voice name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newSessionsCmd(opts *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "sessions [session-id]",
		Short: "List recorded sessions, or the events of one session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(opts)
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				var resp struct {
					Events []protocol.RawEvent `json:"events"`
				}
				if err := c.get(cmd.Context(), fmt.Sprintf("/sessions/%s/events?limit=%d", args[0], limit), &resp); err != nil {
					return err
				}
				for _, e := range resp.Events {
					fmt.Fprintf(out, "%s  %-20s %s\n", since(e.Timestamp), e.Type, e.Data)
				}
				return nil
			}

			var resp struct {
				Sessions []eventstore.Session `json:"sessions"`
			}
			if err := c.get(cmd.Context(), fmt.Sprintf("/sessions?limit=%d", limit), &resp); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tSTARTED\tENDED\tCHUNKS\tERRORS")
			for _, s := range resp.Sessions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", s.ID, since(s.StartedAt), since(s.EndedAt), s.Chunks, s.Errors)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}
