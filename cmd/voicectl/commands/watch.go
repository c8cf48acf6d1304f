package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/voice-proxy/internal/protocol"
	"github.com/spf13/cobra"
)

func newWatchCmd(opts *options) *cobra.Command {
	var (
		types  []string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream live events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return watch(ctx, opts.server, types, asJSON, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringSliceVarP(&types, "type", "t", nil, "only show these event types")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print each event as raw JSON")
	return cmd
}

func wsURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

func watch(ctx context.Context, server string, types []string, asJSON bool, out io.Writer) error {
	target, err := wsURL(server)
	if err != nil {
		return err
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", target, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	want := make(map[string]bool, len(types))
	for _, t := range types {
		want[t] = true
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}
		var evt protocol.RawEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if len(want) > 0 && !want[string(evt.Type)] {
			continue
		}
		if asJSON {
			fmt.Fprintln(out, string(data))
			continue
		}
		printEvent(out, evt)
	}
}

func printEvent(out io.Writer, evt protocol.RawEvent) {
	ts := evt.Timestamp.Local().Format("15:04:05.000")
	switch evt.Type {
	case protocol.EventChunkProcessed, protocol.EventProcessingComplete:
		var p protocol.ChunkProcessed
		if json.Unmarshal(evt.Data, &p) == nil {
			if p.Transcript != "" {
				fmt.Fprintf(out, "%s %-20s %q -> %q (%s)\n", ts, evt.Type, p.Transcript, p.ImprovedText, formatBytes(p.AudioSize))
			} else {
				fmt.Fprintf(out, "%s %-20s %q (%s)\n", ts, evt.Type, p.ImprovedText, formatBytes(p.AudioSize))
			}
			return
		}
	case protocol.EventError:
		var p protocol.Error
		if json.Unmarshal(evt.Data, &p) == nil {
			fmt.Fprintf(out, "%s %-20s %s [%s/%s]\n", ts, evt.Type, p.Message, p.Stage, p.Kind)
			return
		}
	}
	if len(evt.Data) == 0 {
		fmt.Fprintf(out, "%s %s\n", ts, evt.Type)
		return
	}
	fmt.Fprintf(out, "%s %-20s %s\n", ts, evt.Type, evt.Data)
}
