package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/breathlink/breathlink/pkg/link"
	"github.com/breathlink/breathlink/pkg/settings"
	"github.com/chzyer/readline"
	"github.com/urfave/cli/v2"
)

var consoleCommand *cli.Command = &cli.Command{
	Name:  "console",
	Usage: "Connect to the relay server and drive the connection interactively",
	Flags: connectionFlags,
	Action: func(c *cli.Context) error {
		collector, metricsErr := startPrometheusServer(c)
		if metricsErr != nil {
			return metricsErr
		}
		storage, storageErr := getSettingsStorage(c)
		if storageErr != nil {
			return storageErr
		}
		defer closeSettingsStorage(storage)
		resolved, settingsErr := resolveSettings(c, storage)
		if settingsErr != nil {
			return settingsErr
		}

		rl, rlErr := readline.NewEx(&readline.Config{
			Prompt:          "breathlink> ",
			InterruptPrompt: "^C",
			EOFPrompt:       "quit",
			AutoComplete: readline.NewPrefixCompleter(
				readline.PcItem("signal"),
				readline.PcItem("send"),
				readline.PcItem("inbound"),
				readline.PcItem("status"),
				readline.PcItem("open"),
				readline.PcItem("disconnect"),
				readline.PcItem("help"),
				readline.PcItem("quit"),
			),
		})
		if rlErr != nil {
			return fmt.Errorf("failed to create readline: %w", rlErr)
		}
		defer rl.Close()

		handle := newHandle(c, collector)
		startAPIServer(c, handle, storage)
		session := &console{handle: handle, settings: resolved, out: rl.Stdout()}
		if openErr := handle.Open(resolved.Address, resolved.Token); openErr != nil {
			fmt.Fprintf(session.out, "Error: %v\n", openErr)
		}
		defer handle.Disconnect()

		session.printHelp()
		for {
			line, readErr := rl.Readline()
			if readErr == readline.ErrInterrupt {
				continue
			}
			if readErr != nil {
				return nil
			}
			if session.execute(line) {
				return nil
			}
		}
	},
}

type console struct {
	handle   *link.Handle
	settings settings.Settings
	out      io.Writer
}

// execute runs a single console line and reports whether the console should exit
func (s *console) execute(line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return false
	}
	command, argument, _ := strings.Cut(input, " ")
	switch strings.ToLower(command) {
	case "help", "?":
		s.printHelp()
	case "signal", "s":
		if s.handle.SendSignal() {
			fmt.Fprintln(s.out, "Signal staged")
		} else {
			fmt.Fprintln(s.out, "Not connected")
		}
	case "send":
		snapshot, parseErr := parseOutboundLine(argument)
		if parseErr != nil || snapshot == nil {
			fmt.Fprintln(s.out, "Usage: send <json object>")
			return false
		}
		s.printJSON(s.handle.StageOutbound(snapshot))
	case "inbound", "i":
		s.printJSON(s.handle.LatestInbound())
	case "status":
		fmt.Fprintf(s.out, "state=%s open=%t id=%s\n", s.handle.State(), s.handle.IsOpen(), s.handle.ID())
		if lastErr := s.handle.LastError(); lastErr != nil {
			fmt.Fprintf(s.out, "last error (%s): %s\n", lastErr.Kind, lastErr.Message)
		}
	case "open":
		if openErr := s.handle.Open(s.settings.Address, s.settings.Token); openErr != nil {
			fmt.Fprintf(s.out, "Error: %v\n", openErr)
		}
	case "disconnect":
		s.handle.Disconnect()
	case "quit", "exit", "q":
		fmt.Fprintln(s.out, "Exiting...")
		return true
	default:
		fmt.Fprintf(s.out, "Unknown command: %s (type 'help' for commands)\n", command)
	}
	return false
}

func (s *console) printJSON(snapshot map[string]any) {
	if snapshot == nil {
		fmt.Fprintln(s.out, "No data received yet")
		return
	}
	encoded, _ := json.Marshal(snapshot)
	fmt.Fprintln(s.out, string(encoded))
}

func (s *console) printHelp() {
	fmt.Fprintln(s.out, `Commands:
  signal, s         stage {"signal": true} for the peer
  send <json>       stage a JSON object and print the latest inbound data
  inbound, i        print the latest data received from the peer
  status            print the connection state
  open              reconnect with the current settings
  disconnect        close the connection
  quit, q           exit`)
}
