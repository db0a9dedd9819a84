package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/chzyer/readline"
)

// Interactive reads lines from a readline prompt and sends each one as a
// packet. Lines starting with '/' are commands.
type Interactive struct {
	client *Client
	rl     *readline.Instance
}

// NewInteractive creates the prompt.
func NewInteractive(client *Client) (*Interactive, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "hsmlink> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("/help"),
			readline.PcItem("/status"),
			readline.PcItem("/hex"),
			readline.PcItem("/reconnect"),
			readline.PcItem("/quit"),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Interactive{client: client, rl: rl}, nil
}

// Stdout returns a writer that properly coordinates with the readline input.
// Use this for log output to avoid interfering with the command prompt.
func (i *Interactive) Stdout() io.Writer {
	return i.rl.Stdout()
}

// Close releases the terminal.
func (i *Interactive) Close() error {
	return i.rl.Close()
}

// Run starts the interactive loop. It returns when the user quits, input
// ends or ctx is cancelled.
func (i *Interactive) Run(ctx context.Context, cancel context.CancelFunc) {
	defer i.rl.Close()

	i.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := i.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(i.rl.Stdout(), "Exiting...")
			cancel()
			return
		}
		if quit := i.Handle(ctx, line, i.rl.Stdout()); quit {
			cancel()
			return
		}
	}
}

// Handle executes one input line and reports whether the user asked to
// quit.
func (i *Interactive) Handle(ctx context.Context, line string, w io.Writer) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return false
	}
	if !strings.HasPrefix(input, "/") {
		i.send(w, []byte(input))
		return false
	}

	parts := strings.Fields(input)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "/help", "/?":
		i.printHelpTo(w)

	case "/status", "/s":
		i.cmdStatus(w)

	case "/hex", "/x":
		i.cmdHex(w, args)

	case "/reconnect":
		rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := i.client.Reconnect(rctx); err != nil {
			fmt.Fprintf(w, "Reconnect failed: %v\n", err)
		}

	case "/quit", "/exit", "/q":
		fmt.Fprintln(w, "Exiting...")
		return true

	default:
		fmt.Fprintf(w, "Unknown command: %s (type '/help' for commands)\n", cmd)
	}
	return false
}

func (i *Interactive) send(w io.Writer, payload []byte) {
	start := time.Now()
	reply, err := i.client.Exchange(payload)
	if err != nil {
		fmt.Fprintf(w, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(w, "< %s (%d bytes, %s)\n", printable(reply), len(reply), time.Since(start).Round(time.Microsecond))
}

func (i *Interactive) cmdHex(w io.Writer, args []string) {
	if len(args) == 0 {
		fmt.Fprintln(w, "Usage: /hex <hex bytes>")
		return
	}
	payload, err := hex.DecodeString(strings.Join(args, ""))
	if err != nil {
		fmt.Fprintf(w, "Invalid hex: %v\n", err)
		return
	}
	i.send(w, payload)
}

func (i *Interactive) cmdStatus(w io.Writer) {
	st := i.client.Status()
	fmt.Fprintf(w, "State:      %s\n", st.State)
	if st.Session != "" {
		fmt.Fprintf(w, "Session:    %s\n", st.Session)
		fmt.Fprintf(w, "Peer:       %s\n", st.Remote)
	}
	if st.TLS {
		fmt.Fprintf(w, "TLS:        %s\n", st.CipherSuite)
	} else {
		fmt.Fprintln(w, "TLS:        off")
	}
	fmt.Fprintf(w, "Packets:    %d sent, %d received\n", st.Sent, st.Received)
	if st.Reconnects > 0 {
		fmt.Fprintf(w, "Reconnects: %d attempts since last success\n", st.Reconnects)
	}
}

// printable shows text replies as text and everything else as hex.
func printable(b []byte) string {
	if utf8.Valid(b) && !strings.ContainsFunc(string(b), func(r rune) bool { return r < 0x20 && r != '\t' }) {
		return fmt.Sprintf("%q", b)
	}
	return hex.EncodeToString(b)
}

func (i *Interactive) printHelp() { i.printHelpTo(i.rl.Stdout()) }

func (i *Interactive) printHelpTo(w io.Writer) {
	fmt.Fprintln(w, `
hsmlink Client Commands:
  <text>             - Send text as one packet and print the reply
  /hex <bytes>       - Send raw bytes given in hex
  /status            - Show connection status
  /reconnect         - Drop the session and connect again
  /help              - Show this help
  /quit              - Exit`)
}
