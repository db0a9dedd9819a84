// Command hsmlink-log views and analyzes hsmlink protocol log files.
//
// Log files are written by hsmlink-echo and hsmlink-client when run with
// the -protocol-log flag.
//
// Usage:
//
//	hsmlink-log <command> [flags] <file.hlog>
//
// Commands:
//
//	view     View log file in human-readable format
//	export   Export log file to JSONL or CSV format
//	filter   Filter log file and write to new file
//	stats    Show statistics about the log file
//
// Examples:
//
//	# View only TLS handshake events
//	hsmlink-log view --category handshake echo.hlog
//
//	# View failures only
//	hsmlink-log view --errors echo.hlog
//
//	# Export to CSV
//	hsmlink-log export --format csv -o echo.csv echo.hlog
//
//	# Keep one session
//	hsmlink-log filter --conn-id 3f2a9c1e -o session.hlog echo.hlog
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/hsmlink/hsmlink-go/cmd/hsmlink-log/commands"
)

const usage = `hsmlink-log - hsmlink protocol log analyzer

Usage:
  hsmlink-log <command> [flags] <file.hlog>

Commands:
  view     View log file in human-readable format
  export   Export log file to JSONL or CSV format
  filter   Filter log file and write to new file
  stats    Show statistics about the log file

Use "hsmlink-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "view":
		err = runView(args)
	case "export":
		err = runExport(args)
	case "filter":
		err = runFilter(args)
	case "stats":
		err = runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newFlagSet(name, summary string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "hsmlink-log %s - %s\n\nUsage:\n  hsmlink-log %s [flags] <file.hlog>\n\nFlags:\n", name, summary, name)
		fs.PrintDefaults()
	}
	return fs
}

// logPath returns the single positional argument.
func logPath(fs *flag.FlagSet) string {
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: log file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

// addSelectors registers the event selection flags shared by view and filter.
func addSelectors(fs *flag.FlagSet) *commands.FilterOptions {
	opts := &commands.FilterOptions{}
	fs.StringVar(&opts.ConnID, "conn-id", "", "Filter by connection ID prefix")
	fs.StringVar(&opts.Remote, "remote", "", "Filter by peer address (IP:port)")
	fs.StringVar(&opts.Role, "role", "", "Filter by local role (client, server)")
	fs.StringVar(&opts.TimeStart, "time-start", "", "Filter by start time (RFC3339)")
	fs.StringVar(&opts.TimeEnd, "time-end", "", "Filter by end time (RFC3339)")
	fs.StringVar(&opts.Layer, "layer", "", "Filter by layer (transport, tls, framing)")
	fs.StringVar(&opts.Direction, "direction", "", "Filter by direction (in, out)")
	fs.StringVar(&opts.Category, "category", "", "Filter by category (data, state, handshake, error)")
	fs.BoolVar(&opts.ErrorsOnly, "errors", false, "Only errors and failed handshakes")
	return opts
}

func runView(args []string) error {
	fs := newFlagSet("view", "View log file in human-readable format")
	opts := addSelectors(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	path := logPath(fs)

	filter, err := opts.Build()
	if err != nil {
		return err
	}
	return commands.RunView(path, filter, os.Stdout)
}

func runExport(args []string) error {
	fs := newFlagSet("export", "Export log file to JSONL or CSV format")
	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return commands.RunExport(logPath(fs), *format, *output)
}

func runFilter(args []string) error {
	fs := newFlagSet("filter", "Filter log file and write to new file")
	opts := addSelectors(fs)
	fs.StringVar(&opts.Output, "o", "", "Output file (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path := logPath(fs)
	if opts.Output == "" {
		fmt.Fprintln(os.Stderr, "Error: output file (-o) required")
		fs.Usage()
		os.Exit(1)
	}

	count, err := commands.RunFilter(path, *opts)
	if err != nil {
		return err
	}
	fmt.Printf("Filtered %d events to %s\n", count, opts.Output)
	return nil
}

func runStats(args []string) error {
	fs := newFlagSet("stats", "Show statistics about the log file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return commands.RunStats(logPath(fs), os.Stdout)
}
