// Command billtrack is a terminal client for the bill tracker backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"billtrack/internal/cli"
	"billtrack/internal/core"
	"billtrack/internal/log"
)

type command struct {
	summary string
	run     func(ctx context.Context, a *app, args []string, s ioStreams) error
}

type ioStreams struct {
	in  io.Reader
	out io.Writer
	err io.Writer
}

var commands = map[string]command{
	"login":    {"Log in and store the session", runLogin},
	"logout":   {"Forget the stored session", runLogout},
	"register": {"Create an account", runRegister},
	"whoami":   {"Show the logged-in user", runWhoami},
	"list":     {"List bills matching a filter", runList},
	"add":      {"Record a bill", runAdd},
	"edit":     {"Change a bill", runEdit},
	"rm":       {"Delete a bill", runRemove},
	"nlp":      {"Record a bill from a sentence", runNLP},
	"summary":  {"Show totals for the filter and today", runSummary},
	"chart":    {"Show category and daily totals", runChart},
	"chat":     {"Ask the assistant about your bills", runChat},
	"export":   {"Export bills to CSV or Google Sheets", runExport},
	"tui":      {"Open the interactive interface", runTUI},
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %s\n", core.UserMessage(err))
		os.Exit(1)
	}
}

func run(parent context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	streams := ioStreams{in: stdin, out: stdout, err: stderr}
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		usage(stdout)
		if len(args) == 0 {
			return errors.New("missing command")
		}
		return nil
	}

	cmd, ok := commands[args[0]]
	if !ok {
		usage(stderr)
		return fmt.Errorf("unknown command %q", args[0])
	}

	a, err := newApp(parent, stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := cli.SignalContext(parent, a.logger, nil)
	defer cancel()

	a.logger.Debug("Running command", log.FieldOperation, args[0])
	return cmd.run(ctx, a, args[1:], streams)
}

func usage(w io.Writer) {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Usage: billtrack <command> [flags]\n\nCommands:\n")
	for _, name := range names {
		fmt.Fprintf(&b, "  %-9s %s\n", name, commands[name].summary)
	}
	b.WriteString("\nRun 'billtrack <command> -h' for the flags of a command.\n")
	fmt.Fprint(w, b.String())
}
