// zappai is the command-line client for the ZappAI crop planning backend.
//
// Every command except login and logout resolves the stored session first and
// goes through the access gate; without a session it prints "not logged in" and
// exits with status 2. "locations --watch" keeps a polled, searchable list on
// screen and accepts "delete ID" and "download ID" lines on stdin.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
)

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }
func (e *exitError) ExitCode() int { return e.code }

var errNotLoggedIn = &exitError{code: 2, err: errors.New("not logged in")}

type globalFlags struct {
	configPath string
	apiURL     string
	logLevel   string
	logFile    string
	ephemeral  bool
}

type streams struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func main() {
	s := streams{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr}
	if err := run(context.Background(), os.Args[1:], s); err != nil {
		var coder interface{ ExitCode() int }
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.As(err, &coder) {
			os.Exit(coder.ExitCode())
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, s streams) error {
	var g globalFlags
	flagSet := pflag.NewFlagSet("zappai", pflag.ContinueOnError)
	flagSet.SetOutput(s.stderr)
	flagSet.SetInterspersed(false)
	flagSet.StringVar(&g.configPath, "config", "", "path to a YAML config file (default: config/$ENV_NAME.yaml if present)")
	flagSet.StringVar(&g.apiURL, "api-url", "", "ZappAI backend base URL (overrides config)")
	flagSet.StringVar(&g.logLevel, "log-level", "", "DEBUG, INFO, WARN or ERROR (default: $LOG_LEVEL or INFO)")
	flagSet.StringVar(&g.logFile, "log-file", "", "write JSON logs to this file instead of stderr")
	flagSet.BoolVar(&g.ephemeral, "ephemeral", false, "keep the session token in memory only")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(s.stdout, flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help || flagSet.NArg() == 0 {
		printHelp(s.stdout, flagSet)
		return nil
	}

	name, rest := flagSet.Arg(0), flagSet.Args()[1:]
	cmd, ok := commands[name]
	if !ok {
		printHelp(s.stderr, flagSet)
		return fmt.Errorf("unknown command %q", name)
	}

	a, err := newApp(g, s)
	if err != nil {
		return err
	}
	defer a.close()
	return cmd.run(ctx, a, rest)
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintln(w, "Usage: zappai [global flags] <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, name := range commandOrder {
		fmt.Fprintf(w, "  %-10s %s\n", name, commands[name].summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Global flags:")
	fmt.Fprint(w, flagSet.FlagUsages())
}
