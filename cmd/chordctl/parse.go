package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
)

type commandSpec struct {
	usage   string
	help    string
	minArgs int
	maxArgs int
	// local commands run without contacting the daemon.
	local bool
}

var commandSpecs = map[string]commandSpec{
	"fire":        {usage: "fire <action>", help: "dispatch the chord bound to an action", minArgs: 1, maxArgs: 1},
	"held":        {usage: "held", help: "list keys the daemon holds down"},
	"release-all": {usage: "release-all", help: "force-release every held key"},
	"bindings":    {usage: "bindings", help: "list the running action table"},
	"status":      {usage: "status", help: "show daemon status"},
	"ping":        {usage: "ping", help: "check that the daemon is running"},
	"check":       {usage: "check [config]", help: "validate a config file", maxArgs: 1, local: true},
	"parse":       {usage: "parse <chord>", help: "parse a chord such as Ctrl+F5", minArgs: 1, maxArgs: 1, local: true},
	"journal":     {usage: "journal [-n N] [-db path] [-summary]", help: "show recent dispatches", local: true},
}

var commandOrder = []string{"fire", "held", "release-all", "bindings", "status", "ping", "check", "parse", "journal"}

// errUsage marks errors that exit with status 2.
var errUsage = errors.New("usage")

type globalOptions struct {
	endpoint string
	json     bool
}

type command struct {
	name   string
	args   []string
	action int

	// journal flags
	limit   int
	dbPath  string
	summary bool
}

func usageErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errUsage, fmt.Sprintf(format, args...))
}

func parseGlobal(args []string, stderr io.Writer) (globalOptions, []string, error) {
	fs := flag.NewFlagSet("chordctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { printUsage(stderr) }
	endpoint := fs.String("endpoint", "", "daemon pipe or socket (default: per-user endpoint)")
	asJSON := fs.Bool("json", false, "print raw JSON responses")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return globalOptions{}, nil, err
		}
		return globalOptions{}, nil, fmt.Errorf("%w: %v", errUsage, err)
	}
	return globalOptions{endpoint: *endpoint, json: *asJSON}, fs.Args(), nil
}

func parseCommand(args []string) (command, error) {
	if len(args) == 0 {
		return command{}, usageErrorf("command is required")
	}
	name := strings.TrimSpace(args[0])
	spec, ok := commandSpecs[name]
	if !ok {
		return command{}, usageErrorf("unknown command: %s", name)
	}
	cmd := command{name: name, args: args[1:]}

	if name == "journal" {
		return parseJournal(cmd)
	}
	if len(cmd.args) < spec.minArgs || len(cmd.args) > spec.maxArgs {
		return command{}, usageErrorf("usage: chordctl %s", spec.usage)
	}
	if name == "fire" {
		action, err := strconv.Atoi(cmd.args[0])
		if err != nil {
			return command{}, usageErrorf("action must be an integer, got %q", cmd.args[0])
		}
		cmd.action = action
	}
	return cmd, nil
}

func parseJournal(cmd command) (command, error) {
	fs := flag.NewFlagSet("journal", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	limit := fs.Int("n", 20, "number of entries")
	db := fs.String("db", "", "journal database (default: journal.db next to the config)")
	summary := fs.Bool("summary", false, "print per-action totals instead of entries")
	if err := fs.Parse(cmd.args); err != nil {
		return command{}, usageErrorf("journal: %v", err)
	}
	if fs.NArg() > 0 {
		return command{}, usageErrorf("journal: unexpected arguments %v", fs.Args())
	}
	if *limit < 0 {
		return command{}, usageErrorf("journal: -n must not be negative")
	}
	cmd.args = nil
	cmd.limit = *limit
	cmd.dbPath = *db
	cmd.summary = *summary
	return cmd, nil
}
