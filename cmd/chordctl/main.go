// Command chordctl sends commands to a running chordd and runs offline
// config, chord and journal checks.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"chordkit/internal/chord"
	"chordkit/internal/config"
	"chordkit/internal/ipc"
	"chordkit/internal/journal"
	"chordkit/internal/watcher"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

var (
	sendFn            = ipc.Send
	defaultConfigPath = config.DefaultPath
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	global, rest, err := parseGlobal(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "chordctl: %v\n", err)
		return exitUsage
	}
	if len(rest) == 0 {
		printUsage(stdout)
		return exitOK
	}
	cmd, err := parseCommand(rest)
	if err != nil {
		fmt.Fprintf(stderr, "chordctl: %v\n", err)
		return exitUsage
	}

	if commandSpecs[cmd.name].local {
		if err := runLocal(cmd, global, stdout); err != nil {
			fmt.Fprintf(stderr, "chordctl: %v\n", err)
			return exitFailure
		}
		return exitOK
	}
	return runRemote(cmd, global, stdout, stderr)
}

func runRemote(cmd command, global globalOptions, stdout, stderr io.Writer) int {
	endpoint := global.endpoint
	if endpoint == "" {
		endpoint = ipc.DefaultEndpoint()
	}
	req := ipc.Request{ID: ipc.NewRequestID(), Command: cmd.name}
	if cmd.name == ipc.CmdFire {
		action := cmd.action
		req.Action = &action
	}

	resp, err := sendFn(endpoint, req)
	if err != nil {
		if ipc.IsConnectionError(err) {
			fmt.Fprintf(stderr, "chordctl: chordd is not running on %s\n", endpoint)
			return exitFailure
		}
		fmt.Fprintf(stderr, "chordctl: %v\n", err)
		return exitFailure
	}

	if global.json {
		if err := writeJSON(stdout, resp); err != nil {
			fmt.Fprintf(stderr, "chordctl: %v\n", err)
			return exitFailure
		}
	} else if resp.OK {
		printResponse(stdout, cmd.name, resp)
	}
	if !resp.OK {
		if !global.json {
			fmt.Fprintf(stderr, "chordctl: %s: %s\n", resp.Code, resp.Message)
			if len(resp.Held) > 0 {
				fmt.Fprintf(stderr, "chordctl: still held: %s\n", strings.Join(resp.Held, ", "))
			}
		}
		return exitFailure
	}
	return exitOK
}

func printResponse(w io.Writer, name string, resp ipc.Response) {
	switch name {
	case ipc.CmdPing:
		fmt.Fprintln(w, resp.Message)
	case ipc.CmdFire, ipc.CmdReleaseAll:
		fmt.Fprintln(w, "ok")
	case ipc.CmdHeld:
		if len(resp.Held) == 0 {
			fmt.Fprintln(w, "(none)")
			return
		}
		for _, key := range resp.Held {
			fmt.Fprintln(w, key)
		}
	case ipc.CmdBindings:
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ACTION\tCHORD")
		for _, b := range resp.Bindings {
			fmt.Fprintf(tw, "%d\t%s\n", b.Action, b.Chord)
		}
		_ = tw.Flush()
	case ipc.CmdStatus:
		printStatus(w, resp.Status)
	}
}

func printStatus(w io.Writer, st *ipc.Status) {
	if st == nil {
		fmt.Fprintln(w, "(no status)")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "pid:\t%d\n", st.PID)
	uptime := time.Duration(st.UptimeMS) * time.Millisecond
	fmt.Fprintf(tw, "started:\t%s (up %s)\n", humanize.Time(time.Now().Add(-uptime)), uptime.Round(time.Second))
	fmt.Fprintf(tw, "injector:\t%s\n", st.Injector)
	fmt.Fprintf(tw, "endpoint:\t%s\n", st.Endpoint)
	fmt.Fprintf(tw, "config:\t%s\n", st.ConfigPath)
	fmt.Fprintf(tw, "hold:\t%dms\n", st.HoldMS)
	fmt.Fprintf(tw, "bindings:\t%d\n", st.Bindings)
	fmt.Fprintf(tw, "fired:\t%s\n", humanize.Comma(int64(st.Fired)))
	fmt.Fprintf(tw, "failed:\t%s\n", humanize.Comma(int64(st.Failed)))
	held := "(none)"
	if len(st.Held) > 0 {
		held = strings.Join(st.Held, ", ")
	}
	fmt.Fprintf(tw, "held:\t%s\n", held)
	if st.MonitorURL != "" {
		fmt.Fprintf(tw, "monitor:\t%s\n", st.MonitorURL)
	}
	if st.Journal != "" {
		fmt.Fprintf(tw, "journal:\t%s\n", st.Journal)
	}
	if st.Closed {
		fmt.Fprintf(tw, "engine:\tclosed\n")
	}
	if st.RestartNeeded {
		fmt.Fprintf(tw, "note:\tconfig changed on disk; restart chordd to apply\n")
	}
	_ = tw.Flush()
}

func runLocal(cmd command, global globalOptions, stdout io.Writer) error {
	switch cmd.name {
	case "check":
		return runCheck(cmd, global, stdout)
	case "parse":
		return runParse(cmd, global, stdout)
	case "journal":
		return runJournal(cmd, global, stdout)
	}
	return fmt.Errorf("unhandled command %s", cmd.name)
}

func runCheck(cmd command, global globalOptions, stdout io.Writer) error {
	path := defaultConfigPath()
	if len(cmd.args) == 1 {
		path = cmd.args[0]
	}
	res := watcher.Check(path)
	if res.Err != nil {
		return res.Err
	}
	if global.json {
		return writeJSON(stdout, map[string]any{"path": res.Path, "bindings": res.Bindings, "injector": res.Config.Injector.Kind})
	}
	fmt.Fprintf(stdout, "%s: ok (%d bindings, injector %s)\n", res.Path, res.Bindings, res.Config.Injector.Kind)
	return nil
}

func runParse(cmd command, global globalOptions, stdout io.Writer) error {
	c, err := chord.Parse(cmd.args[0])
	if err != nil {
		return err
	}
	if global.json {
		return writeJSON(stdout, map[string]any{
			"chord":    c.String(),
			"modifier": c.Modifier().String(),
			"key":      fmt.Sprintf("0x%02X", uint8(c.Key())),
		})
	}
	fmt.Fprintf(stdout, "%s\tmodifier=%s key=%s (0x%02X)\n", c, c.Modifier(), c.Key(), uint8(c.Key()))
	return nil
}

func runJournal(cmd command, global globalOptions, stdout io.Writer) error {
	path := cmd.dbPath
	if path == "" {
		cfg, err := config.Load(defaultConfigPath())
		if err != nil {
			return fmt.Errorf("resolve journal path: %w", err)
		}
		path = cfg.Journal.Path
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("no journal at %s: %w", path, err)
	}
	j, err := journal.Open(path)
	if err != nil {
		return err
	}
	defer j.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if cmd.summary {
		rows, err := j.Summary(ctx)
		if err != nil {
			return err
		}
		if global.json {
			return writeJSON(stdout, rows)
		}
		tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ACTION\tCHORD\tFIRED\tFAILED\tLAST")
		for _, r := range rows {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
				r.Action, r.Chord, humanize.Comma(int64(r.Fired)), humanize.Comma(int64(r.Failed)), humanize.Time(r.LastAt))
		}
		return tw.Flush()
	}

	entries, err := j.Recent(ctx, cmd.limit)
	if err != nil {
		return err
	}
	if global.json {
		return writeJSON(stdout, entries)
	}
	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tACTION\tCHORD\tRESULT\tDURATION\tREQUEST")
	for _, e := range entries {
		result := "ok"
		if !e.OK() {
			result = e.Code
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n",
			e.Time.Format("2006-01-02 15:04:05.000"), e.Action, e.Chord, result, e.Duration, e.RequestID)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
