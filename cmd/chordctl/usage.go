package main

import (
	"fmt"
	"io"
)

func printUsage(w io.Writer) {
	// Usage output is best-effort.
	_, _ = fmt.Fprintln(w, "chordctl controls a running chordd")
	_, _ = fmt.Fprintln(w, "Usage: chordctl [-endpoint name] [-json] <command> [args]")
	_, _ = fmt.Fprintln(w, "Commands:")
	for _, name := range commandOrder {
		_, _ = fmt.Fprintf(w, "  %-28s %s\n", commandSpecs[name].usage, commandSpecs[name].help)
	}
}
