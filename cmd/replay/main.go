// Command replay summarizes the per-tick stats logs written by streamd.
package main

import (
	"flag"
	"fmt"
	"os"

	"worldstream.ai/internal/persistence/statslog"
)

func main() {
	var (
		dir      = flag.String("stats_dir", "", "dir containing <prefix>-*.jsonl.zst")
		prefix   = flag.String("prefix", "ticks", "log file prefix")
		fromTick = flag.Uint64("from_tick", 0, "first tick to include (optional)")
		toTick   = flag.Uint64("to_tick", 0, "last tick to include (optional)")
	)
	flag.Parse()

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "missing -stats_dir")
		os.Exit(2)
	}
	files, err := statslog.Files(*dir, *prefix)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list stats logs:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no stats logs under", *dir)
		os.Exit(1)
	}
	sum, err := summarize(files, *fromTick, *toTick)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	sum.print(os.Stdout)
	if sum.Violations > 0 || sum.Gaps > 0 {
		os.Exit(3)
	}
}
