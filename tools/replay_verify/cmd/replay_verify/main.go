package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	replayverify "fuzzyracer/racer/tools/replay_verify"
)

func main() {
	path := flag.String("path", "", "replay bundle directory or its manifest.json")
	root := flag.String("dir", "", "directory containing replay bundles")
	jsonFlag := flag.Bool("json", false, "emit JSON instead of human-readable output")
	flag.Parse()

	var (
		summaries []replayverify.Summary
		problems  []error
	)
	switch {
	case *path != "":
		summary, err := replayverify.Inspect(*path)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(2)
		}
		summaries = append(summaries, summary)
	case *root != "":
		summaries, problems = replayverify.InspectAll(*root)
	default:
		fmt.Fprintln(os.Stderr, "either -path or -dir is required")
		os.Exit(1)
	}

	for _, problem := range problems {
		fmt.Fprintln(os.Stderr, "error:", problem)
	}

	if *jsonFlag {
		payload, err := replayverify.MarshalSummaries(summaries)
		if err != nil {
			fmt.Fprintln(os.Stderr, "encode error:", err)
			os.Exit(3)
		}
		fmt.Println(string(payload))
	} else {
		for _, summary := range summaries {
			status := "ok"
			if !summary.Report.Verified {
				status = "DIVERGED"
			}
			fmt.Printf("%s [%s]\n", summary.Directory, status)
			fmt.Printf("  session: %s seed: %d tuning: %s @ %g Hz\n", summary.SessionID, summary.Seed, summary.Tuning, summary.TickHz)
			fmt.Printf("  ticks: %d final score: %d crashes: %d\n", summary.Report.Ticks, summary.Report.FinalScore, summary.Report.Crashes)
			if mismatch := summary.Report.Mismatch; mismatch != nil {
				fmt.Printf("  first mismatch at tick %d: %s\n", mismatch.Tick, mismatch.Reason)
			}
			types := make([]string, 0, len(summary.EventTypes))
			for name := range summary.EventTypes {
				types = append(types, name)
			}
			sort.Strings(types)
			for _, name := range types {
				fmt.Printf("  %s events: %d\n", name, summary.EventTypes[name])
			}
		}
	}

	if len(problems) > 0 || replayverify.Failed(summaries) {
		os.Exit(4)
	}
}
