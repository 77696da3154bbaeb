// Command patterncheck validates a candidate pattern set file the way
// the daemon's hot-reload path does: compile every pattern, then confirm
// every required priority group ends up non-empty, without ever
// installing the result anywhere. Meant to run in CI or a pre-commit
// hook against config/v1/patterns/*.yaml before a candidate file reaches
// a running daemon.
//
// Grounded on internal/classify/pattern.go's PatternMatcher.LoadSpecs
// (the same compile-then-validate path the daemon's LoadDir uses) and
// cmd/consolidate/main.go's single-purpose flag.Parse() shape.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/trfife/barnabeenet/internal/classify"
	"github.com/trfife/barnabeenet/internal/domain"
)

func main() {
	flag.Parse()
	files := flag.Args()
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: patterncheck <file.yaml> [file2.yaml ...]")
		fmt.Fprintln(os.Stderr, "  Validates that the union of the given pattern files compiles and")
		fmt.Fprintln(os.Stderr, "  covers every required priority group.")
		os.Exit(1)
	}

	var all []domain.PatternSpec
	perFile := make(map[string]int, len(files))
	for _, f := range files {
		specs, err := classify.LoadSpecsFromFile(f)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		perFile[f] = len(specs)
		all = append(all, specs...)
	}

	matcher := classify.NewPatternMatcher("")
	if err := matcher.LoadSpecs(all); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid: %v\n", err)
		for _, f := range files {
			fmt.Fprintf(os.Stderr, "  %s: %d pattern(s)\n", f, perFile[f])
		}
		os.Exit(1)
	}

	fmt.Printf("Valid: %d pattern(s) across %d file(s), every required priority group covered\n", len(all), len(files))
}
