// balance analyzes Greymarch test and contest math.
//
// Usage:
//
//	balance [command] [options]
//
// Commands:
//
//	test      - Exhaustive outcome distribution for one skill target
//	opposed   - Monte Carlo contest between two skill targets
//	fate      - What a fate revision bonus buys at each target
//	sweep     - Run a comprehensive balance sweep
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/greymarch/greymarch-server/internal/balance"
	"github.com/greymarch/greymarch-server/internal/rules"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "test":
		runTestDist()
	case "opposed":
		runOpposed()
	case "fate":
		runFate()
	case "sweep":
		runSweep()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Greymarch Balance Analyzer

Exhaustive and Monte Carlo analysis of the d100 rules.

Usage: balance <command> [options]

Commands:
  test      Exhaustive outcome distribution for one skill target
  opposed   Monte Carlo contest between two skill targets
  fate      What a fate revision bonus buys at each target
  sweep     Run a comprehensive balance sweep

Examples:
  balance test -target=65 -shift=1
  balance opposed -source=65 -defense=50 -tie-break=source -iterations=20000
  balance fate -bonus=10
  balance sweep

Use "balance <command> -h" for more information about a command.`)
}

func runTestDist() {
	fs := flag.NewFlagSet("test", flag.ExitOnError)
	target := fs.Float64("target", 50, "Skill target before table clamps")
	shift := fs.Int("shift", 0, "Success level shift (gear, training)")
	fs.Parse(os.Args[2:])

	res := balance.SuccessDistribution(balance.NewProfile("profile", *target, *shift))

	fmt.Println("=== Test Distribution ===")
	fmt.Println()
	fmt.Printf("Target: %.0f (clamped: %.0f), Shift: %+d\n", *target, res.Target, *shift)
	fmt.Println()
	printDistribution(res)
}

func printDistribution(r balance.DistributionResult) {
	fmt.Println("Outcome           | Rolls | Share")
	fmt.Println("------------------+-------+-------")
	fmt.Printf("Critical success  | %5d | %4d%%\n", r.Bands.CritSuccess, r.Bands.CritSuccess)
	fmt.Printf("Marginal success  | %5d | %4d%%\n", r.Bands.Success, r.Bands.Success)
	fmt.Printf("Marginal failure  | %5d | %4d%%\n", r.Bands.Failure, r.Bands.Failure)
	fmt.Printf("Critical failure  | %5d | %4d%%\n", r.Bands.CritFailure, r.Bands.CritFailure)
	fmt.Println()
	fmt.Printf("Success rate: %.0f%%   Mean level: %+.2f\n", r.SuccessRate, r.MeanLevel)
}

func runOpposed() {
	fs := flag.NewFlagSet("opposed", flag.ExitOnError)
	source := fs.Float64("source", 60, "Source (attacking) skill target")
	sourceShift := fs.Int("source-shift", 0, "Source success level shift")
	defense := fs.Float64("defense", 50, "Target (defending) skill target")
	defenseShift := fs.Int("defense-shift", 0, "Target success level shift")
	tieBreakName := fs.String("tie-break", "none", "Tie-break policy: none, source, or target")
	iterations := fs.Int("iterations", 20000, "Number of contests to run")
	seed := fs.Int64("seed", time.Now().UnixNano(), "Roller seed (defaults to the clock)")
	fs.Parse(os.Args[2:])

	tieBreak, breakTies, err := parseTieBreak(*tieBreakName)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	src := balance.NewProfile("source", *source, *sourceShift)
	tgt := balance.NewProfile("target", *defense, *defenseShift)

	fmt.Println("=== Opposed Contest Simulation ===")
	fmt.Println()
	fmt.Printf("Source: target %.0f, shift %+d\n", *source, *sourceShift)
	fmt.Printf("Target: target %.0f, shift %+d\n", *defense, *defenseShift)
	fmt.Printf("Tie-break: %s, Iterations: %d, Seed: %d\n", *tieBreakName, *iterations, *seed)
	fmt.Println()

	res := balance.RunMatchup(src, tgt, tieBreak, breakTies, *iterations, *seed)
	printMatchup(res)
	assessMatchup(res)
}

func printMatchup(r balance.MatchupResult) {
	fmt.Printf("Results (%d contests):\n", r.Iterations)
	fmt.Printf("  Source wins: %6.1f%% (%d)\n", r.SourceWinRate(), r.SourceWins)
	fmt.Printf("  Target wins: %6.1f%% (%d)\n", r.TargetWinRate(), r.TargetWins)
	fmt.Printf("  Tied:        %6.1f%% (%d)\n", r.TieRate(), r.Tied)
	fmt.Printf("  Both fail:   %6.1f%% (%d)\n", r.BothFailRate(), r.BothFail)
}

func assessMatchup(r balance.MatchupResult) {
	var assessment string
	switch rate := r.SourceWinRate(); {
	case rate < 20:
		assessment = "SOURCE OUTCLASSED"
	case rate < 40:
		assessment = "TARGET FAVORED"
	case rate < 60:
		assessment = "BALANCED"
	case rate < 80:
		assessment = "SOURCE FAVORED"
	default:
		assessment = "SOURCE OUTCLASSES"
	}

	color := ""
	reset := ""
	if isTerminal() {
		switch assessment {
		case "BALANCED":
			color = "\033[32m" // Green
		case "TARGET FAVORED", "SOURCE FAVORED":
			color = "\033[33m" // Yellow
		default:
			color = "\033[31m" // Red
		}
		reset = "\033[0m"
	}

	fmt.Printf("Assessment: %s%s%s\n", color, assessment, reset)
}

func isTerminal() bool {
	return os.Getenv("TERM") != "" && !strings.Contains(os.Getenv("TERM"), "dumb")
}

func runFate() {
	fs := flag.NewFlagSet("fate", flag.ExitOnError)
	bonus := fs.Float64("bonus", 10, "Fate revision bonus")
	startTarget := fs.Float64("start-target", 25, "First target to evaluate")
	endTarget := fs.Float64("end-target", 85, "Last target to evaluate")
	step := fs.Float64("step", 10, "Target step")
	fs.Parse(os.Args[2:])

	fmt.Println("=== Fate Revision Value ===")
	fmt.Println()
	fmt.Printf("Bonus: +%.0f, Targets %.0f-%.0f (step %.0f)\n", *bonus, *startTarget, *endTarget, *step)
	fmt.Println()
	fmt.Println("Target | Success | Revised | Rescued")
	fmt.Println("-------+---------+---------+--------")
	for target := *startTarget; target <= *endTarget; target += *step {
		rep := balance.RevisionGain(balance.NewProfile("profile", target, 0), *bonus)
		fmt.Printf("%6.0f | %6.0f%% | %6.0f%% | %5.0f%%\n",
			target, rep.BaseSuccessRate, rep.RevisedSuccessRate, rep.RescuedRate)
	}
	fmt.Println()
	fmt.Println("Rescued = rolls that fail flat but succeed with the bonus applied.")
}

func runSweep() {
	fmt.Println("=== Comprehensive Balance Sweep ===")
	fmt.Println()

	iterations := 20000
	seed := time.Now().UnixNano()

	// Distributions across the playable target range.
	fmt.Println("--- Test Outcomes by Target ---")
	fmt.Println()
	fmt.Println("Target | Crit | Success | Failure | Fumble | Mean Level")
	fmt.Println("-------+------+---------+---------+--------+-----------")
	for target := 25.0; target <= 95.0; target += 10 {
		r := balance.SuccessDistribution(balance.NewProfile("profile", target, 0))
		fmt.Printf("%6.0f | %3d%% | %6d%% | %6d%% | %5d%% | %+9.2f\n",
			target, r.Bands.CritSuccess, r.Bands.Success, r.Bands.Failure, r.Bands.CritFailure, r.MeanLevel)
	}
	fmt.Println()

	// Evenly matched contests should hang near the balanced band.
	fmt.Println("--- Mirror Matches ---")
	fmt.Println()
	for _, target := range []float64{35, 55, 75} {
		p := balance.NewProfile("profile", target, 0)
		r := balance.RunMatchup(p, p, rules.TieBreakNone, false, iterations, seed)
		fmt.Printf("Target %.0f vs %.0f:\n", target, target)
		printMatchup(r)
		assessMatchup(r)
		fmt.Println()
	}

	// Attack advantage ladder: how much a +10 target edge buys.
	fmt.Println("--- Advantage Ladder (source +10) ---")
	fmt.Println()
	fmt.Println("Matchup  | Source | Target | Tied | Both Fail")
	fmt.Println("---------+--------+--------+------+----------")
	for _, base := range []float64{35, 55, 75} {
		src := balance.NewProfile("source", base+10, 0)
		tgt := balance.NewProfile("target", base, 0)
		r := balance.RunMatchup(src, tgt, rules.TieBreakNone, false, iterations, seed)
		fmt.Printf("%3.0f v %2.0f | %5.1f%% | %5.1f%% | %3.1f%% | %8.1f%%\n",
			base+10, base, r.SourceWinRate(), r.TargetWinRate(), r.TieRate(), r.BothFailRate())
	}
	fmt.Println()

	// Shift versus flat bonus: a +1 shift against a +10 target edge.
	fmt.Println("--- Shift vs Flat Bonus at 55 ---")
	fmt.Println()
	shifted := balance.RunMatchup(
		balance.NewProfile("shifted", 55, 1),
		balance.NewProfile("flat", 65, 0),
		rules.TieBreakNone, false, iterations, seed,
	)
	fmt.Println("Shift +1 (at 55) vs flat 65:")
	printMatchup(shifted)
	fmt.Println()

	// Summary
	fmt.Println("=== Summary ===")
	fmt.Println("Healthy bands:")
	fmt.Println("  - Mirror matches: source and target within a few points")
	fmt.Println("  - +10 target edge: roughly a 10-15 point win-rate swing")
	fmt.Println("  - Fate +10: rescues about 10% of rolls below the cap")
}

func parseTieBreak(s string) (rules.TieBreak, bool, error) {
	switch s {
	case "", "none":
		return rules.TieBreakNone, false, nil
	case "source":
		return rules.TieBreakFavorSource, true, nil
	case "target":
		return rules.TieBreakFavorTarget, true, nil
	default:
		return rules.TieBreakNone, false, fmt.Errorf("unknown tie-break %q: use none, source, or target", s)
	}
}
