// Command port_guard classifies ownership of a TCP port so a supervisor
// script can decide whether to start codexplusd. See spec.md §6 for the
// CLI contract: exit codes 0 (owned), 10 (free), 20 (occupied), 30 (unknown).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jleechan/codexplusd/internal/portguard"
)

type expectedFlag []string

func (e *expectedFlag) String() string { return strings.Join(*e, ",") }
func (e *expectedFlag) Set(v string) error {
	*e = append(*e, v)
	return nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, out *os.File) int {
	fs := flag.NewFlagSet("port_guard", flag.ContinueOnError)
	port := fs.Int("port", 0, "port to check (required)")
	healthURL := fs.String("health-url", "", "optional health probe URL")
	healthTimeout := fs.Float64("health-timeout", 1.0, "health probe timeout in seconds")
	jsonOut := fs.Bool("json", false, "print indented JSON")
	var expected expectedFlag
	fs.Var(&expected, "expect", "expected process-command marker (repeatable)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *port == 0 {
		fmt.Fprintln(os.Stderr, "port_guard: --port is required")
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	opts := portguard.Options{
		ExpectedMarkers: expected,
		HealthURL:       *healthURL,
		HealthTimeout:   time.Duration(*healthTimeout * float64(time.Second)),
	}
	result := portguard.CheckOwnership(ctx, *port, opts)

	var data []byte
	var err error
	if *jsonOut {
		data, err = json.MarshalIndent(result, "", "  ")
	} else {
		data, err = json.Marshal(result)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "port_guard: encoding result:", err)
		return 2
	}
	fmt.Fprintln(out, string(data))

	return result.State.ExitCode()
}
