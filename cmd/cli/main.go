// Command bountyscan runs the policy-gated bug bounty testing pipeline:
// scope validation, passive recon, probing, crawling, rate-limited
// scanning, triage fusion, and reporting.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/bountyscan/bountyscan/pkg/cli"
	"github.com/bountyscan/bountyscan/pkg/config"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Parse(args)
	if err != nil {
		if err == flag.ErrHelp {
			return cli.ExitOK
		}
		fmt.Fprintf(os.Stderr, "bountyscan: %v\n", err)
		return cli.ExitUsage
	}

	ctx, cancel := cli.SignalContext(30 * time.Second)
	defer cancel()

	return cli.New(cfg).Run(ctx)
}
