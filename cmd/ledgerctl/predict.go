package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/STTM-NSU/virtual-trading/internal/predictor"
	"github.com/google/subcommands"
)

type predictCmd struct{}

func (*predictCmd) Name() string     { return "predict" }
func (*predictCmd) Synopsis() string { return "print mock price predictions" }
func (*predictCmd) Usage() string {
	return `predict <symbol>...

  Prints the deterministic mock prediction for every symbol.
`
}

func (*predictCmd) SetFlags(*flag.FlagSet) {}

func (*predictCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Error: at least one symbol is required.")
		return subcommands.ExitUsageError
	}

	p := predictor.NewMock()
	for _, symbol := range f.Args() {
		pred := p.Predict(symbol)
		fmt.Printf("%-6s %+.2f%% (confidence %.1f%%)\n", pred.Symbol, pred.ChangePercent, pred.ConfidencePercent)
	}
	return subcommands.ExitSuccess
}
