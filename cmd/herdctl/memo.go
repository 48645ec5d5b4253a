package main

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/mirkobrombin/go-herd/v1/memo"
)

var (
	memoCmd = &cobra.Command{
		Use:               "memo",
		Short:             "Memoize expensive commands through the store",
		PersistentPreRunE: setup,
	}

	memoTTL time.Duration

	memoRunCmd = &cobra.Command{
		Use:   "run [key] -- [command] [args...]",
		Short: "Run a command once fleet-wide and cache its output",
		Long: "Run a command once fleet-wide and cache its output. Concurrent " +
			"invocations with the same key share the first run's output instead " +
			"of re-running the command.",
		Args: cobra.MinimumNArgs(2),
		RunE: runMemoRun,
	}
)

func init() {
	memoRunCmd.Flags().DurationVar(&memoTTL, "ttl", memo.DefaultTTL, "Lifetime of the cached output (0 disables caching)")

	memoCmd.AddCommand(memoRunCmd)
}

func runMemoRun(cmd *cobra.Command, args []string) error {
	key, name, rest := args[0], args[1], args[2:]

	run := func(ctx context.Context) (any, error) {
		out, err := exec.CommandContext(ctx, name, rest...).Output()
		if err != nil {
			return nil, err
		}
		return string(out), nil
	}

	v, outcome, err := client.Memoize(cmd.Context(), key, run, memo.WithTTL(memoTTL))
	if err != nil {
		return err
	}
	fmt.Printf("outcome=%s\n%v", outcome, v)
	return nil
}
